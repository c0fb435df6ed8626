package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/backoffice/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int64, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	var calls int64
	app.Use(Idempotency(cache, time.Minute, logger))
	app.Post("/credit", func(c *fiber.Ctx) error {
		n := atomic.AddInt64(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": n})
	})
	app.Post("/tac", func(c *fiber.Ctx) error {
		atomic.AddInt64(&calls, 1)
		return c.JSON(fiber.Map{"reference": "TRF-1", "tac_code": "123456"})
	})
	app.Post("/reject", func(c *fiber.Ctx) error {
		atomic.AddInt64(&calls, 1)
		return fiber.NewError(fiber.StatusUnprocessableEntity, "insufficient funds")
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, &calls, cleanup
}

func post(t *testing.T, app *fiber.App, path, key, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	status, _ := post(t, app, "/credit", "", "{}")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, payload := post(t, app, "/credit", "abc123", `{"amount":"10"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status2, cached := post(t, app, "/credit", "abc123", `{"amount":"10"}`)
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status2)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if n := atomic.LoadInt64(calls); n != 1 {
		t.Fatalf("expected handler to run once, ran %d times", n)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/credit", "k1", `{"amount":"10"}`)
	status, _ := post(t, app, "/credit", "k1", `{"amount":"99"}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
	if n := atomic.LoadInt64(calls); n != 1 {
		t.Fatalf("expected handler to run once, ran %d times", n)
	}
}

func TestIdempotencyReleasesKeyOnError(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/reject", "k2", "{}")
	post(t, app, "/reject", "k2", "{}")
	if n := atomic.LoadInt64(calls); n != 2 {
		t.Fatalf("failed request should be retryable, handler ran %d times", n)
	}
}

func TestIdempotencyKeysAreScopedByRoute(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/credit", "shared", "{}")
	post(t, app, "/reject", "shared", "{}")
	if n := atomic.LoadInt64(calls); n != 2 {
		t.Fatalf("expected both routes to execute, got %d", n)
	}
}

func TestIdempotencyDoesNotKeepOneTimeCodes(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, body := post(t, app, "/tac", "issue-1", "{}")
	if status != fiber.StatusOK || !strings.Contains(body, "123456") {
		t.Fatalf("first response should carry the code, got %d %s", status, body)
	}

	status, body = post(t, app, "/tac", "issue-1", "{}")
	if status != fiber.StatusOK {
		t.Fatalf("expected replay status %d got %d", fiber.StatusOK, status)
	}
	if strings.Contains(body, "123456") || strings.Contains(body, "tac_code") {
		t.Fatalf("replayed body leaked the code: %s", body)
	}
	var replayed map[string]any
	if err := json.Unmarshal([]byte(body), &replayed); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if replayed["reference"] != "TRF-1" {
		t.Fatalf("unexpected replay body %v", replayed)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("handler should run once, ran %d times", atomic.LoadInt64(calls))
	}
}
