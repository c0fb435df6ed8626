package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func authApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTAuth(testSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		p := PrincipalFrom(c)
		return c.JSON(fiber.Map{"actor": p.Actor()})
	})
	app.Get("/ops", RequireOperator(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func call(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestSignAndParseToken(t *testing.T) {
	accountID := uuid.New()
	token, err := SignToken(testSecret, Principal{Subject: "u-1", Role: RoleCustomer, AccountID: accountID}, time.Minute)
	require.NoError(t, err)

	p, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.Subject)
	assert.Equal(t, accountID, p.AccountID)
	assert.Equal(t, "customer:u-1", p.Actor())
	assert.True(t, p.CanAccess(accountID))
	assert.False(t, p.CanAccess(uuid.New()))

	_, err = ParseToken([]byte("other"), token)
	assert.Error(t, err)
}

func TestParseTokenRejectsBadClaims(t *testing.T) {
	noAccount, err := SignToken(testSecret, Principal{Subject: "u-2", Role: RoleCustomer}, time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, noAccount)
	assert.Error(t, err, "customer tokens must carry an account")

	unknownRole, _ := SignToken(testSecret, Principal{Subject: "u-3", Role: "admin"}, time.Minute)
	_, err = ParseToken(testSecret, unknownRole)
	assert.Error(t, err)

	expired, _ := SignToken(testSecret, Principal{Subject: "ops", Role: RoleOperator}, -time.Minute)
	_, err = ParseToken(testSecret, expired)
	assert.Error(t, err)
}

func TestJWTAuthAndRequireOperator(t *testing.T) {
	app := authApp()
	operator, _ := SignToken(testSecret, Principal{Subject: "ops", Role: RoleOperator}, time.Minute)
	customer, _ := SignToken(testSecret, Principal{Subject: "u", Role: RoleCustomer, AccountID: uuid.New()}, time.Minute)

	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "/me", ""))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "/me", "garbage"))
	assert.Equal(t, fiber.StatusOK, call(t, app, "/me", customer))
	assert.Equal(t, fiber.StatusForbidden, call(t, app, "/ops", customer))
	assert.Equal(t, fiber.StatusNoContent, call(t, app, "/ops", operator))
}
