package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/backoffice/internal/accounts"
	"github.com/congo-pay/backoffice/internal/config"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/limits"
	"github.com/congo-pay/backoffice/internal/middleware"
	"github.com/congo-pay/backoffice/internal/tac"
	"github.com/congo-pay/backoffice/internal/transfer"
	"github.com/congo-pay/backoffice/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	Store  ledger.Store
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services are the application services built by Setup.
type Services struct {
	Accounts  *accounts.Service
	Wallets   *wallet.Service
	Limits    *limits.Enforcer
	Transfers *transfer.Service
}

// NewServices wires the domain services on top of the ledger store.
func NewServices(d Deps) Services {
	walletSvc := wallet.NewService(d.Store, d.Logger)
	accountSvc := accounts.NewService(d.Store, walletSvc, d.Cfg.DefaultCurrency, d.Logger)
	enforcer := limits.NewEnforcer(d.Store, d.Logger)
	engine := tac.NewEngine(tac.Policy{
		TTL:         d.Cfg.TACTTL,
		MaxAttempts: d.Cfg.TACMaxAttempts,
		HashCost:    d.Cfg.TACHashCost,
	})
	transferSvc := transfer.NewService(transfer.Deps{
		Store:    d.Store,
		Wallets:  walletSvc,
		TACs:     engine,
		Limits:   enforcer,
		Accounts: accountSvc,
		KYC:      accountSvc,
		Logger:   d.Logger,
	}, transfer.Config{KYCThreshold: d.Cfg.KYCThreshold})
	return Services{Accounts: accountSvc, Wallets: walletSvc, Limits: enforcer, Transfers: transferSvc}
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil {
		return fmt.Errorf("ledger store is required")
	}
	// Enforce Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	svc := NewServices(d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.JWTAuth([]byte(d.Cfg.JWTSecret)))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	} else {
		d.Logger.Warn("redis not configured; idempotency keys are not enforced")
	}

	RegisterTransferRoutes(protected, transfer.NewHandler(svc.Transfers), middleware.VerifyThrottle(d.Cache, d.Cfg.VerifyAttemptsPerMinute))
	RegisterWalletRoutes(protected, wallet.NewHandler(svc.Wallets))
	RegisterAccountRoutes(protected, accounts.NewHandler(svc.Accounts))
	RegisterLimitRoutes(protected, limits.NewHandler(svc.Limits))

	return nil
}
