package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/backoffice/internal/accounts"
	"github.com/congo-pay/backoffice/internal/limits"
	"github.com/congo-pay/backoffice/internal/middleware"
)

// RegisterAccountRoutes wires operator account administration.
func RegisterAccountRoutes(r fiber.Router, h *accounts.Handler) {
	group := r.Group("/accounts", middleware.RequireOperator())
	group.Post("", h.Provision)
	group.Get("/:accountId", h.Get)
	group.Patch("/:accountId/kyc", h.SetKYC)
	group.Patch("/:accountId/status", h.SetStatus)
}

// RegisterLimitRoutes wires transfer limit administration.
func RegisterLimitRoutes(r fiber.Router, h *limits.Handler) {
	group := r.Group("/limits", middleware.RequireOperator())
	group.Get("", h.List)
	group.Put("/:period", h.Set)
}
