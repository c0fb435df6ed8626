package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/backoffice/internal/middleware"
	"github.com/congo-pay/backoffice/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	op := middleware.RequireOperator()

	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/history", h.History)
	r.Post("/wallets/transfers", op, h.Transfer)
	r.Post("/wallets/:walletId/credit", op, h.Credit)
	r.Post("/wallets/:walletId/debit", op, h.Debit)
}
