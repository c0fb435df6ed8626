package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/backoffice/internal/middleware"
	"github.com/congo-pay/backoffice/internal/transfer"
)

// RegisterTransferRoutes wires the transfer workflow. Customers may open,
// authorize and cancel their own transfers; TAC issuance and settlement are
// operator only.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler, verifyThrottle fiber.Handler) {
	op := middleware.RequireOperator()

	group := r.Group("/transfers")
	group.Post("", h.Create)
	group.Get("/:reference", h.Get)
	group.Get("/:reference/logs", h.Logs)
	group.Post("/:reference/verify", h.RequireOwner, verifyThrottle, h.Verify)
	group.Post("/:reference/cancel", h.Cancel)

	group.Post("/:reference/tac", op, h.IssueTAC)
	group.Post("/:reference/tac/reissue", op, h.ReissueTAC)
	group.Post("/:reference/retry-deduction", op, h.RetryDeduction)
	group.Post("/:reference/settlement-pending", op, h.MarkPendingSettlement)
	group.Post("/:reference/settle", op, h.Settle)
	group.Post("/:reference/fail", op, h.Fail)
}
