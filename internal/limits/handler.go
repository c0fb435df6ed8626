package limits

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
)

// Handler exposes limit administration endpoints.
type Handler struct {
	enforcer *Enforcer
}

// NewHandler builds a limits HTTP handler.
func NewHandler(enforcer *Enforcer) *Handler {
	return &Handler{enforcer: enforcer}
}

type setRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Active *bool           `json:"is_active"`
}

type limitResponse struct {
	Period    string          `json:"period"`
	Amount    decimal.Decimal `json:"amount"`
	Active    bool            `json:"is_active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toResponse(l ledger.Limit) limitResponse {
	return limitResponse{Period: string(l.Period), Amount: l.Amount, Active: l.Active, UpdatedAt: l.UpdatedAt}
}

// List returns every configured limit.
func (h *Handler) List(c *fiber.Ctx) error {
	rows, err := h.enforcer.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]limitResponse, 0, len(rows))
	for _, l := range rows {
		out = append(out, toResponse(l))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"limits": out})
}

// Set creates or replaces the limit of one period. Limits are active unless
// is_active is false.
func (h *Handler) Set(c *fiber.Ctx) error {
	var req setRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	// Params alias the request buffer; the period outlives the request.
	period := ledger.LimitPeriod(utils.CopyString(c.Params("period")))
	l, err := h.enforcer.Set(c.UserContext(), period, req.Amount, active)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(l))
}
