package transfer

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/middleware"
	"github.com/congo-pay/backoffice/internal/tac"
	"github.com/congo-pay/backoffice/internal/validator"
)

// Handler exposes transfer workflow endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a transfer HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

type settleRequest struct {
	ExternalReference string `json:"external_reference" validate:"required,max=128"`
	Notes             string `json:"notes" validate:"max=1000"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type failRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type transferResponse struct {
	ID                string           `json:"id"`
	Reference         string           `json:"reference"`
	AccountID         string           `json:"account_id"`
	WalletID          string           `json:"wallet_id"`
	Amount            decimal.Decimal  `json:"amount"`
	Currency          string           `json:"currency"`
	Recipient         ledger.Recipient `json:"recipient"`
	Status            string           `json:"status"`
	SubStatus         string           `json:"sub_status,omitempty"`
	Narration         string           `json:"narration,omitempty"`
	ExternalReference string           `json:"external_reference,omitempty"`
	AdminNotes        string           `json:"admin_notes,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	TACSentAt         *time.Time       `json:"tac_sent_at,omitempty"`
	TACVerifiedAt     *time.Time       `json:"tac_verified_at,omitempty"`
	DeductedAt        *time.Time       `json:"deducted_at,omitempty"`
	SettledAt         *time.Time       `json:"settled_at,omitempty"`
}

type tacResponse struct {
	transferResponse
	TACCode      string    `json:"tac_code"`
	TACExpiresAt time.Time `json:"tac_expires_at"`
}

type logResponse struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	OldStatus string         `json:"old_status,omitempty"`
	NewStatus string         `json:"new_status"`
	Actor     string         `json:"actor"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toResponse(t ledger.Transfer) transferResponse {
	return transferResponse{
		ID:                t.ID.String(),
		Reference:         t.Reference,
		AccountID:         t.AccountID.String(),
		WalletID:          t.WalletID.String(),
		Amount:            t.Amount,
		Currency:          t.Currency,
		Recipient:         t.Recipient,
		Status:            string(t.Status),
		SubStatus:         t.SubStatus,
		Narration:         t.Narration,
		ExternalReference: t.ExternalReference,
		AdminNotes:        t.AdminNotes,
		FailureReason:     t.FailureReason,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		TACSentAt:         t.TACSentAt,
		TACVerifiedAt:     t.TACVerifiedAt,
		DeductedAt:        t.DeductedAt,
		SettledAt:         t.SettledAt,
	}
}

func withTAC(t ledger.Transfer, issued tac.Issued) tacResponse {
	return tacResponse{transferResponse: toResponse(t), TACCode: issued.Code, TACExpiresAt: issued.ExpiresAt}
}

// Create opens a transfer. Customers may only open transfers on their own account.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req CreateInput
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	p := middleware.PrincipalFrom(c)
	if !p.IsOperator() {
		if req.AccountID == "" {
			req.AccountID = p.AccountID.String()
		}
		if req.AccountID != p.AccountID.String() {
			return fiber.NewError(http.StatusForbidden, "cannot create transfers for another account")
		}
	}
	t, err := h.service.Create(c.UserContext(), req, p.Actor())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(t))
}

// Get returns the current state of a transfer.
func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}

// Logs returns the audit trail of a transfer.
func (h *Handler) Logs(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return err
	}
	logs, err := h.service.Logs(c.UserContext(), c.Params("reference"))
	if err != nil {
		return err
	}
	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse{
			ID:        l.ID.String(),
			Event:     string(l.Event),
			OldStatus: string(l.OldStatus),
			NewStatus: string(l.NewStatus),
			Actor:     l.Actor,
			Metadata:  l.Metadata,
			CreatedAt: l.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"logs": out})
}

// IssueTAC generates the authorization code.
func (h *Handler) IssueTAC(c *fiber.Ctx) error {
	t, issued, err := h.service.IssueTAC(c.UserContext(), c.Params("reference"), middleware.PrincipalFrom(c).Actor())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(withTAC(t, issued))
}

// ReissueTAC replaces the authorization code. Operator only.
func (h *Handler) ReissueTAC(c *fiber.Ctx) error {
	t, issued, err := h.service.ReissueTAC(c.UserContext(), c.Params("reference"), middleware.PrincipalFrom(c).Actor())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(withTAC(t, issued))
}

// RequireOwner rejects callers who cannot see the path transfer before later
// handlers in the chain run.
func (h *Handler) RequireOwner(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return err
	}
	return c.Next()
}

// Verify submits the authorization code on behalf of the owner. The route
// is guarded by RequireOwner.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	t, err := h.service.VerifyTAC(c.UserContext(), c.Params("reference"), req.Code, middleware.PrincipalFrom(c).Actor())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}

// RetryDeduction re-runs the debit of a verified transfer. Operator only.
func (h *Handler) RetryDeduction(c *fiber.Ctx) error {
	t, err := h.service.RetryDeduction(c.UserContext(), c.Params("reference"), middleware.PrincipalFrom(c).Actor())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}

// MarkPendingSettlement flags the external payout as started. Operator only.
func (h *Handler) MarkPendingSettlement(c *fiber.Ctx) error {
	var req notesRequest
	if err := parseOptional(c, &req); err != nil {
		return err
	}
	t, err := h.service.MarkPendingSettlement(c.UserContext(), c.Params("reference"), middleware.PrincipalFrom(c).Actor(), req.Notes)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}

// Settle records the external payout reference. Operator only.
func (h *Handler) Settle(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	t, err := h.service.Settle(c.UserContext(), c.Params("reference"), req.ExternalReference, middleware.PrincipalFrom(c).Actor(), req.Notes)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}

// Cancel abandons a transfer before funds move. Owner or operator.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return err
	}
	var req reasonRequest
	if err := parseOptional(c, &req); err != nil {
		return err
	}
	t, err := h.service.Cancel(c.UserContext(), c.Params("reference"), middleware.PrincipalFrom(c).Actor(), req.Reason)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}

// Fail stops a transfer and reverses deducted funds. Operator only.
func (h *Handler) Fail(c *fiber.Ctx) error {
	var req failRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	t, err := h.service.Fail(c.UserContext(), c.Params("reference"), middleware.PrincipalFrom(c).Actor(), req.Reason)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}

// owned loads the transfer and hides it from customers of other accounts.
func (h *Handler) owned(c *fiber.Ctx) (ledger.Transfer, error) {
	t, err := h.service.Get(c.UserContext(), c.Params("reference"))
	if err != nil {
		return ledger.Transfer{}, err
	}
	if !middleware.PrincipalFrom(c).CanAccess(t.AccountID) {
		return ledger.Transfer{}, apperrors.NotFound("transfer")
	}
	return t, nil
}

func parseOptional(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	return validator.Validate(out)
}
