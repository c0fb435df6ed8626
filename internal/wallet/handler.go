package wallet

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/middleware"
	"github.com/congo-pay/backoffice/internal/validator"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type mutationRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference" validate:"required,max=128"`
	Description string          `json:"description" validate:"max=255"`
}

type transferRequest struct {
	FromWalletID string          `json:"from_wallet_id" validate:"required,uuid"`
	ToWalletID   string          `json:"to_wallet_id" validate:"required,uuid"`
	Amount       decimal.Decimal `json:"amount"`
	Reference    string          `json:"reference" validate:"required,max=128"`
	Description  string          `json:"description" validate:"max=255"`
}

type entryResponse struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference"`
	Description   string          `json:"description,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toEntryResponse(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:            e.ID.String(),
		WalletID:      e.WalletID.String(),
		Type:          string(e.Type),
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Reference:     e.Reference,
		Description:   e.Description,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	}
}

// Credit adds funds to a wallet.
func (h *Handler) Credit(c *fiber.Ctx) error {
	return h.mutate(c, h.service.Credit)
}

// Debit removes funds from a wallet.
func (h *Handler) Debit(c *fiber.Ctx) error {
	return h.mutate(c, h.service.Debit)
}

func (h *Handler) mutate(c *fiber.Ctx, op func(ctx context.Context, m Mutation) (ledger.Entry, error)) error {
	walletID, err := walletParam(c)
	if err != nil {
		return err
	}
	var req mutationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	entry, err := op(c.UserContext(), Mutation{
		WalletID:    walletID,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toEntryResponse(entry))
}

// Transfer moves funds between two internal wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	res, err := h.service.TransferBetween(c.UserContext(),
		uuid.MustParse(req.FromWalletID), uuid.MustParse(req.ToWalletID),
		req.Amount, req.Reference, req.Description)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"reference":    res.Reference,
		"debit":        toEntryResponse(res.Debit),
		"credit":       toEntryResponse(res.Credit),
		"completed_at": res.CompletedAt,
	})
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID, err := h.visible(c)
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), walletID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balance.WalletID.String(),
		"balance":   balance.Amount,
		"currency":  balance.Currency,
		"timestamp": balance.AsOf,
	})
}

// History returns a page of ledger entries, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	walletID, err := h.visible(c)
	if err != nil {
		return err
	}
	page, err := h.service.History(c.UserContext(), walletID, c.QueryInt("limit", defaultHistoryLimit), c.Query("cursor"))
	if err != nil {
		return err
	}
	entries := make([]entryResponse, 0, len(page.Entries))
	for _, e := range page.Entries {
		entries = append(entries, toEntryResponse(e))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"entries":     entries,
		"next_cursor": page.NextCursor,
	})
}

// visible resolves the path wallet and hides it from customers who do not own it.
func (h *Handler) visible(c *fiber.Ctx) (uuid.UUID, error) {
	walletID, err := walletParam(c)
	if err != nil {
		return uuid.Nil, err
	}
	p := middleware.PrincipalFrom(c)
	if p.IsOperator() {
		return walletID, nil
	}
	w, err := h.service.Get(c.UserContext(), walletID)
	if err != nil {
		return uuid.Nil, err
	}
	if !p.CanAccess(w.AccountID) {
		return uuid.Nil, apperrors.NotFound("wallet")
	}
	return walletID, nil
}

func walletParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("walletId"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("walletId must be a UUID")
	}
	return id, nil
}
