package accounts

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/validator"
)

// Handler exposes account administration endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an accounts HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type kycRequest struct {
	Verified *bool `json:"verified" validate:"required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,account_status"`
}

type accountResponse struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	KYCVerified bool      `json:"kyc_verified"`
	WalletID    string    `json:"wallet_id,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:          a.ID.String(),
		Status:      string(a.Status),
		KYCVerified: a.KYCVerified,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// Provision registers an account and opens its wallet.
func (h *Handler) Provision(c *fiber.Ctx) error {
	var req ProvisionInput
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	account, w, err := h.service.Provision(c.UserContext(), req)
	if err != nil {
		return err
	}
	resp := toResponse(account)
	resp.WalletID = w.ID.String()
	resp.Currency = w.Currency
	return c.Status(http.StatusCreated).JSON(resp)
}

// Get returns an account with its wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := accountParam(c)
	if err != nil {
		return err
	}
	account, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(account))
}

// SetKYC records the KYC outcome for an account.
func (h *Handler) SetKYC(c *fiber.Ctx) error {
	id, err := accountParam(c)
	if err != nil {
		return err
	}
	var req kycRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	account, err := h.service.SetKYCVerified(c.UserContext(), id, *req.Verified)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(account))
}

// SetStatus changes the account lifecycle status.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	id, err := accountParam(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("malformed body: %v", err)
	}
	if err := validator.Validate(req); err != nil {
		return err
	}
	account, err := h.service.SetStatus(c.UserContext(), id, ledger.AccountStatus(req.Status))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(account))
}

func accountParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("accountId"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("accountId must be a UUID")
	}
	return id, nil
}
