package transfer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
)

// AccountDirectory answers questions about the owning account. It is served by
// the identity side of the platform.
type AccountDirectory interface {
	AccountExists(ctx context.Context, accountID uuid.UUID) (bool, error)
	IsActive(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// KYCChecker reports whether an account passed KYC review.
type KYCChecker interface {
	IsVerified(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// CreateInput captures data required to open a transfer.
type CreateInput struct {
	AccountID string          `json:"account_id" validate:"required,uuid"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency" validate:"omitempty,len=3"`
	Recipient RecipientInput  `json:"recipient"`
	Narration string          `json:"narration" validate:"max=255"`
}

// RecipientInput describes the beneficiary as submitted by the caller.
type RecipientInput struct {
	Name            string            `json:"name" validate:"required,max=120"`
	DestinationType string            `json:"destination_type" validate:"required,destination"`
	Details         map[string]string `json:"details" validate:"required"`
}

var requiredDetails = map[ledger.DestinationType][]string{
	ledger.DestinationBank:        {"account_number", "bank_name"},
	ledger.DestinationMobileMoney: {"phone", "provider"},
}

func (r RecipientInput) toRecipient() (ledger.Recipient, error) {
	dt := ledger.DestinationType(r.DestinationType)
	keys, ok := requiredDetails[dt]
	if !ok {
		return ledger.Recipient{}, apperrors.Validation("unsupported destination type %q", r.DestinationType)
	}
	details := make(map[string]string, len(r.Details))
	for k, v := range r.Details {
		details[k] = strings.TrimSpace(v)
	}
	for _, k := range keys {
		if details[k] == "" {
			return ledger.Recipient{}, apperrors.Validation("recipient.details.%s is required for %s", k, dt)
		}
	}
	return ledger.Recipient{Name: strings.TrimSpace(r.Name), DestinationType: dt, Details: details}, nil
}

// NewReference returns an external-facing transfer reference such as
// TRF-9F2C4A7B01D3E5F6.
func NewReference() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	return "TRF-" + strings.ToUpper(hex.EncodeToString(b[:])), nil
}
