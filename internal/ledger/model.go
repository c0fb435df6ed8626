package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// AccountStatus mirrors the lifecycle reported by the identity service.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// Account is the read model of an externally owned customer account.
type Account struct {
	ID          uuid.UUID
	Status      AccountStatus
	KYCVerified bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Wallet holds the available balance of exactly one account.
type Wallet struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is an immutable record of a single balance change.
type Entry struct {
	ID            uuid.UUID
	Seq           int64
	WalletID      uuid.UUID
	Type          EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Reference     string
	Description   string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// Signed returns the amount with the sign implied by the entry type.
func (e Entry) Signed() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Drift describes a wallet whose stored balance disagrees with its entries.
type Drift struct {
	WalletID uuid.UUID
	Stored   decimal.Decimal
	Computed decimal.Decimal
}
