package wallet

import (
	"encoding/base64"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxReferenceLen     = 128
)

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID uuid.UUID
	Amount   decimal.Decimal
	Currency string
	AsOf     time.Time
}

// HistoryPage is one page of ledger entries, newest first.
type HistoryPage struct {
	Entries    []ledger.Entry
	NextCursor string
}

// Mutation describes a single credit or debit against one wallet.
type Mutation struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Reference   string
	Description string
	Metadata    map[string]any
}

// TransferResult captures both legs of a wallet-to-wallet move.
type TransferResult struct {
	Reference   string
	Debit       ledger.Entry
	Credit      ledger.Entry
	CompletedAt time.Time
}

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apperrors.Validation("invalid history cursor")
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq <= 0 {
		return 0, apperrors.Validation("invalid history cursor")
	}
	return seq, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

func (m Mutation) validate() error {
	if m.WalletID == uuid.Nil {
		return apperrors.Validation("wallet id is required")
	}
	if m.Reference == "" {
		return apperrors.Validation("reference is required")
	}
	if len(m.Reference) > maxReferenceLen {
		return apperrors.Validation("reference longer than %d characters", maxReferenceLen)
	}
	return nil
}
