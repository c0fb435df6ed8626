package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatus is a state of the transfer workflow.
type TransferStatus string

const (
	StatusPending           TransferStatus = "pending"
	StatusTACSent           TransferStatus = "tac_sent"
	StatusTACVerified       TransferStatus = "tac_verified"
	StatusFundsDeducted     TransferStatus = "funds_deducted"
	StatusPendingSettlement TransferStatus = "pending_settlement"
	StatusCompleted         TransferStatus = "completed"
	StatusCancelled         TransferStatus = "cancelled"
	StatusFailed            TransferStatus = "failed"
)

// SubStatusKYCRequired holds a pending transfer until the owner passes KYC.
const SubStatusKYCRequired = "kyc_required"

// IsTerminal reports whether no further transition is possible.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// FundsDeducted reports whether the wallet has already been debited for the transfer.
func (s TransferStatus) FundsDeducted() bool {
	switch s {
	case StatusFundsDeducted, StatusPendingSettlement, StatusCompleted:
		return true
	}
	return false
}

var transitions = map[TransferStatus][]TransferStatus{
	StatusPending:           {StatusTACSent, StatusCancelled, StatusFailed},
	StatusTACSent:           {StatusTACVerified, StatusCancelled, StatusFailed},
	StatusTACVerified:       {StatusFundsDeducted, StatusFailed},
	StatusFundsDeducted:     {StatusPendingSettlement, StatusCompleted, StatusFailed},
	StatusPendingSettlement: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether the workflow allows moving from one status to another.
func CanTransition(from, to TransferStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DestinationType is where the money leaves the system.
type DestinationType string

const (
	DestinationBank        DestinationType = "bank"
	DestinationMobileMoney DestinationType = "mobile_money"
)

// Recipient describes the beneficiary of an outbound transfer.
type Recipient struct {
	Name            string            `json:"name"`
	DestinationType DestinationType   `json:"destination_type"`
	Details         map[string]string `json:"details"`
}

// Transfer is an outbound funds transfer gated by a TAC.
type Transfer struct {
	ID                uuid.UUID
	Reference         string
	AccountID         uuid.UUID
	WalletID          uuid.UUID
	Amount            decimal.Decimal
	Currency          string
	Recipient         Recipient
	Status            TransferStatus
	SubStatus         string
	Narration         string
	ExternalReference string
	AdminNotes        string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TACSentAt         *time.Time
	TACVerifiedAt     *time.Time
	DeductedAt        *time.Time
	SettledAt         *time.Time
}

// TACStatus is the lifecycle of an authorization code.
type TACStatus string

const (
	TACPending TACStatus = "pending"
	TACUsed    TACStatus = "used"
	TACExpired TACStatus = "expired"
)

// TAC is the one-time authorization code bound to a transfer. Only the hash
// of the code is persisted.
type TAC struct {
	TransferID uuid.UUID
	CodeHash   []byte
	Status     TACStatus
	Attempts   int
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// LogEvent names an audit row in the transfer log.
type LogEvent string

const (
	LogCreated             LogEvent = "created"
	LogTACSent             LogEvent = "tac_sent"
	LogTACVerified         LogEvent = "tac_verified"
	LogFundsDeducted       LogEvent = "funds_deducted"
	LogSettlementCompleted LogEvent = "settlement_completed"
	LogStatusChange        LogEvent = "status_change"
	LogError               LogEvent = "error"
)

// TransferLog is an append-only audit row.
type TransferLog struct {
	ID         uuid.UUID
	TransferID uuid.UUID
	Event      LogEvent
	OldStatus  TransferStatus
	NewStatus  TransferStatus
	Actor      string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// LimitPeriod is the window a transfer cap applies to.
type LimitPeriod string

const (
	PeriodPerTransaction LimitPeriod = "per_transaction"
	PeriodDaily          LimitPeriod = "daily"
	PeriodWeekly         LimitPeriod = "weekly"
	PeriodMonthly        LimitPeriod = "monthly"
)

// Valid reports whether p is a known period.
func (p LimitPeriod) Valid() bool {
	switch p {
	case PeriodPerTransaction, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// Limit is a spending cap evaluated before a transfer is created.
type Limit struct {
	Period    LimitPeriod
	Amount    decimal.Decimal
	Active    bool
	UpdatedAt time.Time
}

// Event types published through the outbox.
const (
	EventTransferCreated       = "transfer.created"
	EventTACIssued             = "tac.issued"
	EventTransferFundsDeducted = "transfer.funds_deducted"
	EventTransferCompleted     = "transfer.completed"
	EventTransferCancelled     = "transfer.cancelled"
	EventTransferFailed        = "transfer.failed"
	EventWalletCredited        = "wallet.credited"
	EventWalletDebited         = "wallet.debited"
)

// Event is a domain event appended to the outbox in the same unit as the
// state change it describes.
type Event struct {
	ID           uuid.UUID
	Type         string
	AggregateID  string
	Payload      map[string]any
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// NewEvent builds an undispatched event.
func NewEvent(eventType, aggregateID string, payload map[string]any, at time.Time) Event {
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   at,
	}
}
