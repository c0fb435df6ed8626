package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reader serves lock-free reads against a consistent snapshot.
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	GetWallet(ctx context.Context, id uuid.UUID) (Wallet, error)
	GetWalletByAccount(ctx context.Context, accountID uuid.UUID) (Wallet, error)
	// ListEntries returns entries most-recent-first with seq < beforeSeq
	// (beforeSeq <= 0 means from the newest).
	ListEntries(ctx context.Context, walletID uuid.UUID, beforeSeq int64, limit int) ([]Entry, error)
	GetTransfer(ctx context.Context, reference string) (Transfer, error)
	GetTAC(ctx context.Context, transferID uuid.UUID) (TAC, error)
	ListTransferLogs(ctx context.Context, transferID uuid.UUID) ([]TransferLog, error)
	// SumTransfers totals transfers in the given statuses whose funds were
	// deducted at or after since.
	SumTransfers(ctx context.Context, accountID uuid.UUID, statuses []TransferStatus, since time.Time) (decimal.Decimal, error)
	ListLimits(ctx context.Context) ([]Limit, error)
}

// Tx is one atomic unit. Every write made through it commits or rolls back
// together.
type Tx interface {
	Reader

	InsertAccount(ctx context.Context, account Account) error
	UpdateAccount(ctx context.Context, account Account) error

	InsertWallet(ctx context.Context, wallet Wallet) error
	// LockWallet loads a wallet and holds it exclusively until the unit ends.
	LockWallet(ctx context.Context, id uuid.UUID) (Wallet, error)
	UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error
	AppendEntry(ctx context.Context, entry Entry) (Entry, error)

	InsertTransfer(ctx context.Context, transfer Transfer) error
	// LockTransfer loads a transfer and holds it exclusively until the unit ends.
	LockTransfer(ctx context.Context, reference string) (Transfer, error)
	UpdateTransfer(ctx context.Context, transfer Transfer) error

	LockTAC(ctx context.Context, transferID uuid.UUID) (TAC, error)
	UpsertTAC(ctx context.Context, tac TAC) error
	UpdateTAC(ctx context.Context, tac TAC) error
	// ConsumeTAC flips a pending TAC to used. It reports false when the TAC
	// was no longer pending.
	ConsumeTAC(ctx context.Context, transferID uuid.UUID, usedAt time.Time) (bool, error)

	AppendTransferLog(ctx context.Context, log TransferLog) error
	AppendEvent(ctx context.Context, event Event) error
	UpsertLimit(ctx context.Context, limit Limit) error
}

// Store is the durable ledger: wallets, entries, transfers, TACs, audit logs
// and the outbox.
type Store interface {
	Reader
	// Do runs fn inside one atomic unit. Any error returned by fn rolls the
	// whole unit back.
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventsDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error
	// WalletDrift lists wallets whose balance differs from the sum of their entries.
	WalletDrift(ctx context.Context) ([]Drift, error)
	Ping(ctx context.Context) error
}
