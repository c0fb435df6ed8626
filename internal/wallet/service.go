package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/money"
)

// Service is the only writer of wallet balances. Every balance change is
// paired with a ledger entry and an outbox event in the same unit.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Open creates the wallet for an account inside the caller's unit.
func (s *Service) Open(ctx context.Context, tx ledger.Tx, accountID uuid.UUID, currency string) (ledger.Wallet, error) {
	cur, err := money.NormalizeCurrency(currency)
	if err != nil {
		return ledger.Wallet{}, err
	}
	now := s.now()
	w := ledger.Wallet{
		ID:        uuid.New(),
		AccountID: accountID,
		Balance:   decimal.Zero,
		Currency:  cur,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertWallet(ctx, w); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return ledger.Wallet{}, fmt.Errorf("account %s already has a wallet: %w", accountID, err)
		}
		return ledger.Wallet{}, err
	}
	return w, nil
}

// Credit adds funds and returns the new balance.
func (s *Service) Credit(ctx context.Context, m Mutation) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.logger.Info("wallet credited",
		"wallet_id", m.WalletID.String(),
		"amount", entry.Amount.String(),
		"balance", entry.BalanceAfter.String(),
		"reference", m.Reference,
	)
	return entry, nil
}

// Debit removes funds and returns the new balance. It fails with
// ErrInsufficientFunds without touching state when the balance is short.
func (s *Service) Debit(ctx context.Context, m Mutation) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.logger.Info("wallet debited",
		"wallet_id", m.WalletID.String(),
		"amount", entry.Amount.String(),
		"balance", entry.BalanceAfter.String(),
		"reference", m.Reference,
	)
	return entry, nil
}

// CreditTx credits inside an existing unit.
func (s *Service) CreditTx(ctx context.Context, tx ledger.Tx, m Mutation) (ledger.Entry, error) {
	return s.apply(ctx, tx, ledger.EntryCredit, m)
}

// DebitTx debits inside an existing unit.
func (s *Service) DebitTx(ctx context.Context, tx ledger.Tx, m Mutation) (ledger.Entry, error) {
	return s.apply(ctx, tx, ledger.EntryDebit, m)
}

func (s *Service) apply(ctx context.Context, tx ledger.Tx, kind ledger.EntryType, m Mutation) (ledger.Entry, error) {
	if err := m.validate(); err != nil {
		return ledger.Entry{}, err
	}
	w, err := tx.LockWallet(ctx, m.WalletID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := money.ValidateAmount(m.Amount, w.Currency); err != nil {
		return ledger.Entry{}, err
	}

	before := w.Balance
	after := before.Add(m.Amount)
	eventType := ledger.EventWalletCredited
	if kind == ledger.EntryDebit {
		if before.LessThan(m.Amount) {
			return ledger.Entry{}, fmt.Errorf("wallet %s holds %s, needs %s: %w",
				w.ID, money.Format(before, w.Currency), money.Format(m.Amount, w.Currency), apperrors.ErrInsufficientFunds)
		}
		after = before.Sub(m.Amount)
		eventType = ledger.EventWalletDebited
	}

	now := s.now()
	if err := tx.UpdateWalletBalance(ctx, w.ID, after, now); err != nil {
		return ledger.Entry{}, err
	}
	entry, err := tx.AppendEntry(ctx, ledger.Entry{
		ID:            uuid.New(),
		WalletID:      w.ID,
		Type:          kind,
		Amount:        m.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     m.Reference,
		Description:   m.Description,
		Metadata:      m.Metadata,
		CreatedAt:     now,
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	ev := ledger.NewEvent(eventType, w.ID.String(), map[string]any{
		"wallet_id":  w.ID.String(),
		"account_id": w.AccountID.String(),
		"entry_id":   entry.ID.String(),
		"amount":     m.Amount.String(),
		"balance":    after.String(),
		"currency":   w.Currency,
		"reference":  m.Reference,
	}, now)
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

// TransferBetween moves funds between two wallets of the same currency in
// one unit. Both wallets are locked in id order.
func (s *Service) TransferBetween(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, reference, description string) (TransferResult, error) {
	if fromID == toID {
		return TransferResult{}, apperrors.Validation("source and destination wallets must differ")
	}
	var res TransferResult
	err := s.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		first, second := fromID, toID
		if second.String() < first.String() {
			first, second = second, first
		}
		a, err := tx.LockWallet(ctx, first)
		if err != nil {
			return err
		}
		b, err := tx.LockWallet(ctx, second)
		if err != nil {
			return err
		}
		if a.Currency != b.Currency {
			return fmt.Errorf("%s to %s: %w", a.Currency, b.Currency, apperrors.ErrCurrencyMismatch)
		}

		debit, err := s.DebitTx(ctx, tx, Mutation{
			WalletID:    fromID,
			Amount:      amount,
			Reference:   reference,
			Description: description,
			Metadata:    map[string]any{"counterparty_wallet_id": toID.String()},
		})
		if err != nil {
			return err
		}
		credit, err := s.CreditTx(ctx, tx, Mutation{
			WalletID:    toID,
			Amount:      amount,
			Reference:   reference,
			Description: description,
			Metadata:    map[string]any{"counterparty_wallet_id": fromID.String()},
		})
		if err != nil {
			return err
		}
		res = TransferResult{Reference: reference, Debit: debit, Credit: credit, CompletedAt: credit.CreatedAt}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.logger.Info("wallet transfer completed",
		"from_wallet_id", fromID.String(),
		"to_wallet_id", toID.String(),
		"amount", amount.String(),
		"reference", reference,
	)
	return res, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ledger.Wallet, error) {
	return s.store.GetWallet(ctx, id)
}

// ForAccount returns the wallet owned by an account.
func (s *Service) ForAccount(ctx context.Context, accountID uuid.UUID) (ledger.Wallet, error) {
	return s.store.GetWalletByAccount(ctx, accountID)
}

// Balance returns the stored balance for the wallet.
func (s *Service) Balance(ctx context.Context, id uuid.UUID) (Balance, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Amount: w.Balance, Currency: w.Currency, AsOf: s.now()}, nil
}

// History pages through ledger entries, most recent first.
func (s *Service) History(ctx context.Context, id uuid.UUID, limit int, cursor string) (HistoryPage, error) {
	before, err := decodeCursor(cursor)
	if err != nil {
		return HistoryPage{}, err
	}
	if _, err := s.store.GetWallet(ctx, id); err != nil {
		return HistoryPage{}, err
	}
	limit = clampLimit(limit)
	entries, err := s.store.ListEntries(ctx, id, before, limit)
	if err != nil {
		return HistoryPage{}, err
	}
	page := HistoryPage{Entries: entries}
	if len(entries) == limit {
		page.NextCursor = encodeCursor(entries[len(entries)-1].Seq)
	}
	return page, nil
}
