package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
)

type memState struct {
	accounts        map[uuid.UUID]Account
	wallets         map[uuid.UUID]Wallet
	walletByAccount map[uuid.UUID]uuid.UUID
	entries         []Entry
	seq             int64
	transfers       map[string]Transfer
	tacs            map[uuid.UUID]TAC
	logs            []TransferLog
	limits          map[LimitPeriod]Limit
	events          []Event
}

type inMemoryLedger struct {
	mu    sync.RWMutex
	state *memState
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and local development. Units are serialized by a single lock and rolled back
// through an undo journal.
func NewInMemory() Store {
	return &inMemoryLedger{state: &memState{
		accounts:        make(map[uuid.UUID]Account),
		wallets:         make(map[uuid.UUID]Wallet),
		walletByAccount: make(map[uuid.UUID]uuid.UUID),
		transfers:       make(map[string]Transfer),
		tacs:            make(map[uuid.UUID]TAC),
		limits:          make(map[LimitPeriod]Limit),
	}}
}

func (l *inMemoryLedger) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{memState: l.state}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(ctx, tx)
}

func (l *inMemoryLedger) Ping(context.Context) error { return nil }

func (l *inMemoryLedger) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetAccount(ctx, id)
}

func (l *inMemoryLedger) GetWallet(ctx context.Context, id uuid.UUID) (Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetWallet(ctx, id)
}

func (l *inMemoryLedger) GetWalletByAccount(ctx context.Context, accountID uuid.UUID) (Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetWalletByAccount(ctx, accountID)
}

func (l *inMemoryLedger) ListEntries(ctx context.Context, walletID uuid.UUID, beforeSeq int64, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.ListEntries(ctx, walletID, beforeSeq, limit)
}

func (l *inMemoryLedger) GetTransfer(ctx context.Context, reference string) (Transfer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetTransfer(ctx, reference)
}

func (l *inMemoryLedger) GetTAC(ctx context.Context, transferID uuid.UUID) (TAC, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetTAC(ctx, transferID)
}

func (l *inMemoryLedger) ListTransferLogs(ctx context.Context, transferID uuid.UUID) ([]TransferLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.ListTransferLogs(ctx, transferID)
}

func (l *inMemoryLedger) SumTransfers(ctx context.Context, accountID uuid.UUID, statuses []TransferStatus, since time.Time) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.SumTransfers(ctx, accountID, statuses, since)
}

func (l *inMemoryLedger) ListLimits(ctx context.Context) ([]Limit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.ListLimits(ctx)
}

func (l *inMemoryLedger) PendingEvents(_ context.Context, limit int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, ev := range l.state.events {
		if ev.DispatchedAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *inMemoryLedger) MarkEventsDispatched(_ context.Context, ids []uuid.UUID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range l.state.events {
		if _, ok := set[l.state.events[i].ID]; ok && l.state.events[i].DispatchedAt == nil {
			ts := at
			l.state.events[i].DispatchedAt = &ts
		}
	}
	return nil
}

func (l *inMemoryLedger) WalletDrift(context.Context) ([]Drift, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sums := make(map[uuid.UUID]decimal.Decimal)
	for _, e := range l.state.entries {
		sums[e.WalletID] = sums[e.WalletID].Add(e.Signed())
	}
	var drift []Drift
	for id, w := range l.state.wallets {
		computed := sums[id]
		if !computed.Equal(w.Balance) {
			drift = append(drift, Drift{WalletID: id, Stored: w.Balance, Computed: computed})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].WalletID.String() < drift[j].WalletID.String() })
	return drift, nil
}

// Reads shared by the store and its units. Callers hold the lock.

func (s *memState) GetAccount(_ context.Context, id uuid.UUID) (Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, apperrors.NotFound("account")
	}
	return a, nil
}

func (s *memState) GetWallet(_ context.Context, id uuid.UUID) (Wallet, error) {
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, apperrors.NotFound("wallet")
	}
	return w, nil
}

func (s *memState) GetWalletByAccount(ctx context.Context, accountID uuid.UUID) (Wallet, error) {
	id, ok := s.walletByAccount[accountID]
	if !ok {
		return Wallet{}, apperrors.NotFound("wallet")
	}
	return s.GetWallet(ctx, id)
}

func (s *memState) ListEntries(_ context.Context, walletID uuid.UUID, beforeSeq int64, limit int) ([]Entry, error) {
	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.WalletID != walletID {
			continue
		}
		if beforeSeq > 0 && e.Seq >= beforeSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memState) GetTransfer(_ context.Context, reference string) (Transfer, error) {
	t, ok := s.transfers[reference]
	if !ok {
		return Transfer{}, apperrors.NotFound("transfer")
	}
	return t, nil
}

func (s *memState) GetTAC(_ context.Context, transferID uuid.UUID) (TAC, error) {
	t, ok := s.tacs[transferID]
	if !ok {
		return TAC{}, apperrors.NotFound("tac")
	}
	return t, nil
}

func (s *memState) ListTransferLogs(_ context.Context, transferID uuid.UUID) ([]TransferLog, error) {
	var out []TransferLog
	for _, l := range s.logs {
		if l.TransferID == transferID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memState) SumTransfers(_ context.Context, accountID uuid.UUID, statuses []TransferStatus, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range s.transfers {
		if t.AccountID != accountID || t.DeductedAt == nil || t.DeductedAt.Before(since) {
			continue
		}
		for _, st := range statuses {
			if t.Status == st {
				sum = sum.Add(t.Amount)
				break
			}
		}
	}
	return sum, nil
}

func (s *memState) ListLimits(_ context.Context) ([]Limit, error) {
	out := make([]Limit, 0, len(s.limits))
	for _, l := range s.limits {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

type memTx struct {
	*memState
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) InsertAccount(_ context.Context, account Account) error {
	if _, exists := t.accounts[account.ID]; exists {
		return apperrors.ErrDuplicate
	}
	t.accounts[account.ID] = account
	t.undo = append(t.undo, func() { delete(t.accounts, account.ID) })
	return nil
}

func (t *memTx) UpdateAccount(_ context.Context, account Account) error {
	prev, exists := t.accounts[account.ID]
	if !exists {
		return apperrors.NotFound("account")
	}
	t.accounts[account.ID] = account
	t.undo = append(t.undo, func() { t.accounts[account.ID] = prev })
	return nil
}

func (t *memTx) InsertWallet(_ context.Context, wallet Wallet) error {
	if _, exists := t.wallets[wallet.ID]; exists {
		return apperrors.ErrDuplicate
	}
	if _, exists := t.walletByAccount[wallet.AccountID]; exists {
		return apperrors.ErrDuplicate
	}
	t.wallets[wallet.ID] = wallet
	t.walletByAccount[wallet.AccountID] = wallet.ID
	t.undo = append(t.undo, func() {
		delete(t.wallets, wallet.ID)
		delete(t.walletByAccount, wallet.AccountID)
	})
	return nil
}

func (t *memTx) LockWallet(ctx context.Context, id uuid.UUID) (Wallet, error) {
	return t.GetWallet(ctx, id)
}

func (t *memTx) UpdateWalletBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error {
	prev, ok := t.wallets[id]
	if !ok {
		return apperrors.NotFound("wallet")
	}
	next := prev
	next.Balance = balance
	next.UpdatedAt = at
	t.wallets[id] = next
	t.undo = append(t.undo, func() { t.wallets[id] = prev })
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, entry Entry) (Entry, error) {
	prevSeq := t.seq
	prevLen := len(t.entries)
	t.seq++
	entry.Seq = t.seq
	t.entries = append(t.entries, entry)
	t.undo = append(t.undo, func() {
		t.seq = prevSeq
		t.entries = t.entries[:prevLen]
	})
	return entry, nil
}

func (t *memTx) InsertTransfer(_ context.Context, transfer Transfer) error {
	if _, exists := t.transfers[transfer.Reference]; exists {
		return apperrors.ErrDuplicate
	}
	t.transfers[transfer.Reference] = transfer
	t.undo = append(t.undo, func() { delete(t.transfers, transfer.Reference) })
	return nil
}

func (t *memTx) LockTransfer(ctx context.Context, reference string) (Transfer, error) {
	return t.GetTransfer(ctx, reference)
}

func (t *memTx) UpdateTransfer(_ context.Context, transfer Transfer) error {
	prev, ok := t.transfers[transfer.Reference]
	if !ok {
		return apperrors.NotFound("transfer")
	}
	t.transfers[transfer.Reference] = transfer
	t.undo = append(t.undo, func() { t.transfers[transfer.Reference] = prev })
	return nil
}

func (t *memTx) LockTAC(ctx context.Context, transferID uuid.UUID) (TAC, error) {
	return t.GetTAC(ctx, transferID)
}

func (t *memTx) UpsertTAC(_ context.Context, tac TAC) error {
	prev, existed := t.tacs[tac.TransferID]
	t.tacs[tac.TransferID] = tac
	t.undo = append(t.undo, func() {
		if existed {
			t.tacs[tac.TransferID] = prev
			return
		}
		delete(t.tacs, tac.TransferID)
	})
	return nil
}

func (t *memTx) UpdateTAC(_ context.Context, tac TAC) error {
	prev, ok := t.tacs[tac.TransferID]
	if !ok {
		return apperrors.NotFound("tac")
	}
	t.tacs[tac.TransferID] = tac
	t.undo = append(t.undo, func() { t.tacs[tac.TransferID] = prev })
	return nil
}

func (t *memTx) ConsumeTAC(_ context.Context, transferID uuid.UUID, usedAt time.Time) (bool, error) {
	prev, ok := t.tacs[transferID]
	if !ok || prev.Status != TACPending {
		return false, nil
	}
	next := prev
	next.Status = TACUsed
	ts := usedAt
	next.UsedAt = &ts
	t.tacs[transferID] = next
	t.undo = append(t.undo, func() { t.tacs[transferID] = prev })
	return true, nil
}

func (t *memTx) AppendTransferLog(_ context.Context, log TransferLog) error {
	prevLen := len(t.logs)
	t.logs = append(t.logs, log)
	t.undo = append(t.undo, func() { t.logs = t.logs[:prevLen] })
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, event Event) error {
	prevLen := len(t.events)
	t.events = append(t.events, event)
	t.undo = append(t.undo, func() { t.events = t.events[:prevLen] })
	return nil
}

func (t *memTx) UpsertLimit(_ context.Context, limit Limit) error {
	prev, existed := t.limits[limit.Period]
	t.limits[limit.Period] = limit
	t.undo = append(t.undo, func() {
		if existed {
			t.limits[limit.Period] = prev
			return
		}
		delete(t.limits, limit.Period)
	})
	return nil
}
