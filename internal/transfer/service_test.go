package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/backoffice/internal/accounts"
	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/limits"
	"github.com/congo-pay/backoffice/internal/tac"
	"github.com/congo-pay/backoffice/internal/wallet"
)

const (
	operator = "operator:ops-1"
	owner    = "customer:owner-1"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	store    ledger.Store
	wallets  *wallet.Service
	accounts *accounts.Service
	limits   *limits.Enforcer
	svc      *Service
	clock    time.Time
	mu       sync.Mutex
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := ledger.NewInMemory()
	h := &harness{store: store, clock: time.Now().UTC()}
	h.wallets = wallet.NewService(store, nil)
	h.accounts = accounts.NewService(store, h.wallets, "USD", nil)
	h.limits = limits.NewEnforcer(store, nil)
	engine := tac.NewEngine(tac.Policy{TTL: 15 * time.Minute, MaxAttempts: 5, HashCost: bcrypt.MinCost}, tac.WithClock(h.now))
	h.svc = NewService(Deps{
		Store:    store,
		Wallets:  h.wallets,
		TACs:     engine,
		Limits:   h.limits,
		Accounts: h.accounts,
		KYC:      h.accounts,
	}, cfg)
	h.svc.now = h.now
	return h
}

func (h *harness) fundedAccount(t *testing.T, amount string, verified bool) (ledger.Account, ledger.Wallet) {
	t.Helper()
	ctx := context.Background()
	account, w, err := h.accounts.Provision(ctx, accounts.ProvisionInput{KYCVerified: verified})
	require.NoError(t, err)
	if amount != "0" {
		_, err = h.wallets.Credit(ctx, wallet.Mutation{WalletID: w.ID, Amount: dec(amount), Reference: "PAY-1"})
		require.NoError(t, err)
	}
	return account, w
}

func bankInput(accountID uuid.UUID, amount string) CreateInput {
	return CreateInput{
		AccountID: accountID.String(),
		Amount:    dec(amount),
		Recipient: RecipientInput{
			Name:            "Jane Doe",
			DestinationType: "bank",
			Details:         map[string]string{"account_number": "0123456789", "bank_name": "Afriland"},
		},
		Narration: "school fees",
	}
}

func (h *harness) issued(t *testing.T, accountID uuid.UUID, amount string) (ledger.Transfer, tac.Issued) {
	t.Helper()
	ctx := context.Background()
	tr, err := h.svc.Create(ctx, bankInput(accountID, amount), owner)
	require.NoError(t, err)
	tr, code, err := h.svc.IssueTAC(ctx, tr.Reference, operator)
	require.NoError(t, err)
	return tr, code
}

func logEvents(t *testing.T, h *harness, ref string) []ledger.LogEvent {
	t.Helper()
	logs, err := h.svc.Logs(context.Background(), ref)
	require.NoError(t, err)
	out := make([]ledger.LogEvent, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Event)
	}
	return out
}

func wrong(code string) string {
	if code == "111111" {
		return "222222"
	}
	return "111111"
}

func TestTransferHappyPath(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, w := h.fundedAccount(t, "1000.00", true)

	tr, err := h.svc.Create(ctx, bankInput(account.ID, "300"), owner)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tr.Status)
	assert.Regexp(t, `^TRF-[0-9A-F]{16}$`, tr.Reference)
	assert.Equal(t, "USD", tr.Currency)

	tr, issued, err := h.svc.IssueTAC(ctx, tr.Reference, operator)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusTACSent, tr.Status)
	require.NotNil(t, tr.TACSentAt)
	assert.True(t, issued.ExpiresAt.After(*tr.TACSentAt))

	tr, err = h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFundsDeducted, tr.Status)
	require.NotNil(t, tr.TACVerifiedAt)
	require.NotNil(t, tr.DeductedAt)

	bal, err := h.wallets.Balance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, bal.Amount.Equal(dec("700")), "balance %s", bal.Amount)

	entries, err := h.store.ListEntries(ctx, w.ID, 0, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryDebit, entries[0].Type)
	assert.True(t, entries[0].BalanceBefore.Equal(dec("1000")))
	assert.True(t, entries[0].BalanceAfter.Equal(dec("700")))
	assert.Equal(t, tr.Reference, entries[0].Reference)

	tr, err = h.svc.Settle(ctx, tr.Reference, "BANKTX-99", operator, "paid via RTGS")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, tr.Status)
	assert.Equal(t, "BANKTX-99", tr.ExternalReference)
	require.NotNil(t, tr.SettledAt)

	assert.Equal(t, []ledger.LogEvent{
		ledger.LogCreated, ledger.LogTACSent, ledger.LogTACVerified, ledger.LogFundsDeducted, ledger.LogSettlementCompleted,
	}, logEvents(t, h, tr.Reference))

	stored, err := h.store.GetTAC(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TACUsed, stored.Status)

	events, err := h.store.PendingEvents(ctx, 0)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		if ev.AggregateID == tr.Reference {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []string{
		ledger.EventTransferCreated, ledger.EventTACIssued, ledger.EventTransferFundsDeducted, ledger.EventTransferCompleted,
	}, types)

	drift, err := h.store.WalletDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestVerifyWithInsufficientFundsStaysVerified(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, w := h.fundedAccount(t, "1000", true)

	tr, issued := h.issued(t, account.ID, "5000")
	_, err := h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))

	got, err := h.svc.Get(ctx, tr.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusTACVerified, got.Status)
	assert.Nil(t, got.DeductedAt)

	bal, _ := h.wallets.Balance(ctx, w.ID)
	assert.True(t, bal.Amount.Equal(dec("1000")))
	assert.Equal(t, []ledger.LogEvent{
		ledger.LogCreated, ledger.LogTACSent, ledger.LogTACVerified, ledger.LogError,
	}, logEvents(t, h, tr.Reference))

	// The code is spent; a second verify is a state error.
	_, err = h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))

	_, err = h.wallets.Credit(ctx, wallet.Mutation{WalletID: w.ID, Amount: dec("4000"), Reference: "PAY-2"})
	require.NoError(t, err)
	got, err = h.svc.RetryDeduction(ctx, tr.Reference, operator)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFundsDeducted, got.Status)
	bal, _ = h.wallets.Balance(ctx, w.ID)
	assert.True(t, bal.Amount.IsZero())
}

func TestCreateRejectedByDailyLimit(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, _ := h.fundedAccount(t, "2000", true)
	_, err := h.limits.Set(ctx, ledger.PeriodDaily, dec("1000"), true)
	require.NoError(t, err)

	tr, issued := h.issued(t, account.ID, "900")
	_, err = h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	require.NoError(t, err)
	_, err = h.svc.Settle(ctx, tr.Reference, "BANKTX-1", operator, "")
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, bankInput(account.ID, "200"), owner)
	var lerr *apperrors.LimitExceededError
	require.True(t, errors.As(err, &lerr), "got %v", err)
	assert.True(t, lerr.Remaining.Equal(dec("100")))
	assert.Equal(t, "daily", lerr.Period)
}

func TestConcurrentVerifyDebitsOnce(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, w := h.fundedAccount(t, "1000", true)
	tr, issued := h.issued(t, account.ID, "300")

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperrors.ErrTACInvalid), errors.Is(err, apperrors.ErrTransferState):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	bal, _ := h.wallets.Balance(ctx, w.ID)
	assert.True(t, bal.Amount.Equal(dec("700")), "balance %s", bal.Amount)
	entries, _ := h.store.ListEntries(ctx, w.ID, 0, 0)
	debits := 0
	for _, e := range entries {
		if e.Type == ledger.EntryDebit {
			debits++
		}
	}
	assert.Equal(t, 1, debits)
}

func TestStateErrors(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, _ := h.fundedAccount(t, "1000", true)

	tr, err := h.svc.Create(ctx, bankInput(account.ID, "10"), owner)
	require.NoError(t, err)

	_, err = h.svc.VerifyTAC(ctx, tr.Reference, "123456", owner)
	var serr *apperrors.StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "pending", serr.Status)

	_, err = h.svc.Settle(ctx, tr.Reference, "X-1", operator, "")
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))
	_, err = h.svc.RetryDeduction(ctx, tr.Reference, operator)
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))
	_, _, err = h.svc.ReissueTAC(ctx, tr.Reference, operator)
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))

	_, _, err = h.svc.IssueTAC(ctx, tr.Reference, operator)
	require.NoError(t, err)
	_, _, err = h.svc.IssueTAC(ctx, tr.Reference, operator)
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))

	_, err = h.svc.Settle(ctx, tr.Reference, "", operator, "")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.svc.Get(ctx, "TRF-0000000000000000")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestWrongAndExpiredCodes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, w := h.fundedAccount(t, "1000", true)
	tr, issued := h.issued(t, account.ID, "100")

	_, err := h.svc.VerifyTAC(ctx, tr.Reference, wrong(issued.Code), owner)
	assert.True(t, errors.Is(err, apperrors.ErrTACInvalid))

	got, _ := h.svc.Get(ctx, tr.Reference)
	assert.Equal(t, ledger.StatusTACSent, got.Status)
	stored, _ := h.store.GetTAC(ctx, tr.ID)
	assert.Equal(t, 1, stored.Attempts, "failed attempt must be persisted")

	h.advance(16 * time.Minute)
	_, err = h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	assert.True(t, errors.Is(err, apperrors.ErrTACExpired))
	stored, _ = h.store.GetTAC(ctx, tr.ID)
	assert.Equal(t, ledger.TACExpired, stored.Status)

	bal, _ := h.wallets.Balance(ctx, w.ID)
	assert.True(t, bal.Amount.Equal(dec("1000")))

	// A fresh code unblocks the transfer.
	_, reissued, err := h.svc.ReissueTAC(ctx, tr.Reference, operator)
	require.NoError(t, err)
	got, err = h.svc.VerifyTAC(ctx, tr.Reference, reissued.Code, owner)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFundsDeducted, got.Status)
}

func TestKYCGate(t *testing.T) {
	h := newHarness(t, Config{KYCThreshold: dec("500")})
	ctx := context.Background()
	account, _ := h.fundedAccount(t, "1000", false)

	small, err := h.svc.Create(ctx, bankInput(account.ID, "100"), owner)
	require.NoError(t, err)
	assert.Empty(t, small.SubStatus)

	big, err := h.svc.Create(ctx, bankInput(account.ID, "500"), owner)
	require.NoError(t, err)
	assert.Equal(t, ledger.SubStatusKYCRequired, big.SubStatus)

	_, _, err = h.svc.IssueTAC(ctx, big.Reference, operator)
	assert.True(t, errors.Is(err, apperrors.ErrKYCRequired))
	got, _ := h.svc.Get(ctx, big.Reference)
	assert.Equal(t, ledger.StatusPending, got.Status)

	_, err = h.accounts.SetKYCVerified(ctx, account.ID, true)
	require.NoError(t, err)
	got, _, err = h.svc.IssueTAC(ctx, big.Reference, operator)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusTACSent, got.Status)
	assert.Empty(t, got.SubStatus)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, _ := h.fundedAccount(t, "1000", true)
	tr, issued := h.issued(t, account.ID, "100")

	got, err := h.svc.Cancel(ctx, tr.Reference, owner, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, got.Status)

	stored, _ := h.store.GetTAC(ctx, tr.ID)
	assert.Equal(t, ledger.TACExpired, stored.Status)

	_, err = h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))
	_, err = h.svc.Fail(ctx, tr.Reference, operator, "late failure")
	assert.True(t, errors.Is(err, apperrors.ErrTransferState), "terminal transfers are immutable")

	deducted, code := h.issued(t, account.ID, "100")
	_, err = h.svc.VerifyTAC(ctx, deducted.Reference, code.Code, owner)
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, deducted.Reference, owner, "")
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))
}

func TestFailRefundsDeductedFunds(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, w := h.fundedAccount(t, "1000", true)
	tr, issued := h.issued(t, account.ID, "250")
	_, err := h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	require.NoError(t, err)
	_, err = h.svc.MarkPendingSettlement(ctx, tr.Reference, operator, "queued with bank")
	require.NoError(t, err)

	got, err := h.svc.Fail(ctx, tr.Reference, operator, "beneficiary account closed")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.Equal(t, "beneficiary account closed", got.FailureReason)

	bal, _ := h.wallets.Balance(ctx, w.ID)
	assert.True(t, bal.Amount.Equal(dec("1000")))
	entries, _ := h.store.ListEntries(ctx, w.ID, 0, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "REV-"+tr.Reference, entries[0].Reference)
	assert.Equal(t, ledger.EntryCredit, entries[0].Type)

	_, err = h.svc.Fail(ctx, tr.Reference, operator, "again")
	assert.True(t, errors.Is(err, apperrors.ErrTransferState))
	_, err = h.svc.Fail(ctx, tr.Reference, operator, "")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, _ := h.fundedAccount(t, "1000", true)

	in := bankInput(account.ID, "10")
	in.Recipient.Details = map[string]string{"account_number": "1"}
	_, err := h.svc.Create(ctx, in, owner)
	assert.True(t, errors.Is(err, apperrors.ErrValidation), "missing bank name: %v", err)

	in = bankInput(account.ID, "10")
	in.Recipient.DestinationType = "crypto"
	_, err = h.svc.Create(ctx, in, owner)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	in = bankInput(account.ID, "10")
	in.Recipient.Name = ""
	_, err = h.svc.Create(ctx, in, owner)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.svc.Create(ctx, bankInput(account.ID, "0"), owner)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidAmount))

	_, err = h.svc.Create(ctx, bankInput(account.ID, "-5"), owner)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidAmount))

	in = bankInput(account.ID, "10")
	in.Currency = "EUR"
	_, err = h.svc.Create(ctx, in, owner)
	assert.True(t, errors.Is(err, apperrors.ErrCurrencyMismatch))

	_, err = h.svc.Create(ctx, bankInput(uuid.New(), "10"), owner)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = h.accounts.SetStatus(ctx, account.ID, ledger.AccountSuspended)
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, bankInput(account.ID, "10"), owner)
	assert.True(t, errors.Is(err, apperrors.ErrAccountInactive))
}

func TestMobileMoneyRecipient(t *testing.T) {
	h := newHarness(t, Config{})
	account, _ := h.fundedAccount(t, "1000", true)

	tr, err := h.svc.Create(context.Background(), CreateInput{
		AccountID: account.ID.String(),
		Amount:    dec("20"),
		Recipient: RecipientInput{
			Name:            "Paul",
			DestinationType: "mobile_money",
			Details:         map[string]string{"phone": "+242060000000", "provider": "MTN"},
		},
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, ledger.DestinationMobileMoney, tr.Recipient.DestinationType)
}

func TestDeductionCountsTransfersOpenedBeforeTheWindow(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, w := h.fundedAccount(t, "5000", true)
	_, err := h.limits.Set(ctx, ledger.PeriodDaily, dec("1000"), true)
	require.NoError(t, err)

	h.advance(-24 * time.Hour)
	first, err := h.svc.Create(ctx, bankInput(account.ID, "900"), owner)
	require.NoError(t, err)
	second, err := h.svc.Create(ctx, bankInput(account.ID, "900"), owner)
	require.NoError(t, err)
	h.advance(24 * time.Hour)

	_, issued, err := h.svc.IssueTAC(ctx, first.Reference, operator)
	require.NoError(t, err)
	_, err = h.svc.VerifyTAC(ctx, first.Reference, issued.Code, owner)
	require.NoError(t, err)

	_, issued, err = h.svc.IssueTAC(ctx, second.Reference, operator)
	require.NoError(t, err)
	_, err = h.svc.VerifyTAC(ctx, second.Reference, issued.Code, owner)
	var lerr *apperrors.LimitExceededError
	require.True(t, errors.As(err, &lerr), "got %v", err)
	assert.Equal(t, "daily", lerr.Period)
	assert.True(t, lerr.Remaining.Equal(dec("100")))

	got, _ := h.svc.Get(ctx, second.Reference)
	assert.Equal(t, ledger.StatusTACVerified, got.Status)
	bal, _ := h.wallets.Balance(ctx, w.ID)
	assert.True(t, bal.Amount.Equal(dec("4100")), "balance %s", bal.Amount)
}

// lockOrderStore records the order of wallet locks and limit reads made
// inside units.
type lockOrderStore struct {
	ledger.Store
	calls *[]string
}

func (s lockOrderStore) Do(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.Store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, lockOrderTx{Tx: tx, calls: s.calls})
	})
}

type lockOrderTx struct {
	ledger.Tx
	calls *[]string
}

func (t lockOrderTx) LockWallet(ctx context.Context, id uuid.UUID) (ledger.Wallet, error) {
	*t.calls = append(*t.calls, "lock_wallet")
	return t.Tx.LockWallet(ctx, id)
}

func (t lockOrderTx) SumTransfers(ctx context.Context, accountID uuid.UUID, statuses []ledger.TransferStatus, since time.Time) (decimal.Decimal, error) {
	*t.calls = append(*t.calls, "sum_transfers")
	return t.Tx.SumTransfers(ctx, accountID, statuses, since)
}

func TestDeductionLocksWalletBeforeEvaluatingLimits(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	account, _ := h.fundedAccount(t, "1000", true)
	_, err := h.limits.Set(ctx, ledger.PeriodDaily, dec("1000"), true)
	require.NoError(t, err)
	tr, issued := h.issued(t, account.ID, "600")

	var calls []string
	h.svc.store = lockOrderStore{Store: h.store, calls: &calls}
	_, err = h.svc.VerifyTAC(ctx, tr.Reference, issued.Code, owner)
	require.NoError(t, err)

	require.NotEmpty(t, calls)
	assert.Equal(t, "lock_wallet", calls[0], "calls %v", calls)
	assert.Contains(t, calls, "sum_transfers")
}
