package limits

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/ledger"
)

// counted lists the transfer statuses that consume allowance. Funds have left
// the wallet in each of them.
var counted = []ledger.TransferStatus{
	ledger.StatusFundsDeducted,
	ledger.StatusPendingSettlement,
	ledger.StatusCompleted,
}

// Enforcer evaluates period-based spending caps. It never mutates transfers.
type Enforcer struct {
	store  ledger.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEnforcer builds a limit enforcer.
func NewEnforcer(store ledger.Store, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CheckLimits rejects amount when any active cap would be exceeded. The
// returned LimitExceededError reports the smallest remaining allowance.
func (e *Enforcer) CheckLimits(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) error {
	return e.check(ctx, e.store, accountID, amount)
}

// CheckLimitsTx is CheckLimits evaluated inside an existing unit.
func (e *Enforcer) CheckLimitsTx(ctx context.Context, tx ledger.Tx, accountID uuid.UUID, amount decimal.Decimal) error {
	return e.check(ctx, tx, accountID, amount)
}

func (e *Enforcer) check(ctx context.Context, r ledger.Reader, accountID uuid.UUID, amount decimal.Decimal) error {
	rows, err := r.ListLimits(ctx)
	if err != nil {
		return err
	}
	now := e.now()

	var worst *apperrors.LimitExceededError
	for _, l := range rows {
		if !l.Active {
			continue
		}
		used := decimal.Zero
		if l.Period != ledger.PeriodPerTransaction {
			used, err = r.SumTransfers(ctx, accountID, counted, WindowStart(l.Period, now))
			if err != nil {
				return err
			}
		}
		if used.Add(amount).LessThanOrEqual(l.Amount) {
			continue
		}
		remaining := l.Amount.Sub(used)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if worst == nil || remaining.LessThan(worst.Remaining) {
			worst = &apperrors.LimitExceededError{Period: string(l.Period), Limit: l.Amount, Remaining: remaining}
		}
	}
	if worst != nil {
		e.logger.Info("transfer limit exceeded",
			"account_id", accountID.String(),
			"period", worst.Period,
			"amount", amount.String(),
			"remaining", worst.Remaining.String(),
		)
		return worst
	}
	return nil
}

// List returns all configured limits.
func (e *Enforcer) List(ctx context.Context) ([]ledger.Limit, error) {
	return e.store.ListLimits(ctx)
}

// Set creates or replaces the cap for a period.
func (e *Enforcer) Set(ctx context.Context, period ledger.LimitPeriod, amount decimal.Decimal, active bool) (ledger.Limit, error) {
	if !period.Valid() {
		return ledger.Limit{}, apperrors.Validation("unknown limit period %q", period)
	}
	if !amount.IsPositive() {
		return ledger.Limit{}, apperrors.ErrInvalidAmount
	}
	l := ledger.Limit{Period: period, Amount: amount, Active: active, UpdatedAt: e.now()}
	err := e.store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.UpsertLimit(ctx, l)
	})
	if err != nil {
		return ledger.Limit{}, err
	}
	e.logger.Info("transfer limit updated", "period", string(period), "amount", amount.String(), "active", active)
	return l, nil
}

// WindowStart returns the UTC start of the window containing now. Weeks start
// on Monday.
func WindowStart(p ledger.LimitPeriod, now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case ledger.PeriodDaily:
		return day
	case ledger.PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case ledger.PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}
