// Package reconcile checks that every wallet balance equals the sum of its
// ledger entries.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/backoffice/internal/ledger"
)

// Job compares stored balances against the entry log.
type Job struct {
	store  ledger.Store
	logger *slog.Logger
}

// NewJob builds a reconciliation job.
func NewJob(store ledger.Store, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{store: store, logger: logger}
}

// RunOnce logs every drifted wallet and returns them.
func (j *Job) RunOnce(ctx context.Context) ([]ledger.Drift, error) {
	drift, err := j.store.WalletDrift(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drift {
		j.logger.Warn("wallet balance drift",
			"wallet_id", d.WalletID.String(),
			"stored", d.Stored.StringFixed(2),
			"computed", d.Computed.StringFixed(2),
		)
	}
	return drift, nil
}

// Run reconciles every interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drift, err := j.RunOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					j.logger.Error("reconcile run failed", "error", err.Error())
				}
				continue
			}
			j.logger.Debug("reconcile run finished", "drifted", len(drift))
		}
	}
}
