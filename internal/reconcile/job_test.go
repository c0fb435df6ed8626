package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/logging"
)

func TestRunOnceReportsDrift(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewInMemory()
	_, clean, err := ledger.SeedWallet(ctx, store, "USD", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, drifted, err := ledger.SeedWallet(ctx, store, "USD", decimal.NewFromInt(50))
	require.NoError(t, err)

	job := NewJob(store, logging.Discard())
	drift, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	// Balance moved without a matching entry.
	require.NoError(t, store.Do(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.UpdateWalletBalance(ctx, drifted.ID, decimal.NewFromInt(75), time.Now())
	}))

	drift, err = job.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, drifted.ID, drift[0].WalletID)
	assert.True(t, drift[0].Stored.Equal(decimal.NewFromInt(75)))
	assert.True(t, drift[0].Computed.Equal(decimal.NewFromInt(50)))
	assert.NotEqual(t, clean.ID, drift[0].WalletID)
}
