package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/backoffice/internal/ledger"
)

const defaultBatchSize = 100

// Publisher receives outbox events. Delivery is at least once; publishers
// must tolerate duplicates.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev ledger.Event) error
}

// Relay moves committed events from the outbox to publishers in commit order.
type Relay struct {
	store      ledger.Store
	publishers []Publisher
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

// NewRelay builds a relay. A non-positive batch size selects the default.
func NewRelay(store ledger.Store, logger *slog.Logger, batchSize int, publishers ...Publisher) *Relay {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:      store,
		publishers: publishers,
		batchSize:  batchSize,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce publishes one batch and returns the number of events dispatched.
// It stops at the first event a publisher rejects so ordering is kept; that
// event is retried on the next run.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.PendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	var done []uuid.UUID
	for _, ev := range events {
		if err := r.publish(ctx, ev); err != nil {
			r.logger.Warn("outbox publish failed",
				"event_id", ev.ID.String(),
				"type", ev.Type,
				"error", err.Error(),
			)
			break
		}
		done = append(done, ev.ID)
	}
	if len(done) == 0 {
		return 0, nil
	}
	if err := r.store.MarkEventsDispatched(ctx, done, r.now()); err != nil {
		return 0, err
	}
	return len(done), nil
}

func (r *Relay) publish(ctx context.Context, ev ledger.Event) error {
	for _, p := range r.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			return &publishError{publisher: p.Name(), err: err}
		}
	}
	return nil
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info("outbox relay started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Error("outbox relay run failed", "error", err.Error())
					}
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

type publishError struct {
	publisher string
	err       error
}

func (e *publishError) Error() string { return e.publisher + ": " + e.err.Error() }
func (e *publishError) Unwrap() error { return e.err }
