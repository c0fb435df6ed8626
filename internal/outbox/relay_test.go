package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/logging"
)

type recorder struct {
	seen   []string
	failOn string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Publish(_ context.Context, ev ledger.Event) error {
	if ev.AggregateID == r.failOn {
		return errors.New("downstream unavailable")
	}
	r.seen = append(r.seen, ev.AggregateID)
	return nil
}

func appendEvents(t *testing.T, store ledger.Store, ids ...string) {
	t.Helper()
	require.NoError(t, store.Do(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		for _, id := range ids {
			ev := ledger.NewEvent(ledger.EventTACIssued, id, map[string]any{"reference": id, "code": "123456"}, time.Now())
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestRelayPublishesAndMarksDispatched(t *testing.T) {
	store := ledger.NewInMemory()
	appendEvents(t, store, "TRF-1", "TRF-2", "TRF-3")
	rec := &recorder{}
	relay := NewRelay(store, logging.Discard(), 2, rec)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"TRF-1", "TRF-2", "TRF-3"}, rec.seen)

	pending, _ := store.PendingEvents(context.Background(), 0)
	assert.Empty(t, pending)
}

func TestRelayStopsAtFailureToKeepOrder(t *testing.T) {
	store := ledger.NewInMemory()
	appendEvents(t, store, "TRF-1", "TRF-2", "TRF-3")
	rec := &recorder{failOn: "TRF-2"}
	relay := NewRelay(store, logging.Discard(), 10, rec)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, _ := store.PendingEvents(context.Background(), 0)
	require.Len(t, pending, 2)
	assert.Equal(t, "TRF-2", pending[0].AggregateID)

	rec.failOn = ""
	n, _ = relay.RunOnce(context.Background())
	assert.Equal(t, 2, n)
}

func TestRedisStreamPublisherRedactsCode(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := ledger.NewInMemory()
	appendEvents(t, store, "TRF-9")
	relay := NewRelay(store, logging.Discard(), 0, NewRedisStreamPublisher(client, "", 1000))
	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	msgs, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ledger.EventTACIssued, msgs[0].Values["type"])
	assert.Equal(t, "TRF-9", msgs[0].Values["aggregate_id"])

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &payload))
	assert.Equal(t, "TRF-9", payload["reference"])
	assert.NotContains(t, payload, "code")
}
