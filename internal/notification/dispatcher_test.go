package notification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/congo-pay/backoffice/internal/ledger"
)

type captureNotifier struct {
	sent []Message
}

func (c *captureNotifier) Send(_ context.Context, m Message) error {
	c.sent = append(c.sent, m)
	return nil
}

func TestDispatcherRendersTACMessage(t *testing.T) {
	n := &captureNotifier{}
	d := NewDispatcher(n)

	ev := ledger.NewEvent(ledger.EventTACIssued, "TRF-1", map[string]any{
		"reference":  "TRF-1",
		"account_id": "acc-1",
		"amount":     "300",
		"currency":   "USD",
		"code":       "123456",
		"expires_at": "2024-01-01T00:15:00Z",
	}, time.Now())
	if err := d.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(n.sent))
	}
	msg := n.sent[0]
	if msg.Kind != KindTACIssued || msg.Destination != "acc-1" || !msg.Sensitive {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.Body, "123456") || !strings.Contains(msg.Body, "300 USD") {
		t.Fatalf("body missing code or amount: %s", msg.Body)
	}
}

func TestDispatcherIgnoresUnknownEvents(t *testing.T) {
	n := &captureNotifier{}
	if err := NewDispatcher(n).Publish(context.Background(), ledger.NewEvent("audit.noise", "x", nil, time.Now())); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(n.sent) != 0 {
		t.Fatalf("expected no message, got %+v", n.sent)
	}
}

func TestRenderCoversWorkflowEvents(t *testing.T) {
	for _, typ := range []string{
		ledger.EventTransferCreated, ledger.EventTransferFundsDeducted, ledger.EventTransferCompleted,
		ledger.EventTransferCancelled, ledger.EventTransferFailed, ledger.EventWalletCredited, ledger.EventWalletDebited,
	} {
		msg, ok := Render(ledger.NewEvent(typ, "TRF-1", map[string]any{"reference": "TRF-1", "account_id": "a"}, time.Now()))
		if !ok || msg.Body == "" || msg.Sensitive {
			t.Fatalf("%s: unexpected render %+v ok=%v", typ, msg, ok)
		}
	}
}
