package notification

import (
	"context"
	"fmt"

	"github.com/congo-pay/backoffice/internal/ledger"
)

// Dispatcher turns outbox events into customer notifications.
type Dispatcher struct {
	notifier Notifier
}

// NewDispatcher builds a dispatcher over notifier.
func NewDispatcher(notifier Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier}
}

// Name identifies the dispatcher in relay logs.
func (d *Dispatcher) Name() string { return "notifier" }

// Publish sends the message for ev. Events without a customer-facing message
// are ignored.
func (d *Dispatcher) Publish(ctx context.Context, ev ledger.Event) error {
	msg, ok := Render(ev)
	if !ok {
		return nil
	}
	return d.notifier.Send(ctx, msg)
}

// Render maps an event to its notification.
func Render(ev ledger.Event) (Message, bool) {
	p := ev.Payload
	account := str(p, "account_id")
	ref := str(p, "reference")
	amount := str(p, "amount") + " " + str(p, "currency")

	switch ev.Type {
	case ledger.EventTransferCreated:
		return Message{Kind: KindTransferCreated, Destination: account,
			Body: fmt.Sprintf("Transfer %s of %s to %s was created.", ref, amount, str(p, "recipient"))}, true
	case ledger.EventTACIssued:
		return Message{Kind: KindTACIssued, Destination: account, Sensitive: true,
			Body: fmt.Sprintf("Your authorization code for transfer %s of %s is %s. It expires at %s.",
				ref, amount, str(p, "code"), str(p, "expires_at"))}, true
	case ledger.EventTransferFundsDeducted:
		return Message{Kind: KindFundsDeducted, Destination: account,
			Body: fmt.Sprintf("%s has been deducted from your wallet for transfer %s.", amount, ref)}, true
	case ledger.EventTransferCompleted:
		return Message{Kind: KindTransferCompleted, Destination: account,
			Body: fmt.Sprintf("Transfer %s has been paid out (ref %s).", ref, str(p, "external_reference"))}, true
	case ledger.EventTransferCancelled:
		return Message{Kind: KindTransferCancelled, Destination: account,
			Body: fmt.Sprintf("Transfer %s was cancelled.", ref)}, true
	case ledger.EventTransferFailed:
		return Message{Kind: KindTransferFailed, Destination: account,
			Body: fmt.Sprintf("Transfer %s failed: %s.", ref, str(p, "reason"))}, true
	case ledger.EventWalletCredited:
		return Message{Kind: KindWalletCredited, Destination: account,
			Body: fmt.Sprintf("Your wallet was credited with %s. New balance %s.", amount, str(p, "balance"))}, true
	case ledger.EventWalletDebited:
		return Message{Kind: KindWalletDebited, Destination: account,
			Body: fmt.Sprintf("Your wallet was debited %s. New balance %s.", amount, str(p, "balance"))}, true
	}
	return Message{}, false
}

func str(p map[string]any, key string) string {
	if v, ok := p[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
