package notification

import (
	"context"
	"log/slog"
)

// Message kinds delivered to customers.
const (
	KindTransferCreated   = "transfer_created"
	KindTACIssued         = "tac_issued"
	KindFundsDeducted     = "transfer_funds_deducted"
	KindTransferCompleted = "transfer_completed"
	KindTransferCancelled = "transfer_cancelled"
	KindTransferFailed    = "transfer_failed"
	KindWalletCredited    = "wallet_credited"
	KindWalletDebited     = "wallet_debited"
)

// Message describes a notification payload. Destination is the account id;
// the delivery service resolves it to an address.
type Message struct {
	Kind        string
	Destination string
	Body        string
	// Sensitive bodies carry secrets such as authorization codes and must
	// not be written to logs.
	Sensitive bool
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	body := message.Body
	if message.Sensitive {
		body = "[redacted]"
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", body)
	return nil
}
