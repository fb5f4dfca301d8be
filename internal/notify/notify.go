package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event describes a license worth operator attention. Only the masked hint is
// carried; raw and stored keys never reach a notification channel.
type Event struct {
	Kind           string
	KeyHint        string
	LicenseType    string
	ExpirationDate *time.Time
}

const (
	KindExpiringSoon = "license.expiring_soon"
	KindExpired      = "license.expired"
)

// Notifier is the boundary toward whatever delivery channel a deployment
// wires up. Message formatting and transport live behind it.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the application log. It is the default sink
// when no external channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("LogNotifier")}
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.String("key_hint", event.KeyHint),
		zap.String("license_type", event.LicenseType),
	}
	if event.ExpirationDate != nil {
		fields = append(fields, zap.Time("expiration_date", *event.ExpirationDate))
	}
	n.logger.Info("License notification", fields...)
	return nil
}
