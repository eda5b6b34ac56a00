// Package notifier defines the outbound alerting contract. Delivery is
// fire-and-forget: the security core never blocks an operation because an
// alert could not be sent.
package notifier

import (
	"context"
	"log/slog"
)

// Severity routes alerts to the right channel on the receiving side.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notifier delivers operator- or user-facing alerts. Implementations must
// tolerate being called concurrently.
type Notifier interface {
	SendAlert(ctx context.Context, subject, body string, severity Severity) error
}

// LogNotifier writes alerts to structured logs. It is the development
// default; production deployments swap in a real delivery adapter.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendAlert(_ context.Context, subject, body string, severity Severity) error {
	level := slog.LevelInfo
	switch severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	n.logger.Log(context.Background(), level, "alert",
		"subject", subject,
		"body", body,
		"severity", string(severity),
	)
	return nil
}

// Noop discards alerts. Useful in tests that do not assert on notifications.
type Noop struct{}

func (Noop) SendAlert(context.Context, string, string, Severity) error { return nil }
