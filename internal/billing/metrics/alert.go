package metrics

import (
	"context"
	"log/slog"
)

const (
	AlertRepeatedOrphan = "repeated_orphaned_event"
	AlertSignatureSpike = "webhook_signature_spike"
)

// Alerter pages an operator.
type Alerter interface {
	Alert(ctx context.Context, name, message string, attrs ...any)
}

// LogAlerter raises alerts as error-level log lines tagged with "alert".
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, name, message string, attrs ...any) {
	AlertsTotal.WithLabelValues(name).Inc()
	a.logger.ErrorContext(ctx, "ALERT: "+message, append([]any{"alert", name}, attrs...)...)
}
