// Package notify delivers fraud alerts to external channels.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"stockguard/internal/detector"
)

// Fanout sends each alert to every configured sink. A sink failure is
// collected, not fatal; delivery succeeds only when every sink accepted
// the alert.
type Fanout struct {
	sinks  []detector.Sink
	logger *slog.Logger
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(logger *slog.Logger, sinks ...detector.Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

func (f *Fanout) Name() string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

func (f *Fanout) Send(ctx context.Context, alert *detector.Alert) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Send(ctx, alert); err != nil {
			f.logger.Error("alert delivery failed",
				"sink", s.Name(),
				"alert_id", alert.ID,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
