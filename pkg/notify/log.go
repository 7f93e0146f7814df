package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/log"
)

// LogNotifier writes events into the structured log. It is always part of
// the notifier chain so lifecycle events land somewhere even with no
// webhook configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.WithComponent("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	entry := n.logger.Info()
	switch event.Severity {
	case SeverityWarning:
		entry = n.logger.Warn()
	case SeverityCritical:
		entry = n.logger.Error()
	}
	entry = entry.
		Str("kind", event.Kind).
		Str("environment", event.Environment)
	if event.AttemptID != "" {
		entry = entry.Str("attempt_id", event.AttemptID)
	}
	if event.Version != "" {
		entry = entry.Str("version", event.Version)
	}
	for k, v := range event.Details {
		entry = entry.Str(k, v)
	}
	entry.Msg(event.Message)
	return nil
}
