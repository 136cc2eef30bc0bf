package observability

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// LogNotifier implements [domain.NotificationSink] by writing each
// notification as a structured log line and counting it.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, note domain.Notification) error {
	RecordEvent(note.Type)
	ev := n.Logger.Info()
	switch note.Type {
	case domain.EventRolloutFailed, domain.EventRolloutRolledBack, domain.EventPhaseFailed:
		ev = n.Logger.Warn()
	}
	ev.Str("event", string(note.Type)).
		Str("rollout_id", string(note.RolloutID)).
		Str("tenant_id", string(note.TenantID)).
		Str("bundle_id", string(note.BundleID)).
		Str("version", string(note.Version)).
		Int("phase", note.PhaseNumber).
		Time("at", note.At).
		Msg("rollout event")
	return nil
}
