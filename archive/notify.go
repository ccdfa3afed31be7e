package archive

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier receives every finished manifest. Delivery channels (push,
// messaging) live outside this module and implement it.
type Notifier interface {
	JobFinished(ctx context.Context, m *Manifest)
}

// LogNotifier writes one event per finished job.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) JobFinished(_ context.Context, m *Manifest) {
	ev := n.Logger.Info()
	switch m.State {
	case StateFailed:
		ev = n.Logger.Error()
	case StatePartiallyFailed:
		ev = n.Logger.Warn()
	}
	ev.Str("job", string(m.Job)).
		Str("run_id", m.RunID).
		Str("period", m.Period).
		Str("state", string(m.State)).
		Int("archived", m.Archived).
		Int("failed", m.Failed).
		Int("already_archived", m.AlreadyArchived).
		Msg("archive job finished")
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, m *Manifest)

func (f NotifierFunc) JobFinished(ctx context.Context, m *Manifest) { f(ctx, m) }
