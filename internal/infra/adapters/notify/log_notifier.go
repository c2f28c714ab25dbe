package notify

import (
	"context"

	"github.com/rs/zerolog"

	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/infra/logging"
)

var _ adapter.Notifier = (*LogNotifier)(nil)

// LogNotifier writes each notification as a structured log line. Real
// delivery channels (email, push) live outside this service and can tail
// these lines or replace the adapter.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := logging.Component(logger, "notifier")
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Notify(ctx context.Context, note *model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := n.log.Info().
		Str("notification_id", note.ID).
		Str("user_id", note.UserID).
		Str("kind", string(note.Kind))
	for k, v := range note.Payload {
		ev = ev.Str(k, v)
	}
	ev.Msg("notification")
	return nil
}
