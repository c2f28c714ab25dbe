package adapter

import (
	"context"

	"freelance-escrow/internal/domain/model"
)

// Notifier delivers an outbox notification to its recipient. Delivery is
// at-least-once; implementations should tolerate repeats.
type Notifier interface {
	Notify(ctx context.Context, n *model.Notification) error
}
