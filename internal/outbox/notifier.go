package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Notifier publishes freshly committed outbox messages right away so the
// relay only has to deal with the ones that failed.
type Notifier struct {
	bus     ports.EventBus
	store   ports.OutboxStore
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewNotifier(bus ports.EventBus, store ports.OutboxStore, logger *slog.Logger, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		bus:     bus,
		store:   store,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// Notify publishes each message once. The caller's cancellation does not
// abort publishing because the state change has already been committed.
func (n *Notifier) Notify(ctx context.Context, messages []ports.OutboxMessage) {
	if len(messages) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, msg := range messages {
		if err := n.publish(ctx, msg); err != nil {
			n.logger.WarnContext(ctx, "event publish failed, left for relay",
				"error", err,
				"order_id", msg.OrderID,
				"topic", msg.Topic,
				"message_id", msg.ID,
			)
			if markErr := n.store.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				n.logger.ErrorContext(ctx, "failed to record publish failure",
					"error", markErr,
					"message_id", msg.ID,
				)
			}
			continue
		}
		if err := n.store.MarkPublished(ctx, msg.ID, n.now().UTC()); err != nil {
			// the relay will publish it again; consumers deduplicate on message ID
			n.logger.ErrorContext(ctx, "failed to mark message published",
				"error", err,
				"message_id", msg.ID,
			)
		}
	}
}

func (n *Notifier) publish(ctx context.Context, msg ports.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.bus.Publish(ctx, msg)
}
