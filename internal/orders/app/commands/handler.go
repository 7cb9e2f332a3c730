package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// Command is implemented by every command so the observable decorator can
// name and describe it.
type Command interface {
	Name() string
	LogAttrs() []any
}

// CommandHandler executes one orchestrator operation and returns the
// resulting order.
type CommandHandler[C Command] interface {
	Handle(ctx context.Context, cmd C) (*domain.Order, error)
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}
