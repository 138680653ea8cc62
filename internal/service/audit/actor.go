package audit

import (
	"context"

	"github.com/google/uuid"
)

// Actor identifies who performed an audited action.
type Actor struct {
	UserID    *uuid.UUID
	IPAddress string
	UserAgent string
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the zero Actor for system actions such as
// scheduled backups.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}
