package composables

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/workmesh/assign-sdk/pkg/constants"
)

// UseLogger returns the request-scoped logger injected by the logging
// middleware, falling back to the standard logger when the context carries
// none (background sweeps, CLI commands).
func UseLogger(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry); ok {
		return logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// WithActorID attributes subsequent mutations to the given actor.
func WithActorID(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.ActorIDKey, actorID)
}

// UseActorID returns the acting identity, or uuid.Nil and false when the
// operation is unattributed (system sweeps, anonymous callers).
func UseActorID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(constants.ActorIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
