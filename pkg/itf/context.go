package itf

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/workmesh/assign-sdk/pkg/composables"
	"github.com/workmesh/assign-sdk/pkg/logging"
)

// TestContext provides a fluent API for building test contexts
type TestContext struct {
	ctx      context.Context
	executor *MemTxExecutor
	actor    *uuid.UUID
}

func NewTestContext() *TestContext {
	return &TestContext{
		ctx:      context.Background(),
		executor: NewMemTxExecutor(),
	}
}

// WithActor attributes mutations in this context to the given actor
func (tc *TestContext) WithActor(id uuid.UUID) *TestContext {
	tc.actor = &id
	return tc
}

func (tc *TestContext) Executor() *MemTxExecutor {
	return tc.executor
}

// Build assembles the context: in-memory transactions, a discarded logger
// and the optional actor
func (tc *TestContext) Build() context.Context {
	logger := logging.JSONLogger(logrus.PanicLevel, io.Discard)
	ctx := composables.WithTxExecutor(tc.ctx, tc.executor)
	ctx = composables.WithLogger(ctx, logger.WithField("test", true))
	if tc.actor != nil {
		ctx = composables.WithActorID(ctx, *tc.actor)
	}
	return ctx
}
