package composables

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/workmesh/assign-sdk/pkg/constants"
	"github.com/workmesh/assign-sdk/pkg/repo"
)

var (
	ErrNoTx   = errors.New("no transaction found in context")
	ErrNoPool = errors.New("no database pool found in context")
)

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, constants.TxKey, tx)
}

func UseTx(ctx context.Context) (repo.Tx, error) {
	tx := ctx.Value(constants.TxKey)
	if tx == nil {
		return UsePool(ctx)
	}
	return tx.(repo.Tx), nil
}

func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, constants.PoolKey, pool)
}

func UsePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool := ctx.Value(constants.PoolKey)
	if pool == nil {
		return nil, ErrNoPool
	}
	return pool.(*pgxpool.Pool), nil
}

func BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx := ctx.Value(constants.TxKey)
	if tx != nil {
		return tx.(pgx.Tx), nil
	}
	pool, err := UsePool(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Begin(ctx)
}

// TxExecutor opens the transactions InTx runs in. The pgx pool satisfies it;
// tests substitute an in-memory implementation.
type TxExecutor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func WithTxExecutor(ctx context.Context, executor TxExecutor) context.Context {
	return context.WithValue(ctx, constants.TxExecutorKey, executor)
}

func useTxExecutor(ctx context.Context) (TxExecutor, error) {
	if executor, ok := ctx.Value(constants.TxExecutorKey).(TxExecutor); ok {
		return executor, nil
	}
	return UsePool(ctx)
}

// AfterCommitHook runs after the enclosing transaction has durably committed.
// The context it receives carries the pool but never the committed transaction.
type AfterCommitHook func(ctx context.Context) error

type afterCommitQueue struct {
	mu    sync.Mutex
	hooks []AfterCommitHook
}

func (q *afterCommitQueue) add(hook AfterCommitHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hooks = append(q.hooks, hook)
}

func (q *afterCommitQueue) drain(ctx context.Context) error {
	q.mu.Lock()
	hooks := q.hooks
	q.hooks = nil
	q.mu.Unlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AfterCommit registers hook to run once the transaction opened by InTx
// commits. Hooks run in registration order. Outside a transaction the state is
// already durable, so the hook runs immediately.
func AfterCommit(ctx context.Context, hook AfterCommitHook) error {
	q, ok := ctx.Value(constants.AfterCommitKey).(*afterCommitQueue)
	if !ok {
		return hook(ctx)
	}
	q.add(hook)
	return nil
}

// InTx runs the given function in a transaction. ALWAYS creates a new transaction.
// After-commit hooks registered inside fn are drained only on successful commit;
// a rollback discards them. Hook failures surface to the caller: the mutation
// is already durable at that point and cannot be rolled back.
func InTx(ctx context.Context, fn func(context.Context) error) error {
	executor, err := useTxExecutor(ctx)
	if err != nil {
		return err
	}

	tx, err := executor.Begin(ctx)
	if err != nil {
		return err
	}

	queue := &afterCommitQueue{}
	txCtx := context.WithValue(WithTx(ctx, tx), constants.AfterCommitKey, queue)

	if err := fn(txCtx); err != nil {
		if rErr := tx.Rollback(ctx); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return queue.drain(ctx)
}
