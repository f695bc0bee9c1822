package itf

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errMemTxNoSQL = errors.New("in-memory transaction cannot execute SQL")

// MemTxExecutor satisfies composables.TxExecutor without a database. The
// transactions it opens track commit/rollback state so tests can assert on
// transactional behavior of services backed by in-memory repositories.
type MemTxExecutor struct {
	Began []*MemTx
}

func NewMemTxExecutor() *MemTxExecutor {
	return &MemTxExecutor{}
}

func (e *MemTxExecutor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &MemTx{}
	e.Began = append(e.Began, tx)
	return tx, nil
}

// MemTx is a no-op pgx.Tx. Repositories under test keep state in memory and
// never touch the SQL surface.
type MemTx struct {
	Committed  bool
	RolledBack bool
}

func (t *MemTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return &MemTx{}, nil
}

func (t *MemTx) Commit(ctx context.Context) error {
	if t.Committed || t.RolledBack {
		return pgx.ErrTxClosed
	}
	t.Committed = true
	return nil
}

func (t *MemTx) Rollback(ctx context.Context) error {
	if t.Committed {
		return pgx.ErrTxClosed
	}
	t.RolledBack = true
	return nil
}

func (t *MemTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errMemTxNoSQL
}

func (t *MemTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (t *MemTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *MemTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errMemTxNoSQL
}

func (t *MemTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errMemTxNoSQL
}

func (t *MemTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errMemTxNoSQL
}

func (t *MemTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{}
}

func (t *MemTx) Conn() *pgx.Conn {
	return nil
}

type errRow struct{}

func (errRow) Scan(dest ...any) error { return errMemTxNoSQL }
