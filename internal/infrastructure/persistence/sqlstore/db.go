package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
	"github.com/garyjia/approval-workflow/pkg/database"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// TxManager implements port.TransactionManager on a database handle.
// The repositories in this package pick the transaction up from the context.
type TxManager struct {
	db     *database.DB
	logger *zap.Logger
}

// NewTxManager creates a transaction manager
func NewTxManager(db *database.DB, logger *zap.Logger) *TxManager {
	return &TxManager{db: db, logger: logger}
}

var (
	_ port.TransactionManager = (*TxManager)(nil)
	_ port.HealthChecker      = (*TxManager)(nil)
)

// WithTransaction executes fn within a database transaction, joining one already on ctx
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := extractTx(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		m.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			m.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		m.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the connection
func (m *TxManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// extractTx retrieves transaction from context if present
func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// conn is shared by the repositories: it routes statements to the transaction on ctx and
// rewrites placeholders for the connection's dialect.
type conn struct {
	db     *database.DB
	logger *zap.Logger
}

func (c conn) getExecutor(ctx context.Context) executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return c.db.DB
}

func (c conn) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.getExecutor(ctx).ExecContext(ctx, c.db.Dialect.Rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.getExecutor(ctx).QueryContext(ctx, c.db.Dialect.Rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.getExecutor(ctx).QueryRowContext(ctx, c.db.Dialect.Rebind(query), args...)
}

// execCAS runs a compare-and-set update and reports whether exactly one row changed
func (c conn) execCAS(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// exists reports whether a live row with the given id is present in table
func (c conn) exists(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := c.queryRow(ctx, "SELECT 1 FROM "+table+" WHERE id = ? AND deleted = ?", id, false).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// casFailure turns a lost compare-and-set into ErrConflict, or ErrNotFound when the row is gone
func (c conn) casFailure(ctx context.Context, table, kind, id string) error {
	ok, err := c.exists(ctx, table, id)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", kind, err)
	}
	if !ok {
		return entity.NotFoundf(kind, id)
	}
	return entity.ErrConflict
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
