package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// Postgres error codes that make a whole transaction safe to rerun.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const defaultTxAttempts = 3

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// ContextWithTx carries tx so repositories called with ctx join it.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// GetDBTX returns the transaction on ctx, or pool outside one.
func GetDBTX(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return pool
}

// TransactionManager runs units of work in a read-committed transaction and
// reruns them when Postgres reports a serialization failure or deadlock.
type TransactionManager struct {
	pool     *pgxpool.Pool
	opts     pgx.TxOptions
	attempts int
}

var _ ports.TransactionManager = (*TransactionManager)(nil)

func NewTransactionManager(pool *pgxpool.Pool) *TransactionManager {
	return &TransactionManager{
		pool:     pool,
		opts:     pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
		attempts: defaultTxAttempts,
	}
}

// WithTransaction commits when fn returns nil and rolls back otherwise.
// Nested calls join the outer transaction, so fn must be safe to rerun.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= tm.attempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, tm.pool, tm.opts, func(tx pgx.Tx) error {
			return fn(ContextWithTx(ctx, tx))
		})
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	if err != nil && retryable(err) {
		return fmt.Errorf("transaction gave up after %d attempts: %w", tm.attempts, err)
	}
	return err
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}
