package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// Transaction wraps sqlx.Tx. A transaction joined from the context is owned by
// the caller that began it, so Commit and Rollback on the joined handle do nothing.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	joined   bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// GetTx returns the open transaction stored in ctx, or begins a new one and stores it.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if existing, ok := ctx.Value(txKey).(*Transaction); ok && existing != nil && existing.IsOpen() {
		return ctx, &Transaction{Tx: existing.Tx, logger: logger, joined: true}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed || t.joined {
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}

	t.isClosed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed || t.joined {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}

	t.isClosed = true
	return nil
}
