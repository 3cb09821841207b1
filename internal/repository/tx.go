package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX は *sql.DB と *sql.Tx の共通部分。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txContextKey struct{}

// conn はctxにトランザクションが載っていればそれを、なければdbを返す。
func conn(ctx context.Context, db DBTX) DBTX {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// PostgresTxRunner は *sql.DB 上でトランザクションを実行する。
type PostgresTxRunner struct {
	db TxBeginner
}

// NewPostgresTxRunner はPostgresTxRunnerを生成する。
func NewPostgresTxRunner(db TxBeginner) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

// WithinTx はトランザクションを開始してfnを実行し、成功時にコミットする。
// fnがエラーを返すかpanicした場合はロールバックする。panicは再送出する。
// 既にトランザクション内であれば新たに開始せずfnをそのまま実行する。
func (r *PostgresTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(context.WithValue(ctx, txContextKey{}, tx))
}

// compile-time interface check
var _ TxRunner = (*PostgresTxRunner)(nil)
