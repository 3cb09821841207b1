// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// ErrDuplicateEmail はメールアドレスのユニーク制約違反を表す。
var ErrDuplicateEmail = errors.New("email already exists")

// ErrNotFound は更新対象の行が存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// SetUsage は使用回数を絶対値で設定する。同じ値での再実行は冪等。
	SetUsage(ctx context.Context, id string, used int) error

	// ResetUsage は使用回数を0にし、最終リセット時刻を更新する。
	ResetUsage(ctx context.Context, id string, at time.Time) error
}

// GenerationRepository は生成履歴の永続化インターフェース。
type GenerationRepository interface {
	// Insert は履歴を追加する。同一IDが既に存在する場合は何もしない。
	Insert(ctx context.Context, gen *model.Generation) error

	// ListByUserID はユーザーの履歴を created_at DESC, id DESC 順で取得する。
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Generation, error)

	// CountByUserID はユーザーの履歴件数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)
}

// TxRunner はトランザクション境界を提供するインターフェース。
// fn内でctxを使うリポジトリ操作は同一トランザクションで実行される。
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
