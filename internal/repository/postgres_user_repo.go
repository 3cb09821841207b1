package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// pgUniqueViolation はPostgreSQLのユニーク制約違反コード。
const pgUniqueViolation = "23505"

const userColumns = `id, email, credential_hash, display_name, plan,
	generations_used, generations_limit, last_reset_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.CredentialHash, user.DisplayName, user.Plan,
		user.GenerationsUsed, user.GenerationsLimit, user.LastResetAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// SetUsage は使用回数を絶対値で設定する。
func (r *PostgresUserRepo) SetUsage(ctx context.Context, id string, used int) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET generations_used = $2, updated_at = now() WHERE id = $1`,
		id, used,
	)
	if err != nil {
		return fmt.Errorf("failed to set usage: %w", err)
	}
	return requireAffected(result, id)
}

// ResetUsage は使用回数を0にし、最終リセット時刻をatに更新する。
func (r *PostgresUserRepo) ResetUsage(ctx context.Context, id string, at time.Time) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET generations_used = 0, last_reset_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return requireAffected(result, id)
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.CredentialHash, &user.DisplayName, &user.Plan,
		&user.GenerationsUsed, &user.GenerationsLimit, &user.LastResetAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func requireAffected(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
