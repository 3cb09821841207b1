package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// PostgresGenerationRepo はPostgreSQLを使用した生成履歴リポジトリ。
type PostgresGenerationRepo struct {
	db DBTX
}

// NewPostgresGenerationRepo はPostgresGenerationRepoを生成する。
func NewPostgresGenerationRepo(db DBTX) *PostgresGenerationRepo {
	return &PostgresGenerationRepo{db: db}
}

// Insert は履歴を追加する。
// IDは呼び出し側で事前に採番されるため、再試行で同じIDが来た場合は何もしない。
func (r *PostgresGenerationRepo) Insert(ctx context.Context, gen *model.Generation) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO generations (id, user_id, kind, input, output, tokens_used, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		gen.ID, gen.UserID, string(gen.Kind), string(gen.Input), gen.Output, gen.TokensUsed, gen.Cost, gen.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}
	return nil
}

// ListByUserID はユーザーの履歴を新しい順に取得する。
// 同時刻のレコードはIDの降順で並べる。
func (r *PostgresGenerationRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Generation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, user_id, kind, input, output, tokens_used, cost, created_at
		 FROM generations
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var gens []*model.Generation
	for rows.Next() {
		gen := &model.Generation{}
		var kind string
		var input []byte
		if err := rows.Scan(&gen.ID, &gen.UserID, &kind, &input, &gen.Output, &gen.TokensUsed, &gen.Cost, &gen.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		gen.Kind = model.GenerationKind(kind)
		gen.Input = input
		gens = append(gens, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generations: %w", err)
	}

	return gens, nil
}

// CountByUserID はユーザーの履歴件数を返す。
func (r *PostgresGenerationRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT count(*) FROM generations WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ GenerationRepository = (*PostgresGenerationRepo)(nil)
