// Package history は生成履歴の追記と閲覧を提供する。
package history

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/sequelprompt/internal/model"
	"github.com/hitoshi/sequelprompt/internal/repository"
)

// DefaultPageSize はページサイズ未指定時の件数。
const DefaultPageSize = 10

// Config は履歴台帳の設定。
type Config struct {
	MaxPageSize int
}

// Page は履歴の1ページ分の結果。
type Page struct {
	Generations []*model.Generation
	Page        int
	Limit       int
	Total       int
	Pages       int
}

// Ledger は追記専用の生成履歴台帳。
type Ledger struct {
	repo   repository.GenerationRepository
	config Config
	now    func() time.Time
}

// NewLedger はLedgerを生成する。
func NewLedger(repo repository.GenerationRepository, config Config) *Ledger {
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = 50
	}
	return &Ledger{repo: repo, config: config, now: time.Now}
}

// Append は履歴を追加してIDを返す。
// ID・作成日時が未設定の場合はここで採番する。IDは時刻順に並ぶUUIDv7。
func (l *Ledger) Append(ctx context.Context, gen *model.Generation) (string, error) {
	if gen.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("failed to generate generation ID: %w", err)
		}
		gen.ID = id.String()
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = l.now()
	}

	if err := l.repo.Insert(ctx, gen); err != nil {
		return "", model.NewStorageUnavailableError(err)
	}
	return gen.ID, nil
}

// Page はユーザーの履歴を新しい順に1ページ分返す。
// pageは1以上。pageSizeが0以下なら既定値、上限を超える場合は上限に丸める。
// 最終ページを超えるpageは空のページを返す。
func (l *Ledger) Page(ctx context.Context, userID string, page, pageSize int) (*Page, error) {
	if page < 1 {
		return nil, model.NewValidationError("page must be 1 or greater", map[string]any{"page": page})
	}
	pageSize = l.clampPageSize(pageSize)

	total, err := l.repo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}

	result := &Page{
		Generations: []*model.Generation{},
		Page:        page,
		Limit:       pageSize,
		Total:       total,
		Pages:       (total + pageSize - 1) / pageSize,
	}
	// 最終ページより後ろは空。オフセットの乗算がオーバーフローしないよう先に判定する
	if page-1 >= result.Pages {
		return result, nil
	}

	gens, err := l.repo.ListByUserID(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	if gens != nil {
		result.Generations = gens
	}
	return result, nil
}

// All はユーザーの全履歴を新しい順に遅延して返すシーケンス。
// ページ単位で取得し、途中で打ち切れば以降は読み込まない。繰り返し呼び出すと先頭から読み直す。
func (l *Ledger) All(ctx context.Context, userID string, pageSize int) iter.Seq2[*model.Generation, error] {
	pageSize = l.clampPageSize(pageSize)

	return func(yield func(*model.Generation, error) bool) {
		for offset := 0; ; offset += pageSize {
			gens, err := l.repo.ListByUserID(ctx, userID, pageSize, offset)
			if err != nil {
				yield(nil, model.NewStorageUnavailableError(err))
				return
			}
			for _, gen := range gens {
				if !yield(gen, nil) {
					return
				}
			}
			if len(gens) < pageSize {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (l *Ledger) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return min(pageSize, l.config.MaxPageSize)
}
