// Package provider は生成テキストプロバイダの抽象と実装を提供する。
// 実装の選択は起動時の配線でのみ行い、呼び出し側は環境を意識しない。
package provider

import (
	"context"
	"errors"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// ErrTimeout はプロバイダが制限時間内に応答しなかったことを表す。
var ErrTimeout = errors.New("provider timed out")

// Provider は生成リクエストから成果物を生成するインターフェース。
type Provider interface {
	Generate(ctx context.Context, req *model.GenerationRequest) (*model.ProviderOutput, error)
}

// IsTimeout はerrがタイムアウトによる失敗かどうかを返す。
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
