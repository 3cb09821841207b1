// Package quota はプラン別の日次生成回数を管理する。
// リセットはタイマーを使わず、評価時に経過日数を見て遅延実行する。
package quota

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// resetPeriod は使用回数をリセットする周期。
const resetPeriod = 24 * time.Hour

// UsageStore は使用回数の永続化インターフェース。
type UsageStore interface {
	SetUsage(ctx context.Context, id string, used int) error
	ResetUsage(ctx context.Context, id string, at time.Time) error
}

// Evaluation はクォータ評価結果。
// Userはリセット適用後のスナップショット。
type Evaluation struct {
	User    *model.User
	Allowed bool
	Reset   bool
}

// Ledger はクォータ台帳。
// ユーザー単位のロックは持たず、同時リクエストによる上限超過は許容する。
type Ledger struct {
	store UsageStore
	now   func() time.Time
}

// NewLedger はLedgerを生成する。nowがnilの場合はtime.Nowを使用する。
func NewLedger(store UsageStore, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// EvaluateAndMaybeReset は必要に応じて日次リセットを適用し、生成可否を判定する。
// 前回リセットから1日以上経過していれば使用回数を0に戻して永続化する。
// 複数日経過していても繰り越しはせず0に戻すだけ。
func (l *Ledger) EvaluateAndMaybeReset(ctx context.Context, user *model.User) (*Evaluation, error) {
	snapshot := *user
	now := l.now()
	reset := false

	if ElapsedDays(snapshot.LastResetAt, now) >= 1 {
		if err := l.store.ResetUsage(ctx, snapshot.ID, now); err != nil {
			return nil, storageError(err)
		}
		slog.Info("daily quota reset",
			slog.String("user_id", snapshot.ID),
			slog.Int("previous_used", snapshot.GenerationsUsed),
		)
		snapshot.GenerationsUsed = 0
		snapshot.LastResetAt = now
		reset = true
	}

	return &Evaluation{
		User:    &snapshot,
		Allowed: snapshot.GenerationsUsed < snapshot.GenerationsLimit,
		Reset:   reset,
	}, nil
}

// CommitUsage は使用回数をpreviousUsed+1に設定する。
// 加算ではなく絶対値の設定なので、同じ引数での再実行は冪等。
func (l *Ledger) CommitUsage(ctx context.Context, userID string, previousUsed int) error {
	if err := l.store.SetUsage(ctx, userID, previousUsed+1); err != nil {
		return storageError(err)
	}
	return nil
}

// ElapsedDays はfromからtoまでの経過日数を切り捨てで返す。
// toがfromより前の場合は負の値になる。
func ElapsedDays(from, to time.Time) int {
	return int(math.Floor(float64(to.Sub(from)) / float64(resetPeriod)))
}

// Remaining は生成成功後の残り回数を返す。
// 無料プラン以外はnilを返す。userはコミット前のスナップショットを渡す。
func Remaining(user *model.User) *int {
	if user.Plan != model.PlanFree {
		return nil
	}
	r := user.GenerationsLimit - user.GenerationsUsed - 1
	if r < 0 {
		r = 0
	}
	return &r
}

func storageError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewStorageUnavailableError(err)
}
