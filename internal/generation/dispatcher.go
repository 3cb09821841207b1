// Package generation は生成リクエストの受付からクォータ消費までを調停する。
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/sequelprompt/internal/metrics"
	"github.com/hitoshi/sequelprompt/internal/model"
	"github.com/hitoshi/sequelprompt/internal/provider"
	"github.com/hitoshi/sequelprompt/internal/quota"
	"github.com/hitoshi/sequelprompt/internal/repository"
)

// UserFinder はユーザー取得のインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// QuotaLedger はクォータ評価と消費のインターフェース。
type QuotaLedger interface {
	EvaluateAndMaybeReset(ctx context.Context, user *model.User) (*quota.Evaluation, error)
	CommitUsage(ctx context.Context, userID string, previousUsed int) error
}

// HistoryAppender は生成履歴追記のインターフェース。
type HistoryAppender interface {
	Append(ctx context.Context, gen *model.Generation) (string, error)
}

// Config はディスパッチャの設定。
type Config struct {
	ProviderTimeout time.Duration
	CommitAttempts  int
	CommitBackoff   time.Duration
}

// Deps はディスパッチャの依存関係。
type Deps struct {
	Users    UserFinder
	Quota    QuotaLedger
	History  HistoryAppender
	Tx       repository.TxRunner
	Provider provider.Provider
	Metrics  metrics.MetricsCollector
}

// Dispatcher は生成リクエストを1件ずつ処理する。
// ユーザー単位の排他は行わないため、同時リクエストで上限をわずかに超えることがある。
type Dispatcher struct {
	deps   Deps
	config Config
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(deps Deps, config Config) *Dispatcher {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopCollector{}
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 60 * time.Second
	}
	if config.CommitAttempts <= 0 {
		config.CommitAttempts = 3
	}
	if config.CommitBackoff <= 0 {
		config.CommitBackoff = 100 * time.Millisecond
	}
	return &Dispatcher{
		deps:   deps,
		config: config,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Generate はクォータを確認してプロバイダを呼び出し、履歴追記と使用回数の消費をまとめて確定する。
// クォータ超過・プロバイダ失敗の場合は履歴も使用回数も変更しない。
// クライアント切断ではプロバイダ呼び出しと確定処理を中断しない。
func (d *Dispatcher) Generate(ctx context.Context, userID string, req *model.GenerationRequest) (*model.GenerationResult, error) {
	kind := string(req.Kind)

	u, err := d.deps.Users.FindByID(ctx, userID)
	if err != nil {
		d.deps.Metrics.RecordGeneration(kind, metrics.OutcomeStorageError)
		return nil, err
	}
	if u == nil {
		slog.Error("authenticated user does not exist", slog.String("user_id", userID))
		return nil, model.NewUserNotFoundError()
	}

	eval, err := d.deps.Quota.EvaluateAndMaybeReset(ctx, u)
	if err != nil {
		d.deps.Metrics.RecordGeneration(kind, metrics.OutcomeStorageError)
		return nil, err
	}
	if eval.Reset {
		d.deps.Metrics.RecordQuotaReset()
	}
	snapshot := eval.User
	if !eval.Allowed {
		d.deps.Metrics.RecordGeneration(kind, metrics.OutcomeQuotaExceeded)
		slog.Info("generation rejected by quota",
			slog.String("user_id", userID),
			slog.String("plan", snapshot.Plan),
			slog.Int("used", snapshot.GenerationsUsed),
			slog.Int("limit", snapshot.GenerationsLimit),
		)
		return nil, model.NewQuotaExceededError(snapshot.Plan, snapshot.GenerationsUsed, snapshot.GenerationsLimit)
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation input: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	out, err := d.callProvider(detached, req)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate generation ID: %w", err)
	}
	gen := &model.Generation{
		ID:         id.String(),
		UserID:     userID,
		Kind:       req.Kind,
		Input:      input,
		Output:     out.Content,
		TokensUsed: out.TokensUsed,
		Cost:       out.Cost,
		CreatedAt:  d.now(),
	}

	if err := d.commit(detached, gen, snapshot.GenerationsUsed); err != nil {
		d.deps.Metrics.RecordGeneration(kind, metrics.OutcomeStorageError)
		slog.Error("generation result could not be committed",
			slog.String("user_id", userID),
			slog.String("generation_id", gen.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	d.deps.Metrics.RecordGeneration(kind, metrics.OutcomeSuccess)
	d.deps.Metrics.RecordTokensUsed(kind, out.TokensUsed, out.Cost)
	slog.Info("generation completed",
		slog.String("user_id", userID),
		slog.String("generation_id", gen.ID),
		slog.String("kind", kind),
		slog.Int("tokens_used", out.TokensUsed),
	)

	return &model.GenerationResult{
		ID:                   gen.ID,
		Content:              out.Content,
		TokensUsed:           out.TokensUsed,
		Cost:                 out.Cost,
		GenerationsRemaining: quota.Remaining(snapshot),
	}, nil
}

// callProvider は制限時間付きでプロバイダを呼び出し、失敗をエラー種別に分類する。
func (d *Dispatcher) callProvider(ctx context.Context, req *model.GenerationRequest) (*model.ProviderOutput, error) {
	kind := string(req.Kind)
	ctx, cancel := context.WithTimeout(ctx, d.config.ProviderTimeout)
	defer cancel()

	start := time.Now()
	out, err := d.deps.Provider.Generate(ctx, req)
	d.deps.Metrics.RecordProviderLatency(kind, time.Since(start))

	if err == nil && out == nil {
		err = errors.New("provider returned no output")
	}
	if err != nil {
		if provider.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			d.deps.Metrics.RecordGeneration(kind, metrics.OutcomeTimeout)
			slog.Warn("generation provider timed out",
				slog.String("kind", kind),
				slog.Duration("timeout", d.config.ProviderTimeout),
			)
			return nil, model.NewProviderTimeoutError(err)
		}
		d.deps.Metrics.RecordGeneration(kind, metrics.OutcomeProviderError)
		slog.Warn("generation provider failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderError(err)
	}
	return out, nil
}

// commit は履歴追記と使用回数の消費を1トランザクションで確定する。
// IDは事前採番済みで使用回数は絶対値で設定するため、再試行しても二重計上しない。
func (d *Dispatcher) commit(ctx context.Context, gen *model.Generation, previousUsed int) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = d.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := d.deps.History.Append(ctx, gen); err != nil {
				return err
			}
			return d.deps.Quota.CommitUsage(ctx, gen.UserID, previousUsed)
		})
		if err == nil {
			return nil
		}
		if attempt+1 >= d.config.CommitAttempts {
			break
		}

		delay := CalculateBackoff(attempt, d.config.CommitBackoff)
		slog.Warn("generation commit failed, retrying",
			slog.String("generation_id", gen.ID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		d.deps.Metrics.RecordCommitRetry()
		d.sleep(delay)
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewStorageUnavailableError(err)
}
