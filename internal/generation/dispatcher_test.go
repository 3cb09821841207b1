package generation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/sequelprompt/internal/history"
	"github.com/hitoshi/sequelprompt/internal/model"
	"github.com/hitoshi/sequelprompt/internal/quota"
	"github.com/hitoshi/sequelprompt/internal/user"
)

type harness struct {
	users    *memoryUserRepo
	gens     *memoryGenerationRepo
	tx       *snapshotTx
	provider *stubProvider
	history  *history.Ledger
	dispatch *Dispatcher
	userID   string
	now      time.Time
}

// newHarness は実際のクォータ台帳・履歴台帳・資格情報ストアをインメモリ永続化で組み立て、
// a@x.com を無料プラン（上限3回）で登録する。
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		users:    newMemoryUserRepo(),
		gens:     &memoryGenerationRepo{},
		provider: &stubProvider{},
	}
	h.tx = &snapshotTx{users: h.users, gens: h.gens}
	store := user.NewStore(h.users, user.NewBcryptHasher(4), user.StoreConfig{InitialLimit: 3})

	u, err := store.Register(context.Background(), "a@x.com", "password123", "A")
	require.NoError(t, err)
	h.userID = u.ID
	h.now = time.Now()

	clock := func() time.Time { return h.now }
	h.history = history.NewLedger(h.gens, history.Config{MaxPageSize: 50})
	h.dispatch = NewDispatcher(Deps{
		Users:    store,
		Quota:    quota.NewLedger(store, clock),
		History:  h.history,
		Tx:       h.tx,
		Provider: h.provider,
	}, Config{
		ProviderTimeout: time.Second,
		CommitAttempts:  3,
		CommitBackoff:   time.Millisecond,
	})
	h.dispatch.now = clock
	h.dispatch.sleep = func(time.Duration) {}
	return h
}

func (h *harness) storedUser(t *testing.T) model.User {
	t.Helper()
	u, err := h.users.FindByID(context.Background(), h.userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return *u
}

func singleRequest() *model.GenerationRequest {
	return &model.GenerationRequest{
		Kind:         model.KindSingle,
		MainIdea:     "summarize quarterly sales figures",
		OutputFormat: "bullet-points",
		Tone:         "professional",
		Length:       "brief",
	}
}

func requireAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, code, apiErr.Code)
	return apiErr
}

func TestGenerate_FreeUserScenarioWithDailyReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		res, err := h.dispatch.Generate(ctx, h.userID, singleRequest())
		require.NoError(t, err, "generation %d", i+1)
		require.NotNil(t, res.GenerationsRemaining)
		assert.Equal(t, wantRemaining, *res.GenerationsRemaining)
	}

	_, err := h.dispatch.Generate(ctx, h.userID, singleRequest())
	apiErr := requireAPIError(t, err, model.ErrCodeQuotaExceeded)
	assert.Equal(t, map[string]any{"plan": "free", "used": 3, "limit": 3}, apiErr.Details)
	assert.Equal(t, 3, h.provider.calls, "quota denial must not call the provider")

	h.now = h.now.Add(24*time.Hour + time.Second)

	res, err := h.dispatch.Generate(ctx, h.userID, singleRequest())
	require.NoError(t, err)
	require.NotNil(t, res.GenerationsRemaining)
	assert.Equal(t, 2, *res.GenerationsRemaining)

	stored := h.storedUser(t)
	assert.Equal(t, 1, stored.GenerationsUsed)
	assert.Equal(t, h.now, stored.LastResetAt)
	assert.Equal(t, 4, h.gens.count())
}

func TestGenerate_PersistsHistoryNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := singleRequest()
	req.Context = "board meeting"
	res, err := h.dispatch.Generate(ctx, h.userID, req)
	require.NoError(t, err)

	page, err := h.history.Page(ctx, h.userID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Generations, 1)

	gen := page.Generations[0]
	assert.Equal(t, res.ID, gen.ID)
	assert.Equal(t, model.KindSingle, gen.Kind)
	assert.Equal(t, "generated", gen.Output)
	assert.Equal(t, 42, gen.TokensUsed)
	assert.Equal(t, 0.01, gen.Cost)

	var input map[string]any
	require.NoError(t, json.Unmarshal(gen.Input, &input))
	assert.Equal(t, "single", input["type"])
	assert.Equal(t, "board meeting", input["context"])
	assert.Equal(t, "summarize quarterly sales figures", input["mainIdea"])
	// 保存されるのは型付きリクエストの形で、該当しない種別の任意項目は含まない
	assert.NotContains(t, input, "taskDecomposition")
	assert.NotContains(t, input, "requirements")
}

func TestGenerate_ProviderFailureHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.provider.fn = func(context.Context, *model.GenerationRequest) (*model.ProviderOutput, error) {
		return nil, errors.New("model overloaded")
	}

	_, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
	requireAPIError(t, err, model.ErrCodeProviderError)

	assert.Zero(t, h.gens.count())
	assert.Zero(t, h.storedUser(t).GenerationsUsed)
	assert.Zero(t, h.tx.calls)
}

func TestGenerate_ProviderTimeout(t *testing.T) {
	h := newHarness(t)
	h.dispatch.config.ProviderTimeout = 20 * time.Millisecond
	h.provider.fn = func(ctx context.Context, _ *model.GenerationRequest) (*model.ProviderOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
	requireAPIError(t, err, model.ErrCodeProviderTimeout)

	assert.Zero(t, h.gens.count())
	assert.Zero(t, h.storedUser(t).GenerationsUsed)
}

func TestGenerate_ClientCancellationDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.provider.fn = func(pctx context.Context, _ *model.GenerationRequest) (*model.ProviderOutput, error) {
		cancel()
		if err := pctx.Err(); err != nil {
			return nil, err
		}
		return &model.ProviderOutput{Content: "done", TokensUsed: 1}, nil
	}

	_, err := h.dispatch.Generate(ctx, h.userID, singleRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, h.gens.count())
	assert.Equal(t, 1, h.storedUser(t).GenerationsUsed)
}

func TestGenerate_CommitRetryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	// 1回目の確定では履歴追記後に使用回数の更新が失敗する
	h.users.setUsageErr = []error{errStorage}

	res, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
	require.NoError(t, err)
	require.NotNil(t, res.GenerationsRemaining)
	assert.Equal(t, 2, *res.GenerationsRemaining)

	assert.Equal(t, 2, h.tx.calls)
	assert.Equal(t, 1, h.gens.count())
	assert.Equal(t, 1, h.storedUser(t).GenerationsUsed)
}

func TestGenerate_CommitRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	h.users.setUsageErr = []error{errStorage, errStorage, errStorage}

	var slept []time.Duration
	h.dispatch.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
	requireAPIError(t, err, model.ErrCodeStorageUnavailable)

	assert.Equal(t, 3, h.tx.calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, slept)
	assert.Zero(t, h.storedUser(t).GenerationsUsed)
	assert.Zero(t, h.gens.count(), "history must not outlive a failed usage commit")
}

func TestGenerate_CommitIsAtomic(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(h *harness)
	}{
		{
			name:    "usage update fails after history append",
			prepare: func(h *harness) { h.users.setUsageErr = []error{errStorage} },
		},
		{
			name:    "history append fails",
			prepare: func(h *harness) { h.gens.insertErr = []error{errStorage} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.dispatch.config.CommitAttempts = 1
			tt.prepare(h)

			_, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
			requireAPIError(t, err, model.ErrCodeStorageUnavailable)

			assert.Equal(t, 1, h.tx.calls)
			assert.Zero(t, h.gens.count())
			assert.Zero(t, h.storedUser(t).GenerationsUsed)

			// 障害が解消すれば次の生成は通常どおり確定する
			res, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
			require.NoError(t, err)
			require.NotNil(t, res.GenerationsRemaining)
			assert.Equal(t, 2, *res.GenerationsRemaining)
			assert.Equal(t, 1, h.gens.count())
			assert.Equal(t, 1, h.storedUser(t).GenerationsUsed)
		})
	}
}

func TestGenerate_PaidPlanHasNoRemaining(t *testing.T) {
	h := newHarness(t)
	u := h.storedUser(t)
	u.Plan = "pro"
	u.GenerationsLimit = 100
	h.users.users[u.ID] = u

	res, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
	require.NoError(t, err)
	assert.Nil(t, res.GenerationsRemaining)
}

func TestGenerate_UnknownUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatch.Generate(context.Background(), "ghost", singleRequest())
	requireAPIError(t, err, model.ErrCodeUserNotFound)
	assert.Zero(t, h.provider.calls)
}

func TestGenerate_UserLookupFailure(t *testing.T) {
	h := newHarness(t)
	failing := &failingUserFinder{err: model.NewStorageUnavailableError(errStorage)}
	h.dispatch.deps.Users = failing

	_, err := h.dispatch.Generate(context.Background(), h.userID, singleRequest())
	requireAPIError(t, err, model.ErrCodeStorageUnavailable)
	assert.Zero(t, h.provider.calls)
}

type failingUserFinder struct {
	err error
}

func (f *failingUserFinder) FindByID(context.Context, string) (*model.User, error) {
	return nil, f.err
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, base))
	assert.Equal(t, 200*time.Millisecond, CalculateBackoff(1, base))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, base))
	assert.Equal(t, maxCommitBackoff, CalculateBackoff(10, base))
}
