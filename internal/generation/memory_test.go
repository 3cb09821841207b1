package generation

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/sequelprompt/internal/model"
	"github.com/hitoshi/sequelprompt/internal/repository"
)

// memoryUserRepo はテスト用のインメモリUserRepository。
type memoryUserRepo struct {
	mu          sync.Mutex
	users       map[string]model.User
	setUsageErr []error // 先頭から順に1回ずつ返す
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: map[string]model.User{}}
}

func (m *memoryUserRepo) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicateEmail
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memoryUserRepo) SetUsage(_ context.Context, id string, used int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.setUsageErr) > 0 {
		err := m.setUsageErr[0]
		m.setUsageErr = m.setUsageErr[1:]
		if err != nil {
			return err
		}
	}
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.GenerationsUsed = used
	m.users[id] = u
	return nil
}

func (m *memoryUserRepo) ResetUsage(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.GenerationsUsed = 0
	u.LastResetAt = at
	m.users[id] = u
	return nil
}

// memoryGenerationRepo はテスト用のインメモリGenerationRepository。
type memoryGenerationRepo struct {
	mu        sync.Mutex
	gens      []*model.Generation
	insertErr []error // 先頭から順に1回ずつ返す
}

func (m *memoryGenerationRepo) Insert(_ context.Context, gen *model.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.insertErr) > 0 {
		err := m.insertErr[0]
		m.insertErr = m.insertErr[1:]
		if err != nil {
			return err
		}
	}
	for _, g := range m.gens {
		if g.ID == gen.ID {
			return nil
		}
	}
	copied := *gen
	m.gens = append(m.gens, &copied)
	return nil
}

func (m *memoryGenerationRepo) ListByUserID(_ context.Context, userID string, limit, offset int) ([]*model.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []*model.Generation
	for _, g := range m.gens {
		if g.UserID == userID {
			owned = append(owned, g)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return strings.Compare(owned[i].ID, owned[j].ID) > 0
	})
	if offset >= len(owned) {
		return nil, nil
	}
	return owned[offset:min(offset+limit, len(owned))], nil
}

func (m *memoryGenerationRepo) CountByUserID(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.gens {
		if g.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memoryGenerationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gens)
}

// snapshotTx はfnの失敗時に両リポジトリをfn実行前の状態へ戻すTxRunner。
// 本番のPostgreSQLトランザクションと同じく、履歴追記と使用回数更新を一体で扱う。
type snapshotTx struct {
	users *memoryUserRepo
	gens  *memoryGenerationRepo
	calls int
}

func (s *snapshotTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.calls++
	users := s.users.snapshot()
	gens := s.gens.snapshot()
	if err := fn(ctx); err != nil {
		s.users.restore(users)
		s.gens.restore(gens)
		return err
	}
	return nil
}

func (m *memoryUserRepo) snapshot() map[string]model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.users)
}

func (m *memoryUserRepo) restore(users map[string]model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = users
}

func (m *memoryGenerationRepo) snapshot() []*model.Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.gens)
}

func (m *memoryGenerationRepo) restore(gens []*model.Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens = gens
}

// stubProvider は呼び出し回数を数える差し替え用プロバイダ。
type stubProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req *model.GenerationRequest) (*model.ProviderOutput, error)
}

func (s *stubProvider) Generate(ctx context.Context, req *model.GenerationRequest) (*model.ProviderOutput, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return &model.ProviderOutput{Content: "generated", TokensUsed: 42, Cost: 0.01}, nil
}

var (
	_ repository.UserRepository       = (*memoryUserRepo)(nil)
	_ repository.GenerationRepository = (*memoryGenerationRepo)(nil)
	_ repository.TxRunner             = (*snapshotTx)(nil)
)

var errStorage = errors.New("connection reset by peer")
