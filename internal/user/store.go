// Package user はユーザーの資格情報と利用状況を管理する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/sequelprompt/internal/model"
	"github.com/hitoshi/sequelprompt/internal/repository"
)

// Hasher は資格情報のハッシュ化と照合のインターフェース。
type Hasher interface {
	Hash(raw string) (string, error)
	Verify(raw, hash string) (bool, error)
}

// StoreConfig は新規ユーザーに割り当てるプランと上限の設定。
type StoreConfig struct {
	InitialPlan  string
	InitialLimit int
}

// Store はユーザーの資格情報ストア。
// 使用回数とリセット時刻を変更できるのはSetUsage / ResetUsageのみ。
type Store struct {
	repo   repository.UserRepository
	hasher Hasher
	config StoreConfig
	now    func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(repo repository.UserRepository, hasher Hasher, config StoreConfig) *Store {
	if config.InitialPlan == "" {
		config.InitialPlan = model.PlanFree
	}
	return &Store{
		repo:   repo,
		hasher: hasher,
		config: config,
		now:    time.Now,
	}
}

// Register は新規ユーザーを作成する。
// メールアドレスが既に登録済みの場合はEMAIL_ALREADY_REGISTEREDエラーを返す。
func (s *Store) Register(ctx context.Context, email, rawCredential, displayName string) (*model.User, error) {
	email = strings.TrimSpace(email)

	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	if existing != nil {
		return nil, model.NewEmailAlreadyRegisteredError()
	}

	hash, err := s.hasher.Hash(rawCredential)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := &model.User{
		ID:               uuid.New().String(),
		Email:            email,
		CredentialHash:   hash,
		DisplayName:      strings.TrimSpace(displayName),
		Plan:             s.config.InitialPlan,
		GenerationsUsed:  0,
		GenerationsLimit: s.config.InitialLimit,
		LastResetAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, u); err != nil {
		// 事前確認と作成の間に同じメールで登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, model.NewStorageUnavailableError(err)
	}

	slog.Info("new user registered",
		slog.String("user_id", u.ID),
		slog.String("plan", u.Plan),
	)
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	return u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *Store) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	return u, nil
}

// VerifyCredential は生の資格情報とハッシュを照合する。
func (s *Store) VerifyCredential(rawCredential, hash string) (bool, error) {
	return s.hasher.Verify(rawCredential, hash)
}

// SetUsage は使用回数を絶対値で設定する。
func (s *Store) SetUsage(ctx context.Context, id string, used int) error {
	if used < 0 {
		return fmt.Errorf("usage must not be negative: %d", used)
	}
	if err := s.repo.SetUsage(ctx, id, used); err != nil {
		return model.NewStorageUnavailableError(err)
	}
	return nil
}

// ResetUsage は使用回数を0にし、最終リセット時刻をatにする。
func (s *Store) ResetUsage(ctx context.Context, id string, at time.Time) error {
	if err := s.repo.ResetUsage(ctx, id, at); err != nil {
		return model.NewStorageUnavailableError(err)
	}
	return nil
}
