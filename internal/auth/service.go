// Package auth はメールアドレス・パスワードによる認証とセッショントークンを提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// CredentialStore は認証に必要な資格情報ストアのインターフェース。
type CredentialStore interface {
	Register(ctx context.Context, email, rawCredential, displayName string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	VerifyCredential(rawCredential, hash string) (bool, error)
}

// TokenIssuer はセッショントークンの発行インターフェース。
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// PasswordHasher は照合用ダミーハッシュの生成に使う。
type PasswordHasher interface {
	Hash(raw string) (string, error)
}

// Session は発行済みトークンとユーザーの組。
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	store     CredentialStore
	tokens    TokenIssuer
	dummyHash func() (string, error)
}

// NewService はServiceを生成する。
func NewService(store CredentialStore, tokens TokenIssuer, hasher PasswordHasher) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash("sequelprompt-dummy-credential")
		}),
	}
}

// Register はユーザーを登録し、セッショントークンを発行する。
func (s *Service) Register(ctx context.Context, email, password, name string) (*Session, error) {
	u, err := s.store.Register(ctx, email, password, name)
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

// Login は資格情報を検証し、セッショントークンを発行する。
// 未登録のメールアドレスとパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if u == nil {
		// 応答時間で登録有無が判別できないよう、ダミーハッシュと照合する
		if hash, herr := s.dummyHash(); herr == nil {
			_, _ = s.store.VerifyCredential(password, hash)
		}
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.store.VerifyCredential(password, u.CredentialHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credential: %w", err)
	}
	if !ok {
		slog.Warn("login failed", slog.String("user_id", u.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.String("user_id", u.ID))
	return s.issue(u)
}

// CurrentUser はユーザーIDから現在のユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

func (s *Service) issue(u *model.User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}
