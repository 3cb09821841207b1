package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken は署名不正・形式不正・必須クレーム欠落のトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired は有効期限切れのトークンを表す。
	ErrTokenExpired = errors.New("token expired")
)

// Claims はセッショントークンのクレーム。SubjectにユーザーIDを保持する。
type Claims struct {
	jwt.RegisteredClaims
}

// TokenAuthenticator はHS256署名のステートレスなセッショントークンを発行・検証する。
// 秘密鍵は起動時に1回設定され、以後変更されない。
type TokenAuthenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenAuthenticator はTokenAuthenticatorを生成する。
func NewTokenAuthenticator(secret []byte, ttl time.Duration) *TokenAuthenticator {
	return &TokenAuthenticator{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はユーザーIDを埋め込んだトークンと有効期限を返す。
func (a *TokenAuthenticator) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("user ID is required")
	}

	now := a.now()
	expiresAt := jwt.NewNumericDate(now.Add(a.ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// Resolve はトークンを検証してユーザーIDを返す。
// 期限切れはErrTokenExpired、それ以外の検証失敗はErrInvalidTokenを返す。
func (a *TokenAuthenticator) Resolve(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
