// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/sequelprompt/internal/auth"
	"github.com/hitoshi/sequelprompt/internal/middleware"
	"github.com/hitoshi/sequelprompt/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name string) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandler は登録・ログイン・現在のユーザー取得のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	validate *validator.Validate
	responder
}

// NewAuthHandler はAuthHandlerを生成する。
// debugが真の場合はエラーレスポンスに内部原因を含める。
func NewAuthHandler(service AuthServiceInterface, debug bool) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validate:  newValidator(),
		responder: responder{debug: debug},
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// userResponse はユーザー情報のレスポンス形式。資格情報ハッシュは含めない。
type userResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Plan             string    `json:"plan"`
	GenerationsUsed  int       `json:"generationsUsed"`
	GenerationsLimit int       `json:"generationsLimit"`
	LastResetAt      time.Time `json:"lastResetAt"`
	CreatedAt        time.Time `json:"createdAt"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.DisplayName,
		Plan:             u.Plan,
		GenerationsUsed:  u.GenerationsUsed,
		GenerationsLimit: u.GenerationsLimit,
		LastResetAt:      u.LastResetAt,
		CreatedAt:        u.CreatedAt,
	}
}

func toSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      toUserResponse(s.User),
	}
}

// Register はユーザーを登録してトークンを発行する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		h.writeAPIError(w, validationError(err))
		return
	}

	session, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Login は資格情報を検証してトークンを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		h.writeAPIError(w, validationError(err))
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Me は認証済みユーザーの情報を返す。
// トークンが有効でもユーザーが存在しない場合は401を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.writeAPIError(w, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			h.writeAPIErrorWithStatus(w, http.StatusUnauthorized, apiErr)
			return
		}
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u)})
}
