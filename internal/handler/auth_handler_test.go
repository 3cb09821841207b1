package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/sequelprompt/internal/auth"
	"github.com/hitoshi/sequelprompt/internal/middleware"
	"github.com/hitoshi/sequelprompt/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn    func(ctx context.Context, email, password, name string) (*auth.Session, error)
	loginFn       func(ctx context.Context, email, password string) (*auth.Session, error)
	currentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, name string) (*auth.Session, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password, name)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

func testUser() *model.User {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.User{
		ID:               "user-1",
		Email:            "a@x.com",
		CredentialHash:   "$2a$12$secret",
		DisplayName:      "A",
		Plan:             model.PlanFree,
		GenerationsLimit: 3,
		LastResetAt:      now,
		CreatedAt:        now,
	}
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestAuthHandler_Register_ReturnsSession(t *testing.T) {
	var gotEmail, gotName string
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, email, password, name string) (*auth.Session, error) {
			gotEmail, gotName = email, name
			return &auth.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour), User: testUser()}, nil
		},
	}
	h := NewAuthHandler(svc, false)

	w := httptest.NewRecorder()
	h.Register(w, postJSON("/auth/register", `{"email":"  a@x.com ","password":"password123","name":" A "}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if gotEmail != "a@x.com" || gotName != "A" {
		t.Errorf("service received (%q, %q), want trimmed values", gotEmail, gotName)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["token"] != "tok" {
		t.Errorf("token = %v, want tok", body["token"])
	}
	user := body["user"].(map[string]any)
	if user["email"] != "a@x.com" || user["plan"] != "free" || user["generationsLimit"] != float64(3) {
		t.Errorf("unexpected user payload: %v", user)
	}
	if _, ok := user["credentialHash"]; ok {
		t.Error("credential hash must never be serialized")
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("response leaks credential hash")
	}
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "不正なメール", body: `{"email":"nope","password":"password123","name":"A"}`, field: "email"},
		{name: "短いパスワード", body: `{"email":"a@x.com","password":"short","name":"A"}`, field: "password"},
		{name: "72バイト超のパスワード", body: `{"email":"a@x.com","password":"` + strings.Repeat("あ", 25) + `","name":"A"}`, field: "password"},
		{name: "名前なし", body: `{"email":"a@x.com","password":"password123","name":"   "}`, field: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				registerFn: func(ctx context.Context, email, password, name string) (*auth.Session, error) {
					t.Fatal("service should not be called")
					return nil, nil
				},
			}
			h := NewAuthHandler(svc, false)

			w := httptest.NewRecorder()
			h.Register(w, postJSON("/auth/register", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			body := decodeError(t, w)
			if body.Code != model.ErrCodeValidation {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeValidation)
			}
			fields, _ := body.Details["fields"].(map[string]any)
			if _, ok := fields[tt.field]; !ok {
				t.Errorf("details.fields = %v, want entry for %q", fields, tt.field)
			}
		})
	}
}

func TestAuthHandler_Register_DuplicateEmail(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, email, password, name string) (*auth.Session, error) {
			return nil, model.NewEmailAlreadyRegisteredError()
		},
	}
	h := NewAuthHandler(svc, false)

	w := httptest.NewRecorder()
	h.Register(w, postJSON("/auth/register", `{"email":"a@x.com","password":"password123","name":"A"}`))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeEmailRegistered {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeEmailRegistered)
	}
}

func TestAuthHandler_Register_MalformedJSON(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, false)

	w := httptest.NewRecorder()
	h.Register(w, postJSON("/auth/register", `{"email":`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.Session, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := NewAuthHandler(svc, false)

	w := httptest.NewRecorder()
	h.Login(w, postJSON("/auth/login", `{"email":"a@x.com","password":"wrong-password"}`))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			if userID != "user-1" {
				return nil, model.NewUserNotFoundError()
			}
			return testUser(), nil
		},
	}
	h := NewAuthHandler(svc, false)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		User userResponse `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User.ID != "user-1" || body.User.Name != "A" {
		t.Errorf("user = %+v", body.User)
	}
}

func TestAuthHandler_Me_DeletedUserIsUnauthorized(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	h := NewAuthHandler(svc, false)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithUserID(req.Context(), "ghost"))
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_StorageFailure_DebugMode(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.Session, error) {
			return nil, model.NewStorageUnavailableError(errors.New("pq: connection refused"))
		},
	}

	for _, debug := range []bool{false, true} {
		h := NewAuthHandler(svc, debug)
		w := httptest.NewRecorder()
		h.Login(w, postJSON("/auth/login", `{"email":"a@x.com","password":"password123"}`))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("debug=%v: status = %d, want %d", debug, w.Code, http.StatusInternalServerError)
		}
		body := decodeError(t, w)
		if debug && body.Debug != "pq: connection refused" {
			t.Errorf("debug=true: debug = %q", body.Debug)
		}
		if !debug && body.Debug != "" {
			t.Errorf("debug=false: debug = %q, want empty", body.Debug)
		}
	}
}
