// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string         // エラーコード
	Message  string         // エラーメッセージ
	Category string         // カテゴリ: auth, validation, quota, provider, system
	Action   string         // ユーザー向け対処方法
	Details  map[string]any // 機械可読な付加情報（任意）
	Err      error          // 内部原因。レスポンスには開発モード時のみ含める
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailRegistered    = "EMAIL_ALREADY_REGISTERED"
	ErrCodeQuotaExceeded      = "QUOTA_EXCEEDED"
	ErrCodeProviderError      = "PROVIDER_ERROR"
	ErrCodeProviderTimeout    = "PROVIDER_TIMEOUT"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeRouteNotFound      = "ROUTE_NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string, details map[string]any) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Check the highlighted fields and try again.",
		Details:  details,
	}
}

// NewInvalidRequestError はリクエストボディが解釈できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request body: %s", reason),
		Category: "validation",
		Action:   "Send a valid JSON request body.",
	}
}

// NewUnauthorizedError はトークン不正・期限切れ共通の認証エラーを生成する。
// 不正と期限切れの区別は外部に出さない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Log in again to obtain a new token.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailRegistered,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Log in instead, or register with a different email.",
	}
}

// NewQuotaExceededError は利用上限超過エラーを生成する。
// プラン・使用数・上限をDetailsに含める。
func NewQuotaExceededError(plan string, used, limit int) *APIError {
	return &APIError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("Daily generation limit reached (%d/%d on the %s plan).", used, limit, plan),
		Category: "quota",
		Action:   "Wait for the daily reset or upgrade your plan.",
		Details: map[string]any{
			"plan":  plan,
			"used":  used,
			"limit": limit,
		},
	}
}

// NewProviderError は生成プロバイダの失敗を表すエラーを生成する。
func NewProviderError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  "The generation provider failed to produce a result.",
		Category: "provider",
		Action:   "Try again in a moment. Your quota was not consumed.",
		Err:      err,
	}
}

// NewProviderTimeoutError は生成プロバイダのタイムアウトエラーを生成する。
func NewProviderTimeoutError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeProviderTimeout,
		Message:  "The generation provider did not respond in time.",
		Category: "provider",
		Action:   "Try again in a moment. Your quota was not consumed.",
		Err:      err,
	}
}

// NewStorageUnavailableError は永続化層の障害エラーを生成する。
func NewStorageUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "Storage is temporarily unavailable.",
		Category: "system",
		Action:   "Try again later.",
		Err:      err,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   fmt.Sprintf("Wait %d seconds and retry.", retryAfterSec),
		Details:  map[string]any{"retryAfter": retryAfterSec},
	}
}

// NewInternalError は分類できない内部エラーを生成する。
// 詳細はErrに保持し、レスポンスには一般的なメッセージのみを返す。
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Try again later.",
		Err:      err,
	}
}

// NewRouteNotFoundError は存在しないエンドポイントへのリクエストに対するエラーを生成する。
func NewRouteNotFoundError(method, path string) *APIError {
	return &APIError{
		Code:     ErrCodeRouteNotFound,
		Message:  fmt.Sprintf("Route %s %s not found.", method, path),
		Category: "system",
		Action:   "Check the request method and path.",
	}
}
