package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sequelprompt/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。Debugは開発モードでのみ設定する。
type ErrorResponseBody struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Category string         `json:"category"`
	Action   string         `json:"action"`
	Details  map[string]any `json:"details,omitempty"`
	Debug    string         `json:"debug,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// 内部原因はレスポンスに含めない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeError(w, statusCode, apiErr, false)
}

// WriteErrorResponseWithDebug はWriteErrorResponseに加えて内部原因をdebugフィールドに含める。
// 開発モードでのみ使用する。
func WriteErrorResponseWithDebug(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeError(w, statusCode, apiErr, true)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError(nil))
}

func writeError(w http.ResponseWriter, statusCode int, apiErr *model.APIError, debug bool) {
	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Details:  apiErr.Details,
	}
	if debug && apiErr.Err != nil {
		body.Debug = apiErr.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write error response", slog.String("error", err.Error()))
	}
}

// StatusCode はAPIErrorコードに対応するHTTPステータスコードを返す。
func StatusCode(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeEmailRegistered:
		return http.StatusConflict
	case model.ErrCodeQuotaExceeded, model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeProviderError, model.ErrCodeProviderTimeout:
		return http.StatusBadGateway
	case model.ErrCodeUserNotFound, model.ErrCodeRouteNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
