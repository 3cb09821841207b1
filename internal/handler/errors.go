package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sequelprompt/internal/middleware"
	"github.com/hitoshi/sequelprompt/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 10 << 20

// responder はエラーレスポンスの書き込みを担う。
// debugが真の場合は内部原因をレスポンスに含める。
type responder struct {
	debug bool
}

// writeAPIError はAPIErrorを対応するHTTPステータスで書き込む。
func (rs responder) writeAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	rs.writeAPIErrorWithStatus(w, middleware.StatusCode(apiErr), apiErr)
}

func (rs responder) writeAPIErrorWithStatus(w http.ResponseWriter, status int, apiErr *model.APIError) {
	if rs.debug {
		middleware.WriteErrorResponseWithDebug(w, status, apiErr)
		return
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// handleServiceError はサービス層から返されたエラーを統一フォーマットのレスポンスに変換する。
func (rs responder) handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if middleware.StatusCode(apiErr) >= http.StatusInternalServerError && apiErr.Err != nil {
			slog.Error("request failed",
				slog.String("code", apiErr.Code),
				slog.String("error", apiErr.Err.Error()),
			)
		}
		rs.writeAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	rs.writeAPIError(w, model.NewInternalError(err))
}

// decodeJSON はボディサイズを制限してJSONをデコードする。
// 失敗した場合はエラーレスポンスを書き込んでfalseを返す。
func (rs responder) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			rs.writeAPIErrorWithStatus(w, http.StatusRequestEntityTooLarge, model.NewInvalidRequestError("body exceeds 10MB"))
			return false
		}
		rs.writeAPIError(w, model.NewInvalidRequestError(err.Error()))
		return false
	}
	return true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write response", slog.String("error", err.Error()))
	}
}
