package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger はデータベースの疎通確認インターフェース。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthPingTimeout はヘルスチェック時のDB疎通確認の制限時間。
const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// NewHealthHandler はDB疎通を含むヘルスチェックハンドラーを返す。
// dbがnilの場合は疎通確認を省略する。
// GET /health
func NewHealthHandler(db Pinger, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Version: version}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				resp.Status = "unhealthy"
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
