// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 生成結果のラベル値
const (
	OutcomeSuccess       = "success"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeProviderError = "provider_error"
	OutcomeTimeout       = "provider_timeout"
	OutcomeStorageError  = "storage_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ディスパッチャやミドルウェアから利用する。
type MetricsCollector interface {
	RecordGeneration(kind, outcome string)
	RecordProviderLatency(kind string, duration time.Duration)
	RecordTokensUsed(kind string, tokens int, cost float64)
	RecordQuotaReset()
	RecordCommitRetry()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	generations     *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	tokensUsed      *prometheus.CounterVec
	cost            *prometheus.CounterVec
	quotaResets     prometheus.Counter
	commitRetries   prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sequelprompt_generations_total",
			Help: "種別・結果別の生成リクエスト数",
		}, []string{"kind", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sequelprompt_provider_latency_seconds",
			Help:    "生成プロバイダ呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"kind"}),
		tokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sequelprompt_tokens_used_total",
			Help: "種別ごとの消費トークン数",
		}, []string{"kind"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sequelprompt_generation_cost_total",
			Help: "種別ごとの生成コスト合計",
		}, []string{"kind"}),
		quotaResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequelprompt_quota_resets_total",
			Help: "日次クォータリセットの合計数",
		}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequelprompt_commit_retries_total",
			Help: "履歴・使用回数コミットの再試行数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sequelprompt_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.generations,
		c.providerLatency,
		c.tokensUsed,
		c.cost,
		c.quotaResets,
		c.commitRetries,
		c.httpStatus,
	)

	return c
}

// RecordGeneration は生成リクエストの結果を記録する。
func (c *Collector) RecordGeneration(kind, outcome string) {
	c.generations.WithLabelValues(kind, outcome).Inc()
}

// RecordProviderLatency はプロバイダ呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(kind string, duration time.Duration) {
	c.providerLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTokensUsed は消費トークン数とコストを記録する。
func (c *Collector) RecordTokensUsed(kind string, tokens int, cost float64) {
	c.tokensUsed.WithLabelValues(kind).Add(float64(tokens))
	c.cost.WithLabelValues(kind).Add(cost)
}

// RecordQuotaReset は日次リセットを記録する。
func (c *Collector) RecordQuotaReset() {
	c.quotaResets.Inc()
}

// RecordCommitRetry はコミットの再試行を記録する。
func (c *Collector) RecordCommitRetry() {
	c.commitRetries.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordGeneration(string, string)             {}
func (NopCollector) RecordProviderLatency(string, time.Duration) {}
func (NopCollector) RecordTokensUsed(string, int, float64)       {}
func (NopCollector) RecordQuotaReset()                           {}
func (NopCollector) RecordCommitRetry()                          {}
func (NopCollector) RecordHTTPStatus(int)                        {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
