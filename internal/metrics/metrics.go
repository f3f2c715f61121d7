// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、バックエンドクライアント、サービス層から利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordHTTPLatency(duration time.Duration)
	RecordAuthEvent(event string)
	RecordStorageOperation(op, outcome string)
	RecordContactSubmission(outcome string)
	RecordLoginAttempt(outcome string)
	RecordCleanupDeleted(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus         *prometheus.CounterVec
	httpLatency        prometheus.Histogram
	authEvents         *prometheus.CounterVec
	storageOperations  *prometheus.CounterVec
	contactSubmissions *prometheus.CounterVec
	loginAttempts      *prometheus.CounterVec
	cleanupDeleted     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdbsite_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdbsite_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdbsite_auth_events_total",
			Help: "認証状態変化イベントの種類別の合計数",
		}, []string{"event"}),
		storageOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdbsite_storage_operations_total",
			Help: "画像ストレージ操作の操作・結果別の合計数",
		}, []string{"op", "outcome"}),
		contactSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdbsite_contact_submissions_total",
			Help: "お問い合わせ送信の結果別の合計数",
		}, []string{"outcome"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdbsite_login_attempts_total",
			Help: "管理者ログイン試行の結果別の合計数",
		}, []string{"outcome"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdbsite_cleanup_deleted_total",
			Help: "クリーンアップで削除したレコードの種類別の合計数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.httpLatency,
		c.authEvents,
		c.storageOperations,
		c.contactSubmissions,
		c.loginAttempts,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// RecordAuthEvent は認証状態変化イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordStorageOperation は画像ストレージ操作の結果を記録する。
func (c *Collector) RecordStorageOperation(op, outcome string) {
	c.storageOperations.WithLabelValues(op, outcome).Inc()
}

// RecordContactSubmission はお問い合わせ送信の結果を記録する。
func (c *Collector) RecordContactSubmission(outcome string) {
	c.contactSubmissions.WithLabelValues(outcome).Inc()
}

// RecordLoginAttempt は管理者ログイン試行の結果を記録する。
func (c *Collector) RecordLoginAttempt(outcome string) {
	c.loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanupDeleted(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
