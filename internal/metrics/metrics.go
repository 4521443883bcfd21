// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/helpdesk/internal/model"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	claims          *prometheus.CounterVec
	appended        *prometheus.CounterVec
	markedRead      prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	pendingDepth    prometheus.Gauge
	pendingOldest   prometheus.Gauge
	idempotencyKeys prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_claims_total",
			Help: "担当取得の試行数（結果別）",
		}, []string{"outcome"}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_messages_appended_total",
			Help: "送信されたメッセージの合計数",
		}, []string{"sender", "implicit_claim"}),
		markedRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_messages_marked_read_total",
			Help: "既読化された利用者メッセージの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpdesk_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		pendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helpdesk_pending_conversations",
			Help: "担当者未割り当ての会話数",
		}),
		pendingOldest: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helpdesk_pending_oldest_age_seconds",
			Help: "最も古い未割り当て会話の待機時間（秒）",
		}),
		idempotencyKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_idempotency_keys_cleared_total",
			Help: "期限切れで消去された冪等キーの合計数",
		}),
	}

	reg.MustRegister(
		c.claims,
		c.appended,
		c.markedRead,
		c.httpStatus,
		c.requestLatency,
		c.pendingDepth,
		c.pendingOldest,
		c.idempotencyKeys,
	)

	return c
}

// RecordClaim は担当取得の結果を記録する。
func (c *Collector) RecordClaim(outcome string) {
	c.claims.WithLabelValues(outcome).Inc()
}

// RecordMessageAppended はメッセージ送信を記録する。
func (c *Collector) RecordMessageAppended(sender model.SenderType, implicitClaim bool) {
	c.appended.WithLabelValues(string(sender), strconv.FormatBool(implicitClaim)).Inc()
}

// RecordMessagesMarkedRead は既読化されたメッセージ数を記録する。
func (c *Collector) RecordMessagesMarkedRead(count int64) {
	c.markedRead.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// SetPendingQueue は待ち行列の件数と最古の待機時間を設定する。
func (c *Collector) SetPendingQueue(depth int, oldestAge time.Duration) {
	c.pendingDepth.Set(float64(depth))
	c.pendingOldest.Set(oldestAge.Seconds())
}

// RecordIdempotencyKeysCleared は消去された冪等キー数を記録する。
func (c *Collector) RecordIdempotencyKeysCleared(count int64) {
	c.idempotencyKeys.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスのように独自のルーターを持たない場合に使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
