// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドシェイク調停やワーカーから利用する。
type MetricsCollector interface {
	RecordHandshakeInitiated(action string)
	RecordHandshakeResolved(action, status string)
	RecordPoll(status string)
	RecordTokenVerifyFailure()
	RecordSessionsReaped(count int64)
	RecordHandshakeLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	handshakeInitiated *prometheus.CounterVec
	handshakeResolved  *prometheus.CounterVec
	polls              *prometheus.CounterVec
	tokenVerifyFail    prometheus.Counter
	sessionsReaped     prometheus.Counter
	handshakeLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		handshakeInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubgate_handshake_initiated_total",
			Help: "開始されたハンドシェイクのアクション別合計数",
		}, []string{"action"}),
		handshakeResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubgate_handshake_resolved_total",
			Help: "終端状態に到達したハンドシェイクのアクション・状態別合計数",
		}, []string{"action", "status"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubgate_poll_total",
			Help: "ポーリングリクエストの観測状態別合計数",
		}, []string{"status"}),
		tokenVerifyFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubgate_token_verify_fail_total",
			Help: "トークン検証失敗の合計数",
		}),
		sessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubgate_sessions_reaped_total",
			Help: "スイープで削除された期限切れセッションの合計数",
		}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hubgate_handshake_latency_seconds",
			Help:    "開始から終端状態までのハンドシェイクのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.handshakeInitiated,
		c.handshakeResolved,
		c.polls,
		c.tokenVerifyFail,
		c.sessionsReaped,
		c.handshakeLatency,
	)

	return c
}

// RecordHandshakeInitiated はハンドシェイクの開始を記録する。
func (c *Collector) RecordHandshakeInitiated(action string) {
	c.handshakeInitiated.WithLabelValues(action).Inc()
}

// RecordHandshakeResolved はハンドシェイクの終端到達を記録する。
func (c *Collector) RecordHandshakeResolved(action, status string) {
	c.handshakeResolved.WithLabelValues(action, status).Inc()
}

// RecordPoll はポーリングで観測された状態を記録する。
func (c *Collector) RecordPoll(status string) {
	c.polls.WithLabelValues(status).Inc()
}

// RecordTokenVerifyFailure はトークン検証失敗を記録する。
func (c *Collector) RecordTokenVerifyFailure() {
	c.tokenVerifyFail.Inc()
}

// RecordSessionsReaped はスイープで削除されたセッション数を記録する。
func (c *Collector) RecordSessionsReaped(count int64) {
	c.sessionsReaped.Add(float64(count))
}

// RecordHandshakeLatency はハンドシェイクのレイテンシを記録する。
func (c *Collector) RecordHandshakeLatency(duration time.Duration) {
	c.handshakeLatency.Observe(duration.Seconds())
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
