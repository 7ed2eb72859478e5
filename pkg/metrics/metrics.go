// Package metrics はポータルとゲートウェイクライアントのPrometheusメトリクスを提供する。
//
// Recorderはnilでも安全に呼び出せるため、メトリクスを必要としない
// テストやツールではnilを渡せばよい。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// メトリクスのラベル値。
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultTransport = "transport_error"
	ResultAuth      = "auth_error"

	OutcomeJSON     = "json"
	OutcomeBinary   = "binary"
	OutcomeUpstream = "upstream_error"
)

const namespace = "enrichment_portal"

// Recorder はメトリクスのコレクター群を保持する。
type Recorder struct {
	// TokenAcquisitionsTotal はトークン取得の試行回数（result別）。
	TokenAcquisitionsTotal *prometheus.CounterVec
	// TokenInvalidationsTotal はトークンの明示的な破棄回数。
	TokenInvalidationsTotal prometheus.Counter
	// UpstreamAttemptsTotal は上流APIへの試行回数（method, result別）。
	UpstreamAttemptsTotal *prometheus.CounterVec
	// UpstreamOutcomesTotal はレスポンスの実体化結果（kind別）。
	UpstreamOutcomesTotal *prometheus.CounterVec
	// HTTPRequestsTotal はポータルが受け付けたHTTPリクエスト数。
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration はポータルのHTTPリクエスト処理時間。
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRecorder はコレクターを生成してregに登録する。
// regがnilの場合は登録しない。
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		TokenAcquisitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "acquisitions_total",
				Help:      "Total number of client-credentials token acquisitions",
			},
			[]string{"result"},
		),
		TokenInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "invalidations_total",
				Help:      "Total number of forced token invalidations before a retry",
			},
		),
		UpstreamAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "attempts_total",
				Help:      "Total number of upstream request attempts",
			},
			[]string{"method", "result"},
		),
		UpstreamOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "outcomes_total",
				Help:      "Total number of materialized upstream responses by kind",
			},
			[]string{"kind"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served by the portal",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests served by the portal",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.TokenAcquisitionsTotal,
			r.TokenInvalidationsTotal,
			r.UpstreamAttemptsTotal,
			r.UpstreamOutcomesTotal,
			r.HTTPRequestsTotal,
			r.HTTPRequestDuration,
		)
	}
	return r
}

// TokenAcquired はトークン取得の結果を記録する。
func (r *Recorder) TokenAcquired(success bool) {
	if r == nil {
		return
	}
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	r.TokenAcquisitionsTotal.WithLabelValues(result).Inc()
}

// TokenInvalidated はトークンの破棄を記録する。
func (r *Recorder) TokenInvalidated() {
	if r == nil {
		return
	}
	r.TokenInvalidationsTotal.Inc()
}

// UpstreamAttempt は上流APIへの1回の試行を記録する。
func (r *Recorder) UpstreamAttempt(method, result string) {
	if r == nil {
		return
	}
	r.UpstreamAttemptsTotal.WithLabelValues(method, result).Inc()
}

// UpstreamOutcome はレスポンスの実体化結果を記録する。
func (r *Recorder) UpstreamOutcome(kind string) {
	if r == nil {
		return
	}
	r.UpstreamOutcomesTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest はポータルが処理したHTTPリクエストを記録する。
func (r *Recorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
