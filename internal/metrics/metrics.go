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
// フェデレーション層、認証サービス、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	ObserveSiteCall(site, outcome string, duration time.Duration)
	IncLocalStoreFailure(resource string)
	ObserveGather(resource, scope string, records int)
	ObserveLogin(role string, success bool)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	siteCalls     *prometheus.CounterVec
	siteLatency   *prometheus.HistogramVec
	localFailures *prometheus.CounterVec
	gathers       *prometheus.CounterVec
	gatherRecords *prometheus.HistogramVec
	loginAttempts *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		siteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcegateway_site_calls_total",
			Help: "連携拠点へのリレー呼び出し数（結果別）",
		}, []string{"site", "outcome"}),
		siteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hcegateway_site_call_duration_seconds",
			Help:    "連携拠点へのリレー呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"site"}),
		localFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcegateway_local_store_failures_total",
			Help: "ローカルストア呼び出し失敗数（リソース種別別）",
		}, []string{"resource"}),
		gathers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcegateway_gathers_total",
			Help: "フェデレーション収集の実行数",
		}, []string{"resource", "scope"}),
		gatherRecords: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hcegateway_gather_records",
			Help:    "1回の収集でマージされたレコード数",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"resource"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcegateway_login_attempts_total",
			Help: "ログイン試行数（結果・ロール別）",
		}, []string{"result", "role"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hcegateway_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.siteCalls,
		c.siteLatency,
		c.localFailures,
		c.gathers,
		c.gatherRecords,
		c.loginAttempts,
		c.httpStatus,
	)

	return c
}

// ObserveSiteCall は拠点呼び出しの結果とレイテンシを記録する。
func (c *Collector) ObserveSiteCall(site, outcome string, duration time.Duration) {
	c.siteCalls.WithLabelValues(site, outcome).Inc()
	c.siteLatency.WithLabelValues(site).Observe(duration.Seconds())
}

// IncLocalStoreFailure はローカルストア呼び出し失敗を記録する。
func (c *Collector) IncLocalStoreFailure(resource string) {
	c.localFailures.WithLabelValues(resource).Inc()
}

// ObserveGather は収集の実行とマージ件数を記録する。
func (c *Collector) ObserveGather(resource, scope string, records int) {
	c.gathers.WithLabelValues(resource, scope).Inc()
	c.gatherRecords.WithLabelValues(resource).Observe(float64(records))
}

// ObserveLogin はログイン試行を記録する。失敗時のロールは空文字列。
func (c *Collector) ObserveLogin(role string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.loginAttempts.WithLabelValues(result, role).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
