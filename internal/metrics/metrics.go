// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// サービス層・ワーカーからの記録インターフェースをまとめて実装する。
type Collector struct {
	available      prometheus.Gauge
	leased         prometheus.Gauge
	provisioned    prometheus.Counter
	assigns        prometheus.Counter
	recycles       prometheus.Counter
	replaceFailure *prometheus.CounterVec
	storeLatency   prometheus.Histogram
	nearExpiry     *prometheus.GaugeVec
	overdue        *prometheus.GaugeVec
	journalOpen    prometheus.Gauge
	recovered      prometheus.Counter
	abandoned      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credman_available",
			Help: "貸出可能なクレデンシャル数（最新スキャン時点）",
		}),
		leased: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credman_leased",
			Help: "貸出中のクレデンシャル数（最新スキャン時点）",
		}),
		provisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credman_provisioned_total",
			Help: "一括登録で作成されたクレデンシャルの合計数",
		}),
		assigns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credman_assign_total",
			Help: "割当成功の合計数",
		}),
		recycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credman_recycle_total",
			Help: "回収成功の合計数",
		}),
		replaceFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credman_replace_failure_total",
			Help: "置換（削除→再作成）の途中失敗の合計数",
		}, []string{"operation"}),
		storeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "credman_store_latency_seconds",
			Help:    "ストアAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		nearExpiry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credman_near_expiry",
			Help: "期限間近のクレデンシャル数（クロック別、最新スキャン時点）",
		}, []string{"clock"}),
		overdue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credman_overdue",
			Help: "期限切れのクレデンシャル数（クロック別、最新スキャン時点）",
		}, []string{"clock"}),
		journalOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credman_journal_open",
			Help: "open状態の置換ジャーナルエントリ数（最新スキャン時点）",
		}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credman_journal_recovered_total",
			Help: "復旧ワーカーが再作成に成功したエントリの合計数",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credman_journal_abandoned_total",
			Help: "リトライ上限に達し手動対応待ちになったエントリの合計数",
		}),
	}

	reg.MustRegister(
		c.available,
		c.leased,
		c.provisioned,
		c.assigns,
		c.recycles,
		c.replaceFailure,
		c.storeLatency,
		c.nearExpiry,
		c.overdue,
		c.journalOpen,
		c.recovered,
		c.abandoned,
	)

	return c
}

// RecordPoolCounts はプールの状態別件数を記録する。
func (c *Collector) RecordPoolCounts(available, leased int) {
	c.available.Set(float64(available))
	c.leased.Set(float64(leased))
}

// RecordProvisioned は一括登録の作成件数を記録する。
func (c *Collector) RecordProvisioned(count int) {
	c.provisioned.Add(float64(count))
}

// RecordAssign は割当成功を記録する。
func (c *Collector) RecordAssign() {
	c.assigns.Inc()
}

// RecordRecycle は回収成功を記録する。
func (c *Collector) RecordRecycle() {
	c.recycles.Inc()
}

// RecordReplaceFailure は置換の途中失敗を記録する。
func (c *Collector) RecordReplaceFailure(operation string) {
	c.replaceFailure.WithLabelValues(operation).Inc()
}

// RecordStoreLatency はストアAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordStoreLatency(operation string, duration time.Duration) {
	c.storeLatency.Observe(duration.Seconds())
}

// RecordExpiryCounts はクロック別の期限間近・期限切れ件数を記録する。
func (c *Collector) RecordExpiryCounts(clock string, nearExpiry, overdue int) {
	c.nearExpiry.WithLabelValues(clock).Set(float64(nearExpiry))
	c.overdue.WithLabelValues(clock).Set(float64(overdue))
}

// RecordJournalOpenCount はopen状態のジャーナルエントリ数を記録する。
func (c *Collector) RecordJournalOpenCount(count int) {
	c.journalOpen.Set(float64(count))
}

// RecordJournalRecovered は復旧ワーカーによる再作成成功を記録する。
func (c *Collector) RecordJournalRecovered() {
	c.recovered.Inc()
}

// RecordJournalAbandoned はエントリのabandoned遷移を記録する。
func (c *Collector) RecordJournalAbandoned() {
	c.abandoned.Inc()
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
