// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 生成链路指标收集器。
type Collector struct {
	// 生成指标
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	clipsTotal       *prometheus.CounterVec
	fallbackDepth    prometheus.Histogram
	synthRenders     prometheus.Counter

	// 配额指标
	quotaWaits    *prometheus.HistogramVec
	quotaHits     *prometheus.CounterVec
	tiersSkipped  *prometheus.CounterVec
}

// NewCollector 创建指标收集器并注册到 reg（nil 时使用默认注册表）。
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.attemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Total number of generation attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	c.attemptDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_attempt_duration_seconds",
			Help:      "Generation attempt duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tier"},
	)

	c.clipsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_generated_total",
			Help:      "Total number of clips produced by originating tier",
		},
		[]string{"tier"},
	)

	c.fallbackDepth = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_depth",
			Help:      "Number of tiers tried before a clip was produced",
			Buckets:   []float64{0, 1, 2, 3, 4},
		},
	)

	c.synthRenders = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesizer_renders_total",
			Help:      "Total number of placeholder clips rendered after tier exhaustion",
		},
	)

	c.quotaWaits = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quota_wait_seconds",
			Help:      "Time spent waiting on quota spacing and backoff",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"tier"},
	)

	c.quotaHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_hits_total",
			Help:      "Total number of provider quota rejections",
		},
		[]string{"tier"},
	)

	c.tiersSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiers_skipped_total",
			Help:      "Tiers skipped because their daily quota was exhausted",
		},
		[]string{"tier"},
	)

	return c
}

// RecordAttempt 记录一次尝试的结局（success / quota / permission /
// invalid_argument / transient / timeout）。
func (c *Collector) RecordAttempt(tier, outcome string, d time.Duration) {
	c.attemptsTotal.WithLabelValues(tier, outcome).Inc()
	c.attemptDuration.WithLabelValues(tier).Observe(d.Seconds())
}

// RecordClip 记录产出片段的来源层级与回退深度。
func (c *Collector) RecordClip(tier string, depth int) {
	c.clipsTotal.WithLabelValues(tier).Inc()
	c.fallbackDepth.Observe(float64(depth))
}

// RecordSynthRender 记录一次兜底合成。
func (c *Collector) RecordSynthRender() {
	c.synthRenders.Inc()
}

// RecordQuotaWait 记录配额等待时长。
func (c *Collector) RecordQuotaWait(tier string, d time.Duration) {
	c.quotaWaits.WithLabelValues(tier).Observe(d.Seconds())
}

// RecordQuotaHit 记录一次配额拒绝。
func (c *Collector) RecordQuotaHit(tier string) {
	c.quotaHits.WithLabelValues(tier).Inc()
}

// RecordTierSkipped 记录一次因当日耗尽而被跳过的层级。
func (c *Collector) RecordTierSkipped(tier string) {
	c.tiersSkipped.WithLabelValues(tier).Inc()
}
