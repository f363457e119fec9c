package fhirsnapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gofhir/snapshot/pkg/issue"
)

// Metrics tracks generation performance metrics using lock-free atomic operations.
// All methods are safe for concurrent use. Metrics satisfies the recorder
// interface of the snapshot generator.
type Metrics struct {
	// Generation counts
	generationsTotal  atomic.Uint64
	generationsFailed atomic.Uint64

	// Timing (stored as nanoseconds)
	generationTimeTotal atomic.Uint64
	generationTimeMin   atomic.Uint64
	generationTimeMax   atomic.Uint64

	// Snapshot cache
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	// Batch runs
	batchesTotal   atomic.Uint64
	batchProfiles  atomic.Uint64
	batchFailures  atomic.Uint64
	batchTimeTotal atomic.Uint64

	// Issue counts by severity
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Failures by error kind
	failuresByKind sync.Map // map[string]*atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	// Initialize min to max uint64 so first value becomes the minimum
	m.generationTimeMin.Store(^uint64(0))
	return m
}

// --- Recording Methods ---

// RecordGeneration records a completed Generate call.
func (m *Metrics) RecordGeneration(duration time.Duration, err error) {
	m.generationsTotal.Add(1)
	if err != nil {
		m.generationsFailed.Add(1)
		m.failureCounter(failureKind(err)).Add(1)
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // Safe: nanoseconds are always positive for valid durations
	m.generationTimeTotal.Add(ns)

	for {
		old := m.generationTimeMin.Load()
		if ns >= old {
			break
		}
		if m.generationTimeMin.CompareAndSwap(old, ns) {
			break
		}
	}

	for {
		old := m.generationTimeMax.Load()
		if ns <= old {
			break
		}
		if m.generationTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordCacheHit records a base-chain step served from the snapshot cache.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a base-chain step that had to be built.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordBatch records a completed batch run.
func (m *Metrics) RecordBatch(profiles, failed int, duration time.Duration) {
	m.batchesTotal.Add(1)
	m.batchProfiles.Add(uint64(profiles))                //nolint:gosec // Safe: counts are never negative
	m.batchFailures.Add(uint64(failed))                  //nolint:gosec // Safe: counts are never negative
	m.batchTimeTotal.Add(uint64(duration.Nanoseconds())) //nolint:gosec // Safe: nanoseconds are always positive
}

// RecordIssue records a diagnostic based on severity.
func (m *Metrics) RecordIssue(severity issue.Severity) {
	switch severity {
	case issue.SeverityError, issue.SeverityFatal:
		m.errorsTotal.Add(1)
	case issue.SeverityWarning:
		m.warningsTotal.Add(1)
	case issue.SeverityInformation:
		m.infosTotal.Add(1)
	}
}

// RecordIssues records every diagnostic of r.
func (m *Metrics) RecordIssues(r *issue.Result) {
	if r == nil {
		return
	}
	for _, iss := range r.Issues {
		m.RecordIssue(iss.Severity)
	}
}

func failureKind(err error) string {
	if k := issue.KindOf(err); k != "" {
		return string(k)
	}
	return "Other"
}

func (m *Metrics) failureCounter(kind string) *atomic.Uint64 {
	if v, ok := m.failuresByKind.Load(kind); ok {
		return v.(*atomic.Uint64)
	}
	actual, _ := m.failuresByKind.LoadOrStore(kind, &atomic.Uint64{})
	return actual.(*atomic.Uint64)
}

// --- Query Methods ---

// GenerationsTotal returns the number of Generate calls.
func (m *Metrics) GenerationsTotal() uint64 {
	return m.generationsTotal.Load()
}

// GenerationsFailed returns the number of Generate calls that failed.
func (m *Metrics) GenerationsFailed() uint64 {
	return m.generationsFailed.Load()
}

// FailuresByKind returns failure counts keyed by error kind. Failures that
// are not generation errors are counted under "Other".
func (m *Metrics) FailuresByKind() map[string]uint64 {
	out := make(map[string]uint64)
	m.failuresByKind.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return out
}

// AverageGenerationTime returns the average Generate duration.
func (m *Metrics) AverageGenerationTime() time.Duration {
	total := m.generationsTotal.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.generationTimeTotal.Load() / total) //nolint:gosec // Safe: nanoseconds within int64 range
}

// MinGenerationTime returns the minimum Generate duration.
func (m *Metrics) MinGenerationTime() time.Duration {
	minVal := m.generationTimeMin.Load()
	if minVal == ^uint64(0) {
		return 0
	}
	return time.Duration(minVal) //nolint:gosec // Safe: nanoseconds within int64 range
}

// MaxGenerationTime returns the maximum Generate duration.
func (m *Metrics) MaxGenerationTime() time.Duration {
	return time.Duration(m.generationTimeMax.Load()) //nolint:gosec // Safe: nanoseconds within int64 range
}

// CacheHits returns the total cache hits.
func (m *Metrics) CacheHits() uint64 {
	return m.cacheHits.Load()
}

// CacheMisses returns the total cache misses.
func (m *Metrics) CacheMisses() uint64 {
	return m.cacheMisses.Load()
}

// CacheHitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ErrorsTotal returns the total error diagnostics.
func (m *Metrics) ErrorsTotal() uint64 {
	return m.errorsTotal.Load()
}

// WarningsTotal returns the total warning diagnostics.
func (m *Metrics) WarningsTotal() uint64 {
	return m.warningsTotal.Load()
}

// InfosTotal returns the total informational diagnostics.
func (m *Metrics) InfosTotal() uint64 {
	return m.infosTotal.Load()
}

// --- Export Methods ---

// Stats represents a point-in-time view of all metrics.
type Stats struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	GenerationsTotal  uint64            `json:"generations_total" yaml:"generations_total"`
	GenerationsFailed uint64            `json:"generations_failed" yaml:"generations_failed"`
	FailuresByKind    map[string]uint64 `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`

	// Timing metrics (in nanoseconds for precision)
	AvgGenerationTimeNs uint64 `json:"avg_generation_time_ns" yaml:"avg_generation_time_ns"`
	MinGenerationTimeNs uint64 `json:"min_generation_time_ns" yaml:"min_generation_time_ns"`
	MaxGenerationTimeNs uint64 `json:"max_generation_time_ns" yaml:"max_generation_time_ns"`

	CacheHits    uint64  `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses" yaml:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate" yaml:"cache_hit_rate"`

	BatchesTotal  uint64 `json:"batches_total" yaml:"batches_total"`
	BatchProfiles uint64 `json:"batch_profiles" yaml:"batch_profiles"`
	BatchFailures uint64 `json:"batch_failures" yaml:"batch_failures"`

	ErrorsTotal   uint64 `json:"errors_total" yaml:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total" yaml:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total" yaml:"infos_total"`
}

// Stats returns a point-in-time view of all metrics.
func (m *Metrics) Stats() Stats {
	total := m.generationsTotal.Load()
	var avg uint64
	if total > 0 {
		avg = m.generationTimeTotal.Load() / total
	}
	minTime := m.generationTimeMin.Load()
	if minTime == ^uint64(0) {
		minTime = 0
	}

	failures := m.FailuresByKind()
	if len(failures) == 0 {
		failures = nil
	}

	return Stats{
		Timestamp:           time.Now(),
		GenerationsTotal:    total,
		GenerationsFailed:   m.generationsFailed.Load(),
		FailuresByKind:      failures,
		AvgGenerationTimeNs: avg,
		MinGenerationTimeNs: minTime,
		MaxGenerationTimeNs: m.generationTimeMax.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		CacheHitRate:        m.CacheHitRate(),
		BatchesTotal:        m.batchesTotal.Load(),
		BatchProfiles:       m.batchProfiles.Load(),
		BatchFailures:       m.batchFailures.Load(),
		ErrorsTotal:         m.errorsTotal.Load(),
		WarningsTotal:       m.warningsTotal.Load(),
		InfosTotal:          m.infosTotal.Load(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.generationsTotal.Store(0)
	m.generationsFailed.Store(0)
	m.generationTimeTotal.Store(0)
	m.generationTimeMin.Store(^uint64(0))
	m.generationTimeMax.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.batchesTotal.Store(0)
	m.batchProfiles.Store(0)
	m.batchFailures.Store(0)
	m.batchTimeTotal.Store(0)
	m.errorsTotal.Store(0)
	m.warningsTotal.Store(0)
	m.infosTotal.Store(0)

	m.failuresByKind.Range(func(key, _ any) bool {
		m.failuresByKind.Delete(key)
		return true
	})
}

// --- Prometheus ---

const metricsNamespace = "fhir_snapshot"

var (
	generationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "generations_total"),
		"Total snapshot generations.", nil, nil)
	failuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "generation_failures_total"),
		"Failed snapshot generations by error kind.", []string{"kind"}, nil)
	durationDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "generation_duration_seconds"),
		"Snapshot generation latency in seconds.", nil, nil)
	cacheDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "cache", "requests_total"),
		"Snapshot cache lookups along base chains by result.", []string{"result"}, nil)
	batchProfilesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "batch", "profiles_total"),
		"Profiles processed by batch runs by status.", []string{"status"}, nil)
	batchDurationDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "batch", "duration_seconds"),
		"Batch run latency in seconds.", nil, nil)
	issuesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "issues_total"),
		"Diagnostics reported while loading and projecting by severity.", []string{"severity"}, nil)
)

// Collector returns a prometheus.Collector exporting m. Register it with a
// prometheus.Registry; values are read at scrape time.
func (m *Metrics) Collector() prometheus.Collector {
	return &collector{m: m}
}

type collector struct {
	m *Metrics
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- generationsDesc
	ch <- failuresDesc
	ch <- durationDesc
	ch <- cacheDesc
	ch <- batchProfilesDesc
	ch <- batchDurationDesc
	ch <- issuesDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.m
	total := m.generationsTotal.Load()

	ch <- prometheus.MustNewConstMetric(generationsDesc, prometheus.CounterValue, float64(total))
	for kind, n := range m.FailuresByKind() {
		ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.CounterValue, float64(n), kind)
	}
	ch <- prometheus.MustNewConstSummary(durationDesc, total,
		time.Duration(m.generationTimeTotal.Load()).Seconds(), nil) //nolint:gosec // Safe: nanoseconds within int64 range

	ch <- prometheus.MustNewConstMetric(cacheDesc, prometheus.CounterValue, float64(m.cacheHits.Load()), "hit")
	ch <- prometheus.MustNewConstMetric(cacheDesc, prometheus.CounterValue, float64(m.cacheMisses.Load()), "miss")

	profiles, failed := m.batchProfiles.Load(), m.batchFailures.Load()
	ch <- prometheus.MustNewConstMetric(batchProfilesDesc, prometheus.CounterValue, float64(profiles-failed), "ok")
	ch <- prometheus.MustNewConstMetric(batchProfilesDesc, prometheus.CounterValue, float64(failed), "failed")
	ch <- prometheus.MustNewConstSummary(batchDurationDesc, m.batchesTotal.Load(),
		time.Duration(m.batchTimeTotal.Load()).Seconds(), nil) //nolint:gosec // Safe: nanoseconds within int64 range

	ch <- prometheus.MustNewConstMetric(issuesDesc, prometheus.CounterValue, float64(m.errorsTotal.Load()), "error")
	ch <- prometheus.MustNewConstMetric(issuesDesc, prometheus.CounterValue, float64(m.warningsTotal.Load()), "warning")
	ch <- prometheus.MustNewConstMetric(issuesDesc, prometheus.CounterValue, float64(m.infosTotal.Load()), "information")
}
