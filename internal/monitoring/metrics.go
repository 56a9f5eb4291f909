// Package monitoring tracks service health counters exposed on the
// /metrics endpoint.
package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// Metrics tracks classifier service health and performance metrics.
type Metrics struct {
	// Request metrics
	Predictions       int64 `json:"predictions"`
	Trainings         int64 `json:"trainings"`
	ExamplesStored    int64 `json:"examples_stored"`
	ExamplesDiscarded int64 `json:"examples_discarded"`
	FailedRequests    int64 `json:"failed_requests"`

	// Cache metrics
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Mirror sync metrics
	SyncPulled  int64 `json:"sync_pulled"`
	SyncPushed  int64 `json:"sync_pushed"`
	SyncSkipped int64 `json:"sync_skipped"`
	SyncFailed  int64 `json:"sync_failed"`

	// System metrics
	UptimeSeconds    int64     `json:"uptime_seconds"`
	MemoryUsageBytes int64     `json:"memory_usage_bytes"`
	GoroutineCount   int       `json:"goroutine_count"`
	Timestamp        time.Time `json:"timestamp"`
	Status           string    `json:"status"` // "healthy", "degraded"

	mutex     sync.RWMutex
	startTime time.Time
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	now := time.Now()
	return &Metrics{
		Timestamp: now,
		startTime: now,
		Status:    "healthy",
	}
}

// RecordPrediction increments the prediction counter.
func (m *Metrics) RecordPrediction() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Predictions++
}

// RecordTraining records the outcome of one training call.
func (m *Metrics) RecordTraining(stored, discarded int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Trainings++
	m.ExamplesStored += int64(stored)
	m.ExamplesDiscarded += int64(discarded)
}

// RecordFailure increments the failed request counter.
func (m *Metrics) RecordFailure() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.FailedRequests++
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.CacheHits++
}

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.CacheMisses++
}

// RecordSync accumulates mirror sync outcomes.
func (m *Metrics) RecordSync(pulled, pushed, skipped, failed int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.SyncPulled += int64(pulled)
	m.SyncPushed += int64(pushed)
	m.SyncSkipped += int64(skipped)
	m.SyncFailed += int64(failed)
}

// Snapshot returns a copy of the metrics with system fields refreshed.
func (m *Metrics) Snapshot() Metrics {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Metrics{
		Predictions:       m.Predictions,
		Trainings:         m.Trainings,
		ExamplesStored:    m.ExamplesStored,
		ExamplesDiscarded: m.ExamplesDiscarded,
		FailedRequests:    m.FailedRequests,
		CacheHits:         m.CacheHits,
		CacheMisses:       m.CacheMisses,
		SyncPulled:        m.SyncPulled,
		SyncPushed:        m.SyncPushed,
		SyncSkipped:       m.SyncSkipped,
		SyncFailed:        m.SyncFailed,
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
		MemoryUsageBytes:  int64(mem.Alloc),
		GoroutineCount:    runtime.NumGoroutine(),
		Timestamp:         time.Now(),
		Status:            m.Status,
	}
}
