package erpcore

import (
	"sync/atomic"
	"time"
)

// Metrics tracks processing counters using lock-free atomic operations.
// All methods are safe for concurrent use; a single instance is shared by
// every worker of the processing engine.
type Metrics struct {
	// Validation counts
	validationsTotal atomic.Uint64
	validationsValid atomic.Uint64

	// Signature engine counts
	cmsVerifiedTotal atomic.Uint64
	cmsVerifyFailed  atomic.Uint64
	cmsSignedTotal   atomic.Uint64

	// Access-token counts
	tokensAccepted atomic.Uint64
	tokensRejected atomic.Uint64

	// Timing (nanoseconds)
	validationTimeTotal atomic.Uint64
	validationTimeMax   atomic.Uint64

	// Cache metrics
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// NewMetrics creates a zeroed Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordValidation records a completed validation run.
func (m *Metrics) RecordValidation(duration time.Duration, valid bool) {
	m.validationsTotal.Add(1)
	if valid {
		m.validationsValid.Add(1)
	}
	ns := uint64(duration.Nanoseconds())
	m.validationTimeTotal.Add(ns)
	for {
		old := m.validationTimeMax.Load()
		if ns <= old || m.validationTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordCMSVerify records the outcome of a CAdES-BES verification.
func (m *Metrics) RecordCMSVerify(ok bool) {
	if ok {
		m.cmsVerifiedTotal.Add(1)
	} else {
		m.cmsVerifyFailed.Add(1)
	}
}

// RecordCMSSign records a produced signature container.
func (m *Metrics) RecordCMSSign() {
	m.cmsSignedTotal.Add(1)
}

// RecordToken records the outcome of an access-token verification.
func (m *Metrics) RecordToken(accepted bool) {
	if accepted {
		m.tokensAccepted.Add(1)
	} else {
		m.tokensRejected.Add(1)
	}
}

// RecordCacheHit records an expression or value-set cache hit.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Add(1) }

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	ValidationsTotal    uint64
	ValidationsValid    uint64
	CMSVerifiedTotal    uint64
	CMSVerifyFailed     uint64
	CMSSignedTotal      uint64
	TokensAccepted      uint64
	TokensRejected      uint64
	ValidationTimeTotal time.Duration
	ValidationTimeMax   time.Duration
	CacheHits           uint64
	CacheMisses         uint64
}

// Snapshot returns a consistent-enough copy for reporting.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ValidationsTotal:    m.validationsTotal.Load(),
		ValidationsValid:    m.validationsValid.Load(),
		CMSVerifiedTotal:    m.cmsVerifiedTotal.Load(),
		CMSVerifyFailed:     m.cmsVerifyFailed.Load(),
		CMSSignedTotal:      m.cmsSignedTotal.Load(),
		TokensAccepted:      m.tokensAccepted.Load(),
		TokensRejected:      m.tokensRejected.Load(),
		ValidationTimeTotal: time.Duration(m.validationTimeTotal.Load()),
		ValidationTimeMax:   time.Duration(m.validationTimeMax.Load()),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
	}
}
