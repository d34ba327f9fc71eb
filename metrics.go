package usercore

import "sync/atomic"

// MetricID identifies a specific counter in the in-process metrics system.
type MetricID uint16

const (
	// MetricSignupSuccess counts created accounts.
	MetricSignupSuccess MetricID = iota
	// MetricSignupDuplicate counts signups rejected as duplicate email.
	MetricSignupDuplicate
	// MetricVerificationIssued counts issued signup verification codes,
	// including resends.
	MetricVerificationIssued
	// MetricVerificationSuccess counts consumed signup codes.
	MetricVerificationSuccess
	// MetricVerificationFailure counts rejected signup codes.
	MetricVerificationFailure
	// MetricPasswordResetRequest counts forgot-password requests, including
	// the enumeration-safe ones for unknown emails.
	MetricPasswordResetRequest
	// MetricPasswordResetSuccess counts completed password resets.
	MetricPasswordResetSuccess
	// MetricPasswordResetFailure counts rejected password resets.
	MetricPasswordResetFailure
	// MetricPasswordChangeSuccess counts completed password changes.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeFailure counts password changes with a wrong old
	// password or a policy violation.
	MetricPasswordChangeFailure
	// MetricEmailChangeRequest counts email-change requests.
	MetricEmailChangeRequest
	// MetricEmailChangeSuccess counts confirmed email changes.
	MetricEmailChangeSuccess
	// MetricEmailChangeFailure counts rejected email changes.
	MetricEmailChangeFailure
	// MetricCodeSuperseded counts codes invalidated by a newer code of the
	// same purpose for the same subject.
	MetricCodeSuperseded
	// MetricCodeAttemptsExceeded counts codes destroyed after too many
	// mismatched consume attempts.
	MetricCodeAttemptsExceeded
	// MetricTokenCreated counts issued bearer tokens.
	MetricTokenCreated
	// MetricTokenRevoked counts revoked bearer tokens, including bulk
	// revocations on password reset.
	MetricTokenRevoked
	// MetricTokenAuthSuccess counts successful bearer authentications.
	MetricTokenAuthSuccess
	// MetricTokenAuthFailure counts failed bearer authentications.
	MetricTokenAuthFailure
	// MetricUserUpdated counts applied user updates.
	MetricUserUpdated
	// MetricDeliveryFailure counts delivery collaborator failures. These
	// never fail the primary operation.
	MetricDeliveryFailure

	metricIDCount
)

// Metrics holds lock-free counters, one per MetricID. When disabled every
// operation is a no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a Metrics instance configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Add increments a counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(n)
}

// Snapshot returns a deep copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, metricIDCount),
	}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
