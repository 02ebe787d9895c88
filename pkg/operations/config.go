// Package operations groups a batch's work into one operation per broker
// and runs each operation's eligible jobs serially, spaced out so no broker
// sees request bursts. Cross-operation concurrency is capped per job kind.
package operations

import "time"

// Kind selects which job flavors a batch runs.
type Kind string

const (
	KindScan   Kind = "scan"
	KindOptOut Kind = "optOut"
	KindAll    Kind = "all"
)

// ExecutionConfig bounds how aggressively a batch hits brokers.
type ExecutionConfig struct {
	ConcurrentScanJobs   int
	ConcurrentOptOutJobs int
	// MinBrokerSpacing is the pause between two jobs against the same broker.
	MinBrokerSpacing time.Duration
}

// DefaultExecutionConfig mirrors the production limits: scans parallelize
// wider than opt-outs because opt-out flows are heavier per request.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		ConcurrentScanJobs:   6,
		ConcurrentOptOutJobs: 2,
		MinBrokerSpacing:     2 * time.Second,
	}
}

// ConcurrentJobsFor returns the operation concurrency cap for a batch kind.
// Mixed batches run at the opt-out cap since they include opt-out work.
func (c ExecutionConfig) ConcurrentJobsFor(kind Kind) int64 {
	if kind == KindScan {
		return int64(c.ConcurrentScanJobs)
	}
	return int64(c.ConcurrentOptOutJobs)
}
