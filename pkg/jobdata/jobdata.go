// Package jobdata holds the persisted per-profile-query, per-broker operation
// state the scheduler works on: scan and opt-out job rows, extracted profiles
// and their append-only history.
package jobdata

import (
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/profile"
)

// EventType enumerates the history event kinds recorded against job data.
type EventType string

const (
	EventScanStarted     EventType = "scanStarted"
	EventNoMatchFound    EventType = "noMatchFound"
	EventMatchesFound    EventType = "matchesFound"
	EventError           EventType = "error"
	EventOptOutStarted   EventType = "optOutStarted"
	EventOptOutRequested EventType = "optOutRequested"
	EventOptOutConfirmed EventType = "optOutConfirmed"
)

// HistoryEvent is an immutable append-only log entry attached to a job's
// data. Events are only ever appended, never mutated.
type HistoryEvent struct {
	ID                 int64
	BrokerID           int64
	ProfileQueryID     int64
	ExtractedProfileID int64 // 0 for scan-level events
	Type               EventType
	Detail             string // error message or match count
	Timestamp          time.Time
}

// ExtractedProfile is a matched record found on a broker site during a
// scan's extract action. It is owned by the opt-out job data it is
// attached to.
type ExtractedProfile struct {
	ID         int64
	Name       string
	Age        string
	Addresses  []string
	Relatives  []string
	ProfileURL string
	Email      string // generated for the opt-out, empty until then
	RemovedAt  *time.Time
}

// ScanJobData is the persisted state of one scan cycle for one
// profile-query/broker pair.
type ScanJobData struct {
	BrokerID         int64
	ProfileQueryID   int64
	PreferredRunDate *time.Time
	LastRunDate      *time.Time
	HistoryEvents    []HistoryEvent
}

// LastEvent returns the most recent history event, or false when none exists.
func (d ScanJobData) LastEvent() (HistoryEvent, bool) {
	return lastEvent(d.HistoryEvents)
}

// OptOutJobData is the persisted state of one opt-out for one extracted
// profile.
type OptOutJobData struct {
	ID               int64
	BrokerID         int64
	ProfileQueryID   int64
	PreferredRunDate *time.Time
	LastRunDate      *time.Time
	Attempts         int
	HistoryEvents    []HistoryEvent
	ExtractedProfile ExtractedProfile
}

// LastEvent returns the most recent history event, or false when none exists.
func (d OptOutJobData) LastEvent() (HistoryEvent, bool) {
	return lastEvent(d.HistoryEvents)
}

func lastEvent(events []HistoryEvent) (HistoryEvent, bool) {
	if len(events) == 0 {
		return HistoryEvent{}, false
	}
	return events[len(events)-1], true
}

// BrokerProfileQueryData joins one profile query, one broker and that pair's
// job data. It is the unit the scheduler ultimately operates on.
type BrokerProfileQueryData struct {
	Broker       broker.Broker
	ProfileQuery profile.Query
	ScanJob      ScanJobData
	OptOutJobs   []OptOutJobData
}

// ExtractedProfiles returns the profiles attached to the pair's opt-out jobs.
func (d BrokerProfileQueryData) ExtractedProfiles() []ExtractedProfile {
	out := make([]ExtractedProfile, 0, len(d.OptOutJobs))
	for _, o := range d.OptOutJobs {
		out = append(out, o.ExtractedProfile)
	}
	return out
}
