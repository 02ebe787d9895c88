package jobs

import (
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
)

// NextScanDate returns the scan job's next preferred run date after the
// given event, or false when the event does not reschedule the scan.
//
// Errors reschedule on the broker's retry interval. A completed opt-out
// request schedules the confirmation scan. Every terminal scan result falls
// back to the maintenance cadence.
func NextScanDate(event jobdata.EventType, now time.Time, cfg broker.ScheduleConfig) (*time.Time, bool) {
	switch event {
	case jobdata.EventError:
		t := now.Add(cfg.RetryErrorInterval())
		return &t, true
	case jobdata.EventOptOutRequested:
		t := now.Add(cfg.ConfirmOptOutScanInterval())
		return &t, true
	case jobdata.EventMatchesFound, jobdata.EventNoMatchFound, jobdata.EventOptOutConfirmed:
		t := now.Add(cfg.MaintenanceScanInterval())
		return &t, true
	default:
		return nil, false
	}
}

// NextOptOutDate returns the opt-out job's next preferred run date after
// the given event, or false when the event does not reschedule it. A nil
// date with ok=true clears the schedule: the opt-out has nothing left to do
// until a scan says otherwise.
func NextOptOutDate(event jobdata.EventType, now time.Time, cfg broker.ScheduleConfig) (*time.Time, bool) {
	switch event {
	case jobdata.EventMatchesFound:
		// A fresh match is opted out as soon as a slot frees up.
		t := now
		return &t, true
	case jobdata.EventError:
		t := now.Add(cfg.RetryErrorInterval())
		return &t, true
	case jobdata.EventOptOutRequested, jobdata.EventOptOutConfirmed:
		return nil, true
	default:
		return nil, false
	}
}
