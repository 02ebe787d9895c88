package jobs

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
)

// Database is the persistence surface the coordinator writes through.
// *storage.DB satisfies it.
type Database interface {
	AddOptOutJob(ctx context.Context, brokerID, profileQueryID int64, p jobdata.ExtractedProfile, preferredRunDate *time.Time) (int64, error)
	MarkExtractedProfileRemoved(ctx context.Context, extractedProfileID int64, when time.Time) error
	UpdateExtractedProfileEmail(ctx context.Context, extractedProfileID int64, email string) error
	UpdatePreferredRunDateForScan(ctx context.Context, profileQueryID, brokerID int64, date *time.Time) error
	UpdateLastRunDateForScan(ctx context.Context, profileQueryID, brokerID int64, date time.Time) error
	UpdatePreferredRunDateForOptOut(ctx context.Context, extractedProfileID int64, date *time.Time) error
	UpdateLastRunDateForOptOut(ctx context.Context, extractedProfileID int64, date time.Time) error
	AppendHistoryEvent(ctx context.Context, ev jobdata.HistoryEvent) error
}

// ChildSitePropagator schedules follow-up work on a parent broker's child
// sites after the parent's opt-out was requested.
type ChildSitePropagator interface {
	PropagateOptOut(ctx context.Context, parent broker.Broker, profileQueryID int64) error
}

// Coordinator runs one job at a time for a record and keeps the job data
// honest around the run: history events, run dates, extracted profile
// lifecycle and the next preferred dates.
type Coordinator struct {
	DB         Database
	NewRunner  func() Runner
	Captcha    CaptchaSolver
	Email      EmailProvider
	ChildSites ChildSitePropagator
	Log        Logger
	Now        func() time.Time
}

func (c *Coordinator) log() Logger {
	if c.Log != nil {
		return c.Log
	}
	return nopLogger{}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) appendEvent(ctx context.Context, record jobdata.BrokerProfileQueryData, t jobdata.EventType, extractedProfileID int64, detail string) error {
	return c.DB.AppendHistoryEvent(ctx, jobdata.HistoryEvent{
		BrokerID:           record.Broker.ID,
		ProfileQueryID:     record.ProfileQuery.ID,
		ExtractedProfileID: extractedProfileID,
		Type:               t,
		Detail:             detail,
		Timestamp:          c.now(),
	})
}

// RunScanJob executes one scan cycle for the record and persists its
// consequences: new matches become opt-out jobs due immediately, profiles
// no longer listed are marked removed, and the scan is rescheduled per the
// broker's cadence.
func (c *Coordinator) RunScanJob(ctx context.Context, record jobdata.BrokerProfileQueryData) error {
	b := record.Broker
	now := c.now()

	if err := c.appendEvent(ctx, record, jobdata.EventScanStarted, 0, ""); err != nil {
		return err
	}
	if err := c.DB.UpdateLastRunDateForScan(ctx, record.ProfileQuery.ID, b.ID, now); err != nil {
		return err
	}

	job := &ScanJob{Record: record, Runner: c.NewRunner(), Log: c.Log, Now: c.Now}
	found, err := job.Run(ctx)
	if err != nil {
		return c.recordScanFailure(ctx, record, err)
	}

	resultEvent := jobdata.EventNoMatchFound
	detail := ""
	if len(found) > 0 {
		resultEvent = jobdata.EventMatchesFound
		detail = strconv.Itoa(len(found))
	}
	if err := c.appendEvent(ctx, record, resultEvent, 0, detail); err != nil {
		return err
	}

	known := record.ExtractedProfiles()
	refound := make(map[int64]bool)
	for _, p := range found {
		if id, ok := matchKnownProfile(known, p); ok {
			refound[id] = true
			continue
		}
		due, _ := NextOptOutDate(jobdata.EventMatchesFound, now, b.Schedule)
		profileID, err := c.DB.AddOptOutJob(ctx, b.ID, record.ProfileQuery.ID, p, due)
		if err != nil {
			return err
		}
		c.log().Infof("scan %s: new match %q, opt-out %d queued", b.Name, p.Name, profileID)
	}

	for _, p := range known {
		if p.RemovedAt != nil || refound[p.ID] {
			continue
		}
		if err := c.DB.MarkExtractedProfileRemoved(ctx, p.ID, now); err != nil {
			return err
		}
		if err := c.appendEvent(ctx, record, jobdata.EventOptOutConfirmed, p.ID, ""); err != nil {
			return err
		}
		if err := c.DB.UpdatePreferredRunDateForOptOut(ctx, p.ID, nil); err != nil {
			return err
		}
		c.log().Infof("scan %s: profile %d no longer listed, opt-out confirmed", b.Name, p.ID)
	}

	if next, ok := NextScanDate(resultEvent, now, b.Schedule); ok {
		if err := c.DB.UpdatePreferredRunDateForScan(ctx, record.ProfileQuery.ID, b.ID, next); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) recordScanFailure(ctx context.Context, record jobdata.BrokerProfileQueryData, runErr error) error {
	c.log().Errorf("scan %s: %v", record.Broker.Name, runErr)
	if err := c.appendEvent(ctx, record, jobdata.EventError, 0, runErr.Error()); err != nil {
		return err
	}
	if next, ok := NextScanDate(jobdata.EventError, c.now(), record.Broker.Schedule); ok {
		if err := c.DB.UpdatePreferredRunDateForScan(ctx, record.ProfileQuery.ID, record.Broker.ID, next); err != nil {
			return err
		}
	}
	return runErr
}

// RunOptOutJob executes one opt-out attempt for the given job data. Already
// removed profiles and jobs past the broker's attempt cap are skipped
// without touching the record.
func (c *Coordinator) RunOptOutJob(ctx context.Context, record jobdata.BrokerProfileQueryData, optOut jobdata.OptOutJobData) error {
	b := record.Broker
	p := optOut.ExtractedProfile
	if p.RemovedAt != nil {
		return nil
	}
	if b.Schedule.MaxAttempts > 0 && optOut.Attempts >= b.Schedule.MaxAttempts {
		c.log().Warnf("opt-out %s: profile %d exhausted its %d attempts", b.Name, p.ID, b.Schedule.MaxAttempts)
		return nil
	}

	now := c.now()
	if err := c.appendEvent(ctx, record, jobdata.EventOptOutStarted, p.ID, ""); err != nil {
		return err
	}
	if err := c.DB.UpdateLastRunDateForOptOut(ctx, p.ID, now); err != nil {
		return err
	}

	job := &OptOutJob{
		Record:  record,
		Profile: &p,
		Runner:  c.NewRunner(),
		Captcha: c.Captcha,
		Email:   c.Email,
		Log:     c.Log,
		Now:     c.Now,
	}
	runErr := job.Run(ctx)

	if p.Email != "" && p.Email != optOut.ExtractedProfile.Email {
		if err := c.DB.UpdateExtractedProfileEmail(ctx, p.ID, p.Email); err != nil {
			return err
		}
	}

	if runErr != nil {
		c.log().Errorf("opt-out %s: profile %d: %v", b.Name, p.ID, runErr)
		if err := c.appendEvent(ctx, record, jobdata.EventError, p.ID, runErr.Error()); err != nil {
			return err
		}
		if next, ok := NextOptOutDate(jobdata.EventError, c.now(), b.Schedule); ok {
			if err := c.DB.UpdatePreferredRunDateForOptOut(ctx, p.ID, next); err != nil {
				return err
			}
		}
		return runErr
	}

	if err := c.appendEvent(ctx, record, jobdata.EventOptOutRequested, p.ID, ""); err != nil {
		return err
	}
	if next, ok := NextOptOutDate(jobdata.EventOptOutRequested, now, b.Schedule); ok {
		if err := c.DB.UpdatePreferredRunDateForOptOut(ctx, p.ID, next); err != nil {
			return err
		}
	}
	// The confirmation scan verifies the request actually took effect.
	if next, ok := NextScanDate(jobdata.EventOptOutRequested, now, b.Schedule); ok {
		if err := c.DB.UpdatePreferredRunDateForScan(ctx, record.ProfileQuery.ID, b.ID, next); err != nil {
			return err
		}
	}

	if c.ChildSites != nil {
		if err := c.ChildSites.PropagateOptOut(ctx, b, record.ProfileQuery.ID); err != nil {
			c.log().Errorf("opt-out %s: child site propagation: %v", b.Name, err)
		}
	}
	return nil
}

// matchKnownProfile reports whether a freshly extracted profile is one we
// already track, by name and profile URL.
func matchKnownProfile(known []jobdata.ExtractedProfile, p jobdata.ExtractedProfile) (int64, bool) {
	for _, k := range known {
		if strings.EqualFold(k.Name, p.Name) && k.ProfileURL == p.ProfileURL {
			return k.ID, true
		}
	}
	return 0, false
}
