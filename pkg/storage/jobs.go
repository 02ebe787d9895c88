package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/profile"
)

// FetchAllBrokerProfileQueryData joins every scan job row with its profile
// query, broker definition, opt-out jobs and history events. Deprecated
// profile queries are included; filtering is a scheduling concern, not a
// storage one.
func (d *DB) FetchAllBrokerProfileQueryData(ctx context.Context) ([]jobdata.BrokerProfileQueryData, error) {
	brokers, err := d.ListBrokers(ctx)
	if err != nil {
		return nil, err
	}
	brokersByID := make(map[int64]int, len(brokers))
	for i, b := range brokers {
		brokersByID[b.ID] = i
	}

	queries, err := d.ListProfileQueries(ctx)
	if err != nil {
		return nil, err
	}
	queriesByID := make(map[int64]profile.Query, len(queries))
	for _, q := range queries {
		queriesByID[q.ID] = q
	}

	events, err := d.historyByPair(ctx)
	if err != nil {
		return nil, err
	}

	optOuts, err := d.optOutJobsByPair(ctx, events)
	if err != nil {
		return nil, err
	}

	rows, err := d.sql.QueryContext(ctx,
		`SELECT broker_id, profile_query_id, preferred_run_date, last_run_date FROM scan_jobs ORDER BY broker_id, profile_query_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobdata.BrokerProfileQueryData
	for rows.Next() {
		var scan jobdata.ScanJobData
		var preferred, lastRun sql.NullString
		if err := rows.Scan(&scan.BrokerID, &scan.ProfileQueryID, &preferred, &lastRun); err != nil {
			return nil, err
		}
		scan.PreferredRunDate = parseTimePtr(preferred)
		scan.LastRunDate = parseTimePtr(lastRun)

		idx, ok := brokersByID[scan.BrokerID]
		if !ok {
			return nil, fmt.Errorf("scan job references unknown broker %d", scan.BrokerID)
		}
		query, ok := queriesByID[scan.ProfileQueryID]
		if !ok {
			return nil, fmt.Errorf("scan job references unknown profile query %d", scan.ProfileQueryID)
		}

		key := pairKey{scan.BrokerID, scan.ProfileQueryID}
		scan.HistoryEvents = events[key].scanEvents

		out = append(out, jobdata.BrokerProfileQueryData{
			Broker:       brokers[idx],
			ProfileQuery: query,
			ScanJob:      scan,
			OptOutJobs:   optOuts[key],
		})
	}
	return out, rows.Err()
}

type pairKey struct {
	brokerID       int64
	profileQueryID int64
}

type pairEvents struct {
	scanEvents []jobdata.HistoryEvent
	byProfile  map[int64][]jobdata.HistoryEvent
}

func (d *DB) historyByPair(ctx context.Context) (map[pairKey]pairEvents, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, broker_id, profile_query_id, extracted_profile_id, event_type, detail, occurred_at FROM history_events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[pairKey]pairEvents)
	for rows.Next() {
		var ev jobdata.HistoryEvent
		var detail, occurredAt sql.NullString
		if err := rows.Scan(&ev.ID, &ev.BrokerID, &ev.ProfileQueryID, &ev.ExtractedProfileID, &ev.Type, &detail, &occurredAt); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		if t := parseTimePtr(occurredAt); t != nil {
			ev.Timestamp = *t
		}

		key := pairKey{ev.BrokerID, ev.ProfileQueryID}
		pe := out[key]
		if ev.ExtractedProfileID == 0 {
			pe.scanEvents = append(pe.scanEvents, ev)
		} else {
			if pe.byProfile == nil {
				pe.byProfile = make(map[int64][]jobdata.HistoryEvent)
			}
			pe.byProfile[ev.ExtractedProfileID] = append(pe.byProfile[ev.ExtractedProfileID], ev)
		}
		out[key] = pe
	}
	return out, rows.Err()
}

func (d *DB) optOutJobsByPair(ctx context.Context, events map[pairKey]pairEvents) (map[pairKey][]jobdata.OptOutJobData, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT o.id, o.broker_id, o.profile_query_id, o.extracted_profile_id, o.preferred_run_date, o.last_run_date, o.attempts,
       p.name, p.age, p.addresses, p.relatives, p.profile_url, p.email, p.removed_at
FROM optout_jobs o
JOIN extracted_profiles p ON p.id = o.extracted_profile_id
ORDER BY o.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[pairKey][]jobdata.OptOutJobData)
	for rows.Next() {
		var job jobdata.OptOutJobData
		var preferred, lastRun sql.NullString
		var age, addresses, relatives, profileURL, email, removedAt sql.NullString
		if err := rows.Scan(&job.ID, &job.BrokerID, &job.ProfileQueryID, &job.ExtractedProfile.ID,
			&preferred, &lastRun, &job.Attempts,
			&job.ExtractedProfile.Name, &age, &addresses, &relatives, &profileURL, &email, &removedAt); err != nil {
			return nil, err
		}
		job.PreferredRunDate = parseTimePtr(preferred)
		job.LastRunDate = parseTimePtr(lastRun)
		job.ExtractedProfile.Age = age.String
		job.ExtractedProfile.ProfileURL = profileURL.String
		job.ExtractedProfile.Email = email.String
		job.ExtractedProfile.RemovedAt = parseTimePtr(removedAt)
		if addresses.Valid && addresses.String != "" {
			if err := json.Unmarshal([]byte(addresses.String), &job.ExtractedProfile.Addresses); err != nil {
				return nil, err
			}
		}
		if relatives.Valid && relatives.String != "" {
			if err := json.Unmarshal([]byte(relatives.String), &job.ExtractedProfile.Relatives); err != nil {
				return nil, err
			}
		}

		key := pairKey{job.BrokerID, job.ProfileQueryID}
		job.HistoryEvents = events[key].byProfile[job.ExtractedProfile.ID]
		out[key] = append(out[key], job)
	}
	return out, rows.Err()
}

// AddOptOutJob persists a newly extracted profile and its opt-out job row.
// Returns the extracted profile id.
func (d *DB) AddOptOutJob(ctx context.Context, brokerID, profileQueryID int64, p jobdata.ExtractedProfile, preferredRunDate *time.Time) (int64, error) {
	addresses, err := json.Marshal(p.Addresses)
	if err != nil {
		return 0, err
	}
	relatives, err := json.Marshal(p.Relatives)
	if err != nil {
		return 0, err
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO extracted_profiles(broker_id, profile_query_id, name, age, addresses, relatives, profile_url, email) VALUES(?,?,?,?,?,?,?,?)`,
		brokerID, profileQueryID, p.Name, nullIfEmpty(p.Age), string(addresses), string(relatives), nullIfEmpty(p.ProfileURL), nullIfEmpty(p.Email))
	if err != nil {
		return 0, err
	}
	profileID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO optout_jobs(broker_id, profile_query_id, extracted_profile_id, preferred_run_date) VALUES(?,?,?,?)`,
		brokerID, profileQueryID, profileID, formatTimePtr(preferredRunDate))
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return profileID, nil
}

// MarkExtractedProfileRemoved records that a profile is no longer present on
// the broker site.
func (d *DB) MarkExtractedProfileRemoved(ctx context.Context, extractedProfileID int64, when time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE extracted_profiles SET removed_at = ? WHERE id = ?`, formatTime(when), extractedProfileID)
	return err
}

// UpdateExtractedProfileEmail stores the generated opt-out email address.
func (d *DB) UpdateExtractedProfileEmail(ctx context.Context, extractedProfileID int64, email string) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE extracted_profiles SET email = ? WHERE id = ?`, email, extractedProfileID)
	return err
}

// UpdatePreferredRunDateForScan sets the scan job's next preferred run date.
func (d *DB) UpdatePreferredRunDateForScan(ctx context.Context, profileQueryID, brokerID int64, date *time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE scan_jobs SET preferred_run_date = ? WHERE profile_query_id = ? AND broker_id = ?`,
		formatTimePtr(date), profileQueryID, brokerID)
	return err
}

// UpdateLastRunDateForScan records when the scan job last ran.
func (d *DB) UpdateLastRunDateForScan(ctx context.Context, profileQueryID, brokerID int64, date time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE scan_jobs SET last_run_date = ? WHERE profile_query_id = ? AND broker_id = ?`,
		formatTime(date), profileQueryID, brokerID)
	return err
}

// UpdatePreferredRunDateForOptOut sets the opt-out job's next preferred run
// date by its extracted profile.
func (d *DB) UpdatePreferredRunDateForOptOut(ctx context.Context, extractedProfileID int64, date *time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE optout_jobs SET preferred_run_date = ? WHERE extracted_profile_id = ?`,
		formatTimePtr(date), extractedProfileID)
	return err
}

// UpdateLastRunDateForOptOut records when the opt-out job last ran and bumps
// its attempt count.
func (d *DB) UpdateLastRunDateForOptOut(ctx context.Context, extractedProfileID int64, date time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE optout_jobs SET last_run_date = ?, attempts = attempts + 1 WHERE extracted_profile_id = ?`,
		formatTime(date), extractedProfileID)
	return err
}

// AppendHistoryEvent appends one immutable history event.
func (d *DB) AppendHistoryEvent(ctx context.Context, ev jobdata.HistoryEvent) error {
	when := ev.Timestamp
	if when.IsZero() {
		when = time.Now()
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO history_events(broker_id, profile_query_id, extracted_profile_id, event_type, detail, occurred_at) VALUES(?,?,?,?,?,?)`,
		ev.BrokerID, ev.ProfileQueryID, ev.ExtractedProfileID, string(ev.Type), nullIfEmpty(ev.Detail), formatTime(when))
	return err
}

// RecentHistory returns the most recent N history events, newest first.
func (d *DB) RecentHistory(ctx context.Context, limit int) ([]jobdata.HistoryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, broker_id, profile_query_id, extracted_profile_id, event_type, detail, occurred_at FROM history_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobdata.HistoryEvent
	for rows.Next() {
		var ev jobdata.HistoryEvent
		var detail, occurredAt sql.NullString
		if err := rows.Scan(&ev.ID, &ev.BrokerID, &ev.ProfileQueryID, &ev.ExtractedProfileID, &ev.Type, &detail, &occurredAt); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		if t := parseTimePtr(occurredAt); t != nil {
			ev.Timestamp = *t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MatchCounts returns the total extracted profiles and how many of them
// are confirmed removed.
func (d *DB) MatchCounts() (matches, removed int, err error) {
	err = d.sql.QueryRow(`SELECT COUNT(id), COUNT(removed_at) FROM extracted_profiles`).Scan(&matches, &removed)
	return matches, removed, err
}

// BrokerStats summarizes per-broker activity for the CLI.
type BrokerStats struct {
	BrokerName    string
	MatchCount    int
	OptedOutCount int
}

// Stats returns per-broker match and opted-out counts.
func (d *DB) Stats(ctx context.Context) ([]BrokerStats, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT b.name,
       COUNT(p.id),
       COUNT(p.removed_at)
FROM brokers b
LEFT JOIN extracted_profiles p ON p.broker_id = b.id
GROUP BY b.id
ORDER BY b.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BrokerStats
	for rows.Next() {
		var s BrokerStats
		if err := rows.Scan(&s.BrokerName, &s.MatchCount, &s.OptedOutCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
