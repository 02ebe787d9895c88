// Package storage persists profile queries, the broker catalog and per-pair
// job data in SQLite. The core treats it as the single writer serialization
// point: failures surface as errors, never as partial silent success.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/profile"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS profile_queries (
  id           INTEGER PRIMARY KEY,
  first_name   TEXT NOT NULL,
  middle_name  TEXT,
  last_name    TEXT NOT NULL,
  city         TEXT NOT NULL,
  state        TEXT NOT NULL,
  birth_year   INTEGER NOT NULL,
  deprecated   INTEGER NOT NULL DEFAULT 0 CHECK (deprecated IN (0,1))
);
CREATE TABLE IF NOT EXISTS brokers (
  id          INTEGER PRIMARY KEY,
  name        TEXT NOT NULL UNIQUE,
  url         TEXT NOT NULL,
  version     TEXT NOT NULL,
  parent      TEXT,
  optout_url  TEXT,
  definition  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_brokers_parent ON brokers(parent);
CREATE TABLE IF NOT EXISTS scan_jobs (
  broker_id           INTEGER NOT NULL,
  profile_query_id    INTEGER NOT NULL,
  preferred_run_date  TEXT,
  last_run_date       TEXT,
  PRIMARY KEY (broker_id, profile_query_id)
);
CREATE TABLE IF NOT EXISTS extracted_profiles (
  id                INTEGER PRIMARY KEY,
  broker_id         INTEGER NOT NULL,
  profile_query_id  INTEGER NOT NULL,
  name              TEXT NOT NULL,
  age               TEXT,
  addresses         TEXT,
  relatives         TEXT,
  profile_url       TEXT,
  email             TEXT,
  removed_at        TEXT
);
CREATE TABLE IF NOT EXISTS optout_jobs (
  id                    INTEGER PRIMARY KEY,
  broker_id             INTEGER NOT NULL,
  profile_query_id      INTEGER NOT NULL,
  extracted_profile_id  INTEGER NOT NULL UNIQUE,
  preferred_run_date    TEXT,
  last_run_date         TEXT,
  attempts              INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS history_events (
  id                    INTEGER PRIMARY KEY,
  broker_id             INTEGER NOT NULL,
  profile_query_id      INTEGER NOT NULL,
  extracted_profile_id  INTEGER NOT NULL DEFAULT 0,
  event_type            TEXT NOT NULL,
  detail                TEXT,
  occurred_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_pair ON history_events(broker_id, profile_query_id, occurred_at);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// ReplaceProfileQueries persists the given queries as the current profile.
// Existing queries that no longer match any new query are marked deprecated
// (never deleted: opt-outs already in flight must run to completion). New
// queries that match an existing one are not duplicated.
func (d *DB) ReplaceProfileQueries(ctx context.Context, queries []profile.Query) error {
	existing, err := d.ListProfileQueries(ctx)
	if err != nil {
		return err
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	matched := make(map[int64]bool)
	for _, q := range queries {
		found := false
		for _, ex := range existing {
			if ex.Matches(q) {
				matched[ex.ID] = true
				found = true
				if ex.Deprecated {
					if _, err = tx.ExecContext(ctx, `UPDATE profile_queries SET deprecated = 0 WHERE id = ?`, ex.ID); err != nil {
						return err
					}
				}
				break
			}
		}
		if !found {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO profile_queries(first_name, middle_name, last_name, city, state, birth_year) VALUES(?,?,?,?,?,?)`,
				q.FirstName, nullIfEmptyPtr(q.MiddleName), q.LastName, q.City, q.State, q.BirthYear)
			if err != nil {
				return err
			}
		}
	}

	for _, ex := range existing {
		if !matched[ex.ID] && !ex.Deprecated {
			if _, err = tx.ExecContext(ctx, `UPDATE profile_queries SET deprecated = 1 WHERE id = ?`, ex.ID); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// ListProfileQueries returns every persisted profile query, deprecated
// included.
func (d *DB) ListProfileQueries(ctx context.Context) ([]profile.Query, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, first_name, middle_name, last_name, city, state, birth_year, deprecated FROM profile_queries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profile.Query
	for rows.Next() {
		var q profile.Query
		var middle sql.NullString
		var deprecated int
		if err := rows.Scan(&q.ID, &q.FirstName, &middle, &q.LastName, &q.City, &q.State, &q.BirthYear, &deprecated); err != nil {
			return nil, err
		}
		if middle.Valid {
			m := middle.String
			q.MiddleName = &m
		}
		q.Deprecated = deprecated == 1
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpsertBroker stores a catalog definition, replacing a stored broker of the
// same name when the version changed. Returns the broker's row id.
func (d *DB) UpsertBroker(ctx context.Context, b broker.Broker) (int64, error) {
	definition, err := json.Marshal(b)
	if err != nil {
		return 0, err
	}

	var id int64
	var version string
	err = d.sql.QueryRowContext(ctx, `SELECT id, version FROM brokers WHERE name = ?`, b.Name).Scan(&id, &version)
	switch {
	case err == sql.ErrNoRows:
		res, err := d.sql.ExecContext(ctx,
			`INSERT INTO brokers(name, url, version, parent, optout_url, definition) VALUES(?,?,?,?,?,?)`,
			b.Name, b.URL, b.Version, nullIfEmpty(b.Parent), nullIfEmpty(b.OptOutURL), string(definition))
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	case err != nil:
		return 0, err
	}

	if version != b.Version {
		_, err = d.sql.ExecContext(ctx,
			`UPDATE brokers SET url = ?, version = ?, parent = ?, optout_url = ?, definition = ? WHERE id = ?`,
			b.URL, b.Version, nullIfEmpty(b.Parent), nullIfEmpty(b.OptOutURL), string(definition), id)
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}

// ListBrokers returns every stored broker definition with its row id.
func (d *DB) ListBrokers(ctx context.Context) ([]broker.Broker, error) {
	return d.queryBrokers(ctx, `SELECT id, definition FROM brokers ORDER BY name`)
}

// FetchChildBrokers returns the brokers whose parent equals the given broker
// name.
func (d *DB) FetchChildBrokers(ctx context.Context, parentName string) ([]broker.Broker, error) {
	return d.queryBrokers(ctx, `SELECT id, definition FROM brokers WHERE parent = ? ORDER BY name`, parentName)
}

func (d *DB) queryBrokers(ctx context.Context, query string, args ...interface{}) ([]broker.Broker, error) {
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Broker
	for rows.Next() {
		var id int64
		var definition string
		if err := rows.Scan(&id, &definition); err != nil {
			return nil, err
		}
		var b broker.Broker
		if err := json.Unmarshal([]byte(definition), &b); err != nil {
			return nil, fmt.Errorf("broker %d has a malformed stored definition: %w", id, err)
		}
		b.ID = id
		out = append(out, b)
	}
	return out, rows.Err()
}

// EnsureScanJobs creates a scan job row, due immediately, for every
// non-deprecated profile query × broker pair that has none yet.
func (d *DB) EnsureScanJobs(ctx context.Context, now time.Time) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO scan_jobs(broker_id, profile_query_id, preferred_run_date)
SELECT b.id, q.id, ?
FROM brokers b, profile_queries q
WHERE q.deprecated = 0
  AND NOT EXISTS (
    SELECT 1 FROM scan_jobs s WHERE s.broker_id = b.id AND s.profile_query_id = q.id
  )`, formatTime(now))
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfEmptyPtr(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}
