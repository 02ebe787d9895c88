package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/unlist-sh/unlist/internal/utils"
	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/profile"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "unlist.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testBroker(name, parent string) broker.Broker {
	return broker.Broker{
		Name:    name,
		URL:     name + ".com",
		Version: "1.0.0",
		Parent:  parent,
		Steps: []broker.Step{
			{Type: broker.StepScan, Actions: []broker.Action{{ID: "n", Type: broker.ActionNavigate, URL: "https://" + name + ".com"}}},
			{Type: broker.StepOptOut, Actions: []broker.Action{{ID: "o", Type: broker.ActionNavigate, URL: "https://" + name + ".com/optout"}}},
		},
		Schedule: broker.ScheduleConfig{RetryError: 48, ConfirmOptOutScan: 72, MaintenanceScan: 240},
	}
}

func TestReplaceProfileQueriesDeprecatesSuperseded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := profile.Query{FirstName: "John", LastName: "Doe", City: "Miami", State: "FL", BirthYear: 1980}
	if err := db.ReplaceProfileQueries(ctx, []profile.Query{first}); err != nil {
		t.Fatalf("ReplaceProfileQueries: %v", err)
	}

	second := profile.Query{FirstName: "John", LastName: "Doe", City: "Tampa", State: "FL", BirthYear: 1980}
	if err := db.ReplaceProfileQueries(ctx, []profile.Query{second}); err != nil {
		t.Fatalf("ReplaceProfileQueries: %v", err)
	}

	queries, err := db.ListProfileQueries(ctx)
	if err != nil {
		t.Fatalf("ListProfileQueries: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2 (superseded kept as deprecated)", len(queries))
	}

	var deprecated, active int
	for _, q := range queries {
		if q.Deprecated {
			deprecated++
		} else {
			active++
		}
	}
	if deprecated != 1 || active != 1 {
		t.Errorf("deprecated=%d active=%d, want 1/1", deprecated, active)
	}
}

func TestReplaceProfileQueriesIsIdempotentForMatchingQuery(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	middleBlank := " "
	q := profile.Query{FirstName: "John", LastName: "Doe", City: "Miami", State: "FL", BirthYear: 1980}
	if err := db.ReplaceProfileQueries(ctx, []profile.Query{q}); err != nil {
		t.Fatal(err)
	}
	// Same person with a blank middle name: no new row, nothing deprecated.
	q.MiddleName = &middleBlank
	if err := db.ReplaceProfileQueries(ctx, []profile.Query{q}); err != nil {
		t.Fatal(err)
	}

	queries, err := db.ListProfileQueries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(queries) != 1 || queries[0].Deprecated {
		t.Errorf("got %+v, want a single active query", queries)
	}
}

func TestUpsertBrokerReplacesOnVersionChange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	b := testBroker("fakebroker", "")
	id1, err := db.UpsertBroker(ctx, b)
	if err != nil {
		t.Fatalf("UpsertBroker: %v", err)
	}

	// Same version: no-op.
	id2, err := db.UpsertBroker(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("upsert of same broker changed id: %d -> %d", id1, id2)
	}

	b.Version = "1.0.1"
	b.URL = "fakebroker.net"
	if _, err := db.UpsertBroker(ctx, b); err != nil {
		t.Fatal(err)
	}

	brokers, err := db.ListBrokers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(brokers) != 1 || brokers[0].URL != "fakebroker.net" || brokers[0].Version != "1.0.1" {
		t.Errorf("unexpected brokers after version bump: %+v", brokers)
	}
}

func TestFetchChildBrokers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, b := range []broker.Broker{
		testBroker("parentbroker", ""),
		testBroker("child1", "parentbroker"),
		testBroker("child2", "parentbroker"),
		testBroker("unrelated", ""),
	} {
		if _, err := db.UpsertBroker(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	children, err := db.FetchChildBrokers(ctx, "parentbroker")
	if err != nil {
		t.Fatalf("FetchChildBrokers: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
	if children[0].Name != "child1" || children[1].Name != "child2" {
		t.Errorf("unexpected children: %+v", children)
	}

	none, err := db.FetchChildBrokers(ctx, "childless")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no children, got %+v", none)
	}
}

func TestEnsureScanJobsAndFetchAll(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.ReplaceProfileQueries(ctx, []profile.Query{
		{FirstName: "John", LastName: "Doe", City: "Miami", State: "FL", BirthYear: 1980},
	}); err != nil {
		t.Fatal(err)
	}
	brokerID, err := db.UpsertBroker(ctx, testBroker("fakebroker", ""))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureScanJobs(ctx, now); err != nil {
		t.Fatalf("EnsureScanJobs: %v", err)
	}
	// Running it again must not duplicate rows.
	if err := db.EnsureScanJobs(ctx, now); err != nil {
		t.Fatal(err)
	}

	records, err := db.FetchAllBrokerProfileQueryData(ctx)
	if err != nil {
		t.Fatalf("FetchAllBrokerProfileQueryData: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Broker.ID != brokerID || rec.Broker.Name != "fakebroker" {
		t.Errorf("unexpected broker in record: %+v", rec.Broker)
	}
	if rec.ScanJob.PreferredRunDate == nil {
		t.Fatal("new scan job should be due immediately")
	}
	if !utils.AreDatesEqualIgnoringSeconds(*rec.ScanJob.PreferredRunDate, now) {
		t.Errorf("preferred run date = %v, want ~%v", rec.ScanJob.PreferredRunDate, now)
	}

	pqID := rec.ProfileQuery.ID

	// Attach an extracted profile + opt-out job and some history.
	due := now.Add(time.Hour)
	profileID, err := db.AddOptOutJob(ctx, brokerID, pqID, jobdata.ExtractedProfile{
		Name:      "John Doe",
		Age:       "46",
		Addresses: []string{"Miami, FL"},
	}, &due)
	if err != nil {
		t.Fatalf("AddOptOutJob: %v", err)
	}
	if err := db.AppendHistoryEvent(ctx, jobdata.HistoryEvent{
		BrokerID: brokerID, ProfileQueryID: pqID, Type: jobdata.EventScanStarted,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendHistoryEvent(ctx, jobdata.HistoryEvent{
		BrokerID: brokerID, ProfileQueryID: pqID, ExtractedProfileID: profileID, Type: jobdata.EventOptOutStarted,
	}); err != nil {
		t.Fatal(err)
	}

	records, err = db.FetchAllBrokerProfileQueryData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rec = records[0]
	if len(rec.OptOutJobs) != 1 {
		t.Fatalf("got %d opt-out jobs, want 1", len(rec.OptOutJobs))
	}
	optOut := rec.OptOutJobs[0]
	if optOut.ExtractedProfile.Name != "John Doe" || len(optOut.ExtractedProfile.Addresses) != 1 {
		t.Errorf("unexpected extracted profile: %+v", optOut.ExtractedProfile)
	}
	if len(rec.ScanJob.HistoryEvents) != 1 || rec.ScanJob.HistoryEvents[0].Type != jobdata.EventScanStarted {
		t.Errorf("unexpected scan history: %+v", rec.ScanJob.HistoryEvents)
	}
	if len(optOut.HistoryEvents) != 1 || optOut.HistoryEvents[0].Type != jobdata.EventOptOutStarted {
		t.Errorf("unexpected opt-out history: %+v", optOut.HistoryEvents)
	}
}

func TestRunDateUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.ReplaceProfileQueries(ctx, []profile.Query{
		{FirstName: "John", LastName: "Doe", City: "Miami", State: "FL", BirthYear: 1980},
	}); err != nil {
		t.Fatal(err)
	}
	brokerID, err := db.UpsertBroker(ctx, testBroker("fakebroker", ""))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureScanJobs(ctx, now); err != nil {
		t.Fatal(err)
	}
	records, err := db.FetchAllBrokerProfileQueryData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pqID := records[0].ProfileQuery.ID

	next := now.Add(240 * time.Hour)
	if err := db.UpdatePreferredRunDateForScan(ctx, pqID, brokerID, &next); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateLastRunDateForScan(ctx, pqID, brokerID, now); err != nil {
		t.Fatal(err)
	}

	profileID, err := db.AddOptOutJob(ctx, brokerID, pqID, jobdata.ExtractedProfile{Name: "John Doe"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateLastRunDateForOptOut(ctx, profileID, now); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateLastRunDateForOptOut(ctx, profileID, now); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkExtractedProfileRemoved(ctx, profileID, now); err != nil {
		t.Fatal(err)
	}

	records, err = db.FetchAllBrokerProfileQueryData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rec := records[0]
	if rec.ScanJob.PreferredRunDate == nil || !rec.ScanJob.PreferredRunDate.Equal(next.UTC().Truncate(time.Second)) {
		t.Errorf("scan preferred run date = %v, want %v", rec.ScanJob.PreferredRunDate, next)
	}
	optOut := rec.OptOutJobs[0]
	if optOut.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", optOut.Attempts)
	}
	if optOut.ExtractedProfile.RemovedAt == nil {
		t.Error("extracted profile should be marked removed")
	}
}

func TestRecentHistoryNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, typ := range []jobdata.EventType{jobdata.EventScanStarted, jobdata.EventNoMatchFound, jobdata.EventScanStarted} {
		if err := db.AppendHistoryEvent(ctx, jobdata.HistoryEvent{BrokerID: 1, ProfileQueryID: 1, Type: typ}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := db.RecentHistory(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != jobdata.EventScanStarted || events[1].Type != jobdata.EventNoMatchFound {
		t.Errorf("unexpected order: %+v", events)
	}
}
