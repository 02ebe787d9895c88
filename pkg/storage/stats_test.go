package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/profile"
)

func TestStatsAndMatchCounts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.ReplaceProfileQueries(ctx, []profile.Query{
		{FirstName: "John", LastName: "Doe", City: "Miami", State: "FL", BirthYear: 1980},
	}))
	busyID, err := db.UpsertBroker(ctx, testBroker("busybroker", ""))
	require.NoError(t, err)
	_, err = db.UpsertBroker(ctx, testBroker("quietbroker", ""))
	require.NoError(t, err)
	require.NoError(t, db.EnsureScanJobs(ctx, now))

	records, err := db.FetchAllBrokerProfileQueryData(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	pqID := records[0].ProfileQuery.ID

	first, err := db.AddOptOutJob(ctx, busyID, pqID, jobdata.ExtractedProfile{Name: "John Doe"}, nil)
	require.NoError(t, err)
	_, err = db.AddOptOutJob(ctx, busyID, pqID, jobdata.ExtractedProfile{Name: "Jon Doe"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.MarkExtractedProfileRemoved(ctx, first, now))

	matches, removed, err := db.MatchCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, matches)
	assert.Equal(t, 1, removed)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	// Ordered by broker name.
	assert.Equal(t, "busybroker", stats[0].BrokerName)
	assert.Equal(t, 2, stats[0].MatchCount)
	assert.Equal(t, 1, stats[0].OptedOutCount)
	assert.Equal(t, "quietbroker", stats[1].BrokerName)
	assert.Zero(t, stats[1].MatchCount)
}
