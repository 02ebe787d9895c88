package operations

import (
	"sort"
	"time"

	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/jobs"
)

// JobItem is one runnable unit inside an operation: a scan for a
// profile-query/broker pair, or one opt-out for an extracted profile.
type JobItem struct {
	Kind   jobs.Kind
	Record jobdata.BrokerProfileQueryData
	OptOut *jobdata.OptOutJobData // nil for scans
}

// EligibleJobs filters one broker's records down to the jobs a batch of the
// given kind may run, ordered deterministically.
//
// Scans skip deprecated profile queries; opt-outs do not, because an
// opt-out already in flight for a superseded query must still complete.
// With a cutoff set, only jobs whose preferred run date is set and not
// after the cutoff qualify; without one, everything runs.
func EligibleJobs(records []jobdata.BrokerProfileQueryData, brokerID int64, kind Kind, cutoff *time.Time) []JobItem {
	var items []JobItem
	for _, record := range records {
		if record.Broker.ID != brokerID {
			continue
		}

		if kind == KindScan || kind == KindAll {
			if !record.ProfileQuery.Deprecated && dateEligible(record.ScanJob.PreferredRunDate, cutoff) {
				items = append(items, JobItem{Kind: jobs.KindScan, Record: record})
			}
		}

		if kind == KindOptOut || kind == KindAll {
			for i := range record.OptOutJobs {
				optOut := record.OptOutJobs[i]
				if optOut.ExtractedProfile.RemovedAt != nil {
					continue
				}
				if !dateEligible(optOut.PreferredRunDate, cutoff) {
					continue
				}
				items = append(items, JobItem{Kind: jobs.KindOptOut, Record: record, OptOut: &optOut})
			}
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return itemLess(items[i], items[j])
	})
	return items
}

func dateEligible(preferred, cutoff *time.Time) bool {
	if cutoff == nil {
		return true
	}
	return preferred != nil && !preferred.After(*cutoff)
}

// itemLess orders by preferred run date (unset first), then scans before
// opt-outs, then profile query id, then opt-out job id. Identical inputs
// always produce identical order.
func itemLess(a, b JobItem) bool {
	da, db := itemDate(a), itemDate(b)
	switch {
	case da == nil && db != nil:
		return true
	case da != nil && db == nil:
		return false
	case da != nil && db != nil && !da.Equal(*db):
		return da.Before(*db)
	}
	if a.Kind != b.Kind {
		return a.Kind == jobs.KindScan
	}
	if a.Record.ProfileQuery.ID != b.Record.ProfileQuery.ID {
		return a.Record.ProfileQuery.ID < b.Record.ProfileQuery.ID
	}
	if a.OptOut != nil && b.OptOut != nil {
		return a.OptOut.ID < b.OptOut.ID
	}
	return false
}

func itemDate(it JobItem) *time.Time {
	if it.OptOut != nil {
		return it.OptOut.PreferredRunDate
	}
	return it.Record.ScanJob.PreferredRunDate
}
