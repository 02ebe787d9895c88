package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/jobs"
)

// Database is the read surface operations fetch fresh job data from.
// *storage.DB satisfies it.
type Database interface {
	FetchAllBrokerProfileQueryData(ctx context.Context) ([]jobdata.BrokerProfileQueryData, error)
}

// JobRunner executes one job with its persistence bookkeeping.
// *jobs.Coordinator satisfies it.
type JobRunner interface {
	RunScanJob(ctx context.Context, record jobdata.BrokerProfileQueryData) error
	RunOptOutJob(ctx context.Context, record jobdata.BrokerProfileQueryData, optOut jobdata.OptOutJobData) error
}

// Dependencies is everything an operation needs at run time.
type Dependencies struct {
	DB     Database
	Runner JobRunner
	Config ExecutionConfig
	Log    jobs.Logger
	Now    func() time.Time
}

func (d Dependencies) log() jobs.Logger {
	if d.Log != nil {
		return d.Log
	}
	return jobs.NopLogger()
}

// JobError ties a failed job to the broker it ran against.
type JobError struct {
	BrokerName string
	Kind       jobs.Kind
	Err        error
}

func (e JobError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.BrokerName, e.Err)
}

func (e JobError) Unwrap() error { return e.Err }

// Operation is all of one batch's work against a single broker. Jobs
// inside it run serially with the configured spacing; record state is
// fetched fresh at run time so jobs created after the batch was built are
// not missed.
type Operation struct {
	BrokerID   int64
	BrokerName string
	Kind       Kind
	// Cutoff restricts the run to jobs already due at this instant.
	// Nil means everything runs.
	Cutoff *time.Time
}

// Run executes the operation's eligible jobs. Job failures are collected
// and do not stop the remaining jobs; only an unusable batch (fetch
// failure, cancellation) is returned as err.
func (o *Operation) Run(ctx context.Context, deps Dependencies) (jobErrors []error, err error) {
	records, err := deps.DB.FetchAllBrokerProfileQueryData(ctx)
	if err != nil {
		return nil, err
	}

	items := EligibleJobs(records, o.BrokerID, o.Kind, o.Cutoff)
	deps.log().Debugf("operation %s (%s): %d eligible jobs", o.BrokerName, o.Kind, len(items))

	for i, item := range items {
		if i > 0 && deps.Config.MinBrokerSpacing > 0 {
			if err := sleepCtx(ctx, deps.Config.MinBrokerSpacing); err != nil {
				return jobErrors, err
			}
		}
		if err := ctx.Err(); err != nil {
			return jobErrors, err
		}

		var runErr error
		if item.Kind == jobs.KindScan {
			runErr = deps.Runner.RunScanJob(ctx, item.Record)
		} else {
			runErr = deps.Runner.RunOptOutJob(ctx, item.Record, *item.OptOut)
		}
		if runErr != nil {
			if ctx.Err() != nil {
				return jobErrors, ctx.Err()
			}
			jobErrors = append(jobErrors, JobError{BrokerName: o.BrokerName, Kind: item.Kind, Err: runErr})
		}
	}
	return jobErrors, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
