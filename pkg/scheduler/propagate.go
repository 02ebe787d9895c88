package scheduler

import (
	"context"
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobs"
)

// ChildBrokerStore is the storage surface propagation needs. *storage.DB
// satisfies it.
type ChildBrokerStore interface {
	FetchChildBrokers(ctx context.Context, parentName string) ([]broker.Broker, error)
	UpdatePreferredRunDateForScan(ctx context.Context, profileQueryID, brokerID int64, date *time.Time) error
}

// ChildPropagator schedules confirmation scans on a parent broker's child
// sites after the parent's opt-out was requested: child sites mirror the
// parent's records, so the removal should surface there on the child's own
// confirmation cadence.
type ChildPropagator struct {
	DB  ChildBrokerStore
	Log jobs.Logger
	Now func() time.Time
}

func (p *ChildPropagator) log() jobs.Logger {
	if p.Log != nil {
		return p.Log
	}
	return jobs.NopLogger()
}

func (p *ChildPropagator) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// PropagateOptOut implements jobs.ChildSitePropagator.
func (p *ChildPropagator) PropagateOptOut(ctx context.Context, parent broker.Broker, profileQueryID int64) error {
	children, err := p.DB.FetchChildBrokers(ctx, parent.Name)
	if err != nil {
		return err
	}
	now := p.now()
	for _, child := range children {
		date := now.Add(child.Schedule.ConfirmOptOutScanInterval())
		if err := p.DB.UpdatePreferredRunDateForScan(ctx, profileQueryID, child.ID, &date); err != nil {
			return err
		}
		p.log().Debugf("propagated opt-out of %s to child %s, scan at %s", parent.Name, child.Name, date)
	}
	return nil
}
