package jobs

import (
	"context"
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
)

// ScanJob walks a broker's scan script once and collects the extracted
// profiles matching the profile query. It performs no persistence; the
// Coordinator owns the bookkeeping around a run.
type ScanJob struct {
	Record jobdata.BrokerProfileQueryData
	Runner Runner
	Log    Logger
	Now    func() time.Time
}

func (j *ScanJob) log() Logger {
	if j.Log != nil {
		return j.Log
	}
	return nopLogger{}
}

func (j *ScanJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Run executes the scan script action by action. A 404 on a navigate is
// treated as "nothing listed here" and the script continues with the next
// action; any other load failure or action failure aborts the run.
func (j *ScanJob) Run(ctx context.Context) ([]jobdata.ExtractedProfile, error) {
	step, err := j.Record.Broker.StepFor(broker.StepScan)
	if err != nil {
		return nil, err
	}

	if err := j.Runner.Initialize(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := j.Runner.Finish(); err != nil {
			j.log().Warnf("scan %s: runner teardown: %v", j.Record.Broker.Name, err)
		}
	}()

	cursor := NewActionCursor(step)
	var found []jobdata.ExtractedProfile
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		action, ok := cursor.Next()
		if !ok {
			break
		}

		if action.Type == broker.ActionNavigate {
			target := ExpandURL(action.URL, j.Record.ProfileQuery, nil, j.now())
			outcome, err := j.Runner.LoadURL(ctx, target)
			if err != nil {
				return nil, err
			}
			if DecideOnLoad(KindScan, outcome) == DecisionStop {
				return nil, &HTTPError{StatusCode: outcome.StatusCode, URL: target}
			}
			if outcome.Kind == OutcomeResourceGone {
				j.log().Debugf("scan %s: %s returned 404, moving on", j.Record.Broker.Name, target)
			}
			continue
		}

		result, err := j.Runner.ExecuteAction(ctx, action, ActionInput{Query: j.Record.ProfileQuery})
		if err != nil {
			return nil, err
		}
		switch action.Type {
		case broker.ActionExtract:
			found = append(found, result.Extracted...)
		case broker.ActionExpectation:
			if !result.ExpectationMet {
				return nil, &ActionError{ActionID: action.ID, Message: "expected page content not present"}
			}
		}
	}
	return found, nil
}
