package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/profile"
)

// fakeRunner records every call and serves canned outcomes and results.
type fakeRunner struct {
	loads       []string
	outcomes    map[string]PageOutcome // by URL, default 200
	loadErr     error
	executed    []broker.Action
	inputs      []ActionInput
	results     map[string]ActionResult // by action id
	execErr     map[string]error
	initErr     error
	finished    bool
	initialized bool
}

func (f *fakeRunner) Initialize(ctx context.Context) error {
	f.initialized = true
	return f.initErr
}

func (f *fakeRunner) LoadURL(ctx context.Context, url string) (PageOutcome, error) {
	f.loads = append(f.loads, url)
	if f.loadErr != nil {
		return PageOutcome{}, f.loadErr
	}
	if out, ok := f.outcomes[url]; ok {
		return out, nil
	}
	return OutcomeForStatus(200), nil
}

func (f *fakeRunner) ExecuteAction(ctx context.Context, action broker.Action, input ActionInput) (ActionResult, error) {
	f.executed = append(f.executed, action)
	f.inputs = append(f.inputs, input)
	if err := f.execErr[action.ID]; err != nil {
		return ActionResult{}, err
	}
	res := f.results[action.ID]
	res.ActionID = action.ID
	return res, nil
}

func (f *fakeRunner) Finish() error {
	f.finished = true
	return nil
}

type fakeCaptcha struct {
	submitted []CaptchaInfo
	resolved  []string
	token     string
	submitErr error
}

func (f *fakeCaptcha) SubmitInformation(ctx context.Context, info CaptchaInfo) (string, error) {
	f.submitted = append(f.submitted, info)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "tx-1", nil
}

func (f *fakeCaptcha) ResolveToken(ctx context.Context, transactionID string) (string, error) {
	f.resolved = append(f.resolved, transactionID)
	if f.token == "" {
		return "", errors.New("no token")
	}
	return f.token, nil
}

type fakeEmail struct {
	generated []string
	address   string
	link      string
}

func (f *fakeEmail) GenerateEmail(ctx context.Context, brokerName string) (string, error) {
	f.generated = append(f.generated, brokerName)
	return f.address, nil
}

func (f *fakeEmail) ConfirmationLink(ctx context.Context, email string, pollingSeconds int) (string, error) {
	if f.link == "" {
		return "", errors.New("no confirmation mail arrived")
	}
	return f.link, nil
}

func testRecord(scan, optOut []broker.Action) jobdata.BrokerProfileQueryData {
	return jobdata.BrokerProfileQueryData{
		Broker: broker.Broker{
			ID:      7,
			Name:    "fakebroker",
			URL:     "fakebroker.com",
			Version: "1.0.0",
			Steps: []broker.Step{
				{Type: broker.StepScan, Actions: scan},
				{Type: broker.StepOptOut, Actions: optOut},
			},
			Schedule: testSchedule,
		},
		ProfileQuery: profile.Query{
			ID:        3,
			FirstName: "John",
			LastName:  "Doe",
			City:      "Dallas",
			State:     "TX",
			BirthYear: 1980,
		},
	}
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}
