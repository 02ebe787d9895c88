package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
)

func fullOptOutScript() []broker.Action {
	return []broker.Action{
		{ID: "nav", Type: broker.ActionNavigate, URL: "https://fakebroker.com/optout?u=${profileUrl}"},
		{ID: "form", Type: broker.ActionFillForm, Elements: []broker.FormElement{
			{Type: "firstName", Selector: "#fn"},
			{Type: "email", Selector: "#email"},
		}},
		{ID: "captcha-info", Type: broker.ActionGetCaptchaInfo, Selector: ".g-recaptcha"},
		{ID: "captcha-solve", Type: broker.ActionSolveCaptcha},
		{ID: "submit", Type: broker.ActionClick, Selector: "#submit"},
		{ID: "confirm", Type: broker.ActionEmailConfirmation, PollingTime: 30},
		{ID: "done", Type: broker.ActionExpectation, Selector: ".success"},
	}
}

func TestOptOutJobFullScript(t *testing.T) {
	runner := &fakeRunner{results: map[string]ActionResult{
		"captcha-info": {CaptchaInfo: &CaptchaInfo{SiteKey: "key", URL: "https://fakebroker.com/optout", Type: "recaptcha"}},
		"done":         {ExpectationMet: true},
	}}
	captcha := &fakeCaptcha{token: "solved-token"}
	email := &fakeEmail{address: "x1y2@unlist.sh", link: "https://fakebroker.com/confirm/abc"}

	record := testRecord(nil, fullOptOutScript())
	extracted := jobdata.ExtractedProfile{ID: 11, Name: "John Doe", ProfileURL: "https://fakebroker.com/p/1"}
	job := &OptOutJob{Record: record, Profile: &extracted, Runner: runner, Captcha: captcha, Email: email, Now: fixedNow}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if extracted.Email != "x1y2@unlist.sh" {
		t.Errorf("generated email not stored on the profile: %q", extracted.Email)
	}
	if len(email.generated) != 1 || email.generated[0] != "fakebroker" {
		t.Errorf("GenerateEmail calls = %v", email.generated)
	}
	if len(captcha.submitted) != 1 || captcha.submitted[0].SiteKey != "key" {
		t.Errorf("captcha submissions = %+v", captcha.submitted)
	}
	if len(captcha.resolved) != 1 || captcha.resolved[0] != "tx-1" {
		t.Errorf("captcha resolutions = %v", captcha.resolved)
	}

	// The solved token reaches the solveCaptcha action and everything after.
	var solveInput *ActionInput
	for i, a := range runner.executed {
		if a.ID == "captcha-solve" {
			solveInput = &runner.inputs[i]
		}
	}
	if solveInput == nil {
		t.Fatal("solveCaptcha action never executed")
	}
	if solveInput.CaptchaToken != "solved-token" {
		t.Errorf("solveCaptcha input token = %q", solveInput.CaptchaToken)
	}

	// Both the opt-out page and the emailed confirmation link were visited.
	wantLoads := []string{
		"https://fakebroker.com/optout?u=https%3A%2F%2Ffakebroker.com%2Fp%2F1",
		"https://fakebroker.com/confirm/abc",
	}
	if len(runner.loads) != len(wantLoads) {
		t.Fatalf("loads = %v, want %v", runner.loads, wantLoads)
	}
	for i := range wantLoads {
		if runner.loads[i] != wantLoads[i] {
			t.Errorf("loads[%d] = %q, want %q", i, runner.loads[i], wantLoads[i])
		}
	}
}

func TestOptOutJobStopsOn404(t *testing.T) {
	runner := &fakeRunner{outcomes: map[string]PageOutcome{
		"https://fakebroker.com/optout?u=": OutcomeForStatus(404),
	}}
	record := testRecord(nil, []broker.Action{
		{ID: "nav", Type: broker.ActionNavigate, URL: "https://fakebroker.com/optout?u=${profileUrl}"},
		{ID: "form", Type: broker.ActionFillForm},
	})
	extracted := jobdata.ExtractedProfile{ID: 11, Name: "John Doe"}
	job := &OptOutJob{Record: record, Profile: &extracted, Runner: runner, Now: fixedNow}

	err := job.Run(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Fatalf("Run() error = %v, want HTTPError 404", err)
	}
	// Unlike a scan, nothing advances past the vanished page.
	if len(runner.executed) != 0 {
		t.Fatalf("executed = %+v, want no actions", runner.executed)
	}
}

func TestOptOutJobSolveWithoutChallenge(t *testing.T) {
	record := testRecord(nil, []broker.Action{
		{ID: "captcha-solve", Type: broker.ActionSolveCaptcha},
	})
	extracted := jobdata.ExtractedProfile{ID: 11}
	job := &OptOutJob{Record: record, Profile: &extracted, Runner: &fakeRunner{}, Captcha: &fakeCaptcha{}, Now: fixedNow}

	err := job.Run(context.Background())
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.ActionID != "captcha-solve" {
		t.Fatalf("Run() error = %v, want ActionError for captcha-solve", err)
	}
}

func TestOptOutJobReusesExistingEmail(t *testing.T) {
	runner := &fakeRunner{}
	email := &fakeEmail{address: "fresh@unlist.sh"}
	record := testRecord(nil, []broker.Action{
		{ID: "form", Type: broker.ActionFillForm, Elements: []broker.FormElement{{Type: "email", Selector: "#email"}}},
	})
	extracted := jobdata.ExtractedProfile{ID: 11, Email: "kept@unlist.sh"}
	job := &OptOutJob{Record: record, Profile: &extracted, Runner: runner, Email: email, Now: fixedNow}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(email.generated) != 0 {
		t.Error("a profile with an address should not get a new one")
	}
	if runner.inputs[0].Email != "kept@unlist.sh" {
		t.Errorf("form input email = %q", runner.inputs[0].Email)
	}
}
