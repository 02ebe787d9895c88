package jobs

import (
	"context"
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
)

// OptOutJob walks a broker's opt-out script once for a single extracted
// profile. On success the removal request has been submitted; confirmation
// is observed later by scheduled scans. The job mutates Profile.Email when
// it has to generate an address, so callers can persist it.
type OptOutJob struct {
	Record  jobdata.BrokerProfileQueryData
	Profile *jobdata.ExtractedProfile
	Runner  Runner
	Captcha CaptchaSolver
	Email   EmailProvider
	Log     Logger
	Now     func() time.Time
}

func (j *OptOutJob) log() Logger {
	if j.Log != nil {
		return j.Log
	}
	return nopLogger{}
}

func (j *OptOutJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Run executes the opt-out script action by action. Unlike scans, a 404 on
// any page load is fatal here: the form the script depends on is gone.
func (j *OptOutJob) Run(ctx context.Context) error {
	step, err := j.Record.Broker.StepFor(broker.StepOptOut)
	if err != nil {
		return err
	}

	if err := j.Runner.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		if err := j.Runner.Finish(); err != nil {
			j.log().Warnf("opt-out %s: runner teardown: %v", j.Record.Broker.Name, err)
		}
	}()

	cursor := NewActionCursor(step)
	var captchaTransaction string
	var captchaToken string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		action, ok := cursor.Next()
		if !ok {
			break
		}

		switch action.Type {
		case broker.ActionNavigate:
			target := ExpandURL(action.URL, j.Record.ProfileQuery, j.Profile, j.now())
			if err := j.load(ctx, target); err != nil {
				return err
			}

		case broker.ActionEmailConfirmation:
			if j.Email == nil {
				return &ActionError{ActionID: action.ID, Message: "no email provider configured"}
			}
			if j.Profile.Email == "" {
				return &ActionError{ActionID: action.ID, Message: "no address was generated before confirmation"}
			}
			link, err := j.Email.ConfirmationLink(ctx, j.Profile.Email, action.PollingTime)
			if err != nil {
				return err
			}
			if err := j.load(ctx, link); err != nil {
				return err
			}

		case broker.ActionGetCaptchaInfo:
			result, err := j.Runner.ExecuteAction(ctx, action, j.input(captchaToken))
			if err != nil {
				return err
			}
			if result.CaptchaInfo == nil {
				return &ActionError{ActionID: action.ID, Message: "no captcha challenge found on page"}
			}
			if j.Captcha == nil {
				return &ActionError{ActionID: action.ID, Message: "no captcha solver configured"}
			}
			captchaTransaction, err = j.Captcha.SubmitInformation(ctx, *result.CaptchaInfo)
			if err != nil {
				return err
			}

		case broker.ActionSolveCaptcha:
			if captchaTransaction == "" {
				return &ActionError{ActionID: action.ID, Message: "solveCaptcha without a preceding getCaptchaInfo"}
			}
			token, err := j.Captcha.ResolveToken(ctx, captchaTransaction)
			if err != nil {
				return err
			}
			captchaToken = token
			if _, err := j.Runner.ExecuteAction(ctx, action, j.input(captchaToken)); err != nil {
				return err
			}

		case broker.ActionFillForm:
			if action.NeedsEmail() && j.Profile.Email == "" {
				if j.Email == nil {
					return &ActionError{ActionID: action.ID, Message: "form needs an email but no provider is configured"}
				}
				addr, err := j.Email.GenerateEmail(ctx, j.Record.Broker.Name)
				if err != nil {
					return err
				}
				j.Profile.Email = addr
			}
			if _, err := j.Runner.ExecuteAction(ctx, action, j.input(captchaToken)); err != nil {
				return err
			}

		default:
			result, err := j.Runner.ExecuteAction(ctx, action, j.input(captchaToken))
			if err != nil {
				return err
			}
			if action.Type == broker.ActionExpectation && !result.ExpectationMet {
				return &ActionError{ActionID: action.ID, Message: "expected page content not present"}
			}
		}
	}
	return nil
}

func (j *OptOutJob) load(ctx context.Context, target string) error {
	outcome, err := j.Runner.LoadURL(ctx, target)
	if err != nil {
		return err
	}
	if DecideOnLoad(KindOptOut, outcome) == DecisionStop {
		return &HTTPError{StatusCode: outcome.StatusCode, URL: target}
	}
	return nil
}

func (j *OptOutJob) input(captchaToken string) ActionInput {
	return ActionInput{
		Query:            j.Record.ProfileQuery,
		ExtractedProfile: j.Profile,
		Email:            j.Profile.Email,
		CaptchaToken:     captchaToken,
	}
}
