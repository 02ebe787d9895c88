package jobs

import (
	"context"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/profile"
)

// ActionInput carries the user data an action needs at execution time.
type ActionInput struct {
	Query            profile.Query
	ExtractedProfile *jobdata.ExtractedProfile
	Email            string // generated address, fillForm only
	CaptchaToken     string // solved token, solveCaptcha only
}

// CaptchaInfo is the challenge descriptor a getCaptchaInfo action pulls off
// the page, ready to hand to a solving service.
type CaptchaInfo struct {
	SiteKey string
	URL     string
	Type    string
}

// ActionResult is the parsed completion payload of one executed action.
// Only the field matching the action's type is populated.
type ActionResult struct {
	ActionID       string
	Extracted      []jobdata.ExtractedProfile // extract
	ExpectationMet bool                       // expectation
	CaptchaInfo    *CaptchaInfo               // getCaptchaInfo
}

// Runner is the page automation handle a job drives. Implementations own
// the session lifecycle between Initialize and Finish.
type Runner interface {
	Initialize(ctx context.Context) error
	LoadURL(ctx context.Context, url string) (PageOutcome, error)
	ExecuteAction(ctx context.Context, action broker.Action, input ActionInput) (ActionResult, error)
	Finish() error
}

// CaptchaSolver submits challenges to a solving backend and polls for the
// token. Submit retries transient backend failures internally.
type CaptchaSolver interface {
	SubmitInformation(ctx context.Context, info CaptchaInfo) (transactionID string, err error)
	ResolveToken(ctx context.Context, transactionID string) (token string, err error)
}

// EmailProvider generates throwaway opt-out addresses and fetches the
// confirmation links brokers mail to them.
type EmailProvider interface {
	GenerateEmail(ctx context.Context, brokerName string) (string, error)
	ConfirmationLink(ctx context.Context, email string, pollingSeconds int) (string, error)
}
