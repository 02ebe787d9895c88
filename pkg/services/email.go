package services

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/unlist-sh/unlist/pkg/jobs"
)

// EmailService talks to the throwaway inbox backend. It implements
// jobs.EmailProvider.
type EmailService struct {
	Client    *retryablehttp.Client
	BaseURL   string
	AuthToken string
	MaxPolls  int
	// PollInterval overrides the broker-provided polling time when set.
	PollInterval time.Duration
	Log          jobs.Logger
}

func (s *EmailService) polls() int {
	if s.MaxPolls > 0 {
		return s.MaxPolls
	}
	return 20
}

func (s *EmailService) log() jobs.Logger {
	if s.Log != nil {
		return s.Log
	}
	return jobs.NopLogger()
}

// GenerateEmail mints a fresh address tied to the broker the opt-out
// targets.
func (s *EmailService) GenerateEmail(ctx context.Context, brokerName string) (string, error) {
	payload, status, err := s.get(ctx, "/email/generate?broker="+url.QueryEscape(brokerName))
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", &ServiceError{Kind: ErrorInvalidRequest, Op: "email.generate",
			Message: fmt.Sprintf("backend status %d", status)}
	}
	addr := gjson.Get(payload, "emailAddress").String()
	if addr == "" {
		return "", &ServiceError{Kind: ErrorParsing, Op: "email.generate", Message: "response carried no address"}
	}
	return addr, nil
}

// ConfirmationLink polls the inbox until the broker's confirmation mail
// shows up and returns the link inside it.
func (s *EmailService) ConfirmationLink(ctx context.Context, email string, pollingSeconds int) (string, error) {
	interval := time.Duration(pollingSeconds) * time.Second
	if s.PollInterval > 0 {
		interval = s.PollInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	for attempt := 0; attempt < s.polls(); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, interval); err != nil {
				return "", err
			}
		}

		payload, status, err := s.get(ctx, "/email/links?address="+url.QueryEscape(email))
		if err != nil {
			s.log().Warnf("inbox poll attempt %d: %v", attempt+1, err)
			continue
		}
		switch {
		case status == 404:
			// No mail yet.
			continue
		case status != 200:
			return "", &ServiceError{Kind: ErrorInvalidRequest, Op: "email.links",
				Message: fmt.Sprintf("backend status %d", status)}
		}

		link := gjson.Get(payload, "link").String()
		if link == "" {
			return "", &ServiceError{Kind: ErrorParsing, Op: "email.links", Message: "mail carried no confirmation link"}
		}
		return link, nil
	}
	return "", &ServiceError{Kind: ErrorTimeout, Op: "email.links", Message: "confirmation mail never arrived"}
}

func (s *EmailService) get(ctx context.Context, path string) (payload string, status int, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", s.BaseURL+path, nil)
	if err != nil {
		return "", 0, err
	}
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	return string(raw), resp.StatusCode, nil
}
