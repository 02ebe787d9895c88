package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/unlist-sh/unlist/pkg/jobs"
)

// CaptchaService submits challenges to the solving backend and polls for
// tokens. It implements jobs.CaptchaSolver.
//
// Transient backend trouble (5xx, transport errors, a solve still in
// progress) is retried up to MaxRetries with RetryInterval between
// attempts, then surfaces as an ErrorTimeout. Rejections the backend will
// never accept fail on the first answer.
type CaptchaService struct {
	Client        *retryablehttp.Client
	BaseURL       string
	AuthToken     string
	RetryInterval time.Duration
	MaxRetries    int
	Log           jobs.Logger
}

func (s *CaptchaService) retries() int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return 10
}

func (s *CaptchaService) interval() time.Duration {
	if s.RetryInterval > 0 {
		return s.RetryInterval
	}
	return 5 * time.Second
}

func (s *CaptchaService) log() jobs.Logger {
	if s.Log != nil {
		return s.Log
	}
	return jobs.NopLogger()
}

// SubmitInformation registers a challenge and returns the backend's
// transaction id.
func (s *CaptchaService) SubmitInformation(ctx context.Context, info jobs.CaptchaInfo) (string, error) {
	body := fmt.Sprintf(`{"siteKey":%q,"url":%q,"type":%q}`, info.SiteKey, info.URL, info.Type)

	for attempt := 0; attempt <= s.retries(); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, s.interval()); err != nil {
				return "", err
			}
		}

		payload, status, err := s.post(ctx, "/captcha/submit", body)
		if err != nil {
			s.log().Warnf("captcha submit attempt %d: %v", attempt+1, err)
			continue
		}
		if status >= 500 {
			s.log().Warnf("captcha submit attempt %d: backend status %d", attempt+1, status)
			continue
		}
		if status != 200 {
			return "", &ServiceError{Kind: ErrorInvalidRequest, Op: "captcha.submit",
				Message: fmt.Sprintf("backend rejected the challenge with status %d", status)}
		}
		if gjson.Get(payload, "error").Exists() {
			return "", &ServiceError{Kind: ErrorCriticalFailure, Op: "captcha.submit",
				Message: gjson.Get(payload, "error").String()}
		}
		tx := gjson.Get(payload, "transactionId").String()
		if tx == "" {
			return "", &ServiceError{Kind: ErrorParsing, Op: "captcha.submit", Message: "response carried no transaction id"}
		}
		return tx, nil
	}
	return "", &ServiceError{Kind: ErrorTimeout, Op: "captcha.submit", Message: "backend kept failing transiently"}
}

// ResolveToken polls the backend until the solve is ready.
func (s *CaptchaService) ResolveToken(ctx context.Context, transactionID string) (string, error) {
	for attempt := 0; attempt <= s.retries(); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, s.interval()); err != nil {
				return "", err
			}
		}

		payload, status, err := s.post(ctx, "/captcha/result", fmt.Sprintf(`{"transactionId":%q}`, transactionID))
		if err != nil {
			s.log().Warnf("captcha result attempt %d: %v", attempt+1, err)
			continue
		}
		if status >= 500 {
			continue
		}
		if status != 200 {
			return "", &ServiceError{Kind: ErrorInvalidRequest, Op: "captcha.result",
				Message: fmt.Sprintf("backend status %d", status)}
		}

		switch state := gjson.Get(payload, "status").String(); state {
		case "ready":
			token := gjson.Get(payload, "token").String()
			if token == "" {
				return "", &ServiceError{Kind: ErrorParsing, Op: "captcha.result", Message: "ready result carried no token"}
			}
			return token, nil
		case "inProgress", "queued":
			continue
		case "invalidRequest":
			return "", &ServiceError{Kind: ErrorInvalidRequest, Op: "captcha.result", Message: "backend rejected the transaction"}
		default:
			return "", &ServiceError{Kind: ErrorCriticalFailure, Op: "captcha.result",
				Message: fmt.Sprintf("solve failed with status %q", state)}
		}
	}
	return "", &ServiceError{Kind: ErrorTimeout, Op: "captcha.result", Message: "solve was not ready in time"}
}

func (s *CaptchaService) post(ctx context.Context, path, body string) (payload string, status int, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", s.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
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
