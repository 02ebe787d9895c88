package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

// AuthService redeems invite codes for backend access tokens.
type AuthService struct {
	Client  *retryablehttp.Client
	BaseURL string
}

// RedeemInviteCode exchanges an invite code for an access token. Rejections
// come back with the backend's human-readable message attached.
func (s *AuthService) RedeemInviteCode(ctx context.Context, code string) (string, error) {
	body := fmt.Sprintf(`{"code":%q}`, code)
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", s.BaseURL+"/invites/redeem", strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	payload := string(raw)
	if resp.StatusCode != 200 {
		msg := gjson.Get(payload, "message").String()
		if msg == "" {
			msg = fmt.Sprintf("redeem failed with status %d", resp.StatusCode)
		}
		return "", &ServiceError{Kind: ErrorInvalidRequest, Op: "auth.redeem", Message: msg}
	}

	token := gjson.Get(payload, "accessToken").String()
	if token == "" {
		return "", &ServiceError{Kind: ErrorParsing, Op: "auth.redeem", Message: "response carried no access token"}
	}
	return token, nil
}
