package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// TwilioClient sends SMS through the Twilio Messages REST API.
type TwilioClient struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	HTTPClient *http.Client
}

func NewTwilioClient(accountSID, authToken, from, baseURL string) *TwilioClient {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &TwilioClient{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Configured reports whether credentials and a sender number are present.
func (c *TwilioClient) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

// Send posts body to phone (E.164). Subject is ignored. Does not log the body.
func (c *TwilioClient) Send(ctx context.Context, phone, _ string, body string) error {
	if !c.Configured() {
		return fmt.Errorf("sms: twilio credentials not configured")
	}

	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.BaseURL, url.PathEscape(c.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
