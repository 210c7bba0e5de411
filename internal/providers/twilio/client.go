// Package twilio is a minimal client for the Programmable Messaging REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://api.twilio.com"

type Client struct {
	AccountSID string
	AuthToken  string
	HTTP       *http.Client

	// MessagingServiceSID takes precedence over FromNumber when both are set.
	MessagingServiceSID string
	FromNumber          string
	BaseURL             string
}

type SendRequest struct {
	To                string
	Body              string
	StatusCallbackURL string
}

type SendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

// APIError is a non-2xx answer from Twilio.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("twilio: http %d", e.Status)
	}
	return fmt.Sprintf("twilio: http %d: %s", e.Status, e.Message)
}

// SendSMS creates one message. The HTTP status is returned alongside any error so
// callers can decide whether to retry.
func (c *Client) SendSMS(ctx context.Context, req SendRequest) (SendResponse, int, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("Body", req.Body)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
	}
	if c.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", c.MessagingServiceSID)
	} else {
		form.Set("From", c.FromNumber)
	}

	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	endpoint := base + "/2010-04-01/Accounts/" + c.AccountSID + "/Messages.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResponse{}, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.AccountSID, c.AuthToken)

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return SendResponse{}, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	// 201 Created on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, resp.StatusCode, &APIError{Status: resp.StatusCode, Message: out.Message}
	}
	return out, resp.StatusCode, nil
}
