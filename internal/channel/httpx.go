package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"notifgw/internal/backoff"
)

const maxResponseBody = 1 << 20

// HTTPClient performs outbound provider calls with bounded retries.
type HTTPClient struct {
	HTTP     *http.Client
	Attempts int
	Strategy backoff.Strategy
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		HTTP:     &http.Client{Timeout: timeout},
		Attempts: backoff.DefaultAttempts,
		Strategy: backoff.Default,
	}
}

type httpResponse struct {
	Status int
	Body   []byte
}

func (r httpResponse) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Do sends the request, retrying transport errors, 408, 429 and 5xx. The last
// response is returned even when it is not 2xx; err is only set for transport failures.
func (c *HTTPClient) Do(ctx context.Context, method, url string, header http.Header, body []byte) (httpResponse, error) {
	var out httpResponse
	err := backoff.Retry(ctx, c.Attempts, c.Strategy, func(ctx context.Context, _ int) (bool, error) {
		out = httpResponse{}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return false, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return retryable(err, 0), err
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		out = httpResponse{Status: resp.StatusCode, Body: b}
		if retryable(nil, resp.StatusCode) {
			return true, fmt.Errorf("http %d", resp.StatusCode)
		}
		return false, nil
	})
	if err != nil && out.Status != 0 {
		// Retries exhausted on a retryable status: hand back the last response.
		return out, nil
	}
	return out, err
}

// PostJSON is Do with a JSON content type.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body []byte) (httpResponse, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=utf-8")
	return c.Do(ctx, http.MethodPost, url, h, body)
}

func retryable(err error, status int) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500 && status <= 599:
		return true
	}
	return false
}
