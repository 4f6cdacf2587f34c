package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nicktill/sysincident/pkg/httpx"
)

// Transport delivers batches of check-in timestamps.
type Transport interface {
	Send(ctx context.Context, timestamps []time.Time) error
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Code)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}

// HTTPTransport posts batches to the check-in endpoint.
type HTTPTransport struct {
	endpoint   string
	client     *http.Client
	maxRetries uint64
	retryBase  time.Duration
}

// NewHTTP creates a transport posting to baseURL + "/v1/checkins". Server
// errors and network failures are retried up to maxRetries times.
func NewHTTP(baseURL string, client *http.Client, maxRetries int) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPTransport{
		endpoint:   baseURL + "/v1/checkins",
		client:     client,
		maxRetries: uint64(maxRetries),
		retryBase:  200 * time.Millisecond,
	}
}

type checkinPayload struct {
	Timestamps []time.Time `json:"timestamps"`
}

// Send posts timestamps in one request.
func (t *HTTPTransport) Send(ctx context.Context, timestamps []time.Time) error {
	if len(timestamps) == 0 {
		return nil
	}

	body, err := json.Marshal(checkinPayload{Timestamps: timestamps})
	if err != nil {
		return fmt.Errorf("failed to marshal check-ins: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryBase
	policy := backoff.WithContext(backoff.WithMaxRetries(b, t.maxRetries), ctx)

	return backoff.Retry(func() error {
		err := t.post(ctx, body)
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			// The request itself is wrong, resending won't help.
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readStatusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func readStatusError(resp *http.Response) *StatusError {
	se := &StatusError{Code: resp.StatusCode}
	var er httpx.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er); err == nil {
		se.Message = er.Message
	}
	return se
}
