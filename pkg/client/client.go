// Package client sends check-ins to a sysincident server and reads back tick
// metrics.
//
//	c, err := client.New(client.Config{Endpoint: "http://localhost:8080"})
//	if err != nil {
//		return err
//	}
//	c.Start(ctx)
//	defer c.Stop(context.Background())
//
//	c.Checkin(time.Now())
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/config"
)

// Config holds configuration for the client
type Config struct {
	// Endpoint is the server base URL.
	Endpoint     string
	FlushEvery   time.Duration
	MaxBatchSize int
	MaxRetries   int
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client batches check-ins and queries tick metrics.
type Client struct {
	endpoint string
	http     *http.Client
	batcher  *Batcher
}

// New creates a client. Batches never exceed config.MaxCheckinsPerRequest.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > config.MaxCheckinsPerRequest {
		cfg.MaxBatchSize = config.MaxCheckinsPerRequest
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	transport := NewHTTP(cfg.Endpoint, cfg.HTTPClient, cfg.MaxRetries)
	return &Client{
		endpoint: cfg.Endpoint,
		http:     cfg.HTTPClient,
		batcher: NewBatcher(transport, BatchConfig{
			MaxBatchSize: cfg.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
			SendTimeout:  config.IngestTimeout,
		}, cfg.Logger),
	}, nil
}

// Start begins periodic flushing.
func (c *Client) Start(ctx context.Context) {
	c.batcher.Start(ctx)
}

// Stop flushes pending check-ins and stops the client.
func (c *Client) Stop(ctx context.Context) error {
	return c.batcher.Stop(ctx)
}

// Checkin queues one check-in received at ts.
func (c *Client) Checkin(ts time.Time) {
	c.batcher.Add(ts)
}

// Flush sends queued check-ins immediately.
func (c *Client) Flush(ctx context.Context) error {
	return c.batcher.Flush(ctx)
}

type metricResponse struct {
	PctDeviation float64 `json:"pct_deviation"`
}

// Metric returns the stored deviation for the minute containing t, or false
// if none was recorded.
func (c *Client) Metric(ctx context.Context, t time.Time) (float64, bool, error) {
	url := fmt.Sprintf("%s/v1/ticks/%d/metric", c.endpoint, t.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, nil
	case resp.StatusCode != http.StatusOK:
		return 0, false, readStatusError(resp)
	}

	var m metricResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return 0, false, fmt.Errorf("failed to decode metric: %w", err)
	}
	return m.PctDeviation, true, nil
}
