// Package leaderboard triggers downstream leaderboard recomputation after a
// crawl run completes.
package leaderboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const securityHeader = "x-security-key"

// Config describes the compute endpoint.
type Config struct {
	ComputeURL  string
	SecurityKey string
	Environment string
	Timeout     time.Duration
}

// Client invokes the leaderboard compute endpoint.
type Client struct {
	http *http.Client
	cfg  Config
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.ComputeURL == "" {
		return nil, fmt.Errorf("leaderboard.compute_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}, nil
}

// Trigger requests a recomputation. Outside development, the shared security
// key rides along as a header.
func (c *Client) Trigger(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ComputeURL, nil)
	if err != nil {
		return fmt.Errorf("build compute request: %w", err)
	}
	if c.cfg.Environment != "development" {
		req.Header.Set(securityHeader, c.cfg.SecurityKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call compute endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("compute endpoint returned %s", resp.Status)
	}
	return nil
}
