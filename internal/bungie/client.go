// Package bungie implements the rate-limited client for the Destiny 2
// platform API.
package bungie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config controls client behavior.
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client talks to the platform API with shared rate limiting and bounded
// retries. All methods are safe for concurrent use.
type Client struct {
	http        *http.Client
	baseURL     *url.URL
	apiKey      string
	limiter     *Limiter
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, limiter *Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("bungie api key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://www.bungie.net/Platform/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Client{
		http:        &http.Client{Timeout: timeout},
		baseURL:     u,
		apiKey:      cfg.APIKey,
		limiter:     limiter,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger,
	}, nil
}

// GetProfile fetches the profile and characters components for a player. A
// private profile (error code 1665) is an expected steady-state condition and
// yields an empty response rather than an error.
func (c *Client) GetProfile(ctx context.Context, membershipID int64, membershipType int) (*ProfileResponse, error) {
	path := fmt.Sprintf("Destiny2/%d/Profile/%d/?components=100,200", membershipType, membershipID)
	profile, err := call[ProfileResponse](c, ctx, "GetProfile", path)
	if err != nil {
		if IsPrivateProfile(err) {
			c.logger.Debug("private profile, synthesizing empty response",
				zap.Int64("membership_id", membershipID))
			return &ProfileResponse{}, nil
		}
		return nil, err
	}
	return profile, nil
}

// GetActivityHistory fetches one page of a character's match history, most
// recent first. Mode 7 restricts the listing to PvE activities.
func (c *Client) GetActivityHistory(ctx context.Context, membershipID int64, membershipType int, characterID string, page, count int) (*ActivityHistory, error) {
	path := fmt.Sprintf("Destiny2/%d/Account/%d/Character/%s/Stats/Activities/?page=%d&mode=7&count=%d",
		membershipType, membershipID, url.PathEscape(characterID), page, count)
	return call[ActivityHistory](c, ctx, "GetActivityHistory", path)
}

// GetPostGameCarnageReport fetches the full report for one activity instance.
func (c *Client) GetPostGameCarnageReport(ctx context.Context, instanceID int64) (*PostGameCarnageReport, error) {
	path := fmt.Sprintf("Destiny2/Stats/PostGameCarnageReport/%d/", instanceID)
	return call[PostGameCarnageReport](c, ctx, "GetPostGameCarnageReport", path)
}

// call performs a rate-limited GET with retries and decodes the envelope.
func call[T any](c *Client, ctx context.Context, endpoint, path string) (*T, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, endpoint); err != nil {
				return nil, err
			}
		}

		body, err := c.send(ctx, path)
		if err == nil {
			var env envelope[T]
			if decodeErr := json.Unmarshal(body, &env); decodeErr != nil {
				err = &TransientError{Err: fmt.Errorf("decode response: %w", decodeErr)}
			} else {
				return &env.Response, nil
			}
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, ctx.Err())
		}

		lastErr = err
		if attempt < c.maxAttempts {
			c.logger.Warn("upstream call failed, retrying",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%s: %w", endpoint, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("%s: attempts exhausted: %w", endpoint, lastErr)
}

// send issues one HTTP GET. Non-2xx responses are parsed into *APIError when
// the body carries the platform error shape; everything else is transient.
func (c *Client) send(ctx context.Context, path string) ([]byte, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse request path: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err == nil && env.ErrorCode != 0 {
		return nil, &APIError{
			Code:            env.ErrorCode,
			Status:          env.ErrorStatus,
			Message:         env.Message,
			ThrottleSeconds: env.ThrottleSeconds,
			HTTPStatus:      resp.StatusCode,
		}
	}
	return nil, &TransientError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
}
