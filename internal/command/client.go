// Package command sends console commands to a server through G-Portal's
// GraphQL mutation endpoint. It is deliberately separate from the WebSocket
// core: a plain authenticated POST with its own retry and rate-limit policy,
// sharing only the server id/region addressing scheme.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wdc-gp/gustlink"
)

const sendConsoleMessageMutation = `mutation sendConsoleMessage($sid: Int!, $region: REGION!, $message: String!) {
  sendConsoleMessage(rsid: {id: $sid, region: $region}, message: $message) {
    ok
    __typename
  }
}`

// Options configures a command client.
type Options struct {
	Endpoint       string        // GraphQL HTTP endpoint
	RequestTimeout time.Duration // per-attempt bound, default 10s
	MaxRetries     int           // attempts beyond the first, default 2
	RetryDelay     time.Duration // base delay between attempts, default 500ms
	RatePerSecond  float64       // token bucket refill, default 2
	Burst          int           // token bucket capacity, default 5

	HTTPClient *http.Client
	Logger     *logrus.Entry
}

func (o *Options) normalize() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 2
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.New())
	}
}

// Client posts console commands. Safe for concurrent use; one shared token
// bucket paces all callers.
type Client struct {
	opts    Options
	token   string
	limiter *rate.Limiter
	log     *logrus.Entry
}

// New builds a command client authenticating with token.
func New(token string, opts Options) *Client {
	opts.normalize()
	return &Client{
		opts:    opts,
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		log:     opts.Logger.WithField("component", "command"),
	}
}

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data struct {
		SendConsoleMessage struct {
			OK bool `json:"ok"`
		} `json:"sendConsoleMessage"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts one console command for the given server.
//
// Auth rejections (401/403) wrap gustlink.ErrAuthRejected and are never
// retried; transient transport and 5xx failures retry up to MaxRetries with
// a growing delay.
func (c *Client) Send(ctx context.Context, serverID int, region gustlink.Region, message string) error {
	if serverID <= 0 {
		return gustlink.ErrInvalidServerID
	}
	if _, err := gustlink.ParseRegion(string(region)); err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(gqlRequest{
		OperationName: "sendConsoleMessage",
		Query:         sendConsoleMessageMutation,
		Variables: map[string]any{
			"sid":     serverID,
			"region":  string(region),
			"message": message,
		},
	})
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}

	delay := c.opts.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.WithFields(logrus.Fields{"server_id": serverID, "attempt": attempt}).Debug("retrying command")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, gustlink.ErrAuthRejected) {
			return lastErr
		}
	}
	return fmt.Errorf("command not delivered after %d attempts: %w", c.opts.MaxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post mutation: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", resp.StatusCode, gustlink.ErrAuthRejected)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var parsed gqlResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("mutation rejected: %s", parsed.Errors[0].Message)
	}
	if !parsed.Data.SendConsoleMessage.OK {
		return fmt.Errorf("mutation reported not ok")
	}
	return nil
}
