// Package model wraps an llm.Provider with the timeout, retry, pacing and
// latency accounting the agent loop expects from its inference service.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eatd/vl-desktop-agent/internal/agenterr"
	"github.com/eatd/vl-desktop-agent/internal/types"
	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
	Retry   *RetryPolicy
	// RequestsPerMinute paces calls on the client side; 0 disables pacing.
	RequestsPerMinute int
}

func DefaultOptions() Options {
	return Options{
		Timeout: 60 * time.Second,
		Retry:   DefaultRetryPolicy(),
	}
}

// Observer receives the latency of every attempt.
type Observer func(latency time.Duration, err error)

// Client invokes the inference service.
type Client struct {
	provider  llm.Provider
	opts      Options
	limiter   *rate.Limiter
	logger    *slog.Logger
	observers []Observer

	mu    sync.Mutex
	stats types.LatencyStats
	total time.Duration
}

func New(provider llm.Provider, opts Options, logger *slog.Logger) *Client {
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{provider: provider, opts: opts, logger: logger}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

// Observe registers a latency hook. Not safe to call concurrently with Complete.
func (c *Client) Observe(o Observer) {
	c.observers = append(c.observers, o)
}

// Complete sends the conversation, retrying transient failures. Failures are
// returned as MODEL errors whose Retryable flag reflects the last attempt.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	var resp *llm.Response
	err := c.opts.Retry.Execute(ctx, func(attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("wait for rate limiter: %w", err)
			}
		}
		r, err := c.attempt(ctx, messages, tools)
		if err != nil {
			c.logger.Warn("model call failed", "attempt", attempt, "error", err)
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, agenterr.Model("complete", err, Retryable(err))
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Complete(ctx, messages, tools)
	c.record(time.Since(start), err)
	return resp, err
}

func (c *Client) record(d time.Duration, err error) {
	c.mu.Lock()
	c.stats.Count++
	if err != nil {
		c.stats.Errors++
	}
	c.total += d
	c.stats.MeanMS = float64(c.total.Microseconds()) / 1000 / float64(c.stats.Count)
	if ms := float64(d.Microseconds()) / 1000; ms > c.stats.MaxMS {
		c.stats.MaxMS = ms
	}
	c.mu.Unlock()

	for _, o := range c.observers {
		o(d, err)
	}
}

// Stats returns the aggregate latency of all attempts so far.
func (c *Client) Stats() types.LatencyStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
