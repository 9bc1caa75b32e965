package model

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/agenterr"
	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

type mockProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (*llm.Response, error)
}

func (m *mockProvider) Complete(ctx context.Context, _ []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	return m.fn(ctx, int(m.calls.Add(1)))
}

func testOptions() Options {
	return Options{Timeout: time.Second, Retry: fastPolicy(3)}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	p := &mockProvider{fn: func(_ context.Context, call int) (*llm.Response, error) {
		if call < 3 {
			return nil, &llm.StatusError{Code: 503}
		}
		return &llm.Response{Content: `{"action":"done"}`}, nil
	}}
	c := New(p, testOptions(), nil)

	resp, err := c.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content == "" {
		t.Error("expected content")
	}
	if p.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", p.calls.Load())
	}
	stats := c.Stats()
	if stats.Count != 3 || stats.Errors != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestClientAbortsOnPermanentFailure(t *testing.T) {
	p := &mockProvider{fn: func(context.Context, int) (*llm.Response, error) {
		return nil, &llm.StatusError{Code: 401, Body: "bad key"}
	}}
	c := New(p, testOptions(), nil)

	_, err := c.Complete(context.Background(), nil, nil)
	if agenterr.CategoryOf(err) != agenterr.CategoryModel {
		t.Fatalf("expected MODEL error, got %v", err)
	}
	if agenterr.IsRetryable(err) {
		t.Error("auth failure should not be retryable")
	}
	if p.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", p.calls.Load())
	}
	var se *llm.StatusError
	if !errors.As(err, &se) {
		t.Error("status error should stay in the chain")
	}
}

func TestClientAttemptTimeout(t *testing.T) {
	p := &mockProvider{fn: func(ctx context.Context, call int) (*llm.Response, error) {
		if call == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &llm.Response{Content: "ok"}, nil
	}}
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	c := New(p, opts, nil)

	if _, err := c.Complete(context.Background(), nil, nil); err != nil {
		t.Fatalf("expected the retry after a timed out attempt to succeed, got %v", err)
	}
}

func TestClientObserver(t *testing.T) {
	p := &mockProvider{fn: func(context.Context, int) (*llm.Response, error) {
		return &llm.Response{Content: "ok"}, nil
	}}
	c := New(p, testOptions(), nil)
	var seen int
	c.Observe(func(d time.Duration, err error) {
		seen++
		if err != nil || d < 0 {
			t.Errorf("unexpected observation %v %v", d, err)
		}
	})

	for i := 0; i < 2; i++ {
		if _, err := c.Complete(context.Background(), nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if seen != 2 {
		t.Errorf("expected 2 observations, got %d", seen)
	}
	if c.Stats().Count != 2 {
		t.Errorf("expected count 2, got %d", c.Stats().Count)
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), "openai", &llm.Config{BaseURL: "http://localhost:1234/v1"})
	if err != nil || p == nil {
		t.Fatalf("openai provider: %v", err)
	}
	if _, err := NewProvider(context.Background(), "smoke-signals", &llm.Config{}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
