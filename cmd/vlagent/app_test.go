package main

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/capture"
	"github.com/eatd/vl-desktop-agent/internal/config"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

func writeScreen(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	path := filepath.Join(dir, "screen.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

// scriptedModel serves OpenAI-compatible completions from a fixed list.
func scriptedModel(t *testing.T, replies ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(calls.Add(1)) - 1
		content := replies[len(replies)-1]
		if i < len(replies) {
			content = replies[i]
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(t *testing.T, modelURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = modelURL
	cfg.Capture.StaticImage = writeScreen(t, dir)
	cfg.Capture.IntervalMS = 10
	cfg.Input.Backend = "nop"
	cfg.Agent.SettleMS = 0
	cfg.Agent.FrameTimeoutMS = 1000
	cfg.Agent.ObserveEvery = 0
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppRunsGoalEndToEnd(t *testing.T) {
	srv, calls := scriptedModel(t,
		`{"action":"click","x":500,"y":500,"reasoning":"open the menu"}`,
		`{"action":"done","reasoning":"finished"}`,
	)
	cfg := testConfig(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var session *types.Session
	var runErr error
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	rt := a.runtime()
	rt.Go("run", func(ctx context.Context) error {
		defer stop()
		session, runErr = a.loop.Run(ctx, agent.Request{Goal: "open the menu"})
		return nil
	})
	if err := rt.Run(runCtx); err != nil {
		t.Fatal(err)
	}
	if runErr != nil {
		t.Fatal(runErr)
	}

	if !session.Completed || session.Reason != types.TerminationCompleted {
		t.Fatalf("expected completed session, got %+v", session.Info())
	}
	if len(session.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(session.Steps))
	}
	if got := session.Steps[0].Outcome; got != types.OutcomeExecuted {
		t.Errorf("expected first step executed, got %s", got)
	}
	if session.Screen.W != 64 || session.Screen.H != 48 {
		t.Errorf("expected screen 64x48, got %+v", session.Screen)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 model calls, got %d", n)
	}

	loaded, err := a.traces.Load(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Steps) != 2 || !loaded.Completed {
		t.Errorf("trace does not match session: %+v", loaded.Info())
	}
	if _, err := os.Stat(filepath.Join(cfg.TracePath(), string(session.ID), "step_001.jpg")); err != nil {
		t.Errorf("expected saved frame: %v", err)
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	srv, _ := scriptedModel(t, `{"action":"done"}`)

	cfg := testConfig(t, srv.URL)
	cfg.Agent.MaxSteps = 0
	if _, err := newApp(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("expected validation error")
	}

	cfg = testConfig(t, srv.URL)
	cfg.Input.Backend = "uinput"
	if _, err := newApp(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("expected unknown input backend error")
	}

	cfg = testConfig(t, srv.URL)
	cfg.Capture.StaticImage = filepath.Join(t.TempDir(), "missing.png")
	if _, err := newApp(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("expected missing static image error")
	}
}

func TestNewGrabber(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Command = []string{"cat", "screen.png"}
	g, err := newGrabber(cfg)
	if err != nil {
		t.Fatal(err)
	}
	eg, ok := g.(*capture.ExecGrabber)
	if !ok {
		t.Fatalf("expected exec grabber, got %T", g)
	}
	if eg.Command[0] != "cat" {
		t.Errorf("unexpected command %v", eg.Command)
	}

	cfg.Capture.StaticImage = writeScreen(t, t.TempDir())
	g, err = newGrabber(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(*capture.StaticGrabber); !ok {
		t.Errorf("expected static grabber, got %T", g)
	}
}
