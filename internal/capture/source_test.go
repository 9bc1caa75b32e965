package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/vision"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingGrabber struct {
	calls atomic.Int32
	fail  bool
}

func (g *countingGrabber) Grab(context.Context) (image.Image, error) {
	g.calls.Add(1)
	if g.fail {
		return nil, errors.New("no display")
	}
	return vision.Solid(8, 8, color.White), nil
}

func TestLatestWaitsForFirstFrame(t *testing.T) {
	src := NewSource(&countingGrabber{}, Options{Interval: 10 * time.Millisecond}, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	f, err := src.Latest(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if f.Seq == 0 || f.Size().W != 8 {
		t.Errorf("unexpected frame %+v", f)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v after cancel", err)
	}
	if _, err := src.Latest(context.Background(), time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("after stop err = %v, want ErrClosed", err)
	}
}

func TestLatestTimesOutWithoutFrames(t *testing.T) {
	src := NewSource(&countingGrabber{}, Options{}, quiet)
	_, err := src.Latest(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("err = %v, want ErrNoFrame", err)
	}
}

func TestAfterIgnoresOlderFrames(t *testing.T) {
	src := NewSource(&countingGrabber{}, Options{}, quiet)
	old := time.Now()
	src.Publish(vision.Solid(4, 4, color.Black), old)

	cutoff := old.Add(time.Second)
	got := make(chan error, 1)
	go func() {
		f, err := src.After(context.Background(), cutoff, time.Second)
		if err == nil && f.CapturedAt.Before(cutoff) {
			err = errors.New("stale frame returned")
		}
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	src.Publish(vision.Solid(4, 4, color.White), cutoff.Add(time.Millisecond))
	if err := <-got; err != nil {
		t.Fatal(err)
	}
}

func TestRepeatedFailuresCloseSource(t *testing.T) {
	g := &countingGrabber{fail: true}
	src := NewSource(g, Options{Interval: time.Millisecond, MaxFailures: 3}, quiet)

	err := src.Run(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Run err = %v, want ErrClosed", err)
	}
	if n := g.calls.Load(); n != 3 {
		t.Errorf("grab calls = %d, want 3", n)
	}
	if _, err := src.Latest(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Latest err = %v, want ErrClosed", err)
	}
}

func TestLatestHonorsContext(t *testing.T) {
	src := NewSource(&countingGrabber{}, Options{}, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Latest(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestExecGrabberRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecGrabber(nil); err == nil {
		t.Error("expected error")
	}
}
