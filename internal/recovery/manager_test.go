package recovery

import (
	"strings"
	"testing"
	"time"
)

func TestArmsAfterConsecutiveNoEffect(t *testing.T) {
	m := New(Options{NoEffect: 2, StuckAfter: 3})

	for i := 0; i < 2; i++ {
		if m.Observe(0, "Click at (1, 1)") {
			t.Fatalf("armed too early at observation %d", i+1)
		}
	}
	if _, ok := m.Pending(); ok {
		t.Fatal("nothing should be pending before the threshold")
	}
	if !m.Observe(0, "Click at (1, 1)") {
		t.Fatal("expected third no-effect step to arm")
	}
	if m.Count() != 0 {
		t.Errorf("counter should reset on arming, got %d", m.Count())
	}

	d, ok := m.Pending()
	if !ok || d.Hint == "" {
		t.Fatal("expected a pending hint")
	}
	if !strings.Contains(d.Hint, "last 3 actions") || strings.Count(d.Hint, "Click at (1, 1)") != 3 {
		t.Errorf("unexpected hint %q", d.Hint)
	}
	if d.Wait != 0 {
		t.Errorf("hint mode should not force a wait, got %v", d.Wait)
	}
	if _, ok := m.Pending(); ok {
		t.Error("directive must be consumed exactly once")
	}
}

func TestEffectResetsCounter(t *testing.T) {
	m := New(Options{NoEffect: 2, StuckAfter: 3})
	m.Observe(0, "a")
	m.Observe(1.9, "b")
	m.Observe(5, "c")
	if m.Count() != 0 {
		t.Fatalf("visible change should reset counter, got %d", m.Count())
	}
	m.Observe(0, "d")
	m.Observe(0, "e")
	if m.Observe(2.0, "f") {
		t.Error("score at the threshold counts as an effect")
	}
}

func TestWaitMode(t *testing.T) {
	m := New(Options{NoEffect: 2, StuckAfter: 1, Mode: ModeWait})
	m.Observe(0, "Scroll down 3")
	d, ok := m.Pending()
	if !ok {
		t.Fatal("expected directive")
	}
	if d.Wait != DefaultOptions().Wait {
		t.Errorf("expected default wait, got %v", d.Wait)
	}

	m = New(Options{NoEffect: 2, StuckAfter: 1, Mode: ModeWait, Wait: 500 * time.Millisecond})
	m.Observe(0, "x")
	if d, _ := m.Pending(); d.Wait != 500*time.Millisecond {
		t.Errorf("expected configured wait, got %v", d.Wait)
	}
}

func TestReset(t *testing.T) {
	m := New(Options{NoEffect: 2, StuckAfter: 2})
	m.Observe(0, "a")
	m.Observe(0, "b")
	m.Reset()
	if _, ok := m.Pending(); ok || m.Count() != 0 {
		t.Error("reset should clear pending directive and counter")
	}
}
