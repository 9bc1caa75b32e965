// internal/trace/recorder_test.go
package trace

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/eatd/vl-desktop-agent/internal/action"
	"github.com/eatd/vl-desktop-agent/internal/geometry"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

func sampleSession(id types.SessionID, start time.Time) *types.Session {
	return &types.Session{
		ID:        id,
		Goal:      "open notepad",
		DryRun:    true,
		Screen:    geometry.Size{W: 1920, H: 1080},
		Reference: geometry.DefaultReference,
		StartedAt: start,
	}
}

func addStep(s *types.Session, a action.Action, outcome types.Outcome) {
	n := len(s.Steps) + 1
	s.Steps = append(s.Steps, types.Step{
		Number:    n,
		Action:    a,
		Raw:       `{"action":"x"}`,
		Outcome:   outcome,
		Score:     float64(n),
		Measured:  a != nil,
		StartedAt: s.StartedAt.Add(time.Duration(n) * time.Second),
		Duration:  250 * time.Millisecond,
	})
	s.StepCount = len(s.Steps)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := NewRecorder(t.TempDir())
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := sampleSession("20250301-100000-abcd1234", start)

	addStep(s, action.Click{Meta: action.Meta{Rationale: "start menu", Confidence: 0.8}, At: action.Point{X: 20, Y: 990}}, types.OutcomeDryRun)
	if err := r.Save(s); err != nil {
		t.Fatal(err)
	}
	addStep(s, nil, types.OutcomeParseFailed)
	addStep(s, action.Type{Text: "notepad", Anchor: &action.Point{X: 500, Y: 40}}, types.OutcomeDryRun)
	addStep(s, action.Done{Meta: action.Meta{Rationale: "open"}}, types.OutcomeDryRun)
	end := start.Add(time.Minute)
	s.EndedAt = &end
	s.Completed = true
	s.Reason = types.TerminationCompleted
	if err := r.Save(s); err != nil {
		t.Fatal(err)
	}

	got, err := r.Load(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
	for i, st := range got.Steps {
		if st.Number != i+1 {
			t.Errorf("step %d has number %d", i, st.Number)
		}
	}
}

func TestJournalSurvivesMissingSummary(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(root)
	s := sampleSession("crash", time.Now().UTC())
	addStep(s, action.Scroll{Amount: -3}, types.OutcomeExecuted)
	addStep(s, action.Wait{Duration: time.Second}, types.OutcomeExecuted)
	if err := r.Save(s); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash that lost the summary rewrite.
	if err := os.Remove(filepath.Join(root, "crash", summaryFile)); err != nil {
		t.Fatal(err)
	}
	got, err := r.Load("crash")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 2 || got.Steps[1].Number != 2 {
		t.Fatalf("expected 2 journaled steps, got %+v", got.Steps)
	}
}

func TestJournalIgnoresTornLine(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(root)
	s := sampleSession("torn", time.Now().UTC())
	addStep(s, action.Scroll{Amount: 3}, types.OutcomeExecuted)
	if err := r.Save(s); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(filepath.Join(root, "torn", journalFile), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"step":2,"outc`)
	f.Close()

	got, err := r.Load("torn")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 1 {
		t.Errorf("expected 1 step, got %d", len(got.Steps))
	}
}

func TestFailedAppendLeavesJournalUntouched(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(root)
	s := sampleSession("partial", time.Now().UTC())
	addStep(s, action.Scroll{Amount: 3}, types.OutcomeExecuted)
	if err := r.Save(s); err != nil {
		t.Fatal(err)
	}

	addStep(s, action.Scroll{Amount: -1}, types.OutcomeExecuted)
	addStep(s, action.Wait{Duration: time.Second}, types.OutcomeExecuted)
	s.Steps[2].Score = math.NaN()
	if err := r.Save(s); err == nil {
		t.Fatal("expected marshal error for NaN score")
	}

	s.Steps[2].Score = 3
	if err := r.Save(s); err != nil {
		t.Fatal(err)
	}
	steps, err := readSteps(filepath.Join(root, "partial", journalFile))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(root, "partial", journalFile))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 3 {
		t.Errorf("journal has %d lines, want 3", lines)
	}
	for i, st := range steps {
		if st.Number != i+1 {
			t.Errorf("step %d has number %d", i, st.Number)
		}
	}
}

func TestJournalSkipsRepeatedSteps(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(root)
	s := sampleSession("repeat", time.Now().UTC())
	addStep(s, action.Scroll{Amount: 3}, types.OutcomeExecuted)
	addStep(s, action.Scroll{Amount: 2}, types.OutcomeExecuted)
	path := filepath.Join(root, "repeat", journalFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := appendSteps(path, s.Steps); err != nil {
		t.Fatal(err)
	}
	addStep(s, action.Scroll{Amount: 1}, types.OutcomeExecuted)
	if err := appendSteps(path, s.Steps[1:]); err != nil {
		t.Fatal(err)
	}

	got, err := r.Load("repeat")
	if err != nil {
		t.Fatal(err)
	}
	var numbers []int
	for _, st := range got.Steps {
		numbers = append(numbers, st.Number)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, numbers); diff != "" {
		t.Errorf("step numbers (-want +got):\n%s", diff)
	}
}

func TestSummaryLayout(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(root)
	s := sampleSession("layout", time.Now().UTC())
	addStep(s, action.Click{At: action.Point{X: 1, Y: 2}}, types.OutcomeExecuted)
	if err := r.Save(s); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "layout", "session.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"goal", "completed", "total_steps", "steps"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("summary missing %q", key)
		}
	}
	step := doc["steps"].([]any)[0].(map[string]any)
	for _, key := range []string{"step", "action", "raw_response", "change_score", "outcome"} {
		if _, ok := step[key]; !ok {
			t.Errorf("step record missing %q", key)
		}
	}
}

func TestSaveFrame(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(root)

	name, err := r.SaveFrame("s1", 7, []byte{0xff, 0xd8, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if name != "step_007.jpg" {
		t.Errorf("unexpected frame name %q", name)
	}
	path, err := r.FramePath("s1", name)
	if err != nil {
		t.Fatal(err)
	}
	if data, err := os.ReadFile(path); err != nil || len(data) != 3 {
		t.Errorf("frame not written: %v", err)
	}
	if _, err := r.FramePath("s1", "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for traversal, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	root := t.TempDir()
	r := NewRecorder(root)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []types.SessionID{"b", "a", "c"} {
		s := sampleSession(id, base.Add(time.Duration(i)*time.Hour))
		if err := r.Save(s); err != nil {
			t.Fatal(err)
		}
	}
	os.MkdirAll(filepath.Join(root, "junk"), 0o755)

	infos, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []types.SessionID
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	if diff := cmp.Diff([]types.SessionID{"c", "a", "b"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissing(t *testing.T) {
	r := NewRecorder(t.TempDir())
	if _, err := r.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Load("../x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for invalid id, got %v", err)
	}
}

func TestListEmptyRoot(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "missing"))
	infos, err := r.List()
	if err != nil || len(infos) != 0 {
		t.Errorf("expected empty list, got %v %v", infos, err)
	}
}

var _ types.TraceStore = (*Recorder)(nil)
