package bench

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

type scriptedAgent struct {
	sessions map[string]*types.Session
	calls    []agent.Request
}

func (a *scriptedAgent) Run(_ context.Context, req agent.Request) (*types.Session, error) {
	a.calls = append(a.calls, req)
	s, ok := a.sessions[req.Goal]
	if !ok {
		return nil, agent.ErrAlreadyRunning
	}
	if s.Reason == types.TerminationFailed {
		return s, errors.New("run failed: capture closed")
	}
	return s, nil
}

func session(reason types.Termination, steps int) *types.Session {
	return &types.Session{
		ID:        types.SessionID("s-" + string(reason)),
		Completed: reason == types.TerminationCompleted,
		Reason:    reason,
		Steps:     make([]types.Step, steps),
	}
}

func TestRunnerRecordsResults(t *testing.T) {
	tasks := []Task{
		{ID: "a", Goal: "goal a", MaxSteps: 5},
		{ID: "b", Goal: "goal b", MaxSteps: 5},
		{ID: "c", Goal: "goal c", MaxSteps: 5},
		{ID: "d", Goal: "goal d", MaxSteps: 5},
	}
	ag := &scriptedAgent{sessions: map[string]*types.Session{
		"goal a": session(types.TerminationCompleted, 3),
		"goal b": session(types.TerminationBudget, 5),
		"goal c": session(types.TerminationCompleted, 5),
		"goal d": session(types.TerminationFailed, 1),
	}}
	store := NewStore(filepath.Join(t.TempDir(), "benchmarks"))

	run, err := NewRunner(ag, store, nil).Run(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if len(ag.calls) != 4 || ag.calls[0].MaxSteps != 5 {
		t.Errorf("unexpected calls %+v", ag.calls)
	}
	if got := run.SuccessRate(); got != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", got)
	}
	if got := run.AvgSteps(); got != 4 {
		t.Errorf("expected avg steps 4, got %v", got)
	}
	if run.Results[3].Error == "" || run.Results[3].Status != types.TerminationFailed {
		t.Errorf("failed task not recorded: %+v", run.Results[3])
	}

	if _, err := os.Stat(filepath.Join(store.dir, run.ID+".json")); err != nil {
		t.Fatalf("run not saved: %v", err)
	}
	runs, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if diff := cmp.Diff(run.Results, runs[0].Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerAgentError(t *testing.T) {
	ag := &scriptedAgent{}
	run, err := NewRunner(ag, nil, nil).Run(context.Background(), []Task{{ID: "x", Goal: "unknown"}})
	if err != nil {
		t.Fatal(err)
	}
	res := run.Results[0]
	if res.Success || res.Status != types.TerminationFailed || res.Error == "" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ag := &scriptedAgent{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := NewRunner(ag, nil, nil).Run(ctx, DefaultTasks)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(run.Results) != 0 || len(ag.calls) != 0 {
		t.Error("no task should run after cancel")
	}
}

func TestRunJSON(t *testing.T) {
	run := &Run{ID: "20260101_120000", Results: []Result{
		{TaskID: "a", Success: true, Steps: 2},
		{TaskID: "b", Success: false, Steps: 9},
	}}
	data, err := json.Marshal(run)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["success_rate"] != 0.5 || m["avg_steps"] != 2.0 || m["total_tasks"] != 2.0 {
		t.Errorf("unexpected summary %v", m)
	}
}

func TestStoreListOrderAndMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "none"))
	runs, err := store.List()
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected empty list, got %v, %v", runs, err)
	}

	for _, id := range []string{"20260101_000000", "20260301_000000", "20260201_000000"} {
		if err := store.Save(&Run{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(store.dir, "broken.json"), []byte("{"), 0o644)

	runs, err = store.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	want := []string{"20260301_000000", "20260201_000000", "20260101_000000"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestFind(t *testing.T) {
	got, err := Find(DefaultTasks, "calculator", "notepad_open")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "calculator" {
		t.Errorf("unexpected tasks %+v", got)
	}
	if _, err := Find(DefaultTasks, "nope"); err == nil {
		t.Error("expected error for unknown task")
	}
	all, _ := Find(DefaultTasks)
	if len(all) != len(DefaultTasks) {
		t.Error("empty ids should select all tasks")
	}
}
