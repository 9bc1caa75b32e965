// Package bench runs a fixed list of goals through the agent and records
// how many it completes.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

type Task struct {
	ID       string        `json:"id"`
	Goal     string        `json:"goal"`
	MaxSteps int           `json:"max_steps"`
	Timeout  time.Duration `json:"-"`
}

func task(id, goal string) Task {
	return Task{ID: id, Goal: goal, MaxSteps: 20, Timeout: 2 * time.Minute}
}

// DefaultTasks is the standard desktop suite.
var DefaultTasks = []Task{
	task("notepad_open", "Open Notepad"),
	task("notepad_type", "Open Notepad and type 'Hello World'"),
	task("calculator", "Open Calculator"),
	task("calc_add", "Open Calculator and compute 5 + 3"),
	task("chrome_google", "Open Chrome and go to google.com"),
	task("settings", "Open Windows Settings"),
	task("file_explorer", "Open File Explorer"),
	task("search_files", "Open File Explorer and search for 'documents'"),
	task("screenshot", "Take a screenshot using Snipping Tool"),
	task("close_window", "Close the current window"),
}

// Find returns the tasks with the given ids, or all of tasks when ids is empty.
func Find(tasks []Task, ids ...string) ([]Task, error) {
	if len(ids) == 0 {
		return tasks, nil
	}
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown benchmark task %q", id)
		}
		out = append(out, t)
	}
	return out, nil
}

type Result struct {
	TaskID    string            `json:"task_id"`
	SessionID types.SessionID   `json:"session_id,omitempty"`
	Success   bool              `json:"success"`
	Steps     int               `json:"steps"`
	Seconds   float64           `json:"time"`
	Status    types.Termination `json:"status"`
	Error     string            `json:"error,omitempty"`
}

type Run struct {
	ID        string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Results   []Result  `json:"results"`
}

// SuccessRate is the fraction of tasks that completed.
func (r *Run) SuccessRate() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return float64(n) / float64(len(r.Results))
}

// AvgSteps is the mean step count of successful tasks.
func (r *Run) AvgSteps() float64 {
	var n, steps int
	for _, res := range r.Results {
		if res.Success {
			n++
			steps += res.Steps
		}
	}
	if n == 0 {
		return 0
	}
	return float64(steps) / float64(n)
}

type runJSON struct {
	ID          string    `json:"run_id"`
	Timestamp   time.Time `json:"timestamp"`
	SuccessRate float64   `json:"success_rate"`
	AvgSteps    float64   `json:"avg_steps"`
	TotalTasks  int       `json:"total_tasks"`
	Results     []Result  `json:"results"`
}

func (r *Run) MarshalJSON() ([]byte, error) {
	results := r.Results
	if results == nil {
		results = []Result{}
	}
	return json.Marshal(runJSON{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		SuccessRate: r.SuccessRate(),
		AvgSteps:    r.AvgSteps(),
		TotalTasks:  len(r.Results),
		Results:     results,
	})
}

func (r *Run) UnmarshalJSON(data []byte) error {
	var j runJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*r = Run{ID: j.ID, Timestamp: j.Timestamp, Results: j.Results}
	return nil
}

// Agent runs one goal to completion.
type Agent interface {
	Run(ctx context.Context, req agent.Request) (*types.Session, error)
}

type Runner struct {
	agent  Agent
	store  *Store
	logger *slog.Logger
}

func NewRunner(a Agent, store *Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{agent: a, store: store, logger: logger}
}

// Run executes tasks one after another and saves the run. A cancelled ctx
// ends the run early; the partial run is still saved.
func (r *Runner) Run(ctx context.Context, tasks []Task) (*Run, error) {
	now := time.Now()
	run := &Run{ID: now.Format("20060102_150405"), Timestamp: now.UTC()}
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		res := r.runTask(ctx, t)
		r.logger.Info("benchmark task finished", "run_id", run.ID, "task", t.ID,
			"success", res.Success, "steps", res.Steps, "status", res.Status)
		run.Results = append(run.Results, res)
	}
	r.logger.Info("benchmark finished", "run_id", run.ID,
		"success_rate", run.SuccessRate(), "avg_steps", run.AvgSteps(), "tasks", len(run.Results))
	if r.store != nil {
		if err := r.store.Save(run); err != nil {
			return run, err
		}
	}
	return run, ctx.Err()
}

func (r *Runner) runTask(ctx context.Context, t Task) Result {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	start := time.Now()
	s, err := r.agent.Run(ctx, agent.Request{Goal: t.Goal, MaxSteps: t.MaxSteps})
	res := Result{TaskID: t.ID, Seconds: time.Since(start).Seconds()}
	if s != nil {
		res.SessionID = s.ID
		res.Success = s.Completed
		res.Steps = len(s.Steps)
		res.Status = s.Reason
	}
	if err != nil {
		res.Error = err.Error()
		if res.Status == "" {
			res.Status = types.TerminationFailed
		}
	}
	return res
}

// Store keeps benchmark runs as <dir>/<run_id>.json.
type Store struct {
	dir string
}

func NewStore(dir string) *Store { return &Store{dir: dir} }

func (s *Store) Save(run *Run) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create benchmark dir: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	path := filepath.Join(s.dir, run.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename run: %w", err)
	}
	return nil
}

// List returns saved runs, newest first. Unreadable files are skipped.
func (s *Store) List() ([]*Run, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []*Run{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read benchmark dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	runs := make([]*Run, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		runs = append(runs, &run)
	}
	return runs, nil
}
