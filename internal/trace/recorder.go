// internal/trace/recorder.go
package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/eatd/vl-desktop-agent/internal/types"
)

var ErrNotFound = errors.New("trace not found")

const (
	summaryFile = "session.json"
	journalFile = "steps.jsonl"
)

// Recorder is a file-backed TraceStore. Each session lives in
// <root>/<session-id>/ with a session.json summary, a steps.jsonl journal
// and one step_NNN.jpg per captured step.
type Recorder struct {
	root string

	mu        sync.Mutex
	journaled map[types.SessionID]int
}

// NewRecorder creates a Recorder rooted at the given directory.
func NewRecorder(root string) *Recorder {
	return &Recorder{root: root, journaled: make(map[types.SessionID]int)}
}

func (r *Recorder) Root() string { return r.root }

// Dir returns the directory of a session, rejecting ids that would escape root.
func (r *Recorder) Dir(id types.SessionID) (string, error) {
	s := string(id)
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return "", fmt.Errorf("%w: invalid id %q", ErrNotFound, s)
	}
	return filepath.Join(r.root, s), nil
}

// FramePath returns the path of a frame artifact previously returned by SaveFrame.
func (r *Recorder) FramePath(id types.SessionID, name string) (string, error) {
	dir, err := r.Dir(id)
	if err != nil {
		return "", err
	}
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".jpg") {
		return "", fmt.Errorf("%w: invalid frame %q", ErrNotFound, name)
	}
	return filepath.Join(dir, name), nil
}

func (r *Recorder) SaveFrame(id types.SessionID, step int, jpeg []byte) (string, error) {
	dir, err := r.Dir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	name := fmt.Sprintf("step_%03d.jpg", step)
	if err := writeAtomic(filepath.Join(dir, name), jpeg); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	return name, nil
}

// Save journals steps not yet written and then replaces the summary. Both
// are synced to disk before Save returns.
func (r *Recorder) Save(s *types.Session) error {
	dir, err := r.Dir(s.ID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	done := r.journaled[s.ID]
	if done < len(s.Steps) {
		if err := appendSteps(filepath.Join(dir, journalFile), s.Steps[done:]); err != nil {
			return err
		}
		r.journaled[s.ID] = len(s.Steps)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, summaryFile), data); err != nil {
		return fmt.Errorf("write session summary: %w", err)
	}
	if s.EndedAt != nil {
		delete(r.journaled, s.ID)
	}
	return nil
}

// Load reads a session. When the journal holds more steps than the
// summary (a crash between the two writes), the journal wins.
func (r *Recorder) Load(id types.SessionID) (*types.Session, error) {
	dir, err := r.Dir(id)
	if err != nil {
		return nil, err
	}

	var s types.Session
	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	switch {
	case os.IsNotExist(err):
		s.ID = id
	case err != nil:
		return nil, fmt.Errorf("read session summary: %w", err)
	default:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
	}

	steps, err := readSteps(filepath.Join(dir, journalFile))
	if err != nil {
		return nil, err
	}
	if data == nil && steps == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(steps) > len(s.Steps) {
		s.Steps = steps
		s.StepCount = len(steps)
	}
	return &s, nil
}

// List returns all sessions, newest first. Unreadable directories are skipped.
func (r *Recorder) List() ([]types.SessionInfo, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trace dir: %w", err)
	}

	var out []types.SessionInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := r.Load(types.SessionID(e.Name()))
		if err != nil {
			continue
		}
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// appendSteps writes steps as one batch. On failure the journal is cut back
// to its previous length so a retried Save does not repeat lines.
func appendSteps(path string, steps []types.Step) (err error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step journal: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat step journal: %w", err)
	}
	defer func() {
		if err != nil {
			if terr := f.Truncate(info.Size()); terr != nil {
				err = errors.Join(err, fmt.Errorf("truncate step journal: %w", terr))
			}
		}
	}()

	for _, st := range steps {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal step %d: %w", st.Number, err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write step %d: %w", st.Number, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync step journal: %w", err)
	}
	return nil
}

func readSteps(path string) ([]types.Step, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open step journal: %w", err)
	}
	defer f.Close()

	var steps []types.Step
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var st types.Step
		if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
			// A torn final line from a crash mid-append.
			break
		}
		// Numbers only grow; anything else is a repeat of a line already read.
		if n := len(steps); n > 0 && st.Number <= steps[n-1].Number {
			continue
		}
		steps = append(steps, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan step journal: %w", err)
	}
	return steps, nil
}

// writeAtomic writes via a synced temp file and rename.
func writeAtomic(target string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
