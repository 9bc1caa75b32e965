// internal/types/interfaces.go
package types

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(Event)
}

// TraceStore persists sessions step by step.
type TraceStore interface {
	// SaveFrame writes a step's frame artifact and returns its name
	// relative to the session directory.
	SaveFrame(id SessionID, step int, jpeg []byte) (string, error)
	// Save durably replaces the session summary.
	Save(s *Session) error
	Load(id SessionID) (*Session, error)
	List() ([]SessionInfo, error)
}
