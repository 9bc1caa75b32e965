// internal/types/ids.go
package types

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string
type EventID string
type ClientID string

// sessionIDLayout sorts lexically in start order.
const sessionIDLayout = "20060102-150405"

// NewSessionID derives a sortable identifier from the run's start time.
// The uuid suffix keeps two runs started in the same second apart.
func NewSessionID(start time.Time) SessionID {
	return SessionID(start.UTC().Format(sessionIDLayout) + "-" + uuid.New().String()[:8])
}

// StartedAt recovers the start time encoded in id.
func (id SessionID) StartedAt() (time.Time, bool) {
	if len(id) < len(sessionIDLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(sessionIDLayout, string(id)[:len(sessionIDLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewClientID() ClientID {
	return ClientID(uuid.New().String())
}
