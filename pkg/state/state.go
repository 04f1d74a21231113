package state

import (
	"encoding/json"
	"time"
)

// InFlight describes one request the relay was tracking when it was
// suspended.
type InFlight struct {
	ID          string          `json:"id"`
	Method      string          `json:"method"`
	ForwardedAt time.Time       `json:"forwarded_at"`
	Frame       json.RawMessage `json:"frame,omitempty"`
}

// Snapshot is the relay state saved on suspend.
type Snapshot struct {
	// SavedAt is when the snapshot was taken.
	SavedAt time.Time `json:"saved_at"`

	// InFlight are requests forwarded to the router and not yet answered.
	InFlight []InFlight `json:"in_flight,omitempty"`

	// Queued are requests still waiting for a channel, oldest first.
	// Frame carries the encoded request so it can be flushed on resume.
	Queued []InFlight `json:"queued,omitempty"`
}

// IsEmpty returns true if the snapshot holds nothing.
func (s Snapshot) IsEmpty() bool {
	return s.SavedAt.IsZero() && len(s.InFlight) == 0 && len(s.Queued) == 0
}

// Fresh reports whether the snapshot was saved within ttl of now.
func (s Snapshot) Fresh(now time.Time, ttl time.Duration) bool {
	if s.SavedAt.IsZero() {
		return false
	}
	return now.Sub(s.SavedAt) <= ttl
}
