// Package memory defines the core data model of the tiered conversational
// memory subsystem: live turns, compressed episode summaries, vector
// records, and the storage/backend interfaces the components depend on.
// In-memory reference implementations of the stores live alongside the
// interfaces; persistent implementations live under modules/.
package memory

import (
	"fmt"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAgent      Role = "agent"
	RoleSystemNote Role = "system-note"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleSystemNote:
		return true
	}
	return false
}

// Turn is one exchange unit in a conversation. Turns are immutable once
// created; sequence numbers are assigned by the caller and are strictly
// monotonic within a session.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`

	// AffectTag is an optional free-form tone/sentiment marker.
	AffectTag string `json:"affect_tag,omitempty"`
}

// Validate checks the structural invariants of a turn.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("memory: invalid role %q", t.Role)
	}
	if t.Text == "" {
		return fmt.Errorf("memory: turn %d has no text", t.Seq)
	}
	if t.Seq == 0 {
		return fmt.Errorf("memory: sequence numbers start at 1")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("memory: turn %d has no timestamp", t.Seq)
	}
	return nil
}
