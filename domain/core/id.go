package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	UserID    ID
	ModelID   ID
	SessionID ID
	RunID     ID
)

func (id UserID) String() string    { return ID(id).String() }
func (id ModelID) String() string   { return ID(id).String() }
func (id SessionID) String() string { return ID(id).String() }
func (id RunID) String() string     { return ID(id).String() }

// NewModelID returns a fresh learned-model identifier.
func NewModelID() ModelID { return ModelID(NewID()) }

// NewSessionID returns a fresh tracking-session identifier.
func NewSessionID() SessionID { return SessionID(NewID()) }

// NewRunID returns a fresh training-run identifier.
func NewRunID() RunID { return RunID(NewID()) }

// ParseUserID validates a user key. User keys are opaque strings chosen by the
// caller (the persisted model is keyed by them).
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("user ID cannot be empty")
	}
	if len(s) > 128 {
		return "", fmt.Errorf("user ID too long (%d > 128)", len(s))
	}
	return UserID(s), nil
}
