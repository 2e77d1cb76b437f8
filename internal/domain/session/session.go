package session

import (
	"time"

	"paper-showcase/internal/domain/details"

	"github.com/google/uuid"
)

// Session is built once per page load and threaded through every call that
// needs to know who is asking and which item is on screen.
type Session struct {
	ID            string
	CurrentItemID int64
	IsAdmin       bool
	StartedAt     time.Time
}

func New(isAdmin bool) Session {
	return Session{
		ID:        uuid.NewString(),
		IsAdmin:   isAdmin,
		StartedAt: time.Now(),
	}
}

// WithID returns a session continuing an existing one (e.g. from a token).
func WithID(id string, isAdmin bool) Session {
	s := New(isAdmin)
	if _, err := uuid.Parse(id); err == nil {
		s.ID = id
	}
	return s
}

func (s Session) ForItem(itemID int64) Session {
	s.CurrentItemID = itemID
	return s
}

func (s Session) RequireAdmin() error {
	if !s.IsAdmin {
		return details.ErrForbidden
	}
	return nil
}
