package entity

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusNew    SessionStatus = "new"
	SessionStatusQueued SessionStatus = "queued"
	SessionStatusActive SessionStatus = "active"
	SessionStatusClosed SessionStatus = "closed"
)

// ClosedBy records which side ended a conversation.
type ClosedBy string

const (
	ClosedByVisitor  ClosedBy = "visitor"
	ClosedByOperator ClosedBy = "operator"
	ClosedByAdmin    ClosedBy = "admin"
)

type ChatSession struct {
	Id             uuid.UUID
	UserIdentifier string
	Status         SessionStatus
	QueuePosition  *int
	UserName       string
	UserEmail      string
	UserPhone      string
	IntakeExtra    map[string]string
	ClosedBy       ClosedBy
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (s *ChatSession) IsClosed() bool {
	return s.Status == SessionStatusClosed
}

// HasIntake reports whether the questionnaire was already captured.
func (s *ChatSession) HasIntake() bool {
	return s.UserName != "" || s.UserEmail != "" || s.UserPhone != ""
}

// Clone returns a deep copy so callers never share the queue position pointer.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.QueuePosition != nil {
		p := *s.QueuePosition
		c.QueuePosition = &p
	}
	if s.IntakeExtra != nil {
		c.IntakeExtra = make(map[string]string, len(s.IntakeExtra))
		for k, v := range s.IntakeExtra {
			c.IntakeExtra[k] = v
		}
	}
	return &c
}
