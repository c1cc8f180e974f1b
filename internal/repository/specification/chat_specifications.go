package specification

import (
	"support-chat-be/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BySessionID struct {
	SessionID uuid.UUID
}

func (s BySessionID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("session_id = ?", s.SessionID)
}

type ByStatus struct {
	Status entity.SessionStatus
}

func (s ByStatus) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", string(s.Status))
}

// NotStatus excludes one status, e.g. closed sessions when resuming.
type NotStatus struct {
	Status entity.SessionStatus
}

func (s NotStatus) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status <> ?", string(s.Status))
}

type ByUserIdentifier struct {
	UserIdentifier string
}

func (s ByUserIdentifier) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("user_identifier = ?", s.UserIdentifier)
}
