package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChatSession struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	UserIdentifier string         `gorm:"type:varchar(128);not null;index:idx_support_sessions_user_status,priority:1"`
	Status         string         `gorm:"type:varchar(16);not null;index:idx_support_sessions_user_status,priority:2;index:idx_support_sessions_status_created,priority:1"`
	QueuePosition  *int           `gorm:"type:integer"`
	UserName       string         `gorm:"type:varchar(200)"`
	UserEmail      string         `gorm:"type:varchar(200)"`
	UserPhone      string         `gorm:"type:varchar(50)"`
	IntakeExtra    datatypes.JSON `gorm:"type:jsonb"`
	ClosedBy       string         `gorm:"type:varchar(16)"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_support_sessions_status_created,priority:2"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
}

func (ChatSession) TableName() string {
	return "support_chat_sessions"
}
