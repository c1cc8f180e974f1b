package model

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessage struct {
	Id         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_support_messages_session_seq,priority:1"`
	SenderType string    `gorm:"type:varchar(16);not null"`
	Text       string    `gorm:"type:text;not null"`
	Seq        int64     `gorm:"not null;uniqueIndex:idx_support_messages_session_seq,priority:2"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ChatMessage) TableName() string {
	return "support_chat_messages"
}
