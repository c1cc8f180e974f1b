package entity

import (
	"time"

	"github.com/google/uuid"
)

type SenderType string

const (
	SenderUser    SenderType = "user"
	SenderManager SenderType = "manager"
)

func (s SenderType) Valid() bool {
	return s == SenderUser || s == SenderManager
}

// ChatMessage is immutable once appended. Seq orders messages of one session.
type ChatMessage struct {
	Id         uuid.UUID
	SessionId  uuid.UUID
	SenderType SenderType
	Text       string
	Seq        int64
	CreatedAt  time.Time
}
