// Package dto holds the request and response bodies of the support HTTP API,
// shared by the server and by clients such as pkg/chatclient.
package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	UserIdentifier string            `json:"userIdentifier" validate:"required,max=128"`
	SessionId      *uuid.UUID        `json:"sessionId"`
	Name           string            `json:"name" validate:"max=200"`
	Email          string            `json:"email" validate:"omitempty,email,max=200"`
	Phone          string            `json:"phone" validate:"max=40"`
	Extra          map[string]string `json:"extra" validate:"max=20,dive,keys,max=64,endkeys,max=1000"`
}

type IntakeRequest struct {
	Name  string            `json:"name" validate:"required_without_all=Email Phone,max=200"`
	Email string            `json:"email" validate:"omitempty,email,max=200"`
	Phone string            `json:"phone" validate:"max=40"`
	Extra map[string]string `json:"extra" validate:"max=20,dive,keys,max=64,endkeys,max=1000"`
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type SessionResponse struct {
	Id             uuid.UUID `json:"id"`
	UserIdentifier string    `json:"userIdentifier"`
	Status         string    `json:"status"`
	QueuePosition  *int      `json:"queuePosition"`
	HasIntake      bool      `json:"hasIntake"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	ClosedBy       string    `json:"closedBy,omitempty"`
	Resumed        bool      `json:"resumed"`
}

type MessageResponse struct {
	Id         uuid.UUID `json:"id"`
	SessionId  uuid.UUID `json:"sessionId"`
	SenderType string    `json:"senderType"`
	Text       string    `json:"text"`
	Seq        int64     `json:"seq"`
	CreatedAt  time.Time `json:"timestamp"`
}

type StatusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queuePosition"`
}

type CloseSessionResponse struct {
	Promoted bool `json:"promoted"`
}

type QueueEntryResponse struct {
	Id            uuid.UUID `json:"id"`
	UserName      string    `json:"userName,omitempty"`
	Status        string    `json:"status"`
	QueuePosition *int      `json:"queuePosition"`
	CreatedAt     time.Time `json:"createdAt"`
}

type QueueSnapshotResponse struct {
	Capacity int                  `json:"capacity"`
	Active   []QueueEntryResponse `json:"active"`
	Queued   []QueueEntryResponse `json:"queued"`
}
