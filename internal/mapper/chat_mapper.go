package mapper

import (
	"encoding/json"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/model"

	"gorm.io/datatypes"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Session Mappers

func (m *ChatMapper) ChatSessionToEntity(s *model.ChatSession) *entity.ChatSession {
	if s == nil {
		return nil
	}

	var extra map[string]string
	if len(s.IntakeExtra) > 0 {
		// Malformed JSON only drops the free-form answers, never the session.
		_ = json.Unmarshal(s.IntakeExtra, &extra)
	}

	var position *int
	if s.QueuePosition != nil {
		p := *s.QueuePosition
		position = &p
	}

	return &entity.ChatSession{
		Id:             s.Id,
		UserIdentifier: s.UserIdentifier,
		Status:         entity.SessionStatus(s.Status),
		QueuePosition:  position,
		UserName:       s.UserName,
		UserEmail:      s.UserEmail,
		UserPhone:      s.UserPhone,
		IntakeExtra:    extra,
		ClosedBy:       entity.ClosedBy(s.ClosedBy),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (m *ChatMapper) ChatSessionToModel(s *entity.ChatSession) *model.ChatSession {
	if s == nil {
		return nil
	}

	var extra datatypes.JSON
	if len(s.IntakeExtra) > 0 {
		raw, err := json.Marshal(s.IntakeExtra)
		if err == nil {
			extra = datatypes.JSON(raw)
		}
	}

	var position *int
	if s.QueuePosition != nil {
		p := *s.QueuePosition
		position = &p
	}

	return &model.ChatSession{
		Id:             s.Id,
		UserIdentifier: s.UserIdentifier,
		Status:         string(s.Status),
		QueuePosition:  position,
		UserName:       s.UserName,
		UserEmail:      s.UserEmail,
		UserPhone:      s.UserPhone,
		IntakeExtra:    extra,
		ClosedBy:       string(s.ClosedBy),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// Message Mappers

func (m *ChatMapper) ChatMessageToEntity(msg *model.ChatMessage) *entity.ChatMessage {
	if msg == nil {
		return nil
	}
	return &entity.ChatMessage{
		Id:         msg.Id,
		SessionId:  msg.SessionId,
		SenderType: entity.SenderType(msg.SenderType),
		Text:       msg.Text,
		Seq:        msg.Seq,
		CreatedAt:  msg.CreatedAt,
	}
}

func (m *ChatMapper) ChatMessageToModel(msg *entity.ChatMessage) *model.ChatMessage {
	if msg == nil {
		return nil
	}
	return &model.ChatMessage{
		Id:         msg.Id,
		SessionId:  msg.SessionId,
		SenderType: string(msg.SenderType),
		Text:       msg.Text,
		Seq:        msg.Seq,
		CreatedAt:  msg.CreatedAt,
	}
}

func (m *ChatMapper) ChatMessagesToEntities(msgs []*model.ChatMessage) []*entity.ChatMessage {
	out := make([]*entity.ChatMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = m.ChatMessageToEntity(msg)
	}
	return out
}
