package memory

import (
	"context"
	"fmt"
	"sync"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/repository/contract"

	"github.com/google/uuid"
)

// ChatMessageRepository is an append-only in-process log per session.
type ChatMessageRepository struct {
	mu   sync.RWMutex
	logs map[uuid.UUID][]entity.ChatMessage
}

func NewChatMessageRepository() contract.ChatMessageRepository {
	return &ChatMessageRepository{
		logs: make(map[uuid.UUID][]entity.ChatMessage),
	}
}

func (r *ChatMessageRepository) Append(ctx context.Context, message *entity.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.logs[message.SessionId]
	for _, m := range log {
		if m.Seq == message.Seq {
			return fmt.Errorf("%w: %d for session %s", contract.ErrDuplicateSeq, message.Seq, message.SessionId)
		}
	}
	r.logs[message.SessionId] = append(log, *message)
	return nil
}

func (r *ChatMessageRepository) ListRecent(ctx context.Context, sessionId uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.logs[sessionId]
	start := 0
	if limit > 0 && len(log) > limit {
		start = len(log) - limit
	}
	out := make([]*entity.ChatMessage, 0, len(log)-start)
	for i := start; i < len(log); i++ {
		m := log[i]
		out = append(out, &m)
	}
	return out, nil
}

func (r *ChatMessageRepository) LastSeq(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var seq int64
	for _, m := range r.logs[sessionId] {
		if m.Seq > seq {
			seq = m.Seq
		}
	}
	return seq, nil
}
