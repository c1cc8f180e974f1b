package unitofwork

import (
	"context"

	"support-chat-be/internal/repository/contract"
	"support-chat-be/internal/repository/memory"
)

// MemoryUnitOfWork has no rollback; callers that need atomic multi-row updates
// already serialize them (the admission controller holds its pool lock).
type MemoryUnitOfWork struct {
	sessions contract.ChatSessionRepository
	messages contract.ChatMessageRepository
}

func NewMemoryUnitOfWork() UnitOfWork {
	return &MemoryUnitOfWork{
		sessions: memory.NewChatSessionRepository(),
		messages: memory.NewChatMessageRepository(),
	}
}

func (u *MemoryUnitOfWork) ChatSessionRepository() contract.ChatSessionRepository {
	return u.sessions
}

func (u *MemoryUnitOfWork) ChatMessageRepository() contract.ChatMessageRepository {
	return u.messages
}

// LockPool is a no-op; the memory store lives in one process.
func (u *MemoryUnitOfWork) LockPool(ctx context.Context, key string) error {
	return nil
}

func (u *MemoryUnitOfWork) Transaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return fn(u)
}
