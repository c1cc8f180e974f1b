package unitofwork

import (
	"context"

	"support-chat-be/internal/repository/contract"
)

// UnitOfWork groups the message store repositories. Transaction runs fn against
// repositories bound to one transaction; an error from fn rolls it back.
type UnitOfWork interface {
	ChatSessionRepository() contract.ChatSessionRepository
	ChatMessageRepository() contract.ChatMessageRepository
	Transaction(ctx context.Context, fn func(uow UnitOfWork) error) error
	// LockPool blocks until this transaction holds the named lock. It is
	// released at commit or rollback and only has effect inside Transaction.
	LockPool(ctx context.Context, key string) error
}
