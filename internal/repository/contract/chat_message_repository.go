package contract

import (
	"context"
	"errors"

	"support-chat-be/internal/entity"

	"github.com/google/uuid"
)

// ErrDuplicateSeq is returned by Append when the session already holds a
// message with that seq, e.g. written by another instance.
var ErrDuplicateSeq = errors.New("duplicate message seq")

type ChatMessageRepository interface {
	Append(ctx context.Context, message *entity.ChatMessage) error
	// ListRecent returns the newest limit messages in ascending seq order.
	ListRecent(ctx context.Context, sessionId uuid.UUID, limit int) ([]*entity.ChatMessage, error)
	// LastSeq returns 0 for a session without messages.
	LastSeq(ctx context.Context, sessionId uuid.UUID) (int64, error)
}
