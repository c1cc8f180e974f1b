package contract

import (
	"context"

	"support-chat-be/internal/entity"

	"github.com/google/uuid"
)

type ChatSessionRepository interface {
	// Upsert inserts the session or overwrites the stored record with the same id.
	Upsert(ctx context.Context, session *entity.ChatSession) error
	// FindByID returns nil, nil when no such session exists.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.ChatSession, error)
	// FindOpenByUser returns the most recent non-closed session of a browser identity.
	FindOpenByUser(ctx context.Context, userIdentifier string) (*entity.ChatSession, error)
	// FindByStatus returns sessions ordered by creation time, then id.
	FindByStatus(ctx context.Context, status entity.SessionStatus) ([]*entity.ChatSession, error)
	CountByStatus(ctx context.Context, status entity.SessionStatus) (int64, error)
}
