package implementation

import (
	"context"
	"errors"
	"fmt"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/mapper"
	"support-chat-be/internal/model"
	"support-chat-be/internal/repository/contract"
	"support-chat-be/internal/repository/scope"
	"support-chat-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatMessageRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewChatMessageRepository(db *gorm.DB) contract.ChatMessageRepository {
	return &ChatMessageRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *ChatMessageRepositoryImpl) Append(ctx context.Context, message *entity.ChatMessage) error {
	m := r.mapper.ChatMessageToModel(message)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", contract.ErrDuplicateSeq, err)
		}
		return err
	}
	*message = *r.mapper.ChatMessageToEntity(m)
	return nil
}

func (r *ChatMessageRepositoryImpl) ListRecent(ctx context.Context, sessionId uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	// Newest N first, then flipped back to chronological order.
	latest := specification.BySessionID{SessionID: sessionId}.Apply(r.db.WithContext(ctx).Model(&model.ChatMessage{}))
	latest = specification.OrderBy{Field: "seq", Desc: true}.Apply(latest)
	latest = specification.Pagination{Limit: limit}.Apply(latest)

	var models []*model.ChatMessage
	if err := r.db.WithContext(ctx).Table("(?) AS recent", latest).Scopes(scope.ChronologicalMessages).Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ChatMessagesToEntities(models), nil
}

func (r *ChatMessageRepositoryImpl) LastSeq(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	var seq int64
	query := specification.BySessionID{SessionID: sessionId}.Apply(r.db.WithContext(ctx).Model(&model.ChatMessage{}))
	if err := query.Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error; err != nil {
		return 0, err
	}
	return seq, nil
}
