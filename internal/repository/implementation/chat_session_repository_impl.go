package implementation

import (
	"context"
	"errors"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/mapper"
	"support-chat-be/internal/model"
	"support-chat-be/internal/repository/contract"
	"support-chat-be/internal/repository/scope"
	"support-chat-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChatSessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewChatSessionRepository(db *gorm.DB) contract.ChatSessionRepository {
	return &ChatSessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *ChatSessionRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ChatSessionRepositoryImpl) Upsert(ctx context.Context, session *entity.ChatSession) error {
	m := r.mapper.ChatSessionToModel(session)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(m).Error
	if err != nil {
		return err
	}
	*session = *r.mapper.ChatSessionToEntity(m)
	return nil
}

func (r *ChatSessionRepositoryImpl) findOne(ctx context.Context, db *gorm.DB) (*entity.ChatSession, error) {
	var m model.ChatSession
	if err := db.WithContext(ctx).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ChatSessionToEntity(&m), nil
}

func (r *ChatSessionRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*entity.ChatSession, error) {
	return r.findOne(ctx, r.applySpecifications(r.db, specification.ByID{ID: id}))
}

func (r *ChatSessionRepositoryImpl) FindOpenByUser(ctx context.Context, userIdentifier string) (*entity.ChatSession, error) {
	query := r.applySpecifications(r.db,
		specification.ByUserIdentifier{UserIdentifier: userIdentifier},
		specification.NotStatus{Status: entity.SessionStatusClosed},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	return r.findOne(ctx, query)
}

func (r *ChatSessionRepositoryImpl) FindByStatus(ctx context.Context, status entity.SessionStatus) ([]*entity.ChatSession, error) {
	var models []*model.ChatSession
	query := r.applySpecifications(r.db.WithContext(ctx), specification.ByStatus{Status: status})
	if err := query.Scopes(scope.QueueOrder).Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.ChatSession, len(models))
	for i, m := range models {
		entities[i] = r.mapper.ChatSessionToEntity(m)
	}
	return entities, nil
}

func (r *ChatSessionRepositoryImpl) CountByStatus(ctx context.Context, status entity.SessionStatus) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.ChatSession{}), specification.ByStatus{Status: status})
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
