package memory

import (
	"context"
	"sort"
	"time"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ChatSessionRepository keeps sessions in process memory. Records never expire.
type ChatSessionRepository struct {
	cache *cache.Cache
}

func NewChatSessionRepository() contract.ChatSessionRepository {
	return &ChatSessionRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *ChatSessionRepository) Upsert(ctx context.Context, session *entity.ChatSession) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	r.cache.Set(session.Id.String(), session.Clone(), cache.NoExpiration)
	return nil
}

func (r *ChatSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.ChatSession, error) {
	if x, found := r.cache.Get(id.String()); found {
		return x.(*entity.ChatSession).Clone(), nil
	}
	return nil, nil
}

func (r *ChatSessionRepository) FindOpenByUser(ctx context.Context, userIdentifier string) (*entity.ChatSession, error) {
	var latest *entity.ChatSession
	for _, s := range r.all() {
		if s.UserIdentifier != userIdentifier || s.IsClosed() {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	return latest, nil
}

func (r *ChatSessionRepository) FindByStatus(ctx context.Context, status entity.SessionStatus) ([]*entity.ChatSession, error) {
	var out []*entity.ChatSession
	for _, s := range r.all() {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id.String() < out[j].Id.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *ChatSessionRepository) CountByStatus(ctx context.Context, status entity.SessionStatus) (int64, error) {
	var n int64
	for _, s := range r.all() {
		if s.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *ChatSessionRepository) all() []*entity.ChatSession {
	items := r.cache.Items()
	out := make([]*entity.ChatSession, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*entity.ChatSession).Clone())
	}
	return out
}
