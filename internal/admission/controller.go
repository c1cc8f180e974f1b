// Package admission decides which support sessions are served now and which
// wait. One Controller owns one capacity pool and serializes every decision
// of that pool behind a single lock, plus a store lock across instances.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/metrics"
	"support-chat-be/internal/pkg/apperror"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const module = "ADMISSION"

// poolLockKey names the store-level lock shared by every instance admitting
// into the pool.
const poolLockKey = "support-admission-pool"

// Listener is told about every session whose status or queue position changed,
// after the change is stored and the pool lock released.
type Listener func(session *entity.ChatSession)

type Status struct {
	Status        entity.SessionStatus
	QueuePosition *int
}

type Snapshot struct {
	Capacity int
	Active   []*entity.ChatSession
	Queued   []*entity.ChatSession
}

type Controller struct {
	mu       sync.Mutex
	capacity int
	uow      unitofwork.UnitOfWork
	metrics  *metrics.Support
	logger   logger.ILogger
	listener Listener
}

func NewController(uow unitofwork.UnitOfWork, capacity int, m *metrics.Support, log logger.ILogger) *Controller {
	if capacity < 1 {
		capacity = 1
	}
	return &Controller{
		capacity: capacity,
		uow:      uow,
		metrics:  m,
		logger:   log,
	}
}

func (c *Controller) Capacity() int {
	return c.capacity
}

// SetListener must be called before the controller is shared.
func (c *Controller) SetListener(l Listener) {
	c.listener = l
}

// Admit places a session into the pool. A session unknown to the store is
// created first; active, queued and closed sessions come back unchanged.
func (c *Controller) Admit(ctx context.Context, session *entity.ChatSession) (*entity.ChatSession, error) {
	c.mu.Lock()

	var admitted *entity.ChatSession
	var changed []*entity.ChatSession

	err := c.uow.Transaction(ctx, func(uow unitofwork.UnitOfWork) error {
		if err := uow.LockPool(ctx, poolLockKey); err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		repo := uow.ChatSessionRepository()

		stored, err := repo.FindByID(ctx, session.Id)
		if err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}

		if stored == nil {
			stored = session.Clone()
			if stored.Id == uuid.Nil {
				stored.Id = uuid.New()
			}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = time.Now().UTC()
			}
			stored.Status = entity.SessionStatusNew
			stored.QueuePosition = nil
			if err := repo.Upsert(ctx, stored); err != nil {
				return fmt.Errorf("%w: %v", apperror.ErrStore, err)
			}
		}

		switch stored.Status {
		case entity.SessionStatusActive, entity.SessionStatusQueued:
			admitted = stored
			return nil
		case entity.SessionStatusClosed:
			c.logger.Debug(module, "Admit on closed session ignored", map[string]interface{}{
				"session_id": stored.Id.String(),
				"reason":     apperror.ErrAdmissionConflict.Error(),
			})
			admitted = stored
			return nil
		}

		active, err := repo.CountByStatus(ctx, entity.SessionStatusActive)
		if err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}

		if int(active) < c.capacity {
			stored.Status = entity.SessionStatusActive
			stored.QueuePosition = nil
			if err := repo.Upsert(ctx, stored); err != nil {
				return fmt.Errorf("%w: %v", apperror.ErrStore, err)
			}
			admitted = stored
			changed = append(changed, stored)
			return nil
		}

		// Placeholder position; the real rank comes from the recount below.
		placeholder := 0
		stored.Status = entity.SessionStatusQueued
		stored.QueuePosition = &placeholder
		if err := repo.Upsert(ctx, stored); err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}

		shifted, err := c.reposition(ctx, uow, stored.Id)
		if err != nil {
			return err
		}
		changed = append(changed, shifted...)

		admitted, err = repo.FindByID(ctx, stored.Id)
		if err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		changed = append(changed, admitted)
		return nil
	})
	if err == nil && len(changed) > 0 {
		c.recordGauges(ctx)
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	c.logger.Info(module, "Session admitted", map[string]interface{}{
		"session_id":     admitted.Id.String(),
		"status":         string(admitted.Status),
		"queue_position": lo.FromPtr(admitted.QueuePosition),
	})
	c.notify(changed)
	return admitted, nil
}

// Release closes a session and promotes queued sessions while there is room.
// It returns the first promoted session, or nil when nobody moved up. Closing
// an unknown or already closed session is a no-op.
func (c *Controller) Release(ctx context.Context, id uuid.UUID, by entity.ClosedBy) (*entity.ChatSession, error) {
	c.mu.Lock()

	var promoted *entity.ChatSession
	var changed []*entity.ChatSession

	err := c.uow.Transaction(ctx, func(uow unitofwork.UnitOfWork) error {
		if err := uow.LockPool(ctx, poolLockKey); err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		repo := uow.ChatSessionRepository()

		stored, err := repo.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		if stored == nil || stored.IsClosed() {
			return nil
		}

		stored.Status = entity.SessionStatusClosed
		stored.QueuePosition = nil
		stored.ClosedBy = by
		if err := repo.Upsert(ctx, stored); err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		changed = append(changed, stored)

		active, err := repo.CountByStatus(ctx, entity.SessionStatusActive)
		if err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}

		queued, err := repo.FindByStatus(ctx, entity.SessionStatusQueued)
		if err != nil {
			return fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}

		for int(active) < c.capacity && len(queued) > 0 {
			head := queued[0]
			queued = queued[1:]

			head.Status = entity.SessionStatusActive
			head.QueuePosition = nil
			if err := repo.Upsert(ctx, head); err != nil {
				return fmt.Errorf("%w: %v", apperror.ErrStore, err)
			}
			if promoted == nil {
				promoted = head
			}
			changed = append(changed, head)
			active++
		}

		shifted, err := c.reposition(ctx, uow, uuid.Nil)
		if err != nil {
			return err
		}
		changed = append(changed, shifted...)
		return nil
	})
	if err == nil && len(changed) > 0 {
		c.recordGauges(ctx)
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		details := map[string]interface{}{"session_id": id.String(), "closed_by": string(by)}
		if promoted != nil {
			details["promoted_session_id"] = promoted.Id.String()
		}
		c.logger.Info(module, "Session released", details)
	}
	c.notify(changed)
	return promoted, nil
}

// Amend applies mutate to the stored session under the pool lock, so detail
// edits never interleave with admission writes. Status and queue position are
// kept as they were whatever mutate does.
func (c *Controller) Amend(ctx context.Context, id uuid.UUID, mutate func(s *entity.ChatSession) error) (*entity.ChatSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	repo := c.uow.ChatSessionRepository()
	stored, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	if stored == nil {
		return nil, apperror.ErrNotFound
	}

	status, position, closedBy := stored.Status, stored.QueuePosition, stored.ClosedBy
	if err := mutate(stored); err != nil {
		return nil, err
	}
	stored.Status, stored.QueuePosition, stored.ClosedBy = status, position, closedBy

	if err := repo.Upsert(ctx, stored); err != nil {
		return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	return stored, nil
}

// PollStatus is a read-only view of one session's admission state.
func (c *Controller) PollStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.uow.ChatSessionRepository().FindByID(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	if stored == nil {
		return Status{}, apperror.ErrNotFound
	}
	return Status{Status: stored.Status, QueuePosition: stored.QueuePosition}, nil
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	repo := c.uow.ChatSessionRepository()
	active, err := repo.FindByStatus(ctx, entity.SessionStatusActive)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	queued, err := repo.FindByStatus(ctx, entity.SessionStatusQueued)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	return Snapshot{Capacity: c.capacity, Active: active, Queued: queued}, nil
}

// reposition rewrites every queued session's position as its 0-based rank by
// (createdAt, id). It returns the sessions whose position changed, leaving out
// skip, which the caller reports itself.
func (c *Controller) reposition(ctx context.Context, uow unitofwork.UnitOfWork, skip uuid.UUID) ([]*entity.ChatSession, error) {
	repo := uow.ChatSessionRepository()

	queued, err := repo.FindByStatus(ctx, entity.SessionStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}

	var shifted []*entity.ChatSession
	for rank, s := range queued {
		if s.QueuePosition != nil && *s.QueuePosition == rank && s.Id != skip {
			continue
		}
		pos := rank
		s.QueuePosition = &pos
		if err := repo.Upsert(ctx, s); err != nil {
			return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		if s.Id != skip {
			shifted = append(shifted, s)
		}
	}
	return shifted, nil
}

func (c *Controller) recordGauges(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	repo := c.uow.ChatSessionRepository()
	for _, status := range []entity.SessionStatus{entity.SessionStatusActive, entity.SessionStatusQueued} {
		n, err := repo.CountByStatus(ctx, status)
		if err != nil {
			continue
		}
		c.metrics.SetSessions(string(status), int(n))
	}
}

func (c *Controller) notify(changed []*entity.ChatSession) {
	if c.listener == nil {
		return
	}
	for _, s := range lo.UniqBy(changed, func(s *entity.ChatSession) uuid.UUID { return s.Id }) {
		c.listener(s.Clone())
	}
}
