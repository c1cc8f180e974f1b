package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/metrics"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/repository/contract"
	"support-chat-be/pkg/protocol"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/redis/go-redis/v9"
)

const (
	clusterChannel = "support_cluster_events"
	maxAttempts    = 3
)

// clusterEvent is what instances exchange over redis so that peers of one
// session connected to different instances all see the same frames.
type clusterEvent struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	Close     bool            `json:"close,omitempty"`
}

type HubConfig struct {
	IdleTimeout time.Duration
	InstanceID  string
}

// Hub keeps one actor per session with live activity on this instance.
// Actors are created on demand and remove themselves when idle.
type Hub struct {
	ctx      context.Context
	actors   cmap.ConcurrentMap[string, *Actor]
	messages contract.ChatMessageRepository
	cfg      HubConfig

	// Redis connection for cross-instance delivery, nil on single instance runs.
	rdb *redis.Client

	metrics *metrics.Support
	logger  logger.ILogger
}

func NewHub(ctx context.Context, messages contract.ChatMessageRepository, rdb *redis.Client, cfg HubConfig, m *metrics.Support, log logger.ILogger) *Hub {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Hub{
		ctx:      ctx,
		actors:   cmap.New[*Actor](),
		messages: messages,
		cfg:      cfg,
		rdb:      rdb,
		metrics:  m,
		logger:   log,
	}
}

// Run listens for frames published by other instances until ctx ends. It is a
// no-op without redis.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleClusterEvent(msg.Payload)
		}
	}
}

func (h *Hub) handleClusterEvent(payload string) {
	var ev clusterEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		h.logger.Warn("Hub", "Cluster event parse error", map[string]interface{}{"error": err.Error()})
		return
	}
	if ev.Origin == h.cfg.InstanceID {
		return
	}

	actor, ok := h.actors.Get(ev.SessionID)
	if !ok {
		return
	}
	if ev.Close {
		actor.CloseAll()
		return
	}
	actor.deliver(ev.Frame)
}

func (h *Hub) publish(ev clusterEvent) {
	if h.rdb == nil {
		return
	}
	ev.Origin = h.cfg.InstanceID
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := h.rdb.Publish(context.Background(), clusterChannel, data).Err(); err != nil {
		h.logger.Warn("Hub", "Cluster publish failed", map[string]interface{}{
			"session_id": ev.SessionID,
			"error":      err.Error(),
		})
	}
}

// actor returns the running actor of a session, starting one when needed.
func (h *Hub) actor(sessionID uuid.UUID) *Actor {
	var started *Actor
	a := h.actors.Upsert(sessionID.String(), nil, func(exist bool, current *Actor, _ *Actor) *Actor {
		if exist && !current.stopped() {
			return current
		}
		started = newActor(sessionID, actorOptions{
			messages:    h.messages,
			idleTimeout: h.cfg.IdleTimeout,
			onStop:      h.forget,
			onBroadcast: h.forward,
			metrics:     h.metrics,
			logger:      h.logger,
		})
		return started
	})
	if started != nil {
		go started.run(h.ctx)
	}
	return a
}

func (h *Hub) forget(a *Actor) {
	h.actors.RemoveCb(a.sessionID.String(), func(_ string, v *Actor, exists bool) bool {
		return exists && v == a
	})
}

func (h *Hub) forward(sessionID uuid.UUID, frame []byte) {
	h.publish(clusterEvent{SessionID: sessionID.String(), Frame: frame})
}

func (h *Hub) Join(sessionID uuid.UUID, peer Peer) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = h.actor(sessionID).Join(peer); !errors.Is(err, errActorStopped) {
			return err
		}
	}
	return err
}

func (h *Hub) Leave(sessionID uuid.UUID, peer Peer) {
	if a, ok := h.actors.Get(sessionID.String()); ok {
		a.Leave(peer)
	}
}

// Relay appends a message to the session and delivers it to every live peer.
func (h *Hub) Relay(ctx context.Context, sessionID uuid.UUID, req RelayRequest) (*entity.ChatMessage, error) {
	var (
		msg *entity.ChatMessage
		err error
	)
	for i := 0; i < maxAttempts; i++ {
		msg, err = h.actor(sessionID).Relay(ctx, req)
		if !errors.Is(err, errActorStopped) {
			return msg, err
		}
	}
	return nil, err
}

// PushStatus forwards an admission change to the session's peers on every
// instance. Sessions without live peers are skipped.
func (h *Hub) PushStatus(sessionID uuid.UUID, status entity.SessionStatus, position *int) {
	if status == entity.SessionStatusClosed {
		h.CloseAll(sessionID)
		return
	}
	if a, ok := h.actors.Get(sessionID.String()); ok {
		a.PushStatus(status, position)
	}
	if h.rdb != nil {
		frame := protocol.MustEncode(protocol.Status{Status: string(status), QueuePosition: position})
		h.publish(clusterEvent{SessionID: sessionID.String(), Frame: frame})
	}
}

func (h *Hub) CloseAll(sessionID uuid.UUID) {
	if a, ok := h.actors.Get(sessionID.String()); ok {
		a.CloseAll()
	}
	h.publish(clusterEvent{SessionID: sessionID.String(), Close: true})
}

// LiveSessions is the number of sessions with a running actor here.
func (h *Hub) LiveSessions() int {
	return h.actors.Count()
}
