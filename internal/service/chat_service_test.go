package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"support-chat-be/internal/admission"
	"support-chat-be/internal/config"
	"support-chat-be/internal/entity"
	"support-chat-be/internal/pkg/apperror"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/repository/unitofwork"
	"support-chat-be/internal/websocket"
	"support-chat-be/pkg/dto"
	"support-chat-be/pkg/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, events.Handler) error { return nil }
func (b *recordingBus) Close() error                                   { return nil }

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.EventType())
	}
	return out
}

type fixture struct {
	svc *chatService
	bus *recordingBus
	uow unitofwork.UnitOfWork
}

func newFixture(t *testing.T, cfg config.SupportConfig) fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := logger.NewNopLogger()
	uow := unitofwork.NewMemoryUnitOfWork()
	controller := admission.NewController(uow, cfg.Capacity, nil, log)
	hub := websocket.NewHub(ctx, uow.ChatMessageRepository(), nil, websocket.HubConfig{IdleTimeout: time.Minute}, nil, log)
	bus := &recordingBus{}

	svc := NewChatService(uow, controller, hub, bus, cfg, log).(*chatService)
	return fixture{svc: svc, bus: bus, uow: uow}
}

func defaultConfig() config.SupportConfig {
	return config.SupportConfig{Capacity: 1, HistoryLimit: 50, MaxMessageLength: 20, MessagesPerMinute: 600}
}

func TestCreateOrResumeReusesOpenSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig())

	first, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1"})
	require.NoError(t, err)
	assert.Equal(t, "active", first.Status)
	assert.False(t, first.Resumed)

	again, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1", SessionId: &first.Id})
	require.NoError(t, err)
	assert.Equal(t, first.Id, again.Id)
	assert.True(t, again.Resumed)

	// A stored id belonging to another browser is not resumed.
	other, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-2", SessionId: &first.Id})
	require.NoError(t, err)
	assert.NotEqual(t, first.Id, other.Id)
	assert.Equal(t, "queued", other.Status)
	assert.Equal(t, 0, *other.QueuePosition)

	assert.Equal(t, []string{events.SessionAdmitted, events.SessionAdmitted}, f.bus.types())
}

func TestClosedSessionIsNotResumed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig())

	first, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1"})
	require.NoError(t, err)
	_, err = f.svc.CloseSession(ctx, first.Id, entity.ClosedByVisitor)
	require.NoError(t, err)

	next, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1", SessionId: &first.Id})
	require.NoError(t, err)
	assert.NotEqual(t, first.Id, next.Id)
	assert.Equal(t, "active", next.Status)
}

func TestSendVisitorMessageValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig())

	s, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1"})
	require.NoError(t, err)

	_, err = f.svc.SendVisitorMessage(ctx, s.Id, "   ")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.SendVisitorMessage(ctx, s.Id, strings.Repeat("я", 21))
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.SendVisitorMessage(ctx, uuid.New(), "hi")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	msg, err := f.svc.SendVisitorMessage(ctx, s.Id, strings.Repeat("я", 20))
	require.NoError(t, err)
	assert.Equal(t, entity.SenderUser, msg.SenderType)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Contains(t, f.bus.types(), events.MessageRelayed)
}

func TestSendVisitorMessageRateLimited(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.MessagesPerMinute = 6
	f := newFixture(t, cfg)

	s, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1"})
	require.NoError(t, err)

	_, err = f.svc.SendVisitorMessage(ctx, s.Id, "one")
	require.NoError(t, err)
	_, err = f.svc.SendVisitorMessage(ctx, s.Id, "two")
	assert.ErrorIs(t, err, apperror.ErrRateLimited)
}

func TestOperatorReplyAndHistory(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.MaxMessageLength = 200
	f := newFixture(t, cfg)

	s, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1"})
	require.NoError(t, err)

	_, err = f.svc.SendVisitorMessage(ctx, s.Id, "Коли відкриття?")
	require.NoError(t, err)
	reply, err := f.svc.RelayOperatorReply(ctx, s.Id, "Ми відкриємось у травні")
	require.NoError(t, err)
	assert.Equal(t, entity.SenderManager, reply.SenderType)

	history, err := f.svc.RecentMessages(ctx, s.Id, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].SenderType)
	assert.Equal(t, "manager", history[1].SenderType)
	assert.Equal(t, "Ми відкриємось у травні", history[1].Text)
}

func TestOperatorReplyOverLimitRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig())

	s, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "browser-1"})
	require.NoError(t, err)

	_, err = f.svc.RelayOperatorReply(ctx, s.Id, "Ми відкриємось у травні")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	history, err := f.svc.RecentMessages(ctx, s.Id, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCloseSessionPromotesAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig())

	a, _ := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "a"})
	b, _ := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "b"})

	res, err := f.svc.CloseSession(ctx, a.Id, entity.ClosedByOperator)
	require.NoError(t, err)
	assert.True(t, res.Promoted)

	st, err := f.svc.Status(ctx, b.Id)
	require.NoError(t, err)
	assert.Equal(t, "active", st.Status)
	assert.Nil(t, st.QueuePosition)

	_, err = f.svc.SendVisitorMessage(ctx, a.Id, "still there?")
	assert.ErrorIs(t, err, apperror.ErrSessionClosed)
	assert.ErrorIs(t, f.svc.CanJoin(ctx, a.Id), apperror.ErrSessionClosed)

	again, err := f.svc.CloseSession(ctx, a.Id, entity.ClosedByVisitor)
	require.NoError(t, err)
	assert.False(t, again.Promoted)

	types := f.bus.types()
	assert.Contains(t, types, events.SessionClosed)
	assert.Contains(t, types, events.SessionPromoted)
}

func TestAttachIntakeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig())

	s, _ := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: "a"})
	assert.False(t, s.HasIntake)

	updated, err := f.svc.AttachIntake(ctx, s.Id, &dto.IntakeRequest{Name: "Олена", Phone: "+380501112233"})
	require.NoError(t, err)
	assert.True(t, updated.HasIntake)
	assert.Equal(t, "active", updated.Status)

	_, err = f.svc.AttachIntake(ctx, s.Id, &dto.IntakeRequest{Name: "Інша"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestQueueSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig())

	for _, user := range []string{"a", "b", "c"} {
		_, err := f.svc.CreateOrResume(ctx, &dto.CreateSessionRequest{UserIdentifier: user})
		require.NoError(t, err)
	}

	snap, err := f.svc.QueueSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Capacity)
	assert.Len(t, snap.Active, 1)
	require.Len(t, snap.Queued, 2)
	assert.Equal(t, 1, *snap.Queued[1].QueuePosition)
}
