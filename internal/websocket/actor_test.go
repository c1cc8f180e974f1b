package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/pkg/apperror"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/repository/contract"
	"support-chat-be/internal/repository/memory"
	"support-chat-be/pkg/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

func newFakePeer(buffer int) *fakePeer {
	return &fakePeer{id: uuid.NewString(), frames: make(chan []byte, buffer)}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Enqueue(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.frames <- frame:
		return true
	default:
		return false
	}
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) next(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case raw := <-p.frames:
		ev, err := protocol.DecodeServer(raw)
		require.NoError(t, err)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func (p *fakePeer) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case raw := <-p.frames:
		t.Fatalf("unexpected frame %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

type failingMessages struct {
	contract.ChatMessageRepository
	fail bool
}

func (f *failingMessages) Append(ctx context.Context, m *entity.ChatMessage) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.ChatMessageRepository.Append(ctx, m)
}

func newTestHub(t *testing.T, messages contract.ChatMessageRepository, idle time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, messages, nil, HubConfig{IdleTimeout: idle, InstanceID: "test"}, nil, logger.NewNopLogger())
}

func TestJoinAcknowledges(t *testing.T) {
	hub := newTestHub(t, memory.NewChatMessageRepository(), time.Minute)
	peer := newFakePeer(8)

	require.NoError(t, hub.Join(uuid.New(), peer))
	assert.Equal(t, protocol.Session{Connected: true}, peer.next(t))
}

func TestRelayDeliversInAppendOrder(t *testing.T) {
	messages := memory.NewChatMessageRepository()
	hub := newTestHub(t, messages, time.Minute)
	sid := uuid.New()

	first, second := newFakePeer(64), newFakePeer(64)
	require.NoError(t, hub.Join(sid, first))
	require.NoError(t, hub.Join(sid, second))
	first.next(t)
	second.next(t)

	for i := 0; i < 20; i++ {
		sender := entity.SenderUser
		if i%2 == 1 {
			sender = entity.SenderManager
		}
		_, err := hub.Relay(context.Background(), sid, RelayRequest{Text: fmt.Sprintf("m%d", i), Sender: sender})
		require.NoError(t, err)
	}

	stored, err := messages.ListRecent(context.Background(), sid, 0)
	require.NoError(t, err)
	require.Len(t, stored, 20)

	for _, peer := range []*fakePeer{first, second} {
		for i := 0; i < 20; i++ {
			msg, ok := peer.next(t).(protocol.Message)
			require.True(t, ok)
			assert.Equal(t, stored[i].Text, msg.Text)
			assert.Equal(t, int64(i+1), msg.Seq)
		}
	}
}

func TestRelayExceptSkipsOriginator(t *testing.T) {
	hub := newTestHub(t, memory.NewChatMessageRepository(), time.Minute)
	sid := uuid.New()

	origin, other := newFakePeer(8), newFakePeer(8)
	require.NoError(t, hub.Join(sid, origin))
	require.NoError(t, hub.Join(sid, other))
	origin.next(t)
	other.next(t)

	_, err := hub.Relay(context.Background(), sid, RelayRequest{Text: "hello", Sender: entity.SenderUser, Except: origin})
	require.NoError(t, err)

	assert.Equal(t, "hello", other.next(t).(protocol.Message).Text)
	origin.assertQuiet(t)
}

func TestStoreFailureBroadcastsNothing(t *testing.T) {
	messages := &failingMessages{ChatMessageRepository: memory.NewChatMessageRepository()}
	hub := newTestHub(t, messages, time.Minute)
	sid := uuid.New()

	peer := newFakePeer(8)
	require.NoError(t, hub.Join(sid, peer))
	peer.next(t)

	messages.fail = true
	_, err := hub.Relay(context.Background(), sid, RelayRequest{Text: "lost", Sender: entity.SenderManager})
	assert.ErrorIs(t, err, apperror.ErrStore)
	peer.assertQuiet(t)

	messages.fail = false
	msg, err := hub.Relay(context.Background(), sid, RelayRequest{Text: "kept", Sender: entity.SenderManager})
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, "kept", peer.next(t).(protocol.Message).Text)
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	hub := newTestHub(t, memory.NewChatMessageRepository(), time.Minute)
	sid := uuid.New()

	slow, fast := newFakePeer(2), newFakePeer(64)
	require.NoError(t, hub.Join(sid, slow))
	require.NoError(t, hub.Join(sid, fast))

	for i := 0; i < 5; i++ {
		_, err := hub.Relay(context.Background(), sid, RelayRequest{Text: "x", Sender: entity.SenderUser})
		require.NoError(t, err)
	}

	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())
	assert.Len(t, fast.frames, 6)
}

func TestSeqResumesFromStore(t *testing.T) {
	messages := memory.NewChatMessageRepository()
	sid := uuid.New()
	require.NoError(t, messages.Append(context.Background(), &entity.ChatMessage{
		Id: uuid.New(), SessionId: sid, SenderType: entity.SenderUser, Text: "before restart", Seq: 7, CreatedAt: time.Now(),
	}))

	hub := newTestHub(t, messages, time.Minute)
	msg, err := hub.Relay(context.Background(), sid, RelayRequest{Text: "after", Sender: entity.SenderManager})
	require.NoError(t, err)
	assert.Equal(t, int64(8), msg.Seq)
}

func TestIdleActorStopsAndIsRecreated(t *testing.T) {
	messages := memory.NewChatMessageRepository()
	hub := newTestHub(t, messages, 20*time.Millisecond)
	sid := uuid.New()

	_, err := hub.Relay(context.Background(), sid, RelayRequest{Text: "one", Sender: entity.SenderUser})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return hub.LiveSessions() == 0 }, time.Second, 10*time.Millisecond)

	msg, err := hub.Relay(context.Background(), sid, RelayRequest{Text: "two", Sender: entity.SenderUser})
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.Seq)
}

func TestCloseAllDisconnectsPeers(t *testing.T) {
	hub := newTestHub(t, memory.NewChatMessageRepository(), time.Minute)
	sid := uuid.New()

	peer := newFakePeer(8)
	require.NoError(t, hub.Join(sid, peer))
	peer.next(t)

	hub.PushStatus(sid, entity.SessionStatusClosed, nil)

	st, ok := peer.next(t).(protocol.Status)
	require.True(t, ok)
	assert.Equal(t, "closed", st.Status)
	assert.Eventually(t, peer.isClosed, time.Second, 10*time.Millisecond)
}

func TestPushStatusReachesPeers(t *testing.T) {
	hub := newTestHub(t, memory.NewChatMessageRepository(), time.Minute)
	sid := uuid.New()

	peer := newFakePeer(8)
	require.NoError(t, hub.Join(sid, peer))
	peer.next(t)

	pos := 0
	hub.PushStatus(sid, entity.SessionStatusQueued, &pos)

	st := peer.next(t).(protocol.Status)
	assert.Equal(t, "queued", st.Status)
	require.NotNil(t, st.QueuePosition)
	assert.Equal(t, 0, *st.QueuePosition)
}

func TestClusterEventFromOtherInstanceIsDelivered(t *testing.T) {
	hub := newTestHub(t, memory.NewChatMessageRepository(), time.Minute)
	sid := uuid.New()

	peer := newFakePeer(8)
	require.NoError(t, hub.Join(sid, peer))
	peer.next(t)

	frame := protocol.MustEncode(protocol.Message{ID: "m", SessionID: sid.String(), Text: "from elsewhere", SenderType: "manager", Seq: 1})
	hub.handleClusterEvent(fmt.Sprintf(`{"origin":"other","session_id":%q,"frame":%s}`, sid.String(), frame))
	assert.Equal(t, "from elsewhere", peer.next(t).(protocol.Message).Text)

	hub.handleClusterEvent(fmt.Sprintf(`{"origin":"test","session_id":%q,"frame":%s}`, sid.String(), frame))
	peer.assertQuiet(t)
}

func TestRelayCatchesUpWithAnotherInstance(t *testing.T) {
	ctx := context.Background()
	messages := memory.NewChatMessageRepository()
	visitorSide := newTestHub(t, messages, time.Minute)
	operatorSide := newTestHub(t, messages, time.Minute)
	sid := uuid.New()

	first, err := visitorSide.Relay(ctx, sid, RelayRequest{Text: "hello", Sender: entity.SenderUser})
	require.NoError(t, err)
	reply, err := operatorSide.Relay(ctx, sid, RelayRequest{Text: "hi there", Sender: entity.SenderManager})
	require.NoError(t, err)
	second, err := visitorSide.Relay(ctx, sid, RelayRequest{Text: "thanks", Sender: entity.SenderUser})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, []int64{first.Seq, reply.Seq, second.Seq})

	stored, err := messages.ListRecent(ctx, sid, 10)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "thanks", stored[2].Text)
}

func TestRelayDuplicateSeqRetriedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := &racingMessages{ChatMessageRepository: memory.NewChatMessageRepository()}
	hub := newTestHub(t, repo, time.Minute)
	sid := uuid.New()

	_, err := hub.Relay(ctx, sid, RelayRequest{Text: "hello", Sender: entity.SenderUser})
	assert.ErrorIs(t, err, apperror.ErrStore)
	assert.Equal(t, 2, repo.appends)
}

// racingMessages loses every append to a concurrent writer.
type racingMessages struct {
	contract.ChatMessageRepository
	appends int
}

func (r *racingMessages) Append(ctx context.Context, m *entity.ChatMessage) error {
	r.appends++
	return fmt.Errorf("%w: %d", contract.ErrDuplicateSeq, m.Seq)
}
