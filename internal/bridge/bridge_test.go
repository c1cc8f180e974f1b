package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/pkg/apperror"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/pkg/dto"
	"support-chat-be/pkg/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const groupID = int64(-100123)

type sent struct {
	text    string
	replyTo int
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeChannel) Send(_ context.Context, text string, replyTo int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{text: text, replyTo: replyTo})
	return nil
}

func (f *fakeChannel) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type relayed struct {
	session uuid.UUID
	text    string
}

type fakeService struct {
	relayed  []relayed
	closed   []uuid.UUID
	relayErr error
}

func (f *fakeService) RelayOperatorReply(_ context.Context, id uuid.UUID, text string) (*entity.ChatMessage, error) {
	if f.relayErr != nil {
		return nil, f.relayErr
	}
	f.relayed = append(f.relayed, relayed{session: id, text: text})
	return &entity.ChatMessage{Id: uuid.New(), SessionId: id, SenderType: entity.SenderManager, Text: text}, nil
}

func (f *fakeService) CloseSession(_ context.Context, id uuid.UUID, _ entity.ClosedBy) (*dto.CloseSessionResponse, error) {
	f.closed = append(f.closed, id)
	return &dto.CloseSessionResponse{Promoted: true}, nil
}

func (f *fakeService) QueueSnapshot(context.Context) (*dto.QueueSnapshotResponse, error) {
	pos := 0
	return &dto.QueueSnapshotResponse{
		Capacity: 1,
		Active:   []dto.QueueEntryResponse{{Id: sessionA, UserName: "Олена", Status: "active"}},
		Queued:   []dto.QueueEntryResponse{{Id: sessionB, Status: "queued", QueuePosition: &pos}},
	}, nil
}

func newBridge() (*Bridge, *fakeService, *fakeChannel) {
	svc := &fakeService{}
	ch := &fakeChannel{}
	return New(svc, ch, groupID, nil, logger.NewNopLogger()), svc, ch
}

// /reply 3f2a... Ми відкриємось у травні reaches the visitor with the command
// and id stripped, and the operator gets a confirmation.
func TestReplyCommandIsRelayed(t *testing.T) {
	b, svc, ch := newBridge()

	b.HandleUpdate(context.Background(), Update{
		UpdateID: 1, ChatID: groupID, MessageID: 42,
		Text: "/reply " + sessionA.String() + " Ми відкриємось у травні",
	})

	require.Len(t, svc.relayed, 1)
	assert.Equal(t, sessionA, svc.relayed[0].session)
	assert.Equal(t, "Ми відкриємось у травні", svc.relayed[0].text)
	assert.Equal(t, sent{text: textDelivered, replyTo: 42}, ch.last(t))
}

func TestUnroutedMessageGetsUsageHint(t *testing.T) {
	b, svc, ch := newBridge()

	b.HandleUpdate(context.Background(), Update{UpdateID: 2, ChatID: groupID, MessageID: 7, Text: "хтось тут?"})

	assert.Empty(t, svc.relayed)
	assert.Equal(t, textUsage, ch.last(t).text)
}

func TestDuplicateUpdateIgnored(t *testing.T) {
	b, svc, _ := newBridge()
	u := Update{UpdateID: 3, ChatID: groupID, Text: "/reply " + sessionA.String() + " так"}

	b.HandleUpdate(context.Background(), u)
	b.HandleUpdate(context.Background(), u)

	assert.Len(t, svc.relayed, 1)
}

func TestForeignChatIgnored(t *testing.T) {
	b, svc, ch := newBridge()

	b.HandleUpdate(context.Background(), Update{UpdateID: 4, ChatID: 555, Text: "/reply " + sessionA.String() + " так"})

	assert.Empty(t, svc.relayed)
	assert.Empty(t, ch.sent)
}

func TestRelayFailureReportedToOperator(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: apperror.ErrNotFound, want: "Сесію не знайдено"},
		{err: apperror.ErrSessionClosed, want: "вже завершено"},
		{err: apperror.ErrStore, want: textSendFailed},
	}

	for i, tt := range tests {
		b, svc, ch := newBridge()
		svc.relayErr = tt.err

		b.HandleUpdate(context.Background(), Update{UpdateID: 10 + i, ChatID: groupID, Text: Marker(sessionA) + " привіт"})
		assert.Contains(t, ch.last(t).text, tt.want)
	}
}

func TestCloseCommand(t *testing.T) {
	b, svc, ch := newBridge()

	b.HandleUpdate(context.Background(), Update{UpdateID: 20, ChatID: groupID, Text: "/close", ReplyToText: "💬 Олена:\nпривіт\n\n" + Marker(sessionB)})
	require.Equal(t, []uuid.UUID{sessionB}, svc.closed)
	assert.Contains(t, ch.last(t).text, "Наступний відвідувач")

	b.HandleUpdate(context.Background(), Update{UpdateID: 21, ChatID: groupID, Text: "/close не-id"})
	assert.Equal(t, textCloseUsage, ch.last(t).text)
	assert.Len(t, svc.closed, 1)
}

func TestQueueCommandListsWithoutMarkers(t *testing.T) {
	b, _, ch := newBridge()

	b.HandleUpdate(context.Background(), Update{UpdateID: 30, ChatID: groupID, Text: "/queue"})

	text := ch.last(t).text
	assert.Contains(t, text, "Активні (1/1)")
	assert.Contains(t, text, "Олена — "+sessionA.String())
	assert.Contains(t, text, "1. Відвідувач — "+sessionB.String())
	assert.NotContains(t, text, markerLabel)
}

func TestHandleEventFormatsNotifications(t *testing.T) {
	b, _, ch := newBridge()
	ctx := context.Background()

	require.NoError(t, b.HandleEvent(ctx, events.New(events.SessionAdmitted, map[string]interface{}{
		"sessionId": sessionA.String(), "status": "queued", "queuePosition": 1, "userName": "Олена",
	})))
	text := ch.last(t).text
	assert.Contains(t, text, "позиція 2")
	assert.Contains(t, text, "Ім'я: Олена")
	assert.True(t, strings.HasSuffix(text, Marker(sessionA)))

	require.NoError(t, b.HandleEvent(ctx, events.New(events.MessageRelayed, map[string]interface{}{
		"sessionId": sessionA.String(), "senderType": "user", "text": "Коли відкриття?",
	})))
	text = ch.last(t).text
	assert.Contains(t, text, "Коли відкриття?")

	// The notification itself routes a reply back to its session.
	route, ok := Resolve(Inbound{Text: "У травні", ReplyToText: text})
	require.True(t, ok)
	assert.Equal(t, sessionA, route.SessionID)

	count := len(ch.sent)
	require.NoError(t, b.HandleEvent(ctx, events.New(events.MessageRelayed, map[string]interface{}{
		"sessionId": sessionA.String(), "senderType": "manager", "text": "echo",
	})))
	assert.Len(t, ch.sent, count)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	b, _, ch := newBridge()
	ch.err = errors.New("telegram down")

	err := b.HandleEvent(context.Background(), events.New(events.SessionClosed, map[string]interface{}{
		"sessionId": sessionA.String(), "closedBy": "visitor",
	}))
	assert.NoError(t, err)
}

func TestFromTelegram(t *testing.T) {
	u := tgbotapi.Update{
		UpdateID: 99,
		Message: &tgbotapi.Message{
			MessageID:      5,
			Text:           "У травні",
			Chat:           &tgbotapi.Chat{ID: groupID},
			From:           &tgbotapi.User{UserName: "operator"},
			ReplyToMessage: &tgbotapi.Message{Text: Marker(sessionA)},
		},
	}

	got, ok := FromTelegram(u)
	require.True(t, ok)
	assert.Equal(t, Update{UpdateID: 99, ChatID: groupID, MessageID: 5, Text: "У травні", ReplyToText: Marker(sessionA), From: "operator"}, got)

	_, ok = FromTelegram(tgbotapi.Update{UpdateID: 100})
	assert.False(t, ok)
}
