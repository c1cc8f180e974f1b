// Package bridge turns a group chat into the operator console: service events
// go out as notifications, operator messages come back as replies.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/metrics"
	"support-chat-be/internal/pkg/apperror"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/pkg/dto"
	"support-chat-be/pkg/events"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
)

const module = "OperatorBridge"

const (
	textDelivered   = "✅ Доставлено"
	textUsage       = "Не вдалося визначити сесію. Відповідайте на повідомлення бота або надішліть /reply <id> <текст>."
	textHelp        = "Команди:\n/reply <id> <текст> — відповісти відвідувачу\n/close <id> — завершити розмову\n/queue — активні розмови та черга\n\nМожна також просто відповісти на сповіщення бота."
	textSendFailed  = "❌ Не вдалося доставити повідомлення, спробуйте ще раз."
	textCloseUsage  = "Використання: /close <id> (або відповіддю на сповіщення бота)"
	dedupeRetention = 10 * time.Minute
)

// Channel is the transport to the operator group.
type Channel interface {
	// Send posts text to the group, as a reply when replyTo is non-zero.
	Send(ctx context.Context, text string, replyTo int) error
}

// OperatorService is the part of the chat service operators can drive.
type OperatorService interface {
	RelayOperatorReply(ctx context.Context, sessionID uuid.UUID, text string) (*entity.ChatMessage, error)
	CloseSession(ctx context.Context, sessionID uuid.UUID, by entity.ClosedBy) (*dto.CloseSessionResponse, error)
	QueueSnapshot(ctx context.Context) (*dto.QueueSnapshotResponse, error)
}

// Update is one inbound operator message.
type Update struct {
	UpdateID    int
	ChatID      int64
	MessageID   int
	Text        string
	ReplyToText string
	From        string
}

type Bridge struct {
	service     OperatorService
	channel     Channel
	groupChatID int64
	seen        *cache.Cache
	metrics     *metrics.Support
	logger      logger.ILogger
}

func New(service OperatorService, channel Channel, groupChatID int64, m *metrics.Support, log logger.ILogger) *Bridge {
	return &Bridge{
		service:     service,
		channel:     channel,
		groupChatID: groupChatID,
		seen:        cache.New(dedupeRetention, dedupeRetention),
		metrics:     m,
		logger:      log,
	}
}

// Start consumes service events until ctx ends.
func (b *Bridge) Start(ctx context.Context, bus events.Bus) error {
	return bus.Subscribe(ctx, b.HandleEvent)
}

// HandleEvent sends the notification for one service event. Delivery problems
// are logged and counted; they never reach the publisher.
func (b *Bridge) HandleEvent(ctx context.Context, ev events.Event) error {
	text, ok := formatEvent(ev)
	if !ok {
		return nil
	}

	if err := b.channel.Send(ctx, text, 0); err != nil {
		b.metrics.NotificationFailed()
		b.logger.Warn(module, "Operator notification failed", map[string]interface{}{
			"event":      ev.EventType(),
			"session_id": events.String(ev, "sessionId"),
			"error":      fmt.Errorf("%w: %v", apperror.ErrNotification, err).Error(),
		})
	}
	return nil
}

// HandleUpdate processes one operator message from the webhook.
func (b *Bridge) HandleUpdate(ctx context.Context, u Update) {
	if b.groupChatID != 0 && u.ChatID != b.groupChatID {
		b.logger.Warn(module, "Update from foreign chat ignored", map[string]interface{}{"chat_id": u.ChatID})
		return
	}
	if strings.TrimSpace(u.Text) == "" {
		return
	}
	if err := b.seen.Add(strconv.Itoa(u.UpdateID), struct{}{}, cache.DefaultExpiration); err != nil {
		b.logger.Debug(module, "Duplicate update ignored", map[string]interface{}{"update_id": u.UpdateID})
		return
	}

	switch name, args := command(u.Text); name {
	case "help", "start":
		b.reply(ctx, u, textHelp)
		return
	case "queue":
		b.handleQueue(ctx, u)
		return
	case "close":
		b.handleClose(ctx, u, args)
		return
	}

	route, ok := Resolve(Inbound{Text: u.Text, ReplyToText: u.ReplyToText})
	if !ok {
		b.metrics.Unrouted()
		b.logger.Info(module, "Operator message not routed", map[string]interface{}{
			"message_id": u.MessageID,
			"error":      apperror.ErrRoutingAmbiguity.Error(),
		})
		b.reply(ctx, u, textUsage)
		return
	}

	if _, err := b.service.RelayOperatorReply(ctx, route.SessionID, route.Text); err != nil {
		b.logger.Warn(module, "Operator reply not delivered", map[string]interface{}{
			"session_id": route.SessionID.String(),
			"matcher":    route.Matcher,
			"error":      err.Error(),
		})
		b.reply(ctx, u, failureText(route.SessionID, err))
		return
	}

	b.logger.Info(module, "Operator reply delivered", map[string]interface{}{
		"session_id": route.SessionID.String(),
		"matcher":    route.Matcher,
		"operator":   u.From,
	})
	b.reply(ctx, u, textDelivered)
}

func (b *Bridge) handleClose(ctx context.Context, u Update, args []string) {
	var id uuid.UUID
	if len(args) > 0 {
		parsed, err := uuid.Parse(args[0])
		if err != nil {
			b.reply(ctx, u, textCloseUsage)
			return
		}
		id = parsed
	} else if parsed, ok := singleMarker(u.ReplyToText); ok {
		id = parsed
	} else {
		b.reply(ctx, u, textCloseUsage)
		return
	}

	res, err := b.service.CloseSession(ctx, id, entity.ClosedByOperator)
	if err != nil {
		b.reply(ctx, u, failureText(id, err))
		return
	}

	text := "Розмову завершено.\n" + Marker(id)
	if res.Promoted {
		text += "\nНаступний відвідувач із черги вже підключений."
	}
	b.reply(ctx, u, text)
}

func (b *Bridge) handleQueue(ctx context.Context, u Update) {
	snap, err := b.service.QueueSnapshot(ctx)
	if err != nil {
		b.reply(ctx, u, textSendFailed)
		return
	}
	b.reply(ctx, u, formatQueue(snap))
}

func (b *Bridge) reply(ctx context.Context, u Update, text string) {
	if err := b.channel.Send(ctx, text, u.MessageID); err != nil {
		b.metrics.NotificationFailed()
		b.logger.Warn(module, "Operator reply failed", map[string]interface{}{"error": err.Error()})
	}
}

func failureText(id uuid.UUID, err error) string {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return "❌ Сесію не знайдено: " + id.String()
	case errors.Is(err, apperror.ErrSessionClosed):
		return "❌ Розмову вже завершено: " + id.String()
	case errors.Is(err, apperror.ErrValidation):
		return "❌ " + err.Error()
	}
	return textSendFailed
}

func formatEvent(ev events.Event) (string, bool) {
	id := events.String(ev, "sessionId")
	if id == "" {
		return "", false
	}
	marker := markerLabel + " " + id

	switch ev.EventType() {
	case events.SessionAdmitted:
		var head string
		if pos, ok := events.Int(ev, "queuePosition"); ok {
			head = fmt.Sprintf("🕓 Новий відвідувач у черзі (позиція %d)", pos+1)
		} else {
			head = "🟢 Нова розмова"
		}
		return joinLines(head, visitorDetails(ev), marker), true

	case events.SessionPromoted:
		return joinLines("▶️ Відвідувач із черги тепер на зв'язку", visitorDetails(ev), marker), true

	case events.SessionClosed:
		return joinLines("⛔ Розмову завершено ("+closedByLabel(events.String(ev, "closedBy"))+")", marker), true

	case events.MessageRelayed:
		if events.String(ev, "senderType") != string(entity.SenderUser) {
			return "", false
		}
		name := lo.Ternary(events.String(ev, "userName") != "", events.String(ev, "userName"), "Відвідувач")
		head := "💬 " + name
		if events.String(ev, "status") == string(entity.SessionStatusQueued) {
			head += " (у черзі)"
		}
		return head + ":\n" + events.String(ev, "text") + "\n\n" + marker, true
	}
	return "", false
}

func visitorDetails(ev events.Event) string {
	lines := []string{}
	if v := events.String(ev, "userName"); v != "" {
		lines = append(lines, "Ім'я: "+v)
	}
	if v := events.String(ev, "userEmail"); v != "" {
		lines = append(lines, "Email: "+v)
	}
	if v := events.String(ev, "userPhone"); v != "" {
		lines = append(lines, "Телефон: "+v)
	}
	return strings.Join(lines, "\n")
}

func closedByLabel(by string) string {
	switch entity.ClosedBy(by) {
	case entity.ClosedByVisitor:
		return "відвідувач"
	case entity.ClosedByOperator:
		return "оператор"
	case entity.ClosedByAdmin:
		return "адміністратор"
	}
	return by
}

// formatQueue lists sessions by bare id so that replying to it addresses no
// session.
func formatQueue(snap *dto.QueueSnapshotResponse) string {
	entry := func(e dto.QueueEntryResponse) string {
		return lo.Ternary(e.UserName != "", e.UserName, "Відвідувач") + " — " + e.Id.String()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Активні (%d/%d):\n", len(snap.Active), snap.Capacity)
	for _, e := range snap.Active {
		sb.WriteString("• " + entry(e) + "\n")
	}
	fmt.Fprintf(&sb, "У черзі (%d):", len(snap.Queued))
	for i, e := range snap.Queued {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, entry(e))
	}
	return sb.String()
}

func joinLines(parts ...string) string {
	return strings.Join(lo.Compact(parts), "\n")
}
