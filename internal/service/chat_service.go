package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

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
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	module          = "ChatService"
	maxHistoryLimit = 200
	publishTimeout  = 2 * time.Second
)

// SessionRelay is the live side of a session: appending and broadcasting
// messages, and pushing admission changes to connected visitors.
type SessionRelay interface {
	Relay(ctx context.Context, sessionID uuid.UUID, req websocket.RelayRequest) (*entity.ChatMessage, error)
	PushStatus(sessionID uuid.UUID, status entity.SessionStatus, position *int)
}

type IChatService interface {
	CreateOrResume(ctx context.Context, req *dto.CreateSessionRequest) (*dto.SessionResponse, error)
	AttachIntake(ctx context.Context, sessionID uuid.UUID, req *dto.IntakeRequest) (*dto.SessionResponse, error)
	SendVisitorMessage(ctx context.Context, sessionID uuid.UUID, text string) (*entity.ChatMessage, error)
	RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*dto.MessageResponse, error)
	Status(ctx context.Context, sessionID uuid.UUID) (*dto.StatusResponse, error)
	CloseSession(ctx context.Context, sessionID uuid.UUID, by entity.ClosedBy) (*dto.CloseSessionResponse, error)
	RelayOperatorReply(ctx context.Context, sessionID uuid.UUID, text string) (*entity.ChatMessage, error)
	QueueSnapshot(ctx context.Context) (*dto.QueueSnapshotResponse, error)
	CanJoin(ctx context.Context, sessionID uuid.UUID) error
}

type chatService struct {
	uow       unitofwork.UnitOfWork
	admission *admission.Controller
	relay     SessionRelay
	bus       events.Bus
	cfg       config.SupportConfig
	logger    logger.ILogger

	// userIdentifier -> session id of the open conversation.
	resumeIndex *cache.Cache
	// session id -> *rate.Limiter for visitor sends.
	limiters *cache.Cache
}

func NewChatService(
	uow unitofwork.UnitOfWork,
	controller *admission.Controller,
	relay SessionRelay,
	bus events.Bus,
	cfg config.SupportConfig,
	log logger.ILogger,
) IChatService {
	s := &chatService{
		uow:         uow,
		admission:   controller,
		relay:       relay,
		bus:         bus,
		cfg:         cfg,
		logger:      log,
		resumeIndex: cache.New(24*time.Hour, time.Hour),
		limiters:    cache.New(10*time.Minute, 5*time.Minute),
	}
	controller.SetListener(s.onAdmissionChange)
	return s
}

func (s *chatService) onAdmissionChange(session *entity.ChatSession) {
	s.relay.PushStatus(session.Id, session.Status, session.QueuePosition)
}

func (s *chatService) CreateOrResume(ctx context.Context, req *dto.CreateSessionRequest) (*dto.SessionResponse, error) {
	existing, err := s.findResumable(ctx, req)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		// Admit is idempotent; it only acts on a session left in "new".
		admitted, err := s.admission.Admit(ctx, existing)
		if err != nil {
			return nil, err
		}
		if existing.Status == entity.SessionStatusNew {
			s.publishAdmitted(ctx, admitted)
		}
		s.resumeIndex.SetDefault(req.UserIdentifier, admitted.Id.String())
		res := toSessionResponse(admitted)
		res.Resumed = true
		return res, nil
	}

	session := &entity.ChatSession{
		Id:             uuid.New(),
		UserIdentifier: req.UserIdentifier,
		UserName:       strings.TrimSpace(req.Name),
		UserEmail:      strings.TrimSpace(req.Email),
		UserPhone:      strings.TrimSpace(req.Phone),
		IntakeExtra:    req.Extra,
		CreatedAt:      time.Now().UTC(),
	}

	admitted, err := s.admission.Admit(ctx, session)
	if err != nil {
		return nil, err
	}
	s.resumeIndex.SetDefault(req.UserIdentifier, admitted.Id.String())
	s.publishAdmitted(ctx, admitted)

	return toSessionResponse(admitted), nil
}

// findResumable returns the open session the request refers to, trying the
// explicit id first and the browser identity second.
func (s *chatService) findResumable(ctx context.Context, req *dto.CreateSessionRequest) (*entity.ChatSession, error) {
	repo := s.uow.ChatSessionRepository()

	candidates := make([]uuid.UUID, 0, 2)
	if req.SessionId != nil {
		candidates = append(candidates, *req.SessionId)
	}
	if cached, ok := s.resumeIndex.Get(req.UserIdentifier); ok {
		if id, err := uuid.Parse(cached.(string)); err == nil {
			candidates = append(candidates, id)
		}
	}

	for _, id := range lo.Uniq(candidates) {
		session, err := repo.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		if session != nil && !session.IsClosed() && session.UserIdentifier == req.UserIdentifier {
			return session, nil
		}
	}

	session, err := repo.FindOpenByUser(ctx, req.UserIdentifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	return session, nil
}

func (s *chatService) AttachIntake(ctx context.Context, sessionID uuid.UUID, req *dto.IntakeRequest) (*dto.SessionResponse, error) {
	session, err := s.admission.Amend(ctx, sessionID, func(session *entity.ChatSession) error {
		if session.IsClosed() {
			return apperror.ErrSessionClosed
		}
		if session.HasIntake() {
			return fmt.Errorf("%w: intake already submitted", apperror.ErrValidation)
		}
		session.UserName = strings.TrimSpace(req.Name)
		session.UserEmail = strings.TrimSpace(req.Email)
		session.UserPhone = strings.TrimSpace(req.Phone)
		session.IntakeExtra = req.Extra
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(module, "Intake attached", map[string]interface{}{"session_id": sessionID.String()})
	return toSessionResponse(session), nil
}

func (s *chatService) SendVisitorMessage(ctx context.Context, sessionID uuid.UUID, text string) (*entity.ChatMessage, error) {
	text, err := s.validateText(text)
	if err != nil {
		return nil, err
	}

	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !s.limiter(sessionID).Allow() {
		return nil, apperror.ErrRateLimited
	}

	msg, err := s.relay.Relay(ctx, sessionID, websocket.RelayRequest{Text: text, Sender: entity.SenderUser})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.MessageRelayed, map[string]interface{}{
		"sessionId":  session.Id.String(),
		"senderType": string(entity.SenderUser),
		"text":       msg.Text,
		"seq":        msg.Seq,
		"userName":   session.UserName,
		"status":     string(session.Status),
	}))
	return msg, nil
}

func (s *chatService) RelayOperatorReply(ctx context.Context, sessionID uuid.UUID, text string) (*entity.ChatMessage, error) {
	text, err := s.validateText(text)
	if err != nil {
		return nil, err
	}

	if _, err := s.openSession(ctx, sessionID); err != nil {
		return nil, err
	}

	msg, err := s.relay.Relay(ctx, sessionID, websocket.RelayRequest{Text: text, Sender: entity.SenderManager})
	if err != nil {
		return nil, err
	}

	s.logger.Info(module, "Operator reply relayed", map[string]interface{}{
		"session_id": sessionID.String(),
		"seq":        msg.Seq,
	})
	return msg, nil
}

func (s *chatService) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*dto.MessageResponse, error) {
	if _, err := s.session(ctx, sessionID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	limit = lo.Min([]int{limit, maxHistoryLimit})

	messages, err := s.uow.ChatMessageRepository().ListRecent(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}

	return lo.Map(messages, func(m *entity.ChatMessage, _ int) *dto.MessageResponse {
		return toMessageResponse(m)
	}), nil
}

func (s *chatService) Status(ctx context.Context, sessionID uuid.UUID) (*dto.StatusResponse, error) {
	st, err := s.admission.PollStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &dto.StatusResponse{Status: string(st.Status), QueuePosition: st.QueuePosition}, nil
}

func (s *chatService) CloseSession(ctx context.Context, sessionID uuid.UUID, by entity.ClosedBy) (*dto.CloseSessionResponse, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return &dto.CloseSessionResponse{Promoted: false}, nil
	}

	promoted, err := s.admission.Release(ctx, sessionID, by)
	if err != nil {
		return nil, err
	}

	s.resumeIndex.Delete(session.UserIdentifier)
	s.limiters.Delete(sessionID.String())

	s.publish(ctx, events.New(events.SessionClosed, map[string]interface{}{
		"sessionId": sessionID.String(),
		"closedBy":  string(by),
		"userName":  session.UserName,
	}))
	if promoted != nil {
		s.publish(ctx, events.New(events.SessionPromoted, sessionPayload(promoted)))
	}

	return &dto.CloseSessionResponse{Promoted: promoted != nil}, nil
}

func (s *chatService) QueueSnapshot(ctx context.Context) (*dto.QueueSnapshotResponse, error) {
	snap, err := s.admission.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	entry := func(session *entity.ChatSession, _ int) dto.QueueEntryResponse {
		return dto.QueueEntryResponse{
			Id:            session.Id,
			UserName:      session.UserName,
			Status:        string(session.Status),
			QueuePosition: session.QueuePosition,
			CreatedAt:     session.CreatedAt,
		}
	}
	return &dto.QueueSnapshotResponse{
		Capacity: snap.Capacity,
		Active:   lo.Map(snap.Active, entry),
		Queued:   lo.Map(snap.Queued, entry),
	}, nil
}

func (s *chatService) CanJoin(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.openSession(ctx, sessionID)
	return err
}

func (s *chatService) session(ctx context.Context, sessionID uuid.UUID) (*entity.ChatSession, error) {
	session, err := s.uow.ChatSessionRepository().FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	if session == nil {
		return nil, apperror.ErrNotFound
	}
	return session, nil
}

func (s *chatService) openSession(ctx context.Context, sessionID uuid.UUID) (*entity.ChatSession, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return nil, apperror.ErrSessionClosed
	}
	return session, nil
}

func (s *chatService) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: message text is empty", apperror.ErrValidation)
	}
	if s.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(text) > s.cfg.MaxMessageLength {
		return "", fmt.Errorf("%w: message longer than %d characters", apperror.ErrValidation, s.cfg.MaxMessageLength)
	}
	return text, nil
}

func (s *chatService) limiter(sessionID uuid.UUID) *rate.Limiter {
	key := sessionID.String()
	if l, ok := s.limiters.Get(key); ok {
		return l.(*rate.Limiter)
	}

	perMinute := s.cfg.MessagesPerMinute
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), lo.Max([]int{1, perMinute / 6}))
	// Add fails when a concurrent request stored one first; use theirs.
	if err := s.limiters.Add(key, l, cache.DefaultExpiration); err != nil {
		if existing, ok := s.limiters.Get(key); ok {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

func (s *chatService) publishAdmitted(ctx context.Context, session *entity.ChatSession) {
	s.publish(ctx, events.New(events.SessionAdmitted, sessionPayload(session)))
}

// publish never fails the caller; a lost notification is logged only.
func (s *chatService) publish(ctx context.Context, ev events.Event) {
	if s.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn(module, "Event publish failed", map[string]interface{}{
			"event": ev.EventType(),
			"error": err.Error(),
		})
	}
}

func sessionPayload(session *entity.ChatSession) map[string]interface{} {
	payload := map[string]interface{}{
		"sessionId": session.Id.String(),
		"status":    string(session.Status),
		"userName":  session.UserName,
		"userEmail": session.UserEmail,
		"userPhone": session.UserPhone,
	}
	if session.QueuePosition != nil {
		payload["queuePosition"] = *session.QueuePosition
	}
	return payload
}

func toSessionResponse(session *entity.ChatSession) *dto.SessionResponse {
	return &dto.SessionResponse{
		Id:             session.Id,
		UserIdentifier: session.UserIdentifier,
		Status:         string(session.Status),
		QueuePosition:  session.QueuePosition,
		HasIntake:      session.HasIntake(),
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
		ClosedBy:       string(session.ClosedBy),
	}
}

func toMessageResponse(m *entity.ChatMessage) *dto.MessageResponse {
	return &dto.MessageResponse{
		Id:         m.Id,
		SessionId:  m.SessionId,
		SenderType: string(m.SenderType),
		Text:       m.Text,
		Seq:        m.Seq,
		CreatedAt:  m.CreatedAt,
	}
}
