// Package chatclient is the visitor side of the support chat. A Manager keeps a
// live connection to the session while the chat panel is open, repairs it with
// exponential backoff, falls back to one-shot requests and a 3s catch-up poll,
// and reconciles optimistic local messages with the confirmed ones.
package chatclient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"support-chat-be/pkg/dto"
	"support-chat-be/pkg/protocol"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	DefaultPollInterval    = 3 * time.Second
	DefaultReconcileWindow = time.Minute

	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second

	senderUser = "user"

	statusQueued = "queued"
	statusActive = "active"
	statusClosed = "closed"
)

var (
	ErrNotOpen      = errors.New("chat is not open")
	ErrEmptyMessage = errors.New("message is empty")
)

// Message is one entry of the visitor's conversation. Pending entries are
// local copies still waiting for the confirmed record.
type Message struct {
	ID         string
	SenderType string
	Text       string
	Seq        int64
	Timestamp  time.Time
	Pending    bool
}

// Snapshot is an immutable view handed to OnChange.
type Snapshot struct {
	State            State
	SessionID        uuid.UUID
	Status           string
	QueuePosition    *int
	Messages         []Message
	AwaitingOperator bool
	Notice           string
}

type Intake struct {
	Name  string
	Email string
	Phone string
	Extra map[string]string
}

type Config struct {
	UserIdentifier  string
	Intake          *Intake
	PollInterval    time.Duration
	ReconcileWindow time.Duration
	OnChange        func(Snapshot)
	Logger          *zap.Logger
}

type Manager struct {
	api    API
	dialer Dialer
	store  SessionStore
	cfg    Config
	log    *zap.Logger

	// wait sleeps between reconnect attempts; false means give up.
	wait func(ctx context.Context, d time.Duration) bool
	now  func() time.Time

	mu            sync.Mutex
	state         State
	sessionID     uuid.UUID
	status        string
	queuePosition *int
	messages      []Message
	notice        string
	conn          Conn
	ended         bool
	cancel        context.CancelFunc

	wg sync.WaitGroup
}

func NewManager(api API, dialer Dialer, store SessionStore, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = DefaultReconcileWindow
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}

	return &Manager{
		api:    api,
		dialer: dialer,
		store:  store,
		cfg:    cfg,
		log:    log,
		wait:   sleepCtx,
		now:    time.Now,
		state:  StateDisconnected,
	}
}

// Open creates or resumes the visitor's session and starts the live
// connection and the catch-up poll. Calling Open on an open chat is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	opened := m.cancel != nil
	m.mu.Unlock()
	if opened {
		return nil
	}

	session, err := m.ensureSession(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	if m.sessionID != session.Id {
		m.messages = nil
	}
	m.sessionID = session.Id
	m.cancel = cancel
	m.notice = ""
	m.ended = false
	m.applyStatusLocked(session.Status, session.QueuePosition)
	m.mu.Unlock()
	m.notify()

	m.catchUp(runCtx)

	m.wg.Add(2)
	go m.connectLoop(runCtx)
	go m.pollLoop(runCtx)
	return nil
}

func (m *Manager) ensureSession(ctx context.Context) (*dto.SessionResponse, error) {
	saved, err := m.store.Load()
	if err != nil {
		m.log.Warn("Failed to load saved session", zap.Error(err))
		saved = Saved{}
	}

	req := dto.CreateSessionRequest{UserIdentifier: m.cfg.UserIdentifier}
	if id, err := uuid.Parse(saved.SessionID); err == nil {
		req.SessionId = &id
	}
	if m.cfg.Intake != nil && !saved.IntakeCompleted {
		req.Name = m.cfg.Intake.Name
		req.Email = m.cfg.Intake.Email
		req.Phone = m.cfg.Intake.Phone
		req.Extra = m.cfg.Intake.Extra
	}

	session, err := m.api.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	// A resumed session ignores intake fields sent with the create call.
	if session.Resumed && !session.HasIntake && m.cfg.Intake != nil {
		attached, err := m.api.AttachIntake(ctx, session.Id, intakeRequest(*m.cfg.Intake))
		if err != nil {
			m.log.Warn("Failed to attach intake to resumed session", zap.Error(err))
		} else {
			session = attached
		}
	}

	if err := m.store.Save(Saved{SessionID: session.Id.String(), IntakeCompleted: session.HasIntake}); err != nil {
		m.log.Warn("Failed to save session", zap.Error(err))
	}
	return session, nil
}

// SubmitIntake attaches questionnaire answers to the current session.
func (m *Manager) SubmitIntake(ctx context.Context, intake Intake) error {
	id := m.currentSession()
	if id == uuid.Nil {
		return ErrNotOpen
	}

	session, err := m.api.AttachIntake(ctx, id, intakeRequest(intake))
	if err != nil {
		return err
	}
	return m.store.Save(Saved{SessionID: session.Id.String(), IntakeCompleted: true})
}

func intakeRequest(in Intake) dto.IntakeRequest {
	return dto.IntakeRequest{
		Name:  in.Name,
		Email: in.Email,
		Phone: in.Phone,
		Extra: in.Extra,
	}
}

// Send shows the message at once and delivers it over the live connection,
// or with a one-shot request when there is none.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return ErrNotOpen
	}
	if m.ended {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	temp := Message{
		ID:         "temp-" + uuid.NewString(),
		SenderType: senderUser,
		Text:       text,
		Timestamp:  m.now(),
		Pending:    true,
	}
	m.messages = append(m.messages, temp)
	m.notice = ""
	conn := m.conn
	sessionID := m.sessionID
	m.mu.Unlock()
	m.notify()

	if conn != nil {
		err := conn.Write(protocol.MustEncode(protocol.Send{SessionID: sessionID.String(), Text: text}))
		if err == nil {
			return nil
		}
		m.log.Warn("Live send failed, falling back to request", zap.Error(err))
	}

	res, err := m.api.SendMessage(ctx, sessionID, text)

	m.mu.Lock()
	if err != nil {
		m.removeLocked(temp.ID)
		m.notice = "Не вдалося надіслати повідомлення"
		if errors.Is(err, ErrSessionClosed) {
			m.applyStatusLocked(statusClosed, nil)
		}
	} else {
		m.confirmLocked(temp.ID, fromResponse(*res))
	}
	m.mu.Unlock()
	m.notify()
	return err
}

// Close tears down the live connection and stops polling. The session on the
// server stays as it is.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	if cancel != nil {
		cancel()
	}
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		conn.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.state = StateDisconnected
	m.queuePosition = nil
	m.mu.Unlock()
	m.notify()
}

// EndChat closes the session on the server, forgets it and closes the chat.
func (m *Manager) EndChat(ctx context.Context) error {
	id := m.currentSession()
	if id != uuid.Nil {
		if err := m.api.CloseSession(ctx, id); err != nil && !errors.Is(err, ErrSessionClosed) {
			return err
		}
	}
	if err := m.store.Clear(); err != nil {
		m.log.Warn("Failed to clear saved session", zap.Error(err))
	}

	m.mu.Lock()
	m.applyStatusLocked(statusClosed, nil)
	m.mu.Unlock()

	m.Close()
	return nil
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)

	var pos *int
	if m.queuePosition != nil {
		p := *m.queuePosition
		pos = &p
	}

	return Snapshot{
		State:            m.state,
		SessionID:        m.sessionID,
		Status:           m.status,
		QueuePosition:    pos,
		Messages:         msgs,
		AwaitingOperator: len(msgs) > 0 && msgs[len(msgs)-1].SenderType == senderUser,
		Notice:           m.notice,
	}
}

func (m *Manager) notify() {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(m.Snapshot())
	}
}

func (m *Manager) connectLoop(ctx context.Context) {
	defer m.wg.Done()

	b := newReconnectBackoff()
	for ctx.Err() == nil && !m.isEnded() {
		m.setState(StateConnecting)

		sessionID := m.currentSession()
		conn, err := m.dialer.Dial(ctx, sessionID)
		if err == nil {
			err = conn.Write(protocol.MustEncode(protocol.Join{SessionID: sessionID.String()}))
			if err == nil && m.attach(ctx, conn) {
				b.Reset()
				err = m.readLoop(conn)
				m.detach(conn)
			}
			conn.Close()
		}

		m.setState(StateDisconnected)
		if ctx.Err() != nil || m.isEnded() {
			return
		}

		delay := b.NextBackOff()
		m.log.Debug("Live connection unavailable, retrying",
			zap.String("session_id", sessionID.String()),
			zap.Duration("delay", delay),
			zap.Error(err))
		if !m.wait(ctx, delay) {
			return
		}
	}
}

func (m *Manager) attach(ctx context.Context, conn Conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	m.notify()
	return true
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		m.conn = nil
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		raw, err := conn.Read()
		if err != nil {
			return err
		}

		ev, err := protocol.DecodeServer(raw)
		if err != nil {
			m.log.Warn("Dropping unknown live event", zap.Error(err))
			continue
		}

		switch e := ev.(type) {
		case protocol.Message:
			m.mu.Lock()
			m.mergeLocked(fromEvent(e))
			m.mu.Unlock()
		case protocol.Status:
			m.mu.Lock()
			m.applyStatusLocked(e.Status, e.QueuePosition)
			m.mu.Unlock()
		case protocol.Error:
			m.mu.Lock()
			m.dropPendingLocked()
			m.notice = e.Error
			m.mu.Unlock()
		case protocol.Ping:
			if err := conn.Write(protocol.MustEncode(protocol.Pong{})); err != nil {
				return err
			}
			continue
		default:
			continue
		}
		m.notify()
	}
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.catchUp(ctx)
			if m.isEnded() {
				return
			}
		}
	}
}

// catchUp merges the recent history and, while waiting, the queue status.
func (m *Manager) catchUp(ctx context.Context) {
	id := m.currentSession()
	if id == uuid.Nil {
		return
	}

	history, err := m.api.RecentMessages(ctx, id)
	if err != nil {
		m.log.Debug("History poll failed", zap.Error(err))
	} else {
		m.mu.Lock()
		for _, r := range history {
			m.mergeLocked(fromResponse(r))
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	status := m.status
	m.mu.Unlock()

	if status != statusActive && status != statusClosed {
		st, err := m.api.Status(ctx, id)
		if err != nil {
			m.log.Debug("Status poll failed", zap.Error(err))
		} else {
			m.mu.Lock()
			m.applyStatusLocked(st.Status, st.QueuePosition)
			m.mu.Unlock()
		}
	}
	m.notify()
}

func (m *Manager) applyStatusLocked(status string, position *int) {
	m.status = status
	switch status {
	case statusQueued:
		m.queuePosition = position
	case statusClosed:
		m.queuePosition = nil
		m.ended = true
	default:
		m.queuePosition = nil
	}
}

// mergeLocked adds a confirmed message unless it is already known. A pending
// entry with the same sender and text inside the reconcile window is replaced.
func (m *Manager) mergeLocked(msg Message) {
	if m.knownLocked(msg.ID) {
		return
	}

	if i := m.pendingMatchLocked(msg); i >= 0 {
		m.messages[i] = msg
	} else {
		m.messages = append(m.messages, msg)
	}
	m.sortLocked()
}

// confirmLocked swaps one known pending entry for its confirmed record.
func (m *Manager) confirmLocked(tempID string, msg Message) {
	if m.knownLocked(msg.ID) {
		m.removeLocked(tempID)
		return
	}

	for i := range m.messages {
		if m.messages[i].ID == tempID {
			m.messages[i] = msg
			m.sortLocked()
			return
		}
	}
	m.mergeLocked(msg)
}

func (m *Manager) knownLocked(id string) bool {
	return lo.ContainsBy(m.messages, func(existing Message) bool {
		return !existing.Pending && existing.ID == id
	})
}

func (m *Manager) pendingMatchLocked(msg Message) int {
	for i, p := range m.messages {
		if !p.Pending || p.SenderType != msg.SenderType || p.Text != msg.Text {
			continue
		}
		diff := msg.Timestamp.Sub(p.Timestamp)
		if diff < 0 {
			diff = -diff
		}
		if diff <= m.cfg.ReconcileWindow {
			return i
		}
	}
	return -1
}

func (m *Manager) dropPendingLocked() {
	for i, p := range m.messages {
		if p.Pending {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return
		}
	}
}

func (m *Manager) removeLocked(id string) {
	for i, p := range m.messages {
		if p.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return
		}
	}
}

// sortLocked orders confirmed messages by sequence and keeps pending ones last.
func (m *Manager) sortLocked() {
	sort.SliceStable(m.messages, func(i, j int) bool {
		a, b := m.messages[i], m.messages[j]
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Pending {
			return false
		}
		return a.Seq < b.Seq
	})
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

func (m *Manager) currentSession() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Manager) isEnded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialReconnectDelay
	b.Multiplier = 2
	b.MaxInterval = maxReconnectDelay
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func fromResponse(r dto.MessageResponse) Message {
	return Message{
		ID:         r.Id.String(),
		SenderType: r.SenderType,
		Text:       r.Text,
		Seq:        r.Seq,
		Timestamp:  r.CreatedAt,
	}
}

func fromEvent(e protocol.Message) Message {
	return Message{
		ID:         e.ID,
		SenderType: e.SenderType,
		Text:       e.Text,
		Seq:        e.Seq,
		Timestamp:  e.Timestamp,
	}
}
