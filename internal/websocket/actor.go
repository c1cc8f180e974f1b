package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/metrics"
	"support-chat-be/internal/pkg/apperror"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/repository/contract"
	"support-chat-be/pkg/protocol"

	"github.com/google/uuid"
)

const module = "SessionActor"

// errActorStopped is returned to callers whose command raced with the actor
// stopping. The registry retries on a fresh actor.
var errActorStopped = errors.New("session actor stopped")

// Peer is one live connection attached to a session.
type Peer interface {
	ID() string
	// Enqueue must not block. It reports false when the peer cannot keep up.
	Enqueue(frame []byte) bool
	Close()
}

type RelayRequest struct {
	Text   string
	Sender entity.SenderType
	// Except, when set, does not receive the broadcast copy.
	Except Peer
}

type relayResult struct {
	message *entity.ChatMessage
	err     error
}

type command struct {
	join   Peer
	leave  Peer
	relay  *RelayRequest
	ctx    context.Context
	reply  chan relayResult
	frame  []byte
	close  bool
	joined chan struct{}
}

// Actor owns the live state of one session. Every mutation of that state runs
// on the actor goroutine, in the order the commands were received.
type Actor struct {
	sessionID   uuid.UUID
	messages    contract.ChatMessageRepository
	commands    chan command
	done        chan struct{}
	idleTimeout time.Duration
	onStop      func(*Actor)
	onBroadcast func(sessionID uuid.UUID, frame []byte)
	metrics     *metrics.Support
	logger      logger.ILogger

	// Owned by the run loop.
	peers   map[string]Peer
	lastSeq int64
	seeded  bool
}

type actorOptions struct {
	messages    contract.ChatMessageRepository
	idleTimeout time.Duration
	onStop      func(*Actor)
	onBroadcast func(sessionID uuid.UUID, frame []byte)
	metrics     *metrics.Support
	logger      logger.ILogger
}

func newActor(sessionID uuid.UUID, opts actorOptions) *Actor {
	return &Actor{
		sessionID:   sessionID,
		messages:    opts.messages,
		commands:    make(chan command, 64),
		done:        make(chan struct{}),
		idleTimeout: opts.idleTimeout,
		onStop:      opts.onStop,
		onBroadcast: opts.onBroadcast,
		metrics:     opts.metrics,
		logger:      opts.logger,
		peers:       make(map[string]Peer),
	}
}

func (a *Actor) SessionID() uuid.UUID {
	return a.sessionID
}

func (a *Actor) stopped() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func (a *Actor) submit(cmd command) error {
	select {
	case a.commands <- cmd:
		return nil
	case <-a.done:
		return errActorStopped
	}
}

// Join attaches a peer and acknowledges it with a session frame.
func (a *Actor) Join(peer Peer) error {
	joined := make(chan struct{}, 1)
	if err := a.submit(command{join: peer, joined: joined}); err != nil {
		return err
	}
	select {
	case <-joined:
		return nil
	case <-a.done:
		select {
		case <-joined:
			return nil
		default:
			return errActorStopped
		}
	}
}

func (a *Actor) Leave(peer Peer) {
	_ = a.submit(command{leave: peer})
}

// Relay appends the message and, once stored, broadcasts it. A store failure
// is returned and nothing is broadcast.
func (a *Actor) Relay(ctx context.Context, req RelayRequest) (*entity.ChatMessage, error) {
	reply := make(chan relayResult, 1)
	if err := a.submit(command{relay: &req, ctx: ctx, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case res := <-reply:
		return res.message, res.err
	case <-a.done:
		select {
		case res := <-reply:
			return res.message, res.err
		default:
			return nil, errActorStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PushStatus sends an admission change to every peer.
func (a *Actor) PushStatus(status entity.SessionStatus, position *int) {
	frame := protocol.MustEncode(protocol.Status{Status: string(status), QueuePosition: position})
	_ = a.submit(command{frame: frame})
}

// CloseAll tells every peer the session is closed, disconnects them and stops
// the actor.
func (a *Actor) CloseAll() {
	_ = a.submit(command{close: true})
}

// deliver hands a frame produced elsewhere to the local peers only.
func (a *Actor) deliver(frame []byte) {
	_ = a.submit(command{frame: frame})
}

func (a *Actor) run(ctx context.Context) {
	a.metrics.ActorStarted()
	idle := time.NewTimer(a.idleTimeout)

	defer func() {
		idle.Stop()
		close(a.done)
		a.metrics.ActorStopped()
		if a.onStop != nil {
			a.onStop(a)
		}
	}()

	for {
		select {
		case cmd := <-a.commands:
			switch {
			case cmd.join != nil:
				a.handleJoin(cmd.join)
				cmd.joined <- struct{}{}
			case cmd.leave != nil:
				a.removePeer(cmd.leave)
			case cmd.relay != nil:
				msg, err := a.handleRelay(cmd.ctx, cmd.relay)
				cmd.reply <- relayResult{message: msg, err: err}
			case cmd.close:
				a.handleClose()
				return
			case cmd.frame != nil:
				a.broadcast(cmd.frame, nil)
			}

			if len(a.peers) == 0 {
				resetTimer(idle, a.idleTimeout)
			} else {
				idle.Stop()
			}

		case <-idle.C:
			if len(a.peers) == 0 {
				a.logger.Debug(module, "Idle actor stopped", map[string]interface{}{"session_id": a.sessionID.String()})
				return
			}

		case <-ctx.Done():
			for _, p := range a.peers {
				p.Close()
			}
			return
		}
	}
}

func (a *Actor) handleJoin(peer Peer) {
	a.peers[peer.ID()] = peer
	if !peer.Enqueue(protocol.MustEncode(protocol.Session{Connected: true})) {
		a.dropSlow(peer)
		return
	}
	a.logger.Info(module, "Peer joined", map[string]interface{}{
		"session_id": a.sessionID.String(),
		"peer_id":    peer.ID(),
		"peers":      len(a.peers),
	})
}

func (a *Actor) removePeer(peer Peer) {
	if _, ok := a.peers[peer.ID()]; !ok {
		return
	}
	delete(a.peers, peer.ID())
	a.logger.Info(module, "Peer left", map[string]interface{}{
		"session_id": a.sessionID.String(),
		"peer_id":    peer.ID(),
		"peers":      len(a.peers),
	})
}

func (a *Actor) handleRelay(ctx context.Context, req *RelayRequest) (*entity.ChatMessage, error) {
	if !a.seeded {
		last, err := a.messages.LastSeq(ctx, a.sessionID)
		if err != nil {
			a.metrics.RelayFailed()
			return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
		}
		a.lastSeq = last
		a.seeded = true
	}

	msg := &entity.ChatMessage{
		Id:         uuid.New(),
		SessionId:  a.sessionID,
		SenderType: req.Sender,
		Text:       req.Text,
		Seq:        a.lastSeq + 1,
		CreatedAt:  time.Now().UTC(),
	}

	err := a.messages.Append(ctx, msg)
	if errors.Is(err, contract.ErrDuplicateSeq) {
		// Another instance appended to this session; catch up and retry once.
		last, lerr := a.messages.LastSeq(ctx, a.sessionID)
		if lerr == nil {
			msg.Seq = last + 1
			err = a.messages.Append(ctx, msg)
		}
	}
	if err != nil {
		a.metrics.RelayFailed()
		a.logger.Error(module, "Append failed, message not broadcast", map[string]interface{}{
			"session_id": a.sessionID.String(),
			"error":      err.Error(),
		})
		// The stored log may be ahead of us after a partial failure; reseed.
		a.seeded = false
		return nil, fmt.Errorf("%w: %v", apperror.ErrStore, err)
	}
	a.lastSeq = msg.Seq
	a.metrics.Relayed(string(req.Sender))

	frame := protocol.MustEncode(MessageEvent(msg))
	a.broadcast(frame, req.Except)
	if a.onBroadcast != nil {
		a.onBroadcast(a.sessionID, frame)
	}
	return msg, nil
}

func (a *Actor) handleClose() {
	frame := protocol.MustEncode(protocol.Status{Status: string(entity.SessionStatusClosed)})
	for id, p := range a.peers {
		p.Enqueue(frame)
		p.Close()
		delete(a.peers, id)
	}
	a.logger.Info(module, "Session closed, peers disconnected", map[string]interface{}{"session_id": a.sessionID.String()})
}

func (a *Actor) broadcast(frame []byte, except Peer) {
	for _, p := range a.peers {
		if except != nil && p.ID() == except.ID() {
			continue
		}
		if !p.Enqueue(frame) {
			a.dropSlow(p)
		}
	}
}

func (a *Actor) dropSlow(p Peer) {
	delete(a.peers, p.ID())
	p.Close()
	a.metrics.SlowConsumerDropped()
	a.logger.Warn(module, "Send buffer full, disconnecting peer", map[string]interface{}{
		"session_id": a.sessionID.String(),
		"peer_id":    p.ID(),
	})
}

// MessageEvent converts a stored message into its wire form.
func MessageEvent(m *entity.ChatMessage) protocol.Message {
	return protocol.Message{
		ID:         m.Id.String(),
		SessionID:  m.SessionId.String(),
		Text:       m.Text,
		SenderType: string(m.SenderType),
		Timestamp:  m.CreatedAt,
		Seq:        m.Seq,
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
