// Package protocol defines the live-channel events exchanged between a visitor
// connection and its session actor. The set is closed: decoding rejects any
// type it does not know, and the direction decides how "message" is read.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	TypeJoin    EventType = "join"
	TypeMessage EventType = "message"
	TypeSession EventType = "session"
	TypeStatus  EventType = "status"
	TypePing    EventType = "ping"
	TypePong    EventType = "pong"
	TypeError   EventType = "error"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrMalformed   = errors.New("malformed event")
)

type envelope struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is one frame of the live channel.
type Event interface {
	Type() EventType
}

// Join registers the connection with a session (client to server).
type Join struct {
	SessionID string
}

// Send carries a new visitor message (client to server).
type Send struct {
	SessionID string
	Text      string
}

// Message is a stored message broadcast to listeners (server to client).
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	SenderType string    `json:"senderType"`
	Timestamp  time.Time `json:"timestamp"`
	Seq        int64     `json:"seq"`
}

// Session acknowledges a join.
type Session struct {
	Connected bool `json:"connected"`
}

// Status pushes an admission change.
type Status struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queuePosition"`
}

type Ping struct{}

type Pong struct{}

// Error reports a failed relay to the sender.
type Error struct {
	Error string `json:"error"`
}

func (Join) Type() EventType    { return TypeJoin }
func (Send) Type() EventType    { return TypeMessage }
func (Message) Type() EventType { return TypeMessage }
func (Session) Type() EventType { return TypeSession }
func (Status) Type() EventType  { return TypeStatus }
func (Ping) Type() EventType    { return TypePing }
func (Pong) Type() EventType    { return TypePong }
func (Error) Type() EventType   { return TypeError }

type sendData struct {
	Text string `json:"text"`
}

// Encode renders an event as a JSON text frame.
func Encode(ev Event) ([]byte, error) {
	env := envelope{Type: ev.Type()}
	var data interface{}

	switch e := ev.(type) {
	case Join:
		env.SessionID = e.SessionID
	case Send:
		env.SessionID = e.SessionID
		data = sendData{Text: e.Text}
	case Message:
		data = e
	case Session:
		data = e
	case Status:
		data = e
	case Error:
		data = e
	case Ping, Pong:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// MustEncode is Encode for events built by this package's callers; it panics on
// an event type outside the closed set.
func MustEncode(ev Event) []byte {
	b, err := Encode(ev)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeClient parses a frame sent by a visitor connection.
func DecodeClient(raw []byte) (Event, error) {
	env, err := parse(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoin:
		if env.SessionID == "" {
			return nil, fmt.Errorf("%w: join without sessionId", ErrMalformed)
		}
		return Join{SessionID: env.SessionID}, nil
	case TypeMessage:
		var d sendData
		if err := unmarshalData(env.Data, &d); err != nil {
			return nil, err
		}
		return Send{SessionID: env.SessionID, Text: d.Text}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(raw []byte) (Event, error) {
	env, err := parse(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeMessage:
		var m Message
		if err := unmarshalData(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSession:
		var s Session
		if err := unmarshalData(env.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case TypeStatus:
		var s Status
		if err := unmarshalData(env.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case TypeError:
		var e Error
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func parse(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
