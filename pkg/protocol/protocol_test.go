package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClient(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Event
		wantErr error
	}{
		{
			name: "join",
			raw:  `{"type":"join","sessionId":"s-1"}`,
			want: Join{SessionID: "s-1"},
		},
		{
			name: "message",
			raw:  `{"type":"message","sessionId":"s-1","data":{"text":"Добрий день"}}`,
			want: Send{SessionID: "s-1", Text: "Добрий день"},
		},
		{
			name: "ping",
			raw:  `{"type":"ping"}`,
			want: Ping{},
		},
		{
			name:    "join without session",
			raw:     `{"type":"join"}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "message without data",
			raw:     `{"type":"message","sessionId":"s-1"}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "server only type",
			raw:     `{"type":"session","data":{"connected":true}}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"typing"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "not json",
			raw:     `hello`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClient([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeClient(%s) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerEventsSurviveEncoding(t *testing.T) {
	pos := 2
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []Event{
		Message{ID: "m-1", SessionID: "s-1", Text: "Ми відкриємось у травні", SenderType: "manager", Timestamp: ts, Seq: 7},
		Session{Connected: true},
		Status{Status: "queued", QueuePosition: &pos},
		Error{Error: "store failure"},
		Pong{},
	}

	for _, ev := range events {
		raw, err := Encode(ev)
		require.NoError(t, err)

		got, err := DecodeServer(raw)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}

func TestEncodeSendUsesWireShape(t *testing.T) {
	raw, err := Encode(Send{SessionID: "s-1", Text: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","sessionId":"s-1","data":{"text":"hi"}}`, string(raw))

	raw, err = Encode(Session{Connected: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"session","data":{"connected":true}}`, string(raw))
}
