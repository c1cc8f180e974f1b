package nats

import (
	"support-chat-be/pkg/events"

	"github.com/nats-io/nats.go"
)

// Bus is the JetStream implementation of events.Bus for multi-instance
// deployments.
type Bus struct {
	*Publisher
	*Subscriber
	nc *nats.Conn
}

var _ events.Bus = (*Bus)(nil)

func NewBus(url, durable string) (*Bus, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	ensureStream(js)

	return &Bus{
		Publisher:  &Publisher{js: js},
		Subscriber: &Subscriber{js: js, durable: durable},
		nc:         nc,
	}, nil
}

func (b *Bus) Close() error {
	b.Subscriber.stop()
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
