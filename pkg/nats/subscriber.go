package nats

import (
	"context"
	"fmt"
	"log"

	"support-chat-be/pkg/events"

	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber consumes the stream through a durable consumer shared by every
// instance, so each event reaches exactly one of them.
type Subscriber struct {
	js      jetstream.JetStream
	durable string
	consume jetstream.ConsumeContext
}

func (s *Subscriber) Subscribe(ctx context.Context, handler events.Handler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       s.durable,
		FilterSubject: SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		event, err := events.Unmarshal(msg.Data())
		if err != nil {
			log.Printf("[ERROR] Dropping undecodable event on %s: %v", msg.Subject(), err)
			_ = msg.Term()
			return
		}

		if err := handler(context.Background(), event); err != nil {
			log.Printf("[WARN] Handler failed for event %s: %v", event.Type, err)
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.consume = cc
	log.Printf("[INFO] Subscribed to %s.> with durable %s", SubjectPrefix, s.durable)
	return nil
}

func (s *Subscriber) stop() {
	if s.consume != nil {
		s.consume.Stop()
	}
}
