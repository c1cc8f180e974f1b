package events

import (
	"context"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const Topic = "support.events"

// ChannelBus is the in-process bus used by single instance deployments.
type ChannelBus struct {
	pubSub *gochannel.GoChannel
}

func NewChannelBus(logger watermill.LoggerAdapter) *ChannelBus {
	return &ChannelBus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger),
	}
}

func (b *ChannelBus) Publish(_ context.Context, event Event) error {
	payload, err := Marshal(event)
	if err != nil {
		return err
	}
	return b.pubSub.Publish(Topic, message.NewMessage(watermill.NewUUID(), payload))
}

func (b *ChannelBus) Subscribe(ctx context.Context, handler Handler) error {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			event, err := Unmarshal(msg.Payload)
			if err != nil {
				log.Printf("[ERROR] Dropping undecodable event %s: %v", msg.UUID, err)
				msg.Ack()
				continue
			}
			if err := handler(msg.Context(), event); err != nil {
				log.Printf("[WARN] Handler failed for event %s: %v", event.Type, err)
			}
			// Consumers are notification sinks; a failed delivery is not redelivered.
			msg.Ack()
		}
	}()

	return nil
}

func (b *ChannelBus) Close() error {
	return b.pubSub.Close()
}
