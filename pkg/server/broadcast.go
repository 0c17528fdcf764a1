package server

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	broadcastTopic = "chat.responses"
	originKey      = "origin"
)

// Broadcaster fans chat responses out to the WebSocket clients through a
// watermill topic, so the request answering a query never writes to other
// clients itself.
type Broadcaster struct {
	pubsub *gochannel.GoChannel
	hub    *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			newZerologAdapter(log.Logger),
		),
		hub: hub,
	}
}

// Start forwards published responses to the hub until ctx is done or Close is called.
func (b *Broadcaster) Start(ctx context.Context) error {
	msgs, err := b.pubsub.Subscribe(ctx, broadcastTopic)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to broadcasts")
	}
	go func() {
		for msg := range msgs {
			n := b.hub.Broadcast(msg.Payload, msg.Metadata.Get(originKey))
			log.Debug().Str("message_id", msg.UUID).Int("recipients", n).Msg("Broadcast chat response")
			msg.Ack()
		}
	}()
	return nil
}

// Publish broadcasts payload to every client but origin. An empty origin
// reaches all clients.
func (b *Broadcaster) Publish(payload []byte, origin string) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(originKey, origin)
	return b.pubsub.Publish(broadcastTopic, msg)
}

func (b *Broadcaster) Close() error {
	return b.pubsub.Close()
}
