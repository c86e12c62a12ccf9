// Package events is the client's in-process event bus. The cloud stream, the connectivity
// listener and the dispatcher talk to each other only through its four topics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github/itish2003/pointer/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Topic names are part of the client contract.
const (
	TopicToken      = "cloud-token"
	TopicDone       = "cloud-done"
	TopicError      = "cloud-error"
	TopicConnection = "backend-connection"
)

type TokenEvent struct {
	Token string `json:"token"`
}

type DoneEvent struct{}

type ErrorEvent struct {
	Message string `json:"message"`
}

type ConnectionEvent struct {
	Connected bool `json:"connected"`
}

// Bus wraps a watermill GoChannel. Publish blocks until every current subscriber has acked,
// which keeps a token published before a done event ahead of it across topics.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]int
}

func NewBus(l *zap.Logger) *Bus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            16,
		BlockPublishUntilSubscriberAck: true,
	}, logger.Watermill(l.Named("watermill")))
	return &Bus{
		pubsub: pubsub,
		logger: l.Named("bus"),
		active: make(map[string]int),
	}
}

// Publish JSON-encodes payload onto topic. With no subscribers the event is dropped.
func (b *Bus) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}
	return nil
}

// Subscription is a live subscription. Messages must be acked or the publisher stays blocked.
type Subscription struct {
	Messages <-chan *message.Message
	cancel   func()
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

// Subscribe registers on topic. The subscription is in place when Subscribe returns,
// so anything published afterwards is delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := b.pubsub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.active[topic]++
	b.mu.Unlock()

	var once sync.Once
	return &Subscription{
		Messages: messages,
		cancel: func() {
			once.Do(func() {
				cancel()
				b.mu.Lock()
				b.active[topic]--
				b.mu.Unlock()
			})
		},
	}, nil
}

// Active reports how many subscriptions this bus handed out on topic are still open.
func (b *Bus) Active(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[topic]
}

// Close shuts the underlying pub/sub down.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode unmarshals a message payload into v.
func Decode(msg *message.Message, v interface{}) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return nil
}
