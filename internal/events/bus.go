// Package events fans generation lifecycle events out to in-process
// subscribers, optionally through a Redis channel so several bridge
// replicas share one feed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event types emitted while a generation runs.
const (
	TypeSubmitted     = "generation.submitted"
	TypeProgress      = "generation.progress"
	TypeNodeCaptured  = "generation.node_captured"
	TypeCandidate     = "generation.candidate"
	TypePollStarted   = "generation.poll_started"
	TypeCompleted     = "generation.completed"
	TypeFailed        = "generation.failed"
	TypeMaterialized  = "artifact.materialized"
	DefaultChannel    = "imagegen-bridge-events"
	subscriberBacklog = 16
)

// Event represents one lifecycle notification.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Publisher is implemented by Bus and by test fakes.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus multiplexes events to connected clients. With a Redis client, events
// reach local subscribers only through the Redis subscription so each event
// is delivered once.
type Bus struct {
	client redis.UniversalClient
	logger *log.Logger
	ch     string

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}

	stop context.CancelFunc
	done chan struct{}
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Logger  *log.Logger
	Channel string
}

// NewBus creates a new event bus.
func NewBus(opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	bus := &Bus{
		client:      opts.Client,
		logger:      opts.Logger,
		ch:          channel,
		subscribers: make(map[chan Event]struct{}),
		done:        make(chan struct{}),
	}
	if bus.client != nil {
		ctx, cancel := context.WithCancel(context.Background())
		bus.stop = cancel
		pubsub := bus.client.Subscribe(ctx, bus.ch)
		go bus.observeRedis(ctx, pubsub)
	} else {
		close(bus.done)
	}
	return bus
}

// Close stops the Redis subscription, if any.
func (b *Bus) Close() {
	if b.stop != nil {
		b.stop()
	}
	<-b.done
}

// Publish stamps evt and delivers it.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if b.client == nil {
		b.broadcast(evt)
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
		b.broadcast(evt)
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe registers a subscriber until ctx ends or cancel is called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBacklog)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			close(ch)
			b.mu.Unlock()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel
}

func (b *Bus) broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logf("events: dropping event %s (subscriber backlog)", evt.ID)
		}
	}
}

func (b *Bus) observeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logf("events: redis subscriber error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.logf("events: invalid payload: %v", err)
			continue
		}
		b.broadcast(evt)
	}
}

func (b *Bus) logf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}
