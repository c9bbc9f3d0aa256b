package progress

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PayloadBuilder builds the outbound message given the topic's viewer count
// at broadcast time.
type PayloadBuilder func(viewers int) Message

// Broadcaster fans messages out to every subscriber of a topic. Delivery
// failures are routine: the failing subscriber is dropped from the registry
// and closed, and the broadcast continues with the rest.
type Broadcaster struct {
	registry *Registry
	emitter  Emitter
	logger   *zap.Logger

	mu    sync.Mutex
	lanes map[string]*sync.Mutex
}

// NewBroadcaster wires a broadcaster to the registry it enumerates.
func NewBroadcaster(registry *Registry, emitter Emitter, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		registry: registry,
		emitter:  emitterOrNop(emitter),
		logger:   logger,
		lanes:    make(map[string]*sync.Mutex),
	}
}

// lane returns the mutex serializing fan-out for topic. Holders only enqueue,
// never block on a client.
func (b *Broadcaster) lane(topic string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lanes[topic]
	if !ok {
		l = &sync.Mutex{}
		b.lanes[topic] = l
	}
	return l
}

// Broadcast delivers build's message to every current subscriber of topic.
// The viewer count is taken once, from the same registry snapshot the message
// is delivered to. It returns the number of successful deliveries.
func (b *Broadcaster) Broadcast(topic string, build PayloadBuilder) int {
	l := b.lane(topic)
	l.Lock()
	defer l.Unlock()

	subs := b.live(topic)
	if len(subs) == 0 {
		return 0
	}
	msg := build(len(subs))
	delivered := 0
	for _, sub := range subs {
		if err := sub.Deliver(msg); err != nil {
			if errors.Is(err, ErrSubscriberClosed) {
				// Already leaving; its session does the cleanup.
				b.registry.Deregister(topic, sub)
				continue
			}
			b.drop(topic, sub, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Unicast delivers one message to sub alone, ordered with the topic's
// broadcasts. Failures are returned to the caller rather than absorbed.
func (b *Broadcaster) Unicast(topic string, sub *Subscriber, build PayloadBuilder) error {
	l := b.lane(topic)
	l.Lock()
	defer l.Unlock()
	return sub.Deliver(build(len(b.live(topic))))
}

// live returns topic's subscribers, deregistering any that already closed so
// they do not inflate the viewer count.
func (b *Broadcaster) live(topic string) []*Subscriber {
	subs := b.registry.Subscribers(topic)
	out := subs[:0]
	for _, sub := range subs {
		if sub.isClosed() {
			b.registry.Deregister(topic, sub)
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (b *Broadcaster) drop(topic string, sub *Subscriber, err error) {
	b.registry.Deregister(topic, sub)
	sub.close(err)
	b.logger.Debug("dropping subscriber after failed delivery",
		zap.String("topic", topic),
		zap.Uint64("subscriber", sub.ID()),
		zap.Error(err),
	)
	b.emitter.Emit(Event{
		Topic: topic,
		TS:    time.Now().UTC(),
		Kind:  KindDeliveryFailed,
		Note:  err.Error(),
	})
}
