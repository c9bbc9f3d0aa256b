package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrServiceClosed is returned by Subscribe once the service is shutting down.
var ErrServiceClosed = errors.New("progress service closed")

// Config collects the tunables of a Service.
type Config struct {
	Driver DriverConfig
	// SendBuffer is the per-subscriber queue depth.
	SendBuffer int
	// SendTimeout bounds one write to a subscriber; a stalled client is
	// dropped once it expires.
	SendTimeout time.Duration
}

// Service owns the shared state of the broadcast subsystem. Build one at
// startup with NewService and release it with Close at shutdown.
type Service struct {
	cfg         Config
	store       *StateStore
	registry    *Registry
	broadcaster *Broadcaster
	driver      *Driver
	emitter     Emitter
	logger      *zap.Logger

	nextID atomic.Uint64

	mu     sync.Mutex
	closed bool
	active map[*Subscriber]struct{}
}

// NewService constructs the store, registry, broadcaster and driver.
func NewService(cfg Config, emitter Emitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter = emitterOrNop(emitter)
	store := NewStateStore()
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, emitter, logger.Named("broadcaster"))
	return &Service{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		driver:      NewDriver(cfg.Driver, store, broadcaster, emitter, logger.Named("driver")),
		emitter:     emitter,
		logger:      logger,
		active:      make(map[*Subscriber]struct{}),
	}
}

// Store exposes the topic state store.
func (s *Service) Store() *StateStore {
	return s.store
}

// Registry exposes the subscriber registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Closed reports whether Close has been called.
func (s *Service) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe runs one connection session: it attaches ch to topic, replays or
// seeds the topic's snapshot, starts the driver for fresh topics and then
// relays broadcasts until the channel ends. Every exit path deregisters the
// subscriber and tells the remaining viewers the new head count. It returns
// nil when the peer closed cleanly.
func (s *Service) Subscribe(ctx context.Context, topic string, ch Channel) error {
	sub := newSubscriber(s.nextID.Add(1), topic, ch, s.cfg.SendBuffer, s.cfg.SendTimeout)
	if !s.track(sub) {
		_ = ch.Close()
		return ErrServiceClosed
	}
	defer s.untrack(sub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sub.writeLoop(ctx)

	s.registry.Register(topic, sub)
	defer s.leave(topic, sub)

	viewers := s.registry.Count(topic)
	s.logger.Debug("subscriber joined",
		zap.String("topic", topic),
		zap.Uint64("subscriber", sub.ID()),
		zap.Int("viewers", viewers),
	)
	s.emitter.Emit(Event{Topic: topic, TS: time.Now().UTC(), Kind: KindJoin, Viewers: viewers})

	if err := s.join(topic, sub); err != nil {
		return err
	}
	return s.await(ctx, sub, ch)
}

// join delivers the first message to a new subscriber and starts the driver
// when the topic has not progressed yet.
func (s *Service) join(topic string, sub *Subscriber) error {
	snap, created := s.store.SeedIfAbsent(topic, Initial())
	if created {
		s.broadcaster.Broadcast(topic, s.current(topic))
	} else if err := s.broadcaster.Unicast(topic, sub, s.current(topic)); err != nil {
		return fmt.Errorf("replay snapshot for %q: %w", topic, err)
	}
	if snap.Progress == 0 {
		s.driver.Start(topic)
	}
	return nil
}

func (s *Service) await(ctx context.Context, sub *Subscriber, ch Channel) error {
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- ch.Wait(ctx)
	}()
	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("wait on channel: %w", err)
		}
		return nil
	case <-sub.Done():
		return sub.Err()
	case <-ctx.Done():
		return nil
	}
}

// leave is the single cleanup path for normal closes, errors and abrupt
// disconnects.
func (s *Service) leave(topic string, sub *Subscriber) {
	s.registry.Deregister(topic, sub)
	sub.close(nil)
	if err := sub.ch.Close(); err != nil {
		s.logger.Debug("channel close failed", zap.String("topic", topic), zap.Error(err))
	}

	viewers := s.registry.Count(topic)
	s.logger.Debug("subscriber left",
		zap.String("topic", topic),
		zap.Uint64("subscriber", sub.ID()),
		zap.Int("viewers", viewers),
	)
	s.emitter.Emit(Event{Topic: topic, TS: time.Now().UTC(), Kind: KindLeave, Viewers: viewers})
	if viewers > 0 && !s.Closed() {
		s.broadcaster.Broadcast(topic, s.current(topic))
	}
}

// current builds messages from whatever snapshot is stored when the builder
// runs, so replays never lag behind a concurrent driver step.
func (s *Service) current(topic string) PayloadBuilder {
	return func(viewers int) Message {
		snap, ok := s.store.Get(topic)
		if !ok {
			snap = Initial()
		}
		return snap.WithViewers(viewers)
	}
}

func (s *Service) track(sub *Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[sub] = struct{}{}
	return true
}

func (s *Service) untrack(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sub)
}

// Close refuses new sessions, disconnects active subscribers and stops the
// drivers. It waits for drivers until ctx ends.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*Subscriber, 0, len(s.active))
	for sub := range s.active {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close(ErrServiceClosed)
	}
	s.logger.Info("progress service closing", zap.Int("subscribers", len(subs)))
	return s.driver.Stop(ctx)
}
