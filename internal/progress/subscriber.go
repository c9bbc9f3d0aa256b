package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors reported when a message cannot be handed to a subscriber.
var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSubscriberSlow   = errors.New("subscriber send queue full")
)

const (
	defaultSendBuffer  = 64
	defaultSendTimeout = 10 * time.Second
)

// Channel is an accepted, bidirectional connection to one client. The
// transport layer owns the handshake; sessions only send, wait and close.
type Channel interface {
	// Send writes one message and must honor ctx's deadline.
	Send(ctx context.Context, msg Message) error
	// Wait blocks until the peer disconnects or ctx ends. A clean close by
	// the peer returns nil.
	Wait(ctx context.Context) error
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Subscriber is the handle for one connected client. Deliveries are queued
// and written in order by a single writer goroutine, so a slow client never
// blocks a broadcast to anyone else.
type Subscriber struct {
	id      uint64
	topic   string
	ch      Channel
	queue   chan Message
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

func newSubscriber(id uint64, topic string, ch Channel, buffer int, timeout time.Duration) *Subscriber {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Subscriber{
		id:      id,
		topic:   topic,
		ch:      ch,
		queue:   make(chan Message, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// ID returns the process-unique subscriber number.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// Topic returns the topic this subscriber was opened for.
func (s *Subscriber) Topic() string {
	return s.topic
}

// Deliver queues msg without blocking. It fails when the subscriber is closed
// or its queue is full.
func (s *Subscriber) Deliver(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrSubscriberSlow
	}
}

// Done is closed once the subscriber stops accepting messages.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the subscriber closed, if any.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close stops the subscriber. Only the first cause is kept.
func (s *Subscriber) close(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = cause
	close(s.done)
}

// writeLoop drains the queue onto the channel until the subscriber closes or
// a write fails. Each write is bounded by the send timeout.
func (s *Subscriber) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.close(ctx.Err())
			return
		case msg := <-s.queue:
			sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
			err := s.ch.Send(sendCtx, msg)
			cancel()
			if err != nil {
				s.close(fmt.Errorf("send to subscriber %d: %w", s.id, err))
				return
			}
		}
	}
}
