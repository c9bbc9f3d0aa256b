package progress

import (
	"context"
	"errors"
	"sync"
)

// fakeChannel records sent messages and lets tests play the remote peer.
type fakeChannel struct {
	mu      sync.Mutex
	msgs    []Message
	sendErr error
	// gate, when set, blocks Send until it is closed or the send times out.
	gate chan struct{}

	peer     chan struct{}
	peerOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		peer:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) Send(ctx context.Context, msg Message) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) Wait(ctx context.Context) error {
	select {
	case <-c.peer:
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// disconnect simulates the client closing the connection.
func (c *fakeChannel) disconnect() {
	c.peerOnce.Do(func() { close(c.peer) })
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *fakeChannel) Last() (Message, bool) {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

var errBrokenPipe = errors.New("broken pipe")

// recorder is an Emitter that keeps every event in memory.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) Count(kind Kind) int {
	n := 0
	for _, evt := range r.Events() {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

// written returns the snapshots a driver wrote for topic, in order.
func (r *recorder) written(topic string) []Snapshot {
	var out []Snapshot
	for _, evt := range r.Events() {
		if evt.Topic != topic {
			continue
		}
		if evt.Kind == KindStep || evt.Kind == KindDriverDone {
			out = append(out, evt.Snapshot)
		}
	}
	return out
}
