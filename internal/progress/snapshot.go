package progress

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase reported for a topic.
type State string

// Supported lifecycle states. Transitions only move forward.
const (
	StateQueued  State = "QUEUED"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
)

// MaxProgress is the progress value of a finished run.
const MaxProgress = 100

// Snapshot is the latest known state of a topic. Snapshots are values; the
// store replaces them wholesale and never mutates one in place.
type Snapshot struct {
	Progress int
	State    State
}

// Initial returns the QUEUED/0 snapshot every fresh topic starts from.
func Initial() Snapshot {
	return Snapshot{Progress: 0, State: StateQueued}
}

// Validate checks the progress/state pairing rules.
func (s Snapshot) Validate() error {
	if s.Progress < 0 || s.Progress > MaxProgress {
		return fmt.Errorf("progress %d outside [0,%d]", s.Progress, MaxProgress)
	}
	switch s.State {
	case StateQueued:
		if s.Progress != 0 {
			return errors.New("queued snapshot must have progress 0")
		}
	case StateRunning:
		if s.Progress == 0 || s.Progress == MaxProgress {
			return fmt.Errorf("running snapshot has boundary progress %d", s.Progress)
		}
	case StateDone:
		if s.Progress != MaxProgress {
			return fmt.Errorf("done snapshot must have progress %d", MaxProgress)
		}
	default:
		return fmt.Errorf("unknown state %q", s.State)
	}
	return nil
}

// Terminal reports whether the snapshot ends the lifecycle.
func (s Snapshot) Terminal() bool {
	return s.State == StateDone
}

// WithViewers builds the outbound message for this snapshot. Its signature
// matches PayloadBuilder so a fixed snapshot can be broadcast directly.
func (s Snapshot) WithViewers(viewers int) Message {
	return Message{
		Progress: s.Progress,
		State:    s.State,
		Viewers:  viewers,
	}
}

// Message is the wire shape pushed to every subscriber.
type Message struct {
	Progress int   `json:"progress"`
	State    State `json:"state"`
	Viewers  int   `json:"viewers"`
}

// Snapshot strips the viewer count.
func (m Message) Snapshot() Snapshot {
	return Snapshot{Progress: m.Progress, State: m.State}
}
