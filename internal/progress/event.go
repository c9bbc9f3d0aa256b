package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind names the lifecycle milestone an Event records.
type Kind string

// Supported event kinds.
const (
	KindJoin           Kind = "JOIN"
	KindLeave          Kind = "LEAVE"
	KindDriverStart    Kind = "DRIVER_START"
	KindStep           Kind = "STEP"
	KindDriverDone     Kind = "DRIVER_DONE"
	KindDriverCanceled Kind = "DRIVER_CANCELED"
	KindDeliveryFailed Kind = "DELIVERY_FAILED"
)

// Event captures one observable change in the broadcast subsystem. Events
// feed sinks only; subscribers never see them.
type Event struct {
	// Topic is the progress stream the event belongs to.
	Topic string
	// TS is the UTC time the event was recorded.
	TS time.Time
	// Kind identifies the milestone.
	Kind Kind
	// Snapshot is the state written for step and driver events.
	Snapshot Snapshot
	// Viewers is the subscriber count after a join/leave, or the number of
	// subscribers reached by a step broadcast.
	Viewers int
	// Note carries low-volume context such as a delivery error.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJoin, KindLeave, KindDeliveryFailed:
	case KindDriverStart, KindStep, KindDriverDone, KindDriverCanceled:
		if err := e.Snapshot.Validate(); err != nil {
			return fmt.Errorf("%s snapshot: %w", e.Kind, err)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Viewers < 0 {
		return errors.New("viewers must be >= 0")
	}
	return nil
}
