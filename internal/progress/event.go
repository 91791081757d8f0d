package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageWatcherStart Stage = "WATCHER_START"
	StageWatcherStop  Stage = "WATCHER_STOP"
	StageCheckDone    Stage = "CHECK_DONE"
)

// Outcome is the result of one watcher cycle.
type Outcome string

// Supported check outcomes.
const (
	OutcomeNotified     Outcome = "notified"
	OutcomeNotQualified Outcome = "not_qualified"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeErrored      Outcome = "errored"
)

// Event captures a single watcher milestone.
type Event struct {
	// ItemID names the tracked item the watcher serves.
	ItemID string
	// CheckID identifies a cycle using the 16-byte UUID form; only set for
	// CHECK_DONE.
	CheckID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Outcome is required for CHECK_DONE.
	Outcome Outcome
	// Strategy names the extraction strategy that settled the verdict.
	Strategy string
	// Price is the decimal string of the price read, if any.
	Price string
	// Dur captures cycle latency, or watcher lifetime on WATCHER_STOP.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ItemID == "" {
		return errors.New("item id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageWatcherStart, StageWatcherStop:
	case StageCheckDone:
		if e.CheckID == [16]byte{} {
			return errors.New("check done requires check id")
		}
		switch e.Outcome {
		case OutcomeNotified, OutcomeNotQualified, OutcomeSkipped, OutcomeErrored:
		default:
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsHit reports whether the event records a cycle that sent an alert.
func (e Event) IsHit() bool {
	return e.Stage == StageCheckDone && e.Outcome == OutcomeNotified
}

// CheckUUID converts the binary check ID to uuid.UUID for repositories.
func (e Event) CheckUUID() uuid.UUID {
	return uuid.UUID(e.CheckID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
