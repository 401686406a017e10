// Package progress defines the event stream emitted while sources crawl and
// datasets build. Events are observational only and never affect
// correctness.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageFetchDone   Stage = "FETCH_DONE"
	StageEntryImport Stage = "ENTRY_IMPORT"
	StageBuildSkip   Stage = "BUILD_SKIP"
	StageBuildDone   Stage = "BUILD_DONE"
)

// Event captures one milestone of crawl or build progress.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Source scopes the event to a configured source, where applicable.
	Source string
	// EntryID identifies the entry for import and fetch events.
	EntryID string
	// Count carries a monotonic position (e.g. entries imported so far).
	Count int64
	// Dur captures execution latency for completed runs and builds.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBuildSkip, StageBuildDone:
	case StageRunStart, StageRunDone, StageRunError:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	case StageFetchDone, StageEntryImport:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
		if e.EntryID == "" {
			return fmt.Errorf("%s requires entry id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
