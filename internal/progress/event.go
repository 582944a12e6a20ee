package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes the milestone an Event reports.
type Kind string

// Supported event kinds.
const (
	KindRunStart  Kind = "RUN_START"
	KindRunDone   Kind = "RUN_DONE"
	KindRunError  Kind = "RUN_ERROR"
	KindStageDone Kind = "STAGE_DONE"
	KindFetchDone Kind = "FETCH_DONE"
	KindStored    Kind = "RECORD_STORED"
	KindSkipped   Kind = "RECORD_SKIPPED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single step of crawl progress.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Kind Kind
	// Stage is the crawl stage the event belongs to.
	Stage string
	// Entity names the record type for stored and skipped events.
	Entity string
	// Reason is the skip reason for skipped events.
	Reason string
	// Site scopes fetch events to a host label.
	Site string
	URL  string
	// Bytes carries the response size for fetch events.
	Bytes       int64
	StatusClass StatusClass
	// Dur is the fetch latency, stage duration or run duration.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone, KindRunError:
	case KindStageDone:
		if e.Stage == "" {
			return errors.New("stage done requires stage")
		}
	case KindFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case KindStored, KindSkipped:
		if e.Entity == "" {
			return fmt.Errorf("%s requires entity", e.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
