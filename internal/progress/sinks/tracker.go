package sinks

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/v-bible/scraping/internal/progress"
)

// Run statuses reported by the tracker.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// SiteProgress aggregates fetches against one host.
type SiteProgress struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Visits     int64     `json:"visits"`
	BytesTotal int64     `json:"bytes_total"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
}

// RunProgress is the live view of one run.
type RunProgress struct {
	RunID      uuid.UUID        `json:"run_id"`
	Status     string           `json:"status"`
	Stage      string           `json:"stage"`
	StartedAt  time.Time        `json:"started_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
	Stored     map[string]int64 `json:"stored"`
	Skipped    map[string]int64 `json:"skipped"`
	Sites      []SiteProgress   `json:"sites"`
}

type runState struct {
	progress RunProgress
	sites    map[string]*SiteProgress
}

// TrackerSink keeps an in-memory view of recent runs for the ops server.
type TrackerSink struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*runState
	order []uuid.UUID
	keep  int
}

// NewTrackerSink remembers at most keep runs; the oldest are evicted
// first. keep <= 0 defaults to 16.
func NewTrackerSink(keep int) *TrackerSink {
	if keep <= 0 {
		keep = 16
	}
	return &TrackerSink{runs: make(map[uuid.UUID]*runState), keep: keep}
}

// Consume folds the batch into the per-run views.
func (s *TrackerSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		st := s.state(evt)
		st.progress.UpdatedAt = evt.TS
		if evt.Stage != "" {
			st.progress.Stage = evt.Stage
		}
		switch evt.Kind {
		case progress.KindRunStart:
			st.progress.StartedAt = evt.TS
			st.progress.Status = RunRunning
		case progress.KindRunDone, progress.KindRunError:
			finished := evt.TS
			st.progress.FinishedAt = &finished
			st.progress.Status = RunSuccess
			if evt.Kind == progress.KindRunError {
				st.progress.Status = RunError
				st.progress.Error = evt.Note
			}
		case progress.KindFetchDone:
			site := st.sites[evt.Site]
			if site == nil {
				site = &SiteProgress{Site: evt.Site}
				st.sites[evt.Site] = site
			}
			site.LastUpdate = evt.TS
			site.Visits++
			site.BytesTotal += evt.Bytes
			switch evt.StatusClass {
			case progress.Status2xx:
				site.Fetch2xx++
			case progress.Status3xx:
				site.Fetch3xx++
			case progress.Status4xx:
				site.Fetch4xx++
			case progress.Status5xx:
				site.Fetch5xx++
			}
		case progress.KindStored:
			st.progress.Stored[evt.Entity]++
		case progress.KindSkipped:
			st.progress.Skipped[evt.Entity]++
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *TrackerSink) Close(context.Context) error { return nil }

func (s *TrackerSink) state(evt progress.Event) *runState {
	id := evt.RunUUID()
	if st, ok := s.runs[id]; ok {
		return st
	}
	st := &runState{
		progress: RunProgress{
			RunID:     id,
			Status:    RunRunning,
			StartedAt: evt.TS,
			Stored:    make(map[string]int64),
			Skipped:   make(map[string]int64),
		},
		sites: make(map[string]*SiteProgress),
	}
	s.runs[id] = st
	s.order = append(s.order, id)
	if len(s.order) > s.keep {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return st
}

// Runs returns the tracked runs, most recent first.
func (s *TrackerSink) Runs() []RunProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunProgress, 0, len(s.order))
	for _, id := range slices.Backward(s.order) {
		out = append(out, s.runs[id].snapshot())
	}
	return out
}

// Run returns one tracked run.
func (s *TrackerSink) Run(id uuid.UUID) (RunProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[id]
	if !ok {
		return RunProgress{}, false
	}
	return st.snapshot(), true
}

func (st *runState) snapshot() RunProgress {
	out := st.progress
	out.Stored = maps.Clone(st.progress.Stored)
	out.Skipped = maps.Clone(st.progress.Skipped)
	if st.progress.FinishedAt != nil {
		finished := *st.progress.FinishedAt
		out.FinishedAt = &finished
	}
	out.Sites = make([]SiteProgress, 0, len(st.sites))
	for _, site := range st.sites {
		out.Sites = append(out.Sites, *site)
	}
	slices.SortFunc(out.Sites, func(a, b SiteProgress) int {
		switch {
		case a.Site < b.Site:
			return -1
		case a.Site > b.Site:
			return 1
		}
		return 0
	})
	return out
}
