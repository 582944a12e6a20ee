package crawler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Stage names one step of a crawl run. Stages run in declaration order.
type Stage string

// Crawl stages.
const (
	StageInit                 Stage = "init"
	StageDiscoverCatalog      Stage = "discover_catalog"
	StageSelectPrimaryEdition Stage = "select_primary_edition"
	StageFetchWorkList        Stage = "fetch_work_list"
	StageFetchSections        Stage = "fetch_sections"
	StageFetchPassages        Stage = "fetch_passages"
	StageDone                 Stage = "done"
)

var stageOrder = []Stage{
	StageInit,
	StageDiscoverCatalog,
	StageSelectPrimaryEdition,
	StageFetchWorkList,
	StageFetchSections,
	StageFetchPassages,
	StageDone,
}

// ParseStage resolves a stage name. The empty string is not a stage.
func ParseStage(name string) (Stage, bool) {
	for _, s := range stageOrder {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Summary reports what a run stored. Counts are upserts performed by this
// run, so a repeated run reports the same numbers as the first.
type Summary struct {
	RunID     uuid.UUID `json:"run_id"`
	Stage     Stage     `json:"stage"`
	Languages int       `json:"languages"`
	Editions  int       `json:"editions"`
	Formats   int       `json:"formats"`
	Works     int       `json:"works"`
	Sections  int       `json:"sections"`
	Passages  int       `json:"passages"`
	Skipped   int       `json:"skipped"`
}

// RunNotification is published when a run finishes.
type RunNotification struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Summary    Summary   `json:"summary"`
}
