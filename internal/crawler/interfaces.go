package crawler

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/v-bible/scraping/internal/model"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// LanguageRepository persists languages keyed by (code, origin).
type LanguageRepository interface {
	UpsertLanguage(ctx context.Context, lang model.Language) (int64, error)
}

// EditionRepository persists editions keyed by (code, language).
type EditionRepository interface {
	UpsertEdition(ctx context.Context, edition model.Edition) (int64, error)
	// FindEdition returns the first edition with code, or model.ErrNotFound.
	FindEdition(ctx context.Context, code string) (model.Edition, error)
}

// FormatRepository persists edition formats keyed by (edition, type, locator).
type FormatRepository interface {
	UpsertFormat(ctx context.Context, format model.EditionFormat) (int64, error)
	FindFormat(ctx context.Context, editionID int64, formatType model.FormatType) (model.EditionFormat, error)
}

// WorkRepository persists works keyed by (edition, ordinal).
type WorkRepository interface {
	UpsertWork(ctx context.Context, work model.Work) (int64, error)
	ListWorks(ctx context.Context, editionID int64) ([]model.Work, error)
}

// SectionRepository persists sections keyed by (work, number).
type SectionRepository interface {
	UpsertSection(ctx context.Context, section model.Section) (int64, error)
	ListSections(ctx context.Context, workID int64) ([]model.Section, error)
}

// PassageRepository persists passages keyed by (section, number).
type PassageRepository interface {
	UpsertPassage(ctx context.Context, passage model.Passage) (int64, error)
	CountPassages(ctx context.Context, sectionID int64) (int64, error)
}

// RunRepository records crawl runs.
type RunRepository interface {
	StartRun(ctx context.Context, run model.Run) error
	FinishRun(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status model.RunStatus,
		stage string,
		errMsg *string,
	) error
}

// Verifier inspects the stored hierarchy.
type Verifier interface {
	Stats(ctx context.Context) (model.Stats, error)
	Orphans(ctx context.Context) (model.OrphanReport, error)
}

// Store is the full persistence layer.
type Store interface {
	LanguageRepository
	EditionRepository
	FormatRepository
	WorkRepository
	SectionRepository
	PassageRepository
	RunRepository
	Verifier
	Migrate(ctx context.Context) error
	Close() error
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for snapshot names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
