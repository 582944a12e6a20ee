// Package model defines the records that flow between the extractor, the
// normalizer, the persistence layer and the crawl engine.
package model

// FormatType classifies how an edition is published.
type FormatType string

// Edition format types persisted in edition_formats.type.
const (
	FormatPrimaryText FormatType = "primary-text"
	FormatAudio       FormatType = "audio"
	FormatDocument    FormatType = "document"
	FormatOther       FormatType = "other"
)

// Language is keyed by (Code, Origin).
type Language struct {
	ID     int64
	Code   string
	Name   string
	Origin string
}

// Edition is one translation of the text, keyed by (Code, LanguageID).
type Edition struct {
	ID            int64
	Code          string
	Name          string
	LanguageID    int64
	OnlyNT        bool
	OnlyOT        bool
	WithApocrypha bool
}

// EditionFormat is keyed by (EditionID, Type, Locator).
type EditionFormat struct {
	ID        int64
	EditionID int64
	Type      FormatType
	Locator   string
}

// Work is a book of an edition, keyed by (EditionID, Ordinal).
type Work struct {
	ID        int64
	EditionID int64
	Ordinal   int
	Title     string
	// Abbrev is the book token used by the book-list markup, e.g. "gen".
	Abbrev string
	// Testament is "ot", "nt", "ap" or empty when the row does not say.
	Testament string
	Locator   string
}

// Section is a chapter of a work, keyed by (WorkID, Number).
type Section struct {
	ID      int64
	WorkID  int64
	Number  int
	Locator string
}

// Passage is a verse of a section, keyed by (SectionID, Number).
type Passage struct {
	ID        int64
	SectionID int64
	Number    int
	Text      string
}

// Stats holds row counts per table.
type Stats struct {
	Languages int64 `json:"languages"`
	Editions  int64 `json:"editions"`
	Formats   int64 `json:"formats"`
	Works     int64 `json:"works"`
	Sections  int64 `json:"sections"`
	Passages  int64 `json:"passages"`
}

// OrphanReport counts child rows whose parent row is missing.
type OrphanReport struct {
	Editions int64 `json:"editions"`
	Formats  int64 `json:"formats"`
	Works    int64 `json:"works"`
	Sections int64 `json:"sections"`
	Passages int64 `json:"passages"`
}

// Total sums every orphan count.
func (r OrphanReport) Total() int64 {
	return r.Editions + r.Formats + r.Works + r.Sections + r.Passages
}
