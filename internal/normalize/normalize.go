// Package normalize turns raw extracted row fields into typed records with
// derived natural keys. Every function here is pure: rows that cannot be
// represented are reported with a SkipReason instead of an error, and the
// caller decides whether to log them.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/v-bible/scraping/internal/model"
)

// SkipReason explains why a raw row produced no record.
type SkipReason string

// Skip reasons reported by the normalizer.
const (
	SkipNone           SkipReason = ""
	SkipNoCode         SkipReason = "no_code"
	SkipNoDisplayName  SkipReason = "no_display_name"
	SkipNoLanguageName SkipReason = "no_language_name"
	SkipNoLanguageCode SkipReason = "no_language_code"
	SkipNoTitle        SkipReason = "no_title"
	SkipNoNumber       SkipReason = "no_number"
	SkipNoLink         SkipReason = "no_link"
	SkipNoText         SkipReason = "no_text"
)

// Skipped reports whether the reason denotes a dropped row.
func (r SkipReason) Skipped() bool {
	return r != SkipNone
}

// editionCodePattern captures the code inside the first parenthesis group,
// e.g. "King James Version (KJV)" -> "KJV".
var editionCodePattern = regexp.MustCompile(`\(([\w-]+)\)`)

// passageRefPattern matches class tokens such as "Gen-1-3" or "1Cor-13-4".
var passageRefPattern = regexp.MustCompile(`^[0-9A-Za-z]+-(\d+)-(\d+)$`)

var whitespace = regexp.MustCompile(`\s+`)

// Carry is the state threaded through the sequential catalog loop. A row
// that declares a language name replaces it; rows that do not inherit it.
type Carry struct {
	LanguageName string
}

// Flags are derived from an edition's format label. They are independent.
type Flags struct {
	OnlyNT        bool
	OnlyOT        bool
	WithApocrypha bool
}

// EditionRecord is a normalized catalog row. Parent references are left
// zero; the engine fills them once the parents are stored.
type EditionRecord struct {
	Edition model.Edition
	Formats []model.EditionFormat
}

// ParseEditionCode extracts the parenthesized code from a display name.
func ParseEditionCode(display string) (string, bool) {
	match := editionCodePattern.FindStringSubmatch(display)
	if len(match) < 2 || match[1] == "" {
		return "", false
	}
	return match[1], true
}

// ClassifyFormat maps a format label to a format type. Audio wins over
// document; anything else is other.
func ClassifyFormat(label string) model.FormatType {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "audio"):
		return model.FormatAudio
	case strings.Contains(lower, "pdf"):
		return model.FormatDocument
	default:
		return model.FormatOther
	}
}

// DeriveFlags runs the substring tests on the lowered label.
func DeriveFlags(label string) Flags {
	lower := strings.ToLower(label)
	return Flags{
		OnlyNT:        strings.Contains(lower, "nt"),
		OnlyOT:        strings.Contains(lower, "ot"),
		WithApocrypha: strings.Contains(lower, "apocrypha"),
	}
}

// PassageNumber returns the verse number encoded in a reference token.
func PassageNumber(ref string) (int, bool) {
	match := passageRefPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if len(match) != 3 {
		return 0, false
	}
	n, err := strconv.Atoi(match[2])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// CollapseSpace trims s and folds internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Normalizer validates raw rows for one site origin.
type Normalizer struct {
	Origin string
}

// New returns a Normalizer resolving relative links against origin.
func New(origin string) *Normalizer {
	return &Normalizer{Origin: strings.TrimRight(origin, "/")}
}

// Language resolves the language of a catalog row. The returned Carry must
// be passed to the next row, whether or not this row was skipped.
func (n *Normalizer) Language(carry Carry, raw model.RawCatalogRow) (model.Language, Carry, SkipReason) {
	if name := CollapseSpace(raw.LanguageName); name != "" {
		carry.LanguageName = name
	}
	code := strings.TrimSpace(raw.LanguageCode)
	if code == "" {
		return model.Language{}, carry, SkipNoLanguageCode
	}
	if carry.LanguageName == "" {
		return model.Language{}, carry, SkipNoLanguageName
	}
	return model.Language{
		Code:   code,
		Name:   carry.LanguageName,
		Origin: n.Origin,
	}, carry, SkipNone
}

// Edition builds the edition and its formats from a catalog row. A format
// whose link cannot be resolved is dropped without dropping the edition.
func (n *Normalizer) Edition(raw model.RawCatalogRow) (EditionRecord, SkipReason) {
	display := CollapseSpace(raw.DisplayName)
	if display == "" {
		return EditionRecord{}, SkipNoDisplayName
	}
	code, ok := ParseEditionCode(display)
	if !ok {
		return EditionRecord{}, SkipNoCode
	}
	label := strings.ToLower(CollapseSpace(raw.FormatLabel))
	flags := DeriveFlags(label)

	rec := EditionRecord{
		Edition: model.Edition{
			Code:          code,
			Name:          display,
			OnlyNT:        flags.OnlyNT,
			OnlyOT:        flags.OnlyOT,
			WithApocrypha: flags.WithApocrypha,
		},
	}
	if raw.PrimaryHref != "" {
		if locator, err := NormalizeLocator(n.Origin, raw.PrimaryHref); err == nil {
			rec.Formats = append(rec.Formats, model.EditionFormat{
				Type:    model.FormatPrimaryText,
				Locator: locator,
			})
		}
	}
	// The format cell sometimes repeats the edition name; it only counts as
	// a second format when its text differs.
	if raw.FormatHref != "" && strings.ToLower(display) != label {
		if locator, err := NormalizeLocator(n.Origin, raw.FormatHref); err == nil {
			rec.Formats = append(rec.Formats, model.EditionFormat{
				Type:    ClassifyFormat(label),
				Locator: locator,
			})
		}
	}
	return rec, SkipNone
}

// Work validates one book-list row.
func (n *Normalizer) Work(raw model.RawWork) (model.Work, SkipReason) {
	title := CollapseSpace(raw.Title)
	if title == "" {
		return model.Work{}, SkipNoTitle
	}
	if raw.Position <= 0 {
		return model.Work{}, SkipNoNumber
	}
	work := model.Work{
		Ordinal:   raw.Position,
		Title:     title,
		Abbrev:    strings.ToLower(strings.TrimSpace(raw.Abbrev)),
		Testament: strings.ToLower(strings.TrimSpace(raw.Testament)),
	}
	if raw.Locator != "" {
		locator, err := NormalizeLocator(n.Origin, raw.Locator)
		if err != nil {
			return model.Work{}, SkipNoLink
		}
		work.Locator = locator
	}
	return work, SkipNone
}

// Section validates one chapter link.
func (n *Normalizer) Section(raw model.RawSection) (model.Section, SkipReason) {
	number, err := strconv.Atoi(strings.TrimSpace(raw.Label))
	if err != nil || number <= 0 {
		return model.Section{}, SkipNoNumber
	}
	if strings.TrimSpace(raw.Href) == "" {
		return model.Section{}, SkipNoLink
	}
	locator, err := NormalizeLocator(n.Origin, raw.Href)
	if err != nil {
		return model.Section{}, SkipNoLink
	}
	return model.Section{Number: number, Locator: locator}, SkipNone
}

// Passages groups verse fragments by verse number, keeping first-seen
// order, and joins the fragments of each verse with a single space.
func (n *Normalizer) Passages(raws []model.RawPassage) ([]model.Passage, []SkipReason) {
	var (
		order   []int
		texts   = make(map[int][]string)
		skipped []SkipReason
	)
	for _, raw := range raws {
		number, ok := PassageNumber(raw.Ref)
		if !ok {
			skipped = append(skipped, SkipNoNumber)
			continue
		}
		if _, seen := texts[number]; !seen {
			order = append(order, number)
			texts[number] = nil
		}
		if text := CollapseSpace(raw.Text); text != "" {
			texts[number] = append(texts[number], text)
		}
	}
	passages := make([]model.Passage, 0, len(order))
	for _, number := range order {
		if len(texts[number]) == 0 {
			skipped = append(skipped, SkipNoText)
			continue
		}
		passages = append(passages, model.Passage{
			Number: number,
			Text:   strings.Join(texts[number], " "),
		})
	}
	return passages, skipped
}
