package crawler

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/extract"
	"github.com/v-bible/scraping/internal/model"
	"github.com/v-bible/scraping/internal/normalize"
)

// Entity names used in logs and progress events.
const (
	entityLanguage = "language"
	entityEdition  = "edition"
	entityFormat   = "edition_format"
	entityWork     = "work"
	entitySection  = "section"
	entityPassage  = "passage"
)

// discoverCatalog stores every language, edition and format of the
// catalog page. Rows are processed in page order because a row may inherit
// its language name from an earlier one.
func (r *run) discoverCatalog(ctx context.Context) error {
	doc, err := r.open(ctx, r.cfg.CatalogURL)
	if err != nil {
		return err
	}
	var carry normalize.Carry
	for raw := range extract.CatalogRows(doc) {
		lang, next, reason := r.norm.Language(carry, raw)
		carry = next
		if reason.Skipped() {
			r.skip(entityLanguage, reason, zap.String("display_name", raw.DisplayName))
			continue
		}
		langID, err := r.store.UpsertLanguage(ctx, lang)
		if err != nil {
			return fmt.Errorf("store language %s: %w", lang.Code, err)
		}
		r.summary.Languages++
		r.stored(entityLanguage)

		rec, reason := r.norm.Edition(raw)
		if reason.Skipped() {
			r.skip(entityEdition, reason, zap.String("display_name", raw.DisplayName))
			continue
		}
		rec.Edition.LanguageID = langID
		editionID, err := r.store.UpsertEdition(ctx, rec.Edition)
		if err != nil {
			return fmt.Errorf("store edition %s: %w", rec.Edition.Code, err)
		}
		r.summary.Editions++
		r.stored(entityEdition)

		for _, format := range rec.Formats {
			format.EditionID = editionID
			formatID, err := r.store.UpsertFormat(ctx, format)
			if err != nil {
				return fmt.Errorf("store %s format of %s: %w", format.Type, rec.Edition.Code, err)
			}
			if format.Type == model.FormatPrimaryText {
				format.ID = formatID
				r.seen[editionID] = format
			}
			r.summary.Formats++
			r.stored(entityFormat)
			r.logger.Info("stored edition format",
				zap.String("type", string(format.Type)),
				zap.String("edition", rec.Edition.Code),
				zap.String("language", lang.Code),
				zap.String("locator", format.Locator),
			)
		}
	}
	return nil
}

// selectPrimaryEdition loads the target edition and its primary-text
// format. Both must exist. The format listed by this run's catalog wins
// over older stored locators.
func (r *run) selectPrimaryEdition(ctx context.Context) error {
	edition, err := r.store.FindEdition(ctx, r.cfg.TargetEdition)
	if err != nil {
		return fmt.Errorf("find edition %s: %w", r.cfg.TargetEdition, err)
	}
	format, ok := r.seen[edition.ID]
	if !ok {
		format, err = r.store.FindFormat(ctx, edition.ID, model.FormatPrimaryText)
		if err != nil {
			return fmt.Errorf("find %s format of %s: %w", model.FormatPrimaryText, edition.Code, err)
		}
	}
	r.edition = edition
	r.primary = format
	r.logger.Info("primary edition selected",
		zap.String("edition", edition.Code),
		zap.Int64("edition_id", edition.ID),
		zap.String("locator", format.Locator),
	)
	return nil
}

// fetchWorkList stores the books listed on the edition's primary-text page.
func (r *run) fetchWorkList(ctx context.Context) error {
	doc, err := r.openCached(ctx, r.primary.Locator)
	if err != nil {
		return err
	}
	for raw := range extract.WorkRows(doc) {
		work, reason := r.norm.Work(raw)
		if reason.Skipped() {
			r.skip(entityWork, reason, zap.Int("position", raw.Position))
			continue
		}
		work.EditionID = r.edition.ID
		if _, err := r.store.UpsertWork(ctx, work); err != nil {
			return fmt.Errorf("store work %d of %s: %w", work.Ordinal, r.edition.Code, err)
		}
		r.summary.Works++
		r.stored(entityWork)
	}
	return nil
}

// fetchSectionsPerWork stores the chapter links of every stored work. The
// book list usually serves every work, so the last page is kept around.
func (r *run) fetchSectionsPerWork(ctx context.Context) error {
	works, err := r.works(ctx)
	if err != nil {
		return err
	}
	for _, work := range works {
		if work.Locator == "" {
			r.skip(entitySection, normalize.SkipNoLink, zap.String("work", work.Title))
			continue
		}
		doc, err := r.openCached(ctx, work.Locator)
		if err != nil {
			return err
		}
		count := 0
		for raw := range extract.SectionLinks(doc, work.Abbrev) {
			section, reason := r.norm.Section(raw)
			if reason.Skipped() {
				r.skip(entitySection, reason, zap.String("work", work.Title), zap.String("label", raw.Label))
				continue
			}
			section.WorkID = work.ID
			if _, err := r.store.UpsertSection(ctx, section); err != nil {
				return fmt.Errorf("store section %d of %s: %w", section.Number, work.Title, err)
			}
			count++
			r.summary.Sections++
			r.stored(entitySection)
		}
		if count == 0 {
			r.logger.Debug("work has no sections", zap.String("work", work.Title))
		}
	}
	return nil
}

// fetchPassagesPerSection stores the verses of every stored section, work
// by work.
func (r *run) fetchPassagesPerSection(ctx context.Context) error {
	works, err := r.works(ctx)
	if err != nil {
		return err
	}
	for _, work := range works {
		sections, err := r.store.ListSections(ctx, work.ID)
		if err != nil {
			return fmt.Errorf("list sections of %s: %w", work.Title, err)
		}
		for _, section := range sections {
			if err := r.fetchPassages(ctx, work, section); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) fetchPassages(ctx context.Context, work model.Work, section model.Section) error {
	if r.cfg.SkipCompletedSections {
		stored, err := r.store.CountPassages(ctx, section.ID)
		if err != nil {
			return fmt.Errorf("count passages of %s %d: %w", work.Title, section.Number, err)
		}
		if stored > 0 {
			r.logger.Debug("section already complete",
				zap.String("work", work.Title),
				zap.Int("section", section.Number),
				zap.Int64("passages", stored),
			)
			return nil
		}
	}
	doc, err := r.open(ctx, section.Locator)
	if err != nil {
		return err
	}
	passages, reasons := r.norm.Passages(slices.Collect(extract.PassageUnits(doc)))
	for _, reason := range reasons {
		r.skip(entityPassage, reason, zap.String("work", work.Title), zap.Int("section", section.Number))
	}
	if len(passages) == 0 {
		r.logger.Debug("section has no passages", zap.String("work", work.Title), zap.Int("section", section.Number))
		return nil
	}
	for _, passage := range passages {
		passage.SectionID = section.ID
		if _, err := r.store.UpsertPassage(ctx, passage); err != nil {
			return fmt.Errorf("store passage %s %d:%d: %w", work.Title, section.Number, passage.Number, err)
		}
		r.summary.Passages++
		r.stored(entityPassage)
	}
	return nil
}

func (r *run) works(ctx context.Context) ([]model.Work, error) {
	works, err := r.store.ListWorks(ctx, r.edition.ID)
	if err != nil {
		return nil, fmt.Errorf("list works of %s: %w", r.edition.Code, err)
	}
	return works, nil
}

// open navigates to pageURL under the retry policy.
func (r *run) open(ctx context.Context, pageURL string) (*extract.Document, error) {
	doc, err := Retry(ctx, r.retry, func(ctx context.Context, attempt int) (*extract.Document, error) {
		doc, err := r.nav.Open(ctx, pageURL)
		if err != nil {
			r.logger.Warn("navigation failed",
				zap.String("url", pageURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return doc, err
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", pageURL, err)
	}
	return doc, nil
}

func (r *run) openCached(ctx context.Context, pageURL string) (*extract.Document, error) {
	if doc, ok := r.cache.get(pageURL); ok {
		return doc, nil
	}
	doc, err := r.open(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	r.cache.put(pageURL, doc)
	return doc, nil
}

// documentCache remembers the last opened page.
type documentCache struct {
	url string
	doc *extract.Document
}

func (c *documentCache) get(pageURL string) (*extract.Document, bool) {
	if c.doc == nil || c.url != pageURL {
		return nil, false
	}
	return c.doc, true
}

func (c *documentCache) put(pageURL string, doc *extract.Document) {
	c.url = pageURL
	c.doc = doc
}
