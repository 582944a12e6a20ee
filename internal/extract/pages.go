package extract

import (
	"iter"
	"strings"

	"github.com/v-bible/scraping/internal/model"
)

// Structural selectors for the pages of the catalog site.
const (
	catalogRowSelector      = "tr"
	headerCellSelector      = "th"
	languageCodeAttr        = "data-language"
	languageNameSelector    = "[data-target]"
	displayCellSelector     = "[data-translation]"
	bookRowSelector         = "tr"
	bookNameSelector        = "td.book-name"
	chapterCountSelector    = ".num-chapters"
	iconSelector            = ".collapse-icon, .expand-icon"
	chapterCellSelector     = "td.chapters"
	chapterLinkSelector     = "a[href]"
	passageFragmentSelector = ".passage-text span.text"
	headingSelector         = "h1, h2, h3, h4, h5, h6"
)

// passageNoise holds the markers stripped from verse text.
var passageNoise = []string{
	"sup.versenum",
	"span.chapternum",
	"sup.footnote",
	"sup.crossreference",
	".footnotes",
	".crossrefs",
}

// CatalogRows yields the catalog table rows that carry data. Header rows
// are recognised by their header cells, not by position.
func CatalogRows(doc *Document) iter.Seq[model.RawCatalogRow] {
	return func(yield func(model.RawCatalogRow) bool) {
		for row := range doc.Rows(catalogRowSelector) {
			if row.Has(headerCellSelector) {
				continue
			}
			if !yield(catalogRow(row)) {
				return
			}
		}
	}
}

func catalogRow(row Row) model.RawCatalogRow {
	var raw model.RawCatalogRow
	raw.LanguageCode, _ = row.Attr(languageCodeAttr)
	raw.LanguageName, _ = row.Text(languageNameSelector)
	raw.DisplayName, _ = row.Text(displayCellSelector)
	raw.PrimaryHref, _ = row.LinkHref(displayCellSelector)
	if cell, ok := row.LastCell(); ok {
		raw.FormatLabel, _ = cell.Text("")
		raw.FormatHref, _ = cell.LinkHref("")
	}
	return raw
}

// WorkRows yields the books of an edition's book list with their 1-based
// position among book rows.
func WorkRows(doc *Document) iter.Seq[model.RawWork] {
	return func(yield func(model.RawWork) bool) {
		position := 0
		for row := range doc.Rows(bookRowSelector) {
			name, ok := row.Region(bookNameSelector)
			if !ok {
				continue
			}
			position++
			target, _ := name.Attr("data-target")
			raw := model.RawWork{
				Position:  position,
				Title:     name.TextWithout(chapterCountSelector, iconSelector),
				Abbrev:    abbrevFromTarget(target),
				Testament: testament(row),
				Locator:   doc.URL(),
			}
			if !yield(raw) {
				return
			}
		}
	}
}

// SectionLinks yields the chapter links of the book identified by abbrev.
func SectionLinks(doc *Document, abbrev string) iter.Seq[model.RawSection] {
	listClass := strings.ToLower(abbrev) + "-list"
	return func(yield func(model.RawSection) bool) {
		for row := range doc.Rows(bookRowSelector) {
			cell, ok := row.Region(chapterCellSelector)
			if !ok || !cell.HasClass(listClass) {
				continue
			}
			for link := range cell.Regions(chapterLinkSelector) {
				label, _ := link.Text("")
				href, _ := link.LinkHref("")
				if !yield(model.RawSection{Label: label, Href: href}) {
					return
				}
			}
			return
		}
	}
}

// PassageUnits yields the verse fragments of a chapter page in document
// order. Section headings reuse the verse markup and are left out.
func PassageUnits(doc *Document) iter.Seq[model.RawPassage] {
	return func(yield func(model.RawPassage) bool) {
		for frag := range doc.Rows(passageFragmentSelector) {
			if frag.Within(headingSelector) {
				continue
			}
			raw := model.RawPassage{
				Ref:  passageRef(frag),
				Text: frag.TextWithout(passageNoise...),
			}
			if !yield(raw) {
				return
			}
		}
	}
}

// abbrevFromTarget turns ".gen-list" into "gen".
func abbrevFromTarget(target string) string {
	target = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(target), "."))
	return strings.TrimSuffix(target, "-list")
}

func testament(row Row) string {
	for _, class := range row.Classes() {
		if prefix, ok := strings.CutSuffix(class, "-book"); ok {
			return prefix
		}
	}
	return ""
}

// passageRef picks the Book-Chapter-Verse token out of a fragment's classes.
func passageRef(frag Row) string {
	for _, class := range frag.Classes() {
		if class == "text" {
			continue
		}
		if strings.Count(class, "-") == 2 {
			return class
		}
	}
	return ""
}
