// Package extract reads catalog, book-list and chapter pages into raw rows.
// Rows are selected structurally (roles, classes, data attributes) so that
// decorative rows added or removed by the site do not shift extraction.
// Field access never fails: absent regions come back as (zero, false) and
// the normalizer decides whether the row is usable.
package extract

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed page.
type Document struct {
	url string
	doc *goquery.Document
}

// Parse builds a Document from HTML.
func Parse(r io.Reader, url string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{url: url, doc: doc}, nil
}

// URL returns the address the document was loaded from.
func (d *Document) URL() string {
	return d.url
}

// Rows yields every element matching selector in document order. The
// sequence is lazy and can be ranged over again.
func (d *Document) Rows(selector string) iter.Seq[Row] {
	return func(yield func(Row) bool) {
		if d == nil || d.doc == nil {
			return
		}
		sel := d.doc.Find(selector)
		for i := range sel.Length() {
			if !yield(Row{sel: sel.Eq(i)}) {
				return
			}
		}
	}
}

// Row is a handle on one element of a document.
type Row struct {
	sel *goquery.Selection
}

// Attr returns the named attribute of the row element.
func (r Row) Attr(name string) (string, bool) {
	if r.sel == nil {
		return "", false
	}
	return r.sel.Attr(name)
}

// Has reports whether region matches inside the row.
func (r Row) Has(region string) bool {
	_, ok := r.Region(region)
	return ok
}

// Region returns the first element matching region inside the row. An
// empty region is the row itself.
func (r Row) Region(region string) (Row, bool) {
	if r.sel == nil {
		return Row{}, false
	}
	if region == "" {
		return r, r.sel.Length() > 0
	}
	found := r.sel.Find(region).First()
	if found.Length() == 0 {
		return Row{}, false
	}
	return Row{sel: found}, true
}

// Regions yields every element matching region inside the row.
func (r Row) Regions(region string) iter.Seq[Row] {
	return func(yield func(Row) bool) {
		if r.sel == nil {
			return
		}
		sel := r.sel.Find(region)
		for i := range sel.Length() {
			if !yield(Row{sel: sel.Eq(i)}) {
				return
			}
		}
	}
}

// LastCell returns the trailing table cell of the row.
func (r Row) LastCell() (Row, bool) {
	if r.sel == nil {
		return Row{}, false
	}
	cells := r.sel.ChildrenFiltered("td")
	if cells.Length() == 0 {
		return Row{}, false
	}
	return Row{sel: cells.Last()}, true
}

// Text returns the trimmed text content of region.
func (r Row) Text(region string) (string, bool) {
	target, ok := r.Region(region)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(target.sel.Text()), true
}

// LinkHref returns the href of the first link in region, or of region
// itself when it is a link.
func (r Row) LinkHref(region string) (string, bool) {
	target, ok := r.Region(region)
	if !ok {
		return "", false
	}
	link := target.sel
	if !link.Is("a[href]") {
		link = target.sel.Find("a[href]").First()
	}
	if link.Length() == 0 {
		return "", false
	}
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return strings.TrimSpace(href), true
}

// HasClass reports whether the row element carries class.
func (r Row) HasClass(class string) bool {
	return r.sel != nil && r.sel.HasClass(class)
}

// Classes returns the class tokens of the row element.
func (r Row) Classes() []string {
	class, ok := r.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(class)
}

// Within reports whether the row element sits inside an ancestor
// matching selector.
func (r Row) Within(selector string) bool {
	return r.sel != nil && r.sel.ParentsFiltered(selector).Length() > 0
}

// TextWithout returns the trimmed text of the row after removing every
// element matching the given selectors. The document is not modified.
func (r Row) TextWithout(selectors ...string) string {
	if r.sel == nil {
		return ""
	}
	clone := r.sel.Clone()
	for _, s := range selectors {
		clone.Find(s).Remove()
	}
	return strings.TrimSpace(clone.Text())
}
