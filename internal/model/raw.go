package model

// RawCatalogRow is one row of the catalog table as found in the markup.
// Empty strings mean the region or attribute was absent.
type RawCatalogRow struct {
	LanguageCode string
	// LanguageName is set only on rows that declare a language group.
	LanguageName string
	DisplayName  string
	PrimaryHref  string
	FormatLabel  string
	FormatHref   string
}

// RawWork is one row of an edition's book list.
type RawWork struct {
	Position  int
	Title     string
	Abbrev    string
	Testament string
	Locator   string
}

// RawSection is one chapter link of a book-list row.
type RawSection struct {
	Label string
	Href  string
}

// RawPassage is one verse fragment of a chapter page. A verse split over
// several lines yields several fragments with the same Ref.
type RawPassage struct {
	Ref  string
	Text string
}
