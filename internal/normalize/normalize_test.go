package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/v-bible/scraping/internal/model"
)

const origin = "https://www.biblegateway.com"

func TestParseEditionCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		display string
		code    string
		ok      bool
	}{
		{"King James Version (KJV)", "KJV", true},
		{"Bản Dịch 2011 (BD2011)", "BD2011", true},
		{"New Revised Standard Version, Anglicised (NRSVA-CE)", "NRSVA-CE", true},
		{"Amplified Bible (AMP) (2015)", "AMP", true},
		{"King James Version", "", false},
		{"Broken (K J V)", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		code, ok := ParseEditionCode(tc.display)
		require.Equal(t, tc.ok, ok, tc.display)
		require.Equal(t, tc.code, code, tc.display)
	}
}

func TestClassifyFormat(t *testing.T) {
	t.Parallel()

	require.Equal(t, model.FormatAudio, ClassifyFormat("Audio, PDF"))
	require.Equal(t, model.FormatAudio, ClassifyFormat("AUDIO"))
	require.Equal(t, model.FormatDocument, ClassifyFormat("PDF"))
	require.Equal(t, model.FormatOther, ClassifyFormat("Reading plan"))
	require.Equal(t, model.FormatOther, ClassifyFormat(""))
}

func TestDeriveFlags(t *testing.T) {
	t.Parallel()

	require.Equal(t, Flags{OnlyNT: true, WithApocrypha: true}, DeriveFlags("NT, Apocrypha"))
	require.Equal(t, Flags{OnlyOT: true}, DeriveFlags("OT"))
	require.Equal(t, Flags{}, DeriveFlags("Audio"))
}

func TestNormalizeLocator(t *testing.T) {
	t.Parallel()

	cases := []struct {
		href string
		want string
	}{
		{"/versions/King-James-Version-KJV-Bible/#booklist", origin + "/versions/King-James-Version-KJV-Bible/"},
		{"versions/", origin + "/versions/"},
		{"/passage/?version=KJV&search=Genesis%201", origin + "/passage/?search=Genesis+1&version=KJV"},
		{"https://WWW.BibleGateway.com:443/audio/", origin + "/audio/"},
		{"https://cdn.example.org/kjv.pdf", "https://cdn.example.org/kjv.pdf"},
		{"/passage/?search=Genesis+1;Genesis+2&version=BD2011", origin + "/passage/?search=Genesis+1;Genesis+2&version=BD2011"},
		{"/passage/?search=John+3:16&version=BD2011;KJV", origin + "/passage/?search=John+3:16&version=BD2011;KJV"},
	}
	for _, tc := range cases {
		got, err := NormalizeLocator(origin, tc.href)
		require.NoError(t, err, tc.href)
		require.Equal(t, tc.want, got, tc.href)

		again, err := NormalizeLocator(origin, got)
		require.NoError(t, err)
		require.Equal(t, got, again, "normalization must be idempotent")
	}

	first, err := NormalizeLocator(origin, "/passage/?search=Genesis+1;Genesis+2&version=BD2011")
	require.NoError(t, err)
	second, err := NormalizeLocator(origin, "/passage/?search=Exodus+1;Exodus+2&version=BD2011")
	require.NoError(t, err)
	require.NotEqual(t, first, second, "distinct queries keep distinct locators")

	_, err = NormalizeLocator(origin, "   ")
	require.Error(t, err)
}

func TestLanguageCarryForward(t *testing.T) {
	t.Parallel()

	n := New(origin)
	var carry Carry

	_, carry, skip := n.Language(carry, model.RawCatalogRow{LanguageCode: "en"})
	require.Equal(t, SkipNoLanguageName, skip, "leading row without a declaration has no name to inherit")

	langA, carry, skip := n.Language(carry, model.RawCatalogRow{LanguageCode: "en", LanguageName: " English "})
	require.Equal(t, SkipNone, skip)
	require.Equal(t, model.Language{Code: "en", Name: "English", Origin: origin}, langA)

	langB, carry, skip := n.Language(carry, model.RawCatalogRow{LanguageCode: "en"})
	require.Equal(t, SkipNone, skip)
	require.Equal(t, langA, langB)

	_, carry, skip = n.Language(carry, model.RawCatalogRow{LanguageName: "Español"})
	require.Equal(t, SkipNoLanguageCode, skip)
	require.Equal(t, "Español", carry.LanguageName, "a skipped row still updates the carried name")
}

func TestEdition(t *testing.T) {
	t.Parallel()

	n := New(origin)

	rec, skip := n.Edition(model.RawCatalogRow{
		DisplayName: "King James Version (KJV)",
		PrimaryHref: "/versions/King-James-Version-KJV-Bible/#booklist",
		FormatLabel: "Audio",
		FormatHref:  "/audio/mclean/kjv/",
	})
	require.Equal(t, SkipNone, skip)
	require.Equal(t, "KJV", rec.Edition.Code)
	require.Equal(t, "King James Version (KJV)", rec.Edition.Name)
	require.Equal(t, []model.EditionFormat{
		{Type: model.FormatPrimaryText, Locator: origin + "/versions/King-James-Version-KJV-Bible/"},
		{Type: model.FormatAudio, Locator: origin + "/audio/mclean/kjv/"},
	}, rec.Formats)

	rec, skip = n.Edition(model.RawCatalogRow{
		DisplayName: "Good News Translation (GNT)",
		FormatLabel: "NT, Apocrypha",
	})
	require.Equal(t, SkipNone, skip)
	require.True(t, rec.Edition.OnlyNT)
	require.False(t, rec.Edition.OnlyOT)
	require.True(t, rec.Edition.WithApocrypha)
	require.Empty(t, rec.Formats)

	_, skip = n.Edition(model.RawCatalogRow{DisplayName: "Unknown Version"})
	require.Equal(t, SkipNoCode, skip)

	_, skip = n.Edition(model.RawCatalogRow{DisplayName: "  "})
	require.Equal(t, SkipNoDisplayName, skip)
}

func TestEditionFormatCellRepeatingName(t *testing.T) {
	t.Parallel()

	n := New(origin)
	rec, skip := n.Edition(model.RawCatalogRow{
		DisplayName: "Biblia Sacra Vulgata (VULGATE)",
		PrimaryHref: "/versions/Biblia-Sacra-Vulgata-VULGATE/",
		FormatLabel: "biblia sacra vulgata (vulgate)",
		FormatHref:  "/versions/Biblia-Sacra-Vulgata-VULGATE/",
	})
	require.Equal(t, SkipNone, skip)
	require.Len(t, rec.Formats, 1)
	require.Equal(t, model.FormatPrimaryText, rec.Formats[0].Type)
}

func TestWorkAndSection(t *testing.T) {
	t.Parallel()

	n := New(origin)

	work, skip := n.Work(model.RawWork{Position: 1, Title: " Genesis ", Abbrev: "GEN", Testament: "ot", Locator: "/versions/KJV/#booklist"})
	require.Equal(t, SkipNone, skip)
	require.Equal(t, model.Work{Ordinal: 1, Title: "Genesis", Abbrev: "gen", Testament: "ot", Locator: origin + "/versions/KJV/"}, work)

	_, skip = n.Work(model.RawWork{Position: 2})
	require.Equal(t, SkipNoTitle, skip)
	_, skip = n.Work(model.RawWork{Title: "Exodus"})
	require.Equal(t, SkipNoNumber, skip)

	section, skip := n.Section(model.RawSection{Label: " 12 ", Href: "/passage/?search=Genesis%2012&version=KJV"})
	require.Equal(t, SkipNone, skip)
	require.Equal(t, 12, section.Number)
	require.Equal(t, origin+"/passage/?search=Genesis+12&version=KJV", section.Locator)

	_, skip = n.Section(model.RawSection{Label: "intro", Href: "/x"})
	require.Equal(t, SkipNoNumber, skip)
	_, skip = n.Section(model.RawSection{Label: "3"})
	require.Equal(t, SkipNoLink, skip)
}

func TestPassagesMergeFragments(t *testing.T) {
	t.Parallel()

	n := New(origin)
	passages, skipped := n.Passages([]model.RawPassage{
		{Ref: "Ps-23-1", Text: "The Lord is my shepherd;"},
		{Ref: "Ps-23-1", Text: " I shall not want. "},
		{Ref: "Ps-23-2", Text: "He maketh me to lie down\n in green pastures:"},
		{Ref: "heading", Text: "A Psalm of David."},
		{Ref: "Ps-23-3", Text: "   "},
	})
	require.Equal(t, []model.Passage{
		{Number: 1, Text: "The Lord is my shepherd; I shall not want."},
		{Number: 2, Text: "He maketh me to lie down in green pastures:"},
	}, passages)
	require.ElementsMatch(t, []SkipReason{SkipNoNumber, SkipNoText}, skipped)
}

func TestPassageNumber(t *testing.T) {
	t.Parallel()

	n, ok := PassageNumber("1Cor-13-4")
	require.True(t, ok)
	require.Equal(t, 4, n)

	_, ok = PassageNumber("Gen-1")
	require.False(t, ok)
}
