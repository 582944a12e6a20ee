package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/v-bible/scraping/internal/model"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestUpsertKeepsSurrogateIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	lang := model.Language{Code: "vi", Name: "Tiếng Việt (VI)", Origin: "https://www.biblegateway.com"}
	langID, err := store.UpsertLanguage(ctx, lang)
	require.NoError(t, err)
	lang.Name = "Vietnamese"
	again, err := store.UpsertLanguage(ctx, lang)
	require.NoError(t, err)
	require.Equal(t, langID, again)

	edition := model.Edition{Code: "BD2011", Name: "Bản Dịch 2011 (BD2011)", LanguageID: langID}
	editionID, err := store.UpsertEdition(ctx, edition)
	require.NoError(t, err)
	edition.OnlyNT = true
	againEdition, err := store.UpsertEdition(ctx, edition)
	require.NoError(t, err)
	require.Equal(t, editionID, againEdition)

	found, err := store.FindEdition(ctx, "BD2011")
	require.NoError(t, err)
	require.Equal(t, editionID, found.ID)
	require.True(t, found.OnlyNT, "mutable fields are overwritten")

	format := model.EditionFormat{
		EditionID: editionID,
		Type:      model.FormatPrimaryText,
		Locator:   "https://www.biblegateway.com/versions/Bai-Dich-2011-BD2011/",
	}
	formatID, err := store.UpsertFormat(ctx, format)
	require.NoError(t, err)
	againFormat, err := store.UpsertFormat(ctx, format)
	require.NoError(t, err)
	require.Equal(t, formatID, againFormat)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, model.Stats{Languages: 1, Editions: 1, Formats: 1}, stats)

	var name string
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT name FROM languages WHERE id = ?`, langID).Scan(&name))
	require.Equal(t, "Vietnamese", name)
}

func TestHierarchyListingOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	editionID := seedEdition(t, store)

	for _, ordinal := range []int{3, 1, 2} {
		_, err := store.UpsertWork(ctx, model.Work{
			EditionID: editionID,
			Ordinal:   ordinal,
			Title:     "Work",
			Locator:   "https://www.biblegateway.com/versions/BD2011/",
		})
		require.NoError(t, err)
	}
	works, err := store.ListWorks(ctx, editionID)
	require.NoError(t, err)
	require.Len(t, works, 3)
	for i, w := range works {
		require.Equal(t, i+1, w.Ordinal)
	}

	workID := works[0].ID
	for _, number := range []int{2, 1} {
		_, err := store.UpsertSection(ctx, model.Section{WorkID: workID, Number: number, Locator: "https://x/"})
		require.NoError(t, err)
	}
	sections, err := store.ListSections(ctx, workID)
	require.NoError(t, err)
	require.Equal(t, 1, sections[0].Number)
	require.Equal(t, 2, sections[1].Number)

	count, err := store.CountPassages(ctx, sections[0].ID)
	require.NoError(t, err)
	require.Zero(t, count)
	_, err = store.UpsertPassage(ctx, model.Passage{SectionID: sections[0].ID, Number: 1, Text: "Ban đầu"})
	require.NoError(t, err)
	_, err = store.UpsertPassage(ctx, model.Passage{SectionID: sections[0].ID, Number: 1, Text: "Ban đầu Đức Chúa Trời"})
	require.NoError(t, err)
	count, err = store.CountPassages(ctx, sections[0].ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	report, err := store.Orphans(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Total())
}

func TestMissingParentIsOrphan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	_, err := store.UpsertSection(ctx, model.Section{WorkID: 999, Number: 1, Locator: "https://x/"})
	require.ErrorIs(t, err, model.ErrOrphan)

	_, err = store.UpsertEdition(ctx, model.Edition{Code: "KJV", Name: "KJV", LanguageID: 42})
	require.ErrorIs(t, err, model.ErrOrphan)
}

func TestLookupsReportNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	_, err := store.FindEdition(ctx, "BD2011")
	require.ErrorIs(t, err, model.ErrNotFound)

	editionID := seedEdition(t, store)
	_, err = store.FindFormat(ctx, editionID, model.FormatAudio)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestFindFormatPrefersNewestLocator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	editionID := seedEdition(t, store)

	_, err := store.UpsertFormat(ctx, model.EditionFormat{
		EditionID: editionID,
		Type:      model.FormatPrimaryText,
		Locator:   "https://www.biblegateway.com/versions/Bai-Dich-2011-BD2011/",
	})
	require.NoError(t, err)
	movedID, err := store.UpsertFormat(ctx, model.EditionFormat{
		EditionID: editionID,
		Type:      model.FormatPrimaryText,
		Locator:   "https://www.biblegateway.com/versions/BD2011-Bible/",
	})
	require.NoError(t, err)

	format, err := store.FindFormat(ctx, editionID, model.FormatPrimaryText)
	require.NoError(t, err)
	require.Equal(t, movedID, format.ID)
	require.Equal(t, "https://www.biblegateway.com/versions/BD2011-Bible/", format.Locator)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	id := uuid.New()
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, model.Run{ID: id, StartedAt: started, Status: model.RunRunning, Stage: "init"}))
	msg := "fetch_passages: open https://x/: retries exhausted"
	require.NoError(t, store.FinishRun(ctx, id, started.Add(time.Minute), model.RunError, "fetch_passages", &msg))

	var status, stage string
	var stored *string
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT status, stage, error_message FROM runs WHERE id = ?`, id.String()).Scan(&status, &stage, &stored))
	require.Equal(t, "error", status)
	require.Equal(t, "fetch_passages", stage)
	require.NotNil(t, stored)
	require.Equal(t, msg, *stored)

	err := store.FinishRun(ctx, uuid.New(), started, model.RunSuccess, "done", nil)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func seedEdition(t *testing.T, store *Store) int64 {
	t.Helper()
	ctx := context.Background()
	langID, err := store.UpsertLanguage(ctx, model.Language{Code: "vi", Name: "Tiếng Việt", Origin: "https://www.biblegateway.com"})
	require.NoError(t, err)
	editionID, err := store.UpsertEdition(ctx, model.Edition{Code: "BD2011", Name: "Bản Dịch 2011 (BD2011)", LanguageID: langID})
	require.NoError(t, err)
	return editionID
}
