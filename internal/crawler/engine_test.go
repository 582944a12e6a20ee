package crawler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/v-bible/scraping/internal/model"
	"github.com/v-bible/scraping/internal/normalize"
	"github.com/v-bible/scraping/internal/storage/sqlite"
)

const (
	testOrigin     = "https://www.biblegateway.com"
	testCatalogURL = testOrigin + "/versions/"
)

// fakeFetcher serves fixture pages by normalized URL and answers 404 for
// anything else.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	calls map[string]int
	err   error
}

func newFakeFetcher(t *testing.T, pages map[string]string) *fakeFetcher {
	t.Helper()
	f := &fakeFetcher{pages: make(map[string][]byte), calls: make(map[string]int)}
	for href, fixture := range pages {
		locator, err := normalize.NormalizeLocator(testOrigin, href)
		require.NoError(t, err)
		body, err := os.ReadFile(filepath.Join("testdata", fixture))
		require.NoError(t, err)
		f.pages[locator] = body
	}
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if f.err != nil {
		return FetchResponse{}, f.err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: 404}, nil
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: body, Duration: time.Millisecond}, nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeFetcher) callsTo(t *testing.T, href string) int {
	t.Helper()
	locator, err := normalize.NormalizeLocator(testOrigin, href)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

func sitePages() map[string]string {
	return map[string]string{
		"/versions/":                                 "catalog.html",
		"/versions/Bai-Dich-2011-BD2011/":            "booklist.html",
		"/passage/?search=Genesis%201&version=BD2011": "gen1.html",
		"/passage/?search=Genesis%202&version=BD2011": "gen2.html",
		"/passage/?search=Matthew%201&version=BD2011": "matt1.html",
	}
}

type fixedPolicy struct{ attempts int }

func (p fixedPolicy) Attempts() int           { return p.attempts }
func (p fixedPolicy) Backoff(int) time.Duration { return 0 }

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func newTestEngine(cfg EngineConfig, fetcher Fetcher, store Store, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = testCatalogURL
	}
	if cfg.TargetEdition == "" {
		cfg.TargetEdition = "BD2011"
	}
	nav := NewNavigator(fetcher, nil, nil, nil, nil, nil, NavigatorConfig{}, logger)
	opts = append([]Option{WithRetryPolicy(fixedPolicy{attempts: 2})}, opts...)
	return NewEngine(cfg, nav, store, normalize.New(testOrigin), logger, opts...)
}

func TestCatalogDiscoveryStoresFormats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	core, logs := observer.New(zapcore.DebugLevel)
	engine := newTestEngine(EngineConfig{StopAfter: StageDiscoverCatalog}, fetcher, store, zap.New(core))

	summary, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StageDiscoverCatalog, summary.Stage)
	require.Equal(t, 3, summary.Languages)
	require.Equal(t, 2, summary.Editions)
	require.Equal(t, 3, summary.Formats)
	require.Equal(t, 1, summary.Skipped)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, model.Stats{Languages: 1, Editions: 2, Formats: 3}, stats)

	formatLogs := logs.FilterMessage("stored edition format").All()
	require.Len(t, formatLogs, 3)
	var bd2011 []string
	for _, entry := range formatLogs {
		require.Equal(t, zapcore.InfoLevel, entry.Level)
		require.Equal(t, "vi", entry.ContextMap()["language"])
		if entry.ContextMap()["edition"] == "BD2011" {
			bd2011 = append(bd2011, entry.ContextMap()["type"].(string))
		}
	}
	require.ElementsMatch(t, []string{"primary-text", "audio"}, bd2011)

	skipped := logs.FilterMessage("row skipped").All()
	require.Len(t, skipped, 1)
	require.Equal(t, "no_code", skipped[0].ContextMap()["reason"])

	edition, err := store.FindEdition(ctx, "BD2011")
	require.NoError(t, err)
	primary, err := store.FindFormat(ctx, edition.ID, model.FormatPrimaryText)
	require.NoError(t, err)
	require.Equal(t, testOrigin+"/versions/Bai-Dich-2011-BD2011/", primary.Locator)
}

func TestInheritedLanguageNameSharesLanguage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	engine := newTestEngine(EngineConfig{StopAfter: StageDiscoverCatalog}, fetcher, store, zap.NewNop())

	_, err := engine.Run(ctx)
	require.NoError(t, err)

	declared, err := store.FindEdition(ctx, "BD2011")
	require.NoError(t, err)
	inherited, err := store.FindEdition(ctx, "KTHD")
	require.NoError(t, err)
	require.NotZero(t, inherited.LanguageID)
	require.Equal(t, declared.LanguageID, inherited.LanguageID)
	require.Equal(t, "Kinh Thánh Hiện Đại (KTHD)", inherited.Name)

	format, err := store.FindFormat(ctx, inherited.ID, model.FormatPrimaryText)
	require.NoError(t, err)
	require.Equal(t, testOrigin+"/versions/Kinh-Thanh-Hien-Dai-KTHD/", format.Locator)
}

func TestStaleStoredLocatorIsIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	_, err := newTestEngine(EngineConfig{StopAfter: StageDiscoverCatalog}, fetcher, store, zap.NewNop()).Run(ctx)
	require.NoError(t, err)

	// A later row for the same edition that the catalog no longer lists.
	edition := mustEdition(t, store)
	_, err = store.UpsertFormat(ctx, model.EditionFormat{
		EditionID: edition.ID,
		Type:      model.FormatPrimaryText,
		Locator:   testOrigin + "/versions/Old-BD2011/",
	})
	require.NoError(t, err)

	summary, err := newTestEngine(EngineConfig{StopAfter: StageFetchWorkList}, fetcher, store, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Works)
	require.Zero(t, fetcher.callsTo(t, "/versions/Old-BD2011/"))
}

func TestDefaultRunIDsAreTimeOrdered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	nav := NewNavigator(fetcher, nil, nil, nil, nil, nil, NavigatorConfig{}, zap.NewNop())
	engine := NewEngine(EngineConfig{
		CatalogURL:    testCatalogURL,
		TargetEdition: "BD2011",
		StopAfter:     StageDiscoverCatalog,
	}, nav, store, normalize.New(testOrigin), nil)

	summary, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), summary.RunID.Version())
}

func TestBlockedPageIsNotRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, nil)
	fetcher.err = Permanent(errors.New("host is blocklisted"))
	engine := newTestEngine(EngineConfig{}, fetcher, store, zap.NewNop(), WithRetryPolicy(fixedPolicy{attempts: 5}))

	summary, err := engine.Run(ctx)
	require.Error(t, err)
	require.True(t, IsPermanent(err))
	require.NotErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, StageDiscoverCatalog, summary.Stage)
	require.Equal(t, 1, fetcher.totalCalls())
}

func TestFullRunIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	engine := newTestEngine(EngineConfig{VerifyAfterRun: true}, fetcher, store, zap.NewNop())

	first, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StageDone, first.Stage)
	require.Equal(t, 2, first.Works)
	require.Equal(t, 3, first.Sections)
	require.Equal(t, 4, first.Passages)

	want := model.Stats{Languages: 1, Editions: 2, Formats: 3, Works: 2, Sections: 3, Passages: 4}
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, want, stats)

	// The book list serves both the work list and every work's sections.
	require.Equal(t, 1, fetcher.callsTo(t, "/versions/Bai-Dich-2011-BD2011/"))

	second, err := engine.Run(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)
	first.RunID, second.RunID = uuid.Nil, uuid.Nil
	require.Equal(t, first, second)

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, want, stats)

	report, err := store.Orphans(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Total())

	works, err := store.ListWorks(ctx, mustEdition(t, store).ID)
	require.NoError(t, err)
	require.Len(t, works, 2)
	require.Equal(t, "gen", works[0].Abbrev)
	require.Equal(t, "ot", works[0].Testament)
	require.Equal(t, "nt", works[1].Testament)

	sections, err := store.ListSections(ctx, works[0].ID)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	require.Equal(t, testOrigin+"/passage/?search=Genesis+1&version=BD2011", sections[0].Locator)
	count, err := store.CountPassages(ctx, sections[0].ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestSkipCompletedSections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	_, err := newTestEngine(EngineConfig{}, fetcher, store, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callsTo(t, "/passage/?search=Genesis%201&version=BD2011"))

	resumed := newTestEngine(EngineConfig{SkipCompletedSections: true}, fetcher, store, zap.NewNop())
	summary, err := resumed.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Passages)
	require.Equal(t, 1, fetcher.callsTo(t, "/passage/?search=Genesis%201&version=BD2011"))
	require.Equal(t, 1, fetcher.callsTo(t, "/passage/?search=Matthew%201&version=BD2011"))
}

func TestStopAfterWorkList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	summary, err := newTestEngine(EngineConfig{StopAfter: StageFetchWorkList}, fetcher, store, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StageFetchWorkList, summary.Stage)
	require.Equal(t, 2, summary.Works)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Works)
	require.Zero(t, stats.Sections)
	require.Zero(t, stats.Passages)
}

func TestRetriesExhaustedFailsRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, nil)
	fetcher.err = errors.New("connection reset")
	core, logs := observer.New(zapcore.DebugLevel)
	publisher := &recordingPublisher{}
	engine := newTestEngine(
		EngineConfig{Topic: "runs"},
		fetcher, store, zap.New(core),
		WithRetryPolicy(fixedPolicy{attempts: 3}),
		WithPublisher(publisher),
	)

	summary, err := engine.Run(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, StageDiscoverCatalog, summary.Stage)
	require.Equal(t, 3, fetcher.totalCalls())
	require.Len(t, logs.FilterMessage("navigation failed").All(), 3)
	require.Len(t, logs.FilterMessage("crawl run failed").All(), 1)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, model.Stats{}, stats)

	require.Equal(t, []string{"runs"}, publisher.topics)
	note, ok := publisher.payloads[0].(RunNotification)
	require.True(t, ok)
	require.Equal(t, "error", note.Status)
	require.Equal(t, string(StageDiscoverCatalog), note.Stage)
	require.Contains(t, note.Error, "connection reset")
}

func TestMissingTargetEditionIsFatal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())
	summary, err := newTestEngine(EngineConfig{TargetEdition: "KJV"}, fetcher, store, zap.NewNop()).Run(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Equal(t, StageSelectPrimaryEdition, summary.Stage)
	require.Equal(t, 1, fetcher.totalCalls())
}

func TestMissingPageExhaustsRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	pages := sitePages()
	delete(pages, "/passage/?search=Matthew%201&version=BD2011")
	fetcher := newFakeFetcher(t, pages)

	summary, err := newTestEngine(EngineConfig{}, fetcher, store, zap.NewNop()).Run(ctx)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 404, statusErr.StatusCode)
	require.Equal(t, StageFetchPassages, summary.Stage)
	require.Equal(t, 3, summary.Passages)
	require.Equal(t, 2, fetcher.callsTo(t, "/passage/?search=Matthew%201&version=BD2011"))
}

func TestSuccessfulRunIsPublished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	publisher := &recordingPublisher{}
	fetcher := newFakeFetcher(t, sitePages())
	engine := newTestEngine(EngineConfig{Topic: "runs"}, fetcher, store, zap.NewNop(), WithPublisher(publisher))

	summary, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, publisher.payloads, 1)
	note := publisher.payloads[0].(RunNotification)
	require.Equal(t, "success", note.Status)
	require.Equal(t, summary.RunID.String(), note.RunID)
	require.Equal(t, string(StageDone), note.Stage)
	require.Empty(t, note.Error)
	require.Equal(t, 4, note.Summary.Passages)
	require.False(t, note.FinishedAt.Before(note.StartedAt))
}

func TestCancelledRunStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newTestStore(t)
	fetcher := newFakeFetcher(t, sitePages())

	_, err := newTestEngine(EngineConfig{}, fetcher, store, zap.NewNop()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, fetcher.totalCalls())
}

func mustEdition(t *testing.T, store *sqlite.Store) model.Edition {
	t.Helper()
	edition, err := store.FindEdition(context.Background(), "BD2011")
	require.NoError(t, err)
	return edition
}
