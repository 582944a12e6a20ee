// Package app builds the long-lived services of one scraper process from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/api"
	"github.com/v-bible/scraping/internal/clock/system"
	"github.com/v-bible/scraping/internal/config"
	"github.com/v-bible/scraping/internal/crawler"
	collyfetcher "github.com/v-bible/scraping/internal/fetcher/colly"
	"github.com/v-bible/scraping/internal/fetcher/headless"
	"github.com/v-bible/scraping/internal/hash/sha256"
	uuidgen "github.com/v-bible/scraping/internal/id/uuid"
	"github.com/v-bible/scraping/internal/metrics"
	"github.com/v-bible/scraping/internal/normalize"
	"github.com/v-bible/scraping/internal/policy/ratelimit"
	"github.com/v-bible/scraping/internal/progress"
	"github.com/v-bible/scraping/internal/progress/sinks"
	pubmemory "github.com/v-bible/scraping/internal/publisher/memory"
	"github.com/v-bible/scraping/internal/publisher/pubsub"
	"github.com/v-bible/scraping/internal/storage/gcs"
	"github.com/v-bible/scraping/internal/storage/local"
	"github.com/v-bible/scraping/internal/storage/memory"
	"github.com/v-bible/scraping/internal/storage/postgres"
	"github.com/v-bible/scraping/internal/storage/sqlite"
	"github.com/v-bible/scraping/internal/telemetry"
)

const closeTimeout = 10 * time.Second

// Option overrides a service New would otherwise build from config.
type Option func(*options)

type options struct {
	fetcher   crawler.Fetcher
	publisher crawler.Publisher
	archive   crawler.BlobStore
	registry  *prometheus.Registry
}

// WithFetcher replaces the configured navigation fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithArchive replaces the configured snapshot archive.
func WithArchive(b crawler.BlobStore) Option {
	return func(o *options) { o.archive = b }
}

// WithRegistry sets the Prometheus registry metrics are registered on.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

type closer struct {
	name string
	fn   func() error
}

// App holds the services of a crawl process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    crawler.Store
	hub      *progress.Hub
	tracker  *sinks.TrackerSink
	registry *prometheus.Registry
	engine   *crawler.Engine
	closers  []closer
}

// OpenStore connects the configured relational store.
func OpenStore(ctx context.Context, cfg config.Config) (crawler.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Store.DSN,
			MaxConns:        int32(cfg.Store.MaxConns),
			MinConns:        int32(cfg.Store.MinConns),
			MaxConnLifetime: time.Duration(cfg.Store.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// New wires every service the crawl needs. The schema is migrated before
// New returns. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	a := &App{cfg: cfg, logger: logger, registry: o.registry}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	logger.Info("initializing services",
		zap.String("store", cfg.Store.Driver),
		zap.String("navigator", cfg.Navigator.Mode),
		zap.String("archive", cfg.Archive.Backend),
	)

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closer{name: "store", fn: store.Close})
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(o.registry)
	if err != nil {
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}
	a.tracker = sinks.NewTrackerSink(0)
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		a.tracker,
	)

	fetcher := o.fetcher
	if fetcher == nil {
		if fetcher, err = a.buildFetcher(); err != nil {
			return nil, err
		}
	}

	archive := o.archive
	if archive == nil {
		if archive, err = a.buildArchive(ctx); err != nil {
			return nil, err
		}
	}

	publisher := o.publisher
	if publisher == nil {
		if publisher, err = a.buildPublisher(ctx); err != nil {
			return nil, err
		}
	}

	clock := system.New()
	nav := crawler.NewNavigator(
		fetcher,
		ratelimit.New(ratelimit.Config{Delay: cfg.Delay()}),
		archive,
		sha256.New(),
		a.hub,
		clock,
		crawler.NavigatorConfig{SnapshotPrefix: cfg.Archive.Prefix},
		logger.Named("navigator"),
	)

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		ServiceName: "scraper",
		Exporter:    cfg.Tracing.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, closer{name: "tracer provider", fn: func() error {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}})

	engineOpts := []crawler.Option{
		crawler.WithTracer(tp.Tracer("github.com/v-bible/scraping/internal/crawler")),
		crawler.WithRetryPolicy(cfg.RetryPolicy()),
		crawler.WithClock(clock),
		crawler.WithIDGenerator(uuidgen.New()),
		crawler.WithEmitter(a.hub),
	}
	if publisher != nil {
		engineOpts = append(engineOpts, crawler.WithPublisher(publisher))
	}
	a.engine = crawler.NewEngine(
		cfg.EngineConfig(),
		nav,
		store,
		normalize.New(cfg.Site.Origin),
		logger.Named("crawler"),
		engineOpts...,
	)
	return a, nil
}

func (a *App) buildFetcher() (crawler.Fetcher, error) {
	switch a.cfg.Navigator.Mode {
	case config.ModeHeadless:
		f, err := headless.NewChromedp(headless.Config{
			UserAgent:         a.cfg.Navigator.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			BlockedDomains:    a.cfg.Navigator.BlockedDomains,
			Logger:            a.logger.Named("headless"),
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, closer{name: "headless fetcher", fn: f.Close})
		return f, nil
	case config.ModeHTTP:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Navigator.UserAgent,
			RespectRobots: a.cfg.Navigator.RespectRobots,
			Timeout:       a.cfg.NavTimeout(),
			Logger:        a.logger.Named("colly"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown navigator mode: %s", a.cfg.Navigator.Mode)
	}
}

func (a *App) buildArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs archive", fn: store.Close})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("pubsub project not set, keeping run notifications in memory",
			zap.String("topic", a.cfg.PubSub.TopicName))
		return pubmemory.New(), nil
	}
	pub, err := pubsub.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, closer{name: "pubsub publisher", fn: pub.Close})
	return pub, nil
}

// Store returns the relational store.
func (a *App) Store() crawler.Store {
	return a.store
}

// Tracker returns the live run view fed by progress events.
func (a *App) Tracker() *sinks.TrackerSink {
	return a.tracker
}

// Run executes one crawl. When metrics.listen_addr is set the ops server
// runs alongside and stops with the crawl.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		httpMetrics, err := metrics.NewHTTP(a.registry)
		if err != nil {
			return crawler.Summary{}, err
		}
		srv := api.NewServer(
			a.store,
			api.NewProgressHandler(a.tracker, a.logger.Named("api")),
			a.registry,
			a.logger.Named("api"),
			api.WithHTTPMetrics(httpMetrics),
		)
		srvCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(srvCtx, addr) }()
		defer func() {
			cancel()
			if err := <-errCh; err != nil {
				a.logger.Warn("ops server stopped with error", zap.Error(err))
			}
		}()
	}
	return a.engine.Run(ctx)
}

// Close flushes progress and releases every service. It is safe to call
// once after New succeeds.
func (a *App) Close() error {
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
