package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/clock/system"
	idgen "github.com/v-bible/scraping/internal/id/uuid"
	"github.com/v-bible/scraping/internal/model"
	"github.com/v-bible/scraping/internal/normalize"
	"github.com/v-bible/scraping/internal/progress"
)

// EngineConfig controls one crawl run.
type EngineConfig struct {
	CatalogURL    string
	TargetEdition string
	// StopAfter ends the run once the named stage completes.
	StopAfter Stage
	// SkipCompletedSections leaves sections that already hold passages
	// untouched, so an interrupted run can resume cheaply.
	SkipCompletedSections bool
	// VerifyAfterRun fails the run when the orphan scan finds rows.
	VerifyAfterRun bool
	// Topic receives a RunNotification when a publisher is configured.
	Topic string
}

// Engine walks the catalog hierarchy stage by stage. Stages and the rows
// inside them are processed strictly in order.
type Engine struct {
	cfg       EngineConfig
	nav       *Navigator
	store     Store
	norm      *normalize.Normalizer
	retry     RetryPolicy
	clock     Clock
	ids       IDGenerator
	emitter   progress.Emitter
	publisher Publisher
	tracer    trace.Tracer
	logger    *zap.Logger
}

const tracerName = "github.com/v-bible/scraping/internal/crawler"

// Option customises an Engine.
type Option func(*Engine)

// WithRetryPolicy sets the policy wrapping every navigation.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) { e.retry = policy }
}

// WithClock sets the clock used for run bookkeeping.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDGenerator sets the run id source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) { e.ids = ids }
}

// WithEmitter sets the progress destination.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithPublisher sets the run notification publisher.
func WithPublisher(publisher Publisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

// WithTracer sets the tracer used for run and stage spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// NewEngine builds an Engine. Without options it retries five times with
// exponential backoff and stamps runs with the wall clock and UUIDv7 ids.
func NewEngine(
	cfg EngineConfig,
	nav *Navigator,
	store Store,
	norm *normalize.Normalizer,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:     cfg,
		nav:     nav,
		store:   store,
		norm:    norm,
		retry:   NewExponentialRetryPolicy(0, 0, 0),
		clock:   system.New(),
		ids:     idgen.New(),
		emitter: progress.Nop{},
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every stage and records the run. The returned Summary is
// valid even when err is not nil and reports the stage that failed.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}
	ctx, span := e.tracer.Start(ctx, "crawl.run", trace.WithAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("crawl.target_edition", e.cfg.TargetEdition),
	))
	defer span.End()

	started := e.clock.Now()
	if err := e.store.StartRun(ctx, model.Run{
		ID:        runID,
		StartedAt: started,
		Status:    model.RunRunning,
		Stage:     string(StageInit),
	}); err != nil {
		err = fmt.Errorf("start run: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{RunID: runID, Stage: StageInit}, err
	}

	r := &run{
		Engine:  e,
		id:      runID,
		nav:     e.nav.ForRun(runID),
		logger:  e.logger.With(zap.Stringer("run_id", runID)),
		summary: Summary{RunID: runID, Stage: StageInit},
		seen:    make(map[int64]model.EditionFormat),
	}
	r.logger.Info("crawl run started",
		zap.String("catalog_url", e.cfg.CatalogURL),
		zap.String("target_edition", e.cfg.TargetEdition),
	)
	r.emit(progress.Event{Kind: progress.KindRunStart})

	runErr := r.execute(ctx)
	e.finish(ctx, r, started, runErr)
	span.SetAttributes(
		attribute.String("crawl.stage", string(r.summary.Stage)),
		attribute.Int("crawl.passages", r.summary.Passages),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return r.summary, runErr
}

func (e *Engine) finish(ctx context.Context, r *run, started time.Time, runErr error) {
	// Bookkeeping must land even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	finished := e.clock.Now()
	status := model.RunSuccess
	var errMsg *string
	kind := progress.KindRunDone
	if runErr != nil {
		status = model.RunError
		msg := runErr.Error()
		errMsg = &msg
		kind = progress.KindRunError
	}
	if err := e.store.FinishRun(ctx, r.id, finished, status, string(r.summary.Stage), errMsg); err != nil {
		r.logger.Error("finish run failed", zap.Error(err))
	}
	r.emit(progress.Event{Kind: kind, Dur: finished.Sub(started), Note: deref(errMsg)})

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.String("stage", string(r.summary.Stage)),
		zap.Int("languages", r.summary.Languages),
		zap.Int("editions", r.summary.Editions),
		zap.Int("formats", r.summary.Formats),
		zap.Int("works", r.summary.Works),
		zap.Int("sections", r.summary.Sections),
		zap.Int("passages", r.summary.Passages),
		zap.Int("skipped", r.summary.Skipped),
		zap.Duration("elapsed", finished.Sub(started)),
	}
	if runErr != nil {
		r.logger.Error("crawl run failed", append(fields, zap.Error(runErr))...)
	} else {
		r.logger.Info("crawl run finished", fields...)
	}
	e.notify(ctx, r, status, started, finished, errMsg)
}

func (e *Engine) notify(
	ctx context.Context,
	r *run,
	status model.RunStatus,
	started, finished time.Time,
	errMsg *string,
) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	payload := RunNotification{
		RunID:      r.id.String(),
		Status:     string(status),
		Stage:      string(r.summary.Stage),
		Error:      deref(errMsg),
		StartedAt:  started,
		FinishedAt: finished,
		Summary:    r.summary,
	}
	msgID, err := e.publisher.Publish(ctx, e.cfg.Topic, payload)
	if err != nil {
		r.logger.Warn("publish run notification failed", zap.Error(err))
		return
	}
	r.logger.Debug("run notification published", zap.String("message_id", msgID))
}

// run holds the state threaded between the stages of one Run call.
type run struct {
	*Engine
	id      uuid.UUID
	nav     *Navigator
	logger  *zap.Logger
	summary Summary

	edition model.Edition
	primary model.EditionFormat
	cache   documentCache
	// seen holds the primary-text formats upserted by this run, by edition.
	seen map[int64]model.EditionFormat
}

func (r *run) execute(ctx context.Context) error {
	stages := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageDiscoverCatalog, r.discoverCatalog},
		{StageSelectPrimaryEdition, r.selectPrimaryEdition},
		{StageFetchWorkList, r.fetchWorkList},
		{StageFetchSections, r.fetchSectionsPerWork},
		{StageFetchPassages, r.fetchPassagesPerSection},
	}
	for _, s := range stages {
		r.summary.Stage = s.stage
		start := r.clock.Now()
		if err := r.traceStage(ctx, s.stage, s.fn); err != nil {
			return fmt.Errorf("%s: %w", s.stage, err)
		}
		elapsed := r.clock.Now().Sub(start)
		r.logger.Info("stage complete", zap.String("stage", string(s.stage)), zap.Duration("elapsed", elapsed))
		r.emit(progress.Event{Kind: progress.KindStageDone, Stage: string(s.stage), Dur: elapsed})
		if r.cfg.StopAfter == s.stage {
			r.logger.Info("stopping early", zap.String("stage", string(s.stage)))
			return nil
		}
	}
	if r.cfg.VerifyAfterRun {
		if err := r.verify(ctx); err != nil {
			return err
		}
	}
	r.summary.Stage = StageDone
	return nil
}

func (r *run) traceStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "crawl.stage."+string(stage))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *run) verify(ctx context.Context) error {
	report, err := r.store.Orphans(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if total := report.Total(); total > 0 {
		return fmt.Errorf("verify: %d orphaned rows: %w", total, model.ErrOrphan)
	}
	return nil
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(r.id)
	evt.TS = r.clock.Now()
	if evt.Stage == "" {
		evt.Stage = string(r.summary.Stage)
	}
	r.emitter.Emit(evt)
}

func (r *run) stored(entity string) {
	r.emit(progress.Event{Kind: progress.KindStored, Entity: entity})
}

func (r *run) skip(entity string, reason normalize.SkipReason, fields ...zap.Field) {
	r.summary.Skipped++
	r.logger.Debug("row skipped", append(fields,
		zap.String("entity", entity),
		zap.String("reason", string(reason)),
	)...)
	r.emit(progress.Event{Kind: progress.KindSkipped, Entity: entity, Reason: string(reason)})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
