package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/extract"
	"github.com/v-bible/scraping/internal/progress"
)

// Limiter spaces out requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// StatusError reports a non-2xx response. It is transient and retried.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// NavigatorConfig controls snapshot archiving.
type NavigatorConfig struct {
	// SnapshotPrefix is prepended to archived page paths.
	SnapshotPrefix string
	ContentType    string
}

// Navigator opens pages as documents. It applies the politeness limiter,
// rejects non-2xx responses, optionally archives the raw page and reports
// each fetch as a progress event.
type Navigator struct {
	fetcher Fetcher
	limiter Limiter
	archive BlobStore
	hasher  Hasher
	emitter progress.Emitter
	clock   Clock
	cfg     NavigatorConfig
	logger  *zap.Logger
	runID   uuid.UUID
}

// NewNavigator builds a Navigator. limiter, archive and emitter are
// optional; archive requires hasher.
func NewNavigator(
	fetcher Fetcher,
	limiter Limiter,
	archive BlobStore,
	hasher Hasher,
	emitter progress.Emitter,
	clock Clock,
	cfg NavigatorConfig,
	logger *zap.Logger,
) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Navigator{
		fetcher: fetcher,
		limiter: limiter,
		archive: archive,
		hasher:  hasher,
		emitter: emitter,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// ForRun returns a copy of n that tags snapshots and events with runID.
func (n *Navigator) ForRun(runID uuid.UUID) *Navigator {
	clone := *n
	clone.runID = runID
	clone.logger = n.logger.With(zap.Stringer("run_id", runID))
	return &clone
}

// Open fetches pageURL and parses the body.
func (n *Navigator) Open(ctx context.Context, pageURL string) (*extract.Document, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx, pageURL); err != nil {
			return nil, err
		}
	}
	resp, err := n.fetcher.Fetch(ctx, FetchRequest{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	n.emitFetch(pageURL, resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	n.snapshot(ctx, pageURL, resp.Body)

	location := resp.URL
	if location == "" {
		location = pageURL
	}
	doc, err := extract.Parse(bytes.NewReader(resp.Body), location)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", pageURL, err)
	}
	return doc, nil
}

func (n *Navigator) emitFetch(pageURL string, resp FetchResponse) {
	if n.runID == uuid.Nil {
		return
	}
	site := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		site = u.Hostname()
	}
	evt := progress.Event{
		RunID:       progress.UUIDToBytes(n.runID),
		Kind:        progress.KindFetchDone,
		Site:        site,
		URL:         pageURL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	}
	evt.TS = time.Now().UTC()
	if n.clock != nil {
		evt.TS = n.clock.Now()
	}
	n.emitter.Emit(evt)
}

// snapshot archives the page. Failures are logged and never fail the
// navigation.
func (n *Navigator) snapshot(ctx context.Context, pageURL string, body []byte) {
	if n.archive == nil || n.hasher == nil {
		return
	}
	hash, err := n.hasher.Hash(body)
	if err != nil {
		n.logger.Warn("hash snapshot failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	uri, err := n.archive.PutObject(ctx, n.snapshotPath(hash), n.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("archive snapshot failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	n.logger.Debug("page archived", zap.String("url", pageURL), zap.String("blob_uri", uri))
}

func (n *Navigator) snapshotPath(hash string) string {
	run := "adhoc"
	if n.runID != uuid.Nil {
		run = n.runID.String()
	}
	prefix := strings.Trim(n.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", run, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, run, hash)
}
