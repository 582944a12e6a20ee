// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/crawler"
)

// ErrBlockedHost is returned, marked permanent, for navigations to a
// blocklisted host.
var ErrBlockedHost = errors.New("host is blocklisted")

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("headless fetcher closed")

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// BlockedDomains uses Blocklist patterns. Nil selects
	// DefaultBlockedDomains; an empty slice blocks nothing.
	BlockedDomains []string
	Logger         *zap.Logger
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
// All navigations share one browser tab, opened on first use and released
// by Close. Calls are serialized.
type Fetcher struct {
	cfg       Config
	blocklist *Blocklist
	logger    *zap.Logger

	allocator   context.Context
	allocCancel context.CancelFunc

	mu        sync.Mutex
	tab       context.Context
	tabCancel context.CancelFunc
	closed    bool
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser
// starts lazily with the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.BlockedDomains == nil {
		cfg.BlockedDomains = DefaultBlockedDomains
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		blocklist:   NewBlocklist(cfg.BlockedDomains),
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close releases the tab and the browser.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.tabCancel != nil {
		f.tabCancel()
	}
	f.allocCancel()
	return nil
}

// Fetch navigates the shared tab and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	target, err := url.Parse(request.URL)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("parse url: %w", err)
	}
	if f.blocklist.IsBlocked(target.Hostname()) {
		return crawler.FetchResponse{}, fmt.Errorf("navigate %s: %w", request.URL, crawler.Permanent(ErrBlockedHost))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return crawler.FetchResponse{}, ErrClosed
	}
	tab, err := f.ensureTab()
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	taskCtx, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	meta := newResponseMeta()
	listenCtx, stopListen := context.WithCancel(taskCtx)
	defer stopListen()
	chromedp.ListenTarget(listenCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.navigate(taskCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("navigate %s: %w", request.URL, ctx.Err())
		}
		return crawler.FetchResponse{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// ensureTab opens the shared tab and applies the network setup once.
// Callers hold f.mu.
func (f *Fetcher) ensureTab() (context.Context, error) {
	if f.tab != nil && f.tab.Err() == nil {
		return f.tab, nil
	}
	tab, cancel := chromedp.NewContext(f.allocator)
	if err := chromedp.Run(tab, f.networkSetupAction()); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser tab: %w", err)
	}
	f.tab, f.tabCancel = tab, cancel
	f.logger.Debug("browser tab opened", zap.Int("blocked_patterns", len(f.blocklist.URLPatterns())))
	return tab, nil
}

func (f *Fetcher) navigate(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.headersAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if patterns := f.blocklist.URLPatterns(); len(patterns) > 0 {
			if err := network.SetBlockedURLs(patterns).Do(ctx); err != nil {
				return fmt.Errorf("set blocked urls: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) headersAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// forwardCancel cancels the navigation when parent is done.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the first document response is the page itself.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, location := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case location != "":
	case finalURL != "":
		location = finalURL
	default:
		location = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, location
}

// toNetworkHeaders always returns a non-nil map so that stale headers from
// a previous navigation are cleared.
func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
