package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/v-bible/scraping/internal/crawler"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/versions/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Seen-Agent", r.UserAgent())
		w.Header().Set("X-Seen-Trace", r.Header.Get("X-Trace"))
		fmt.Fprint(w, `<html><body><table><tr><td>BD2011</td></tr></table></body></html>`)
	})
	mux.HandleFunc("/private/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "secret")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	f := New(Config{UserAgent: "scraper-test", RespectRobots: true})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/versions/",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, srv.URL+"/versions/", resp.URL)
	require.Contains(t, string(resp.Body), "BD2011")
	require.Equal(t, "scraper-test", resp.Headers.Get("X-Seen-Agent"))
	require.Equal(t, "yes", resp.Headers.Get("X-Seen-Trace"))
	require.False(t, resp.UsedHeadless)
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	f := New(Config{})
	for range 2 {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/versions/"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestFetchReturnsErrorStatusAsResponse(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	f := New(Config{})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchHonoursRobots(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	_, err := New(Config{RespectRobots: true}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/page"})
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)
	require.True(t, crawler.IsPermanent(err), "a robots denial is not retried")

	resp, err := New(Config{RespectRobots: false}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/page"})
	require.NoError(t, err)
	require.Equal(t, "secret", string(resp.Body))
}

func TestFetchCancelled(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/slow"})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
