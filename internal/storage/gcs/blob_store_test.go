package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := Open(context.Background(), Config{Bucket: "snapshots"},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	type upload struct {
		name, cond string
		body       []byte
	}
	uploads := make(chan upload, 1)
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		name := r.URL.Query().Get("name")
		uploads <- upload{name: name, cond: r.URL.Query().Get("ifGenerationMatch"), body: body}
		fmt.Fprintln(w, `{"name": "`+name+`", "bucket": "snapshots"}`)
	}))

	uri, err := store.PutObject(context.Background(), "/pages/run/abc.html", "text/html", bytes.NewReader([]byte("<html>BD2011</html>")))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/pages/run/abc.html", uri)
	got := <-uploads
	require.Equal(t, "pages/run/abc.html", got.name)
	require.Equal(t, "0", got.cond)
	require.Contains(t, string(got.body), "<html>BD2011</html>")
}

func TestPutObjectExistingObjectIsSuccess(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error": {"code": 412, "message": "conditionNotMet"}}`)
	}))

	uri, err := store.PutObject(context.Background(), "pages/abc.html", "text/html", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/pages/abc.html", uri)
}

func TestPutObjectForbidden(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error": {"code": 403, "message": "forbidden"}}`)
	}))

	_, err := store.PutObject(context.Background(), "pages/abc.html", "text/html", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = Open(context.Background(), Config{}, option.WithoutAuthentication())
	require.Error(t, err)

	store := newTestStore(t, http.NotFoundHandler())
	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
