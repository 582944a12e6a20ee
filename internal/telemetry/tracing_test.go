package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStdoutExporterWritesSpans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var buf bytes.Buffer
	tp, err := NewTracerProvider(ctx, Config{ServiceName: "scraper", Exporter: ExporterStdout, Writer: &buf})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "crawl.stage.discover_catalog")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	require.Contains(t, buf.String(), "crawl.stage.discover_catalog")
	require.Contains(t, buf.String(), "scraper")
}

func TestNoExporter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp, err := NewTracerProvider(ctx, Config{ServiceName: "scraper"})
	require.NoError(t, err)
	require.NoError(t, tp.Shutdown(ctx))
}

func TestUnknownExporter(t *testing.T) {
	t.Parallel()

	_, err := NewTracerProvider(context.Background(), Config{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unknown trace exporter")
}
