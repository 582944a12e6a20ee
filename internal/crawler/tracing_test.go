package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestRunRecordsStageSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	engine := newTestEngine(EngineConfig{StopAfter: StageFetchWorkList},
		newFakeFetcher(t, sitePages()), newTestStore(t), zap.NewNop(), WithTracer(tp.Tracer(tracerName)))
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	require.Equal(t, []string{
		"crawl.stage.discover_catalog",
		"crawl.stage.select_primary_edition",
		"crawl.stage.fetch_work_list",
		"crawl.run",
	}, names)

	ended := recorder.Ended()
	root := ended[len(ended)-1]
	for _, span := range ended[:len(ended)-1] {
		require.Equal(t, root.SpanContext().SpanID(), span.Parent().SpanID())
	}
}

func TestFailedStageSpanHasErrorStatus(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	engine := newTestEngine(EngineConfig{TargetEdition: "KJV"},
		newFakeFetcher(t, sitePages()), newTestStore(t), zap.NewNop(), WithTracer(tp.Tracer(tracerName)))
	_, err := engine.Run(context.Background())
	require.Error(t, err)

	statuses := make(map[string]codes.Code)
	for _, span := range recorder.Ended() {
		statuses[span.Name()] = span.Status().Code
	}
	require.Equal(t, codes.Unset, statuses["crawl.stage.discover_catalog"])
	require.Equal(t, codes.Error, statuses["crawl.stage.select_primary_edition"])
	require.Equal(t, codes.Error, statuses["crawl.run"])
}
