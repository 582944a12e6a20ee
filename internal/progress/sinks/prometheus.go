package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/v-bible/scraping/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	recordsStored  *prometheus.CounterVec
	recordsSkipped *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_completed_total",
			Help: "Crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_runs_running",
			Help: "Crawl runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_stage_duration_seconds",
			Help:    "Wall time per completed crawl stage.",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600},
		}, []string{"stage"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetch_requests_total",
			Help: "Page fetches partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by site and status class.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site", "status_class"}),
		recordsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_records_stored_total",
			Help: "Records upserted partitioned by entity.",
		}, []string{"entity"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_records_skipped_total",
			Help: "Rows skipped partitioned by entity and reason.",
		}, []string{"entity", "reason"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.stageDuration,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.recordsStored,
		s.recordsSkipped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindRunStart:
		s.runsStarted.Inc()
		s.runsRunning.Inc()
	case progress.KindRunDone:
		s.finishRun(evt, "success")
	case progress.KindRunError:
		s.finishRun(evt, "error")
	case progress.KindStageDone:
		s.stageDuration.WithLabelValues(evt.Stage).Observe(evt.Dur.Seconds())
	case progress.KindFetchDone:
		s.recordFetch(evt)
	case progress.KindStored:
		s.recordsStored.WithLabelValues(evt.Entity).Inc()
	case progress.KindSkipped:
		s.recordsSkipped.WithLabelValues(evt.Entity, evt.Reason).Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	s.runsRunning.Dec()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) recordFetch(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(evt.Site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(evt.Site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(evt.Site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
