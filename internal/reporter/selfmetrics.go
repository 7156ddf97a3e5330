package reporter

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"node-reporter/internal/model"
)

// selfMetrics exposes the outcome of a run in the node_exporter textfile
// format so the reporter itself can be scraped.
type selfMetrics struct {
	reg           *prometheus.Registry
	info          *prometheus.GaugeVec
	lastRun       prometheus.Gauge
	success       prometheus.Gauge
	duration      prometheus.Gauge
	nodes         prometheus.Gauge
	samples       *prometheus.GaugeVec
	reports       *prometheus.GaugeVec
	queryDuration *prometheus.GaugeVec
	queryFailed   *prometheus.GaugeVec
}

func newSelfMetrics() *selfMetrics {
	m := &selfMetrics{
		reg: prometheus.NewRegistry(),
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "node_reporter_build_info",
			Help: "Build information of the node reporter.",
		}, []string{"version"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_reporter_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_reporter_last_run_success",
			Help: "1 if the last run completed without error.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_reporter_last_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_reporter_nodes",
			Help: "Nodes found in the last run.",
		}),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "node_reporter_samples",
			Help: "Samples seen in the last run by outcome.",
		}, []string{"outcome"}),
		reports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "node_reporter_reports",
			Help: "Report files handled in the last run by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "node_reporter_query_duration_seconds",
			Help: "Duration of the last query per metric family.",
		}, []string{"family"}),
		queryFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "node_reporter_query_failed",
			Help: "1 if the last query of the family failed.",
		}, []string{"family"}),
	}
	m.reg.MustRegister(m.info, m.lastRun, m.success, m.duration, m.nodes, m.samples, m.reports, m.queryDuration, m.queryFailed)
	return m
}

func (m *selfMetrics) update(version string, s *RunStats) {
	m.info.WithLabelValues(version).Set(1)

	start, end := s.startedAt.Load(), s.finishedAt.Load()
	if end > 0 {
		m.lastRun.Set(float64(end) / 1e9)
	}
	if start > 0 && end >= start {
		m.duration.Set(float64(end-start) / 1e9)
	}
	m.success.Set(boolGauge(s.success.Load()))
	m.nodes.Set(float64(s.nodes.Load()))

	skipped, excluded := s.skipped.Load(), s.excluded.Load()
	m.samples.WithLabelValues("folded").Set(float64(s.samples.Load() - skipped - excluded))
	m.samples.WithLabelValues("skipped").Set(float64(skipped))
	m.samples.WithLabelValues("excluded").Set(float64(excluded))
	m.reports.WithLabelValues("written").Set(float64(s.written.Load()))
	m.reports.WithLabelValues("failed").Set(float64(s.writeFailures.Load()))

	durations, failed := s.QueryDurations(), s.QueryFailures()
	for _, f := range model.Families {
		d, ok := durations[f]
		if !ok {
			continue
		}
		m.queryDuration.WithLabelValues(string(f)).Set(d.Seconds())
		m.queryFailed.WithLabelValues(string(f)).Set(boolGauge(failed[f]))
	}
}

func (m *selfMetrics) writeTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func boolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
