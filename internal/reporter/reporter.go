// Package reporter wires one reporting run: query, aggregate, render, write,
// then the optional summary, sink and self-metrics.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"node-reporter/internal/aggregate"
	"node-reporter/internal/collector"
	"node-reporter/internal/config"
	"node-reporter/internal/model"
	"node-reporter/internal/prom"
	"node-reporter/internal/report"
	"node-reporter/internal/stream"
)

type Reporter struct {
	cfg       config.Config
	logger    *slog.Logger
	scheduler *collector.Scheduler
	writer    *report.Writer
	sink      stream.Sink
	stats     *RunStats
	metrics   *selfMetrics
	out       io.Writer
}

func New(cfg config.Config, logger *slog.Logger) (*Reporter, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	client, err := prom.NewClient(prom.Options{
		URL:     cfg.PrometheusURL,
		Timeout: cfg.QueryTimeout,
		Token:   cfg.PrometheusToken,
		TLS:     tlsCfg,
	}, logger)
	if err != nil {
		return nil, err
	}
	sink, err := stream.NewSinkFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("report sink: %w", err)
	}

	stats := NewRunStats()
	querier := &timedQuerier{querier: client, stats: stats}
	return &Reporter{
		cfg:       cfg,
		logger:    logger,
		scheduler: collector.NewScheduler(logger, querier, cfg.Queries, cfg.QueryConcurrency),
		writer:    report.NewWriter(cfg.ReportsDir, logger),
		sink:      sink,
		stats:     stats,
		metrics:   newSelfMetrics(),
		out:       os.Stdout,
	}, nil
}

// Run performs a single reporting run. SIGINT and SIGTERM cancel it.
func (r *Reporter) Run(ctx context.Context) error {
	r.logger.Info("starting node reporter", "version", r.cfg.Version, "prometheus_url", r.cfg.PrometheusURL, "reports_dir", r.cfg.ReportsDir)
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.stats.MarkStart(time.Now())
	runErr := r.run(runCtx)
	r.stats.MarkFinish(time.Now(), runErr == nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.SinkTimeout)
	defer cancel()
	r.shutdown(shutdownCtx)

	if runErr != nil {
		r.logger.Error("node reporter run failed", "error", runErr, "stats", r.stats.Snapshot())
		return runErr
	}
	r.logger.Info("node reporter finished", "stats", r.stats.Snapshot())
	return nil
}

func (r *Reporter) run(ctx context.Context) error {
	snap, err := r.scheduler.Collect(ctx)
	if err != nil {
		r.stats.SetPrometheusReachable(!errors.Is(err, model.ErrConnection))
		return fmt.Errorf("collect metrics: %w", err)
	}
	r.stats.SetPrometheusReachable(true)

	records, st := aggregate.Aggregate(snap, aggregate.Options{
		InstanceLabel:   r.cfg.InstanceLabel,
		NameLabel:       r.cfg.NameLabel,
		MountpointLabel: r.cfg.MountpointLabel,
		FSTypeLabel:     r.cfg.FSTypeLabel,
		FSTypeDenylist:  r.cfg.FSTypeDenylist,
	}, r.logger)
	r.stats.ObserveAggregate(len(records), st)
	if len(records) == 0 {
		r.logger.Warn("no nodes found in query results")
	}
	if st.Skipped > 0 {
		r.logger.Warn("samples skipped during aggregation", "skipped", st.Skipped, "samples", st.Samples)
	}

	reports, writeErr := r.writer.WriteAll(records)
	r.stats.ObserveWrites(len(reports), len(records)-len(reports))

	if r.cfg.Summary && len(reports) > 0 {
		th := report.Thresholds{CPUFree: r.cfg.CPUFreeThreshold, MemFree: r.cfg.MemFreeThreshold, DiskFree: r.cfg.DiskFreeThreshold}
		written := make([]model.NodeRecord, 0, len(reports))
		for _, rep := range reports {
			written = append(written, rep.Record)
		}
		if err := report.WriteSummary(r.out, written, th); err != nil {
			r.logger.Warn("summary output failed", "error", err)
		}
	}

	pubErr := r.sink.Publish(ctx, reports)
	r.stats.SetSinkPublished(pubErr == nil && len(reports) > 0)
	if pubErr != nil {
		r.logger.Error("report publish failed", "error", pubErr)
	}
	return errors.Join(writeErr, pubErr)
}

func (r *Reporter) shutdown(ctx context.Context) {
	if err := r.sink.Close(ctx); err != nil {
		r.logger.Warn("report sink close failed", "error", err)
	}
	if r.cfg.MetricsTextfile == "" {
		return
	}
	r.metrics.update(r.cfg.Version, r.stats)
	if err := r.metrics.writeTextfile(r.cfg.MetricsTextfile); err != nil {
		r.logger.Warn("self metrics not written", "error", err)
		return
	}
	r.logger.Debug("self metrics written", "path", r.cfg.MetricsTextfile)
}

// Stats exposes the counters of the last run.
func (r *Reporter) Stats() *RunStats {
	return r.stats
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	// stdout carries the summary, logs go to stderr.
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hOpts))
}

type timedQuerier struct {
	querier collector.Querier
	stats   *RunStats
}

func (q *timedQuerier) Query(ctx context.Context, family model.Family, expr string, at time.Time) ([]model.Sample, error) {
	start := time.Now()
	samples, err := q.querier.Query(ctx, family, expr, at)
	q.stats.ObserveQuery(family, time.Since(start), err)
	return samples, err
}
