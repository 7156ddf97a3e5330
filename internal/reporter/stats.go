package reporter

import (
	"sync"
	"sync/atomic"
	"time"

	"node-reporter/internal/aggregate"
	"node-reporter/internal/model"
)

// RunStats records what happened during one run. Counters are safe for
// concurrent use since queries may run in parallel.
type RunStats struct {
	prometheusReachable atomic.Bool
	sinkPublished       atomic.Bool
	success             atomic.Bool
	startedAt           atomic.Int64
	finishedAt          atomic.Int64
	nodes               atomic.Int64
	samples             atomic.Int64
	skipped             atomic.Int64
	excluded            atomic.Int64
	written             atomic.Int64
	writeFailures       atomic.Int64

	mu            sync.Mutex
	queryDuration map[model.Family]time.Duration
	queryFailed   map[model.Family]bool
}

func NewRunStats() *RunStats {
	return &RunStats{
		queryDuration: make(map[model.Family]time.Duration),
		queryFailed:   make(map[model.Family]bool),
	}
}

func (s *RunStats) MarkStart(ts time.Time) {
	s.startedAt.Store(ts.UnixNano())
}

func (s *RunStats) MarkFinish(ts time.Time, ok bool) {
	s.finishedAt.Store(ts.UnixNano())
	s.success.Store(ok)
}

func (s *RunStats) SetPrometheusReachable(ok bool) {
	s.prometheusReachable.Store(ok)
}

func (s *RunStats) SetSinkPublished(ok bool) {
	s.sinkPublished.Store(ok)
}

func (s *RunStats) ObserveQuery(family model.Family, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryDuration[family] = d
	s.queryFailed[family] = err != nil
}

func (s *RunStats) ObserveAggregate(nodes int, st aggregate.Stats) {
	s.nodes.Store(int64(nodes))
	s.samples.Store(int64(st.Samples))
	s.skipped.Store(int64(st.Skipped))
	s.excluded.Store(int64(st.Excluded))
}

func (s *RunStats) ObserveWrites(written, failed int) {
	s.written.Store(int64(written))
	s.writeFailures.Store(int64(failed))
}

// QueryDurations returns a copy of the last observed duration per family.
func (s *RunStats) QueryDurations() map[model.Family]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Family]time.Duration, len(s.queryDuration))
	for f, d := range s.queryDuration {
		out[f] = d
	}
	return out
}

// QueryFailures reports per family whether its last query failed.
func (s *RunStats) QueryFailures() map[model.Family]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Family]bool, len(s.queryFailed))
	for f, failed := range s.queryFailed {
		out[f] = failed
	}
	return out
}

func (s *RunStats) Snapshot() map[string]any {
	out := map[string]any{
		"prometheus_reachable": s.prometheusReachable.Load(),
		"sink_published":       s.sinkPublished.Load(),
		"success":              s.success.Load(),
		"nodes":                s.nodes.Load(),
		"samples":              s.samples.Load(),
		"samples_skipped":      s.skipped.Load(),
		"samples_excluded":     s.excluded.Load(),
		"reports_written":      s.written.Load(),
		"report_failures":      s.writeFailures.Load(),
	}
	start, end := s.startedAt.Load(), s.finishedAt.Load()
	if start > 0 && end >= start {
		out["duration"] = time.Duration(end - start)
	}
	return out
}
