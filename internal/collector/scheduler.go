package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"node-reporter/internal/model"
)

// Querier runs a single instant query for one metric family.
type Querier interface {
	Query(ctx context.Context, family model.Family, expr string, at time.Time) ([]model.Sample, error)
}

// Scheduler collects every metric family as one snapshot evaluated at a
// single timestamp. The first failing family cancels the rest.
type Scheduler struct {
	logger      *slog.Logger
	querier     Querier
	queries     map[model.Family]string
	concurrency int
	now         func() time.Time
}

func NewScheduler(logger *slog.Logger, querier Querier, queries map[model.Family]string, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		logger:      logger,
		querier:     querier,
		queries:     queries,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (s *Scheduler) Collect(ctx context.Context) (model.Snapshot, error) {
	for _, f := range model.Families {
		if s.queries[f] == "" {
			return nil, fmt.Errorf("no query configured for family %s", f)
		}
	}

	at := s.now().UTC()
	results := make([][]model.Sample, len(model.Families))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, family := range model.Families {
		i, family := i, family
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			started := time.Now()
			samples, err := s.querier.Query(gctx, family, s.queries[family], at)
			if err != nil {
				s.logger.Error("metric family query failed", "family", family, "error", err)
				return err
			}
			s.logger.Debug("metric family collected", "family", family, "samples", len(samples), "took", time.Since(started))
			results[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := make(model.Snapshot, len(model.Families))
	for i, family := range model.Families {
		snap[family] = results[i]
	}
	return snap, nil
}
