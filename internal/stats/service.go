// Package stats serves aggregation queries over the active dataset and
// manages dataset replacement on ingest.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/training-stats/internal/aggregate"
	"github.com/sells-group/training-stats/internal/cache"
	"github.com/sells-group/training-stats/internal/estimate"
	"github.com/sells-group/training-stats/internal/ingest"
	"github.com/sells-group/training-stats/internal/metrics"
	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/monitoring"
	"github.com/sells-group/training-stats/internal/pipeline"
	"github.com/sells-group/training-stats/internal/store"
)

// ErrNoDataset is returned by queries issued before any data was loaded.
var ErrNoDataset = eris.New("stats: no dataset loaded")

// Service owns the active dataset. Queries read an immutable snapshot;
// ingest builds a new one and swaps it in.
type Service struct {
	pipeline *pipeline.Pipeline
	store    store.Store // nil for file-only use
	cache    *cache.Facade
	metrics  *metrics.Metrics

	dataset atomic.Pointer[pipeline.Dataset]
	source  atomic.Pointer[string]

	// swap is held for writing while the dataset is replaced and the cache
	// invalidated, and for reading while a query computes, so no result built
	// from a replaced dataset is written after the invalidation.
	swap sync.RWMutex
	// ingestMu serializes ingests.
	ingestMu sync.Mutex
}

// New creates a Service. st and m may be nil.
func New(p *pipeline.Pipeline, st store.Store, c *cache.Facade, m *metrics.Metrics) *Service {
	return &Service{pipeline: p, store: st, cache: c, metrics: m}
}

// Dataset returns the active dataset, or nil.
func (s *Service) Dataset() *pipeline.Dataset {
	return s.dataset.Load()
}

// Source names where the active dataset came from.
func (s *Service) Source() string {
	if p := s.source.Load(); p != nil {
		return *p
	}
	return ""
}

// IngestResult describes a completed ingest.
type IngestResult struct {
	IngestID    string                 `json:"ingest_id,omitempty"`
	Source      string                 `json:"source"`
	Rows        int                    `json:"rows"`
	Records     int                    `json:"records"`
	Warnings    pipeline.WarningReport `json:"warnings"`
	AdjustStats estimate.AdjustStats   `json:"adjust_stats"`
	Invalidated int                    `json:"invalidated"`
	Elapsed     time.Duration          `json:"elapsed_ns"`
}

// Ingest persists table (when a store is configured), rebuilds the dataset
// from it and invalidates every cached aggregation.
func (s *Service) Ingest(ctx context.Context, source string, table *ingest.Table) (*IngestResult, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	start := time.Now()

	res := &IngestResult{Source: source, Rows: len(table.Rows)}
	if s.store != nil {
		in, err := s.store.CreateIngest(ctx, source, table.Header, table.RawRows())
		if err != nil {
			return nil, eris.Wrap(err, "stats: persist ingest")
		}
		res.IngestID = in.ID
	}
	if s.metrics != nil {
		s.metrics.IngestRows.Add(float64(len(table.Rows)))
	}

	ds := s.pipeline.Run(table.Rows)
	n, err := s.activate(ctx, source, ds)
	if err != nil {
		return nil, err
	}

	res.Records = len(ds.Records)
	res.Warnings = ds.Warnings
	res.AdjustStats = ds.AdjustStats
	res.Invalidated = n
	res.Elapsed = time.Since(start)

	zap.L().Info("stats: ingest complete",
		zap.String("source", source),
		zap.String("ingest_id", res.IngestID),
		zap.Int("rows", res.Rows),
		zap.Int("malformed_rows", ds.Warnings.MalformedRows),
		zap.Int("cache_invalidated", n),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// Reload rebuilds the dataset from the most recent stored ingest. It reports
// false when the store holds no ingest yet.
func (s *Service) Reload(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, eris.New("stats: reload requires a store")
	}
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	latest, err := s.store.LatestIngest(ctx)
	if err != nil {
		return false, eris.Wrap(err, "stats: latest ingest")
	}
	if latest == nil {
		zap.L().Info("stats: no stored ingest to load")
		return false, nil
	}
	rows, err := s.store.LoadRows(ctx, latest.ID)
	if err != nil {
		return false, eris.Wrap(err, "stats: load rows")
	}

	table := ingest.FromRawRows(latest.Header, rows)
	if _, err := s.activate(ctx, latest.Source, s.pipeline.Run(table.Rows)); err != nil {
		return false, err
	}
	zap.L().Info("stats: dataset reloaded",
		zap.String("ingest_id", latest.ID),
		zap.String("source", latest.Source),
		zap.Int("rows", len(rows)),
	)
	return true, nil
}

func (s *Service) activate(ctx context.Context, source string, ds *pipeline.Dataset) (int, error) {
	s.swap.Lock()
	defer s.swap.Unlock()

	s.dataset.Store(ds)
	s.source.Store(&source)
	if s.cache == nil {
		return 0, nil
	}
	n, err := s.cache.InvalidateAll(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "stats: invalidate cache")
	}
	return n, nil
}

func (s *Service) current() (*pipeline.Dataset, error) {
	ds := s.dataset.Load()
	if ds == nil {
		return nil, ErrNoDataset
	}
	return ds, nil
}

// Groups aggregates the active dataset along one dimension. The bool reports
// a cache hit.
func (s *Service) Groups(ctx context.Context, dim model.Dimension, f aggregate.Filter) ([]model.AggregatedGroup, bool, error) {
	if err := f.Validate(); err != nil {
		return nil, false, err
	}
	s.swap.RLock()
	defer s.swap.RUnlock()

	ds, err := s.current()
	if err != nil {
		return nil, false, err
	}
	compute := func(context.Context) ([]model.AggregatedGroup, error) {
		return aggregate.Group(dim, ds.Adjusted, f)
	}
	if s.cache == nil {
		groups, err := compute(ctx)
		return groups, false, err
	}
	return cache.GetOrCompute(ctx, s.cache, cache.Key(dim, f.Year, f.Mode, f.Name()), compute)
}

// Overview is the dashboard payload: totals plus the leading groups of every
// dimension.
type Overview struct {
	Totals       aggregate.Totals                            `json:"totals"`
	Groups       map[model.Dimension][]model.AggregatedGroup `json:"groups"`
	YearlyTotals []aggregate.YearTotal                       `json:"yearly_totals"`
	Source       string                                      `json:"source"`
	BuiltAt      time.Time                                   `json:"built_at"`
}

// Overview computes every dimension in parallel. limit caps the groups kept
// per dimension; zero keeps all.
func (s *Service) Overview(ctx context.Context, f aggregate.Filter, limit int) (*Overview, error) {
	ds, err := s.current()
	if err != nil {
		return nil, err
	}

	dims := model.AllDimensions()
	results := make([][]model.AggregatedGroup, len(dims))
	g, gctx := errgroup.WithContext(ctx)
	for i, dim := range dims {
		g.Go(func() error {
			groups, _, err := s.Groups(gctx, dim, f)
			if err != nil {
				return eris.Wrapf(err, "stats: overview %s", dim)
			}
			if limit > 0 && len(groups) > limit {
				groups = groups[:limit]
			}
			results[i] = groups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Overview{
		Totals:       aggregate.Summary(ds.Adjusted, f),
		Groups:       make(map[model.Dimension][]model.AggregatedGroup, len(dims)),
		YearlyTotals: aggregate.YearlyRevenueTotals(ds.Adjusted, f.Mode),
		Source:       s.Source(),
		BuiltAt:      ds.BuiltAt,
	}
	for i, dim := range dims {
		out.Groups[dim] = results[i]
	}
	return out, nil
}

// InstitutionDetails lists canonical institutions with the raw names folded
// into each. Results share the institution dimension's cache entries.
func (s *Service) InstitutionDetails(ctx context.Context, f aggregate.Filter) ([]aggregate.InstitutionDetail, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.swap.RLock()
	defer s.swap.RUnlock()

	ds, err := s.current()
	if err != nil {
		return nil, err
	}
	compute := func(context.Context) ([]aggregate.InstitutionDetail, error) {
		return aggregate.InstitutionDetails(ds.Adjusted, f), nil
	}
	if s.cache == nil {
		return compute(ctx)
	}
	key := cache.SubKey(cache.Key(model.DimensionInstitution, f.Year, f.Mode, f.Name()), "details")
	details, _, err := cache.GetOrCompute(ctx, s.cache, key, compute)
	return details, err
}

// Health builds the data-quality report of the active dataset.
func (s *Service) Health() (*monitoring.HealthReport, error) {
	ds, err := s.current()
	if err != nil {
		return nil, err
	}
	return monitoring.BuildHealthReport(ds), nil
}

// InvalidateCache drops cached aggregations for one dimension, or all of
// them when dim is empty.
func (s *Service) InvalidateCache(ctx context.Context, dim model.Dimension) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	if dim == "" {
		return s.cache.InvalidateAll(ctx)
	}
	return s.cache.InvalidateDimension(ctx, dim)
}
