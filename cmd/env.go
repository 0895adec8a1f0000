package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/training-stats/internal/cache"
	"github.com/sells-group/training-stats/internal/config"
	"github.com/sells-group/training-stats/internal/estimate"
	"github.com/sells-group/training-stats/internal/ingest"
	"github.com/sells-group/training-stats/internal/institution"
	"github.com/sells-group/training-stats/internal/metrics"
	"github.com/sells-group/training-stats/internal/normalize"
	"github.com/sells-group/training-stats/internal/pipeline"
	"github.com/sells-group/training-stats/internal/stats"
	"github.com/sells-group/training-stats/internal/store"
)

// statsEnv holds everything the commands need to build and query datasets.
type statsEnv struct {
	Store         store.Store // nil when working from a file only
	Service       *stats.Service
	Canonicalizer *institution.Canonicalizer
	Metrics       *metrics.Metrics
	Registry      *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *statsEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store. Callers must Close it.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "training-stats.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// buildPipeline assembles the pipeline stages from configuration.
func buildPipeline(c *config.Config, m *metrics.Metrics) (*pipeline.Pipeline, *institution.Canonicalizer, error) {
	fallback, err := normalize.ParseDateFallback(c.Normalize.DateFallback)
	if err != nil {
		return nil, nil, err
	}

	canon := institution.Default()
	if c.Institution.AliasesFile != "" {
		aliases, err := institution.LoadAliases(c.Institution.AliasesFile)
		if err != nil {
			return nil, nil, err
		}
		canon = institution.New(aliases)
		zap.L().Info("institution aliases loaded",
			zap.String("file", c.Institution.AliasesFile),
			zap.Int("groups", len(aliases)),
		)
	}

	yearly, err := estimate.ParseYearlyMode(c.Revenue.YearlyMode)
	if err != nil {
		return nil, nil, err
	}
	adj := estimate.NewAdjuster()
	adj.Curve = estimate.Curve{Base: c.Revenue.CurveBase, Steepness: c.Revenue.CurveSteepness}
	if err := adj.Curve.Validate(); err != nil {
		return nil, nil, err
	}
	adj.YearlyMode = yearly
	adj.CourseRates = c.Revenue.CourseRateMap()

	p := pipeline.New(normalize.New(fallback), canon, adj)
	p.UseInstitutionRate = c.Revenue.UseInstitutionRate
	p.Metrics = m
	return p, canon, nil
}

// initEnv builds the stats service. With withStore the configured store is
// opened and migrated; otherwise datasets live only in memory.
func initEnv(ctx context.Context, c *config.Config, mode string, withStore bool) (*statsEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	p, canon, err := buildPipeline(c, m)
	if err != nil {
		return nil, err
	}

	env := &statsEnv{Canonicalizer: canon, Metrics: m, Registry: reg}
	if withStore {
		st, err := initStore(ctx, c)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	}

	var backend cache.Backend = cache.NewMemoryBackend()
	if c.Cache.Backend == "store" {
		if env.Store != nil {
			backend = cache.NewStoreBackend(env.Store)
		} else {
			zap.L().Debug("store cache backend needs a store, using memory")
		}
	}

	env.Service = stats.New(p, env.Store, cache.New(backend, c.Cache.TTL(), m), m)
	return env, nil
}

// readTable loads a CSV or xlsx file. sheet selects the worksheet of an xlsx
// file and defaults to the first one.
func readTable(path, sheet string) (*ingest.Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ingest.ReadXLSX(path, sheet)
	}
	return ingest.ReadFile(path)
}

// loadDataset fills env's service either from file (parsed in memory) or from
// the latest stored ingest.
func loadDataset(ctx context.Context, env *statsEnv, file, sheet string) error {
	if file != "" {
		table, err := readTable(file, sheet)
		if err != nil {
			return err
		}
		_, err = env.Service.Ingest(ctx, filepath.Base(file), table)
		return err
	}
	loaded, err := env.Service.Reload(ctx)
	if err != nil {
		return err
	}
	if !loaded {
		return eris.New("no ingest found; run `training-stats ingest --file <path>` first or pass --file")
	}
	return nil
}
