// Package cache stores aggregation results under deterministic keys with a
// TTL and supports invalidation by dimension.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/training-stats/internal/metrics"
	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/store"
)

// DefaultTTL is the lifetime of a cached aggregation result.
const DefaultTTL = time.Hour

const keyPrefix = "stats:"

// Key builds the cache key stats:{dimension}:{year|all}:{mode}:{filter|all}.
func Key(dim model.Dimension, year int, mode model.RevenueMode, filterName string) string {
	y := "all"
	if year != 0 {
		y = fmt.Sprintf("%d", year)
	}
	if mode == "" {
		mode = model.RevenueCurrent
	}
	if filterName == "" {
		filterName = "all"
	}
	return fmt.Sprintf("%s%s:%s:%s:%s", keyPrefix, dim, y, mode, filterName)
}

// SubKey extends key with one more segment, for a second result type cached
// under the same query. Filter names are escaped and never contain ':', so a
// sub key cannot equal a plain key.
func SubKey(key, segment string) string {
	return key + ":" + segment
}

// DimensionPrefix is the key prefix shared by every entry of one dimension.
func DimensionPrefix(dim model.Dimension) string {
	return keyPrefix + string(dim) + ":"
}

// dimensionOf extracts the dimension segment of a key for metric labels.
func dimensionOf(key string) string {
	parts := strings.SplitN(strings.TrimPrefix(key, keyPrefix), ":", 2)
	return parts[0]
}

// Backend is the storage behind the facade. Set must replace any prior value
// for the key in full.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type entry struct {
	data    []byte
	expires time.Time
}

// MemoryBackend is an in-process Backend. Values are copied on the way in and
// out so callers never share buffers with the cache.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]entry), now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return nil, false, nil
	}
	return append([]byte(nil), e.data...), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{data: append([]byte(nil), value...), expires: m.now().Add(ttl)}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StoreBackend keeps entries in the persistent store's stats cache table so
// they survive restarts and are shared between processes.
type StoreBackend struct {
	st store.Store
}

// NewStoreBackend wraps st.
func NewStoreBackend(st store.Store) *StoreBackend {
	return &StoreBackend{st: st}
}

func (b *StoreBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.st.GetCachedStats(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return data, data != nil, nil
}

func (b *StoreBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.st.SetCachedStats(ctx, key, value, ttl)
}

func (b *StoreBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return b.st.DeleteCachedStats(ctx, prefix)
}

// Facade is the cache entry point used by the stats service.
type Facade struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	flight  singleflight.Group
}

// New creates a Facade. A non-positive ttl selects DefaultTTL; m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *Facade {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Facade{backend: backend, ttl: ttl, metrics: m}
}

// TTL returns the entry lifetime.
func (f *Facade) TTL() time.Duration { return f.ttl }

// GetOrCompute returns the cached value for key, or runs compute, stores its
// JSON encoding and returns it. The entry is written only after compute
// succeeds, so readers never observe a partial result. Concurrent misses for
// the same key share one compute call. Backend failures are logged and the
// value is served uncached.
func GetOrCompute[T any](ctx context.Context, f *Facade, key string, compute func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	dim := dimensionOf(key)

	if data, ok, err := f.backend.Get(ctx, key); err != nil {
		f.backendError("get", key, err)
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			f.hit(dim)
			return v, true, nil
		}
		zap.L().Warn("cache: discarding undecodable entry", zap.String("key", key))
	}
	f.miss(dim)

	res, err, _ := f.flight.Do(key, func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(err, "cache: encode %s", key)
		}
		if err := f.backend.Set(ctx, key, data, f.ttl); err != nil {
			f.backendError("set", key, err)
		}
		return v, nil
	})
	if err != nil {
		return zero, false, err
	}
	v, _ := res.(T)
	return v, false, nil
}

// InvalidateDimension drops every entry of one dimension.
func (f *Facade) InvalidateDimension(ctx context.Context, dim model.Dimension) (int, error) {
	n, err := f.backend.DeletePrefix(ctx, DimensionPrefix(dim))
	if err != nil {
		return 0, eris.Wrapf(err, "cache: invalidate %s", dim)
	}
	return n, nil
}

// InvalidateAll drops every aggregation entry. Called after each ingest.
func (f *Facade) InvalidateAll(ctx context.Context) (int, error) {
	n, err := f.backend.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return 0, eris.Wrap(err, "cache: invalidate all")
	}
	zap.L().Info("cache: invalidated", zap.Int("entries", n))
	return n, nil
}

func (f *Facade) hit(dim string) {
	if f.metrics != nil {
		f.metrics.CacheHits.WithLabelValues(dim).Inc()
	}
}

func (f *Facade) miss(dim string) {
	if f.metrics != nil {
		f.metrics.CacheMisses.WithLabelValues(dim).Inc()
	}
}

func (f *Facade) backendError(op, key string, err error) {
	zap.L().Warn("cache: backend error", zap.String("op", op), zap.String("key", key), zap.Error(err))
	if f.metrics != nil {
		f.metrics.CacheErrors.Inc()
	}
}
