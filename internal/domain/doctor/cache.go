package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ehr/opd/internal/platform/cache"
	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/internal/platform/telemetry"
)

var cacheAttr = metric.WithAttributes(attribute.String("cache", "doctor"))

// CachedDirectory reads through a cache.Store in front of another Directory.
// Entries are keyed by facility since each facility has its own doctors.
// A cache failure falls back to the underlying directory.
type CachedDirectory struct {
	next    Directory
	store   cache.Store
	ttl     time.Duration
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

func NewCachedDirectory(next Directory, store cache.Store, ttl time.Duration, metrics *telemetry.Metrics, logger zerolog.Logger) *CachedDirectory {
	if metrics == nil {
		metrics = telemetry.MustNewMetrics(noop.NewMeterProvider())
	}
	return &CachedDirectory{next: next, store: store, ttl: ttl, metrics: metrics, logger: logger}
}

func (d *CachedDirectory) ListActive(ctx context.Context) ([]*Doctor, error) {
	key := d.key(ctx, "active")
	var cached []*Doctor
	if d.get(ctx, key, &cached) {
		return cached, nil
	}
	list, err := d.next.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	d.set(ctx, key, list)
	return list, nil
}

func (d *CachedDirectory) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	key := d.key(ctx, "id:"+id.String())
	var cached Doctor
	if d.get(ctx, key, &cached) {
		return &cached, nil
	}
	doc, err := d.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.set(ctx, key, doc)
	return doc, nil
}

// Invalidate drops the facility's cached list and the given doctors.
func (d *CachedDirectory) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	keys := []string{d.key(ctx, "active")}
	for _, id := range ids {
		keys = append(keys, d.key(ctx, "id:"+id.String()))
	}
	return d.store.Delete(ctx, keys...)
}

func (d *CachedDirectory) key(ctx context.Context, suffix string) string {
	facility := db.FacilityFromContext(ctx)
	if facility == "" {
		facility = "default"
	}
	return "opd:" + facility + ":doctors:" + suffix
}

func (d *CachedDirectory) get(ctx context.Context, key string, dst interface{}) bool {
	raw, err := d.store.Get(ctx, key)
	if err == nil {
		if err = json.Unmarshal(raw, dst); err == nil {
			d.count(ctx, d.metrics.CacheHits)
			return true
		}
	}
	if !errors.Is(err, cache.ErrMiss) {
		d.logger.Warn().Err(err).Str("key", key).Msg("doctor cache read failed")
	}
	d.count(ctx, d.metrics.CacheMisses)
	return false
}

func (d *CachedDirectory) set(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err == nil {
		err = d.store.Set(ctx, key, raw, d.ttl)
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("doctor cache write failed")
	}
}

func (d *CachedDirectory) count(ctx context.Context, c metric.Int64Counter) {
	c.Add(ctx, 1, cacheAttr)
}
