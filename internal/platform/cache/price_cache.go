// Package cache provides a Redis read-through cache for catalogue and service prices.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/medicore-clinic/billing/internal/repositories"
)

const keyPrefix = "billing:price:"

// kv is the subset of redis.UniversalClient used by the cache.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// LookupRecorder observes cache results: hit, miss or error.
type LookupRecorder interface {
	RecordCacheLookup(result string)
}

// PriceCache memoises price lookups in Redis. Concurrent misses for the same key share one load.
// Redis failures degrade to the loader; they are logged, never returned.
type PriceCache struct {
	client   kv
	ttl      time.Duration
	group    singleflight.Group
	logger   *zap.Logger
	recorder LookupRecorder
}

// Option customises PriceCache.
type Option func(*PriceCache)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *PriceCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder reports lookup results.
func WithRecorder(recorder LookupRecorder) Option {
	return func(c *PriceCache) { c.recorder = recorder }
}

// NewPriceCache constructs a PriceCache. A non-positive ttl disables caching.
func NewPriceCache(client redis.UniversalClient, ttl time.Duration, opts ...Option) *PriceCache {
	return newPriceCache(client, ttl, opts...)
}

func newPriceCache(client kv, ttl time.Duration, opts ...Option) *PriceCache {
	c := &PriceCache{client: client, ttl: ttl, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Lookup returns the cached price for kind/id or loads, stores and returns it.
func (c *PriceCache) Lookup(ctx context.Context, kind, id string, load func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return load(ctx)
	}
	key := keyPrefix + kind + ":" + id

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if price, perr := decimal.NewFromString(raw); perr == nil {
			c.record("hit")
			return price, nil
		}
		c.logger.Warn("price cache: discarding malformed entry", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.record("error")
		c.logger.Warn("price cache: get failed", zap.String("key", key), zap.Error(err))
	}
	c.record("miss")

	v, err, _ := c.group.Do(key, func() (any, error) {
		price, err := load(ctx)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if err := c.client.Set(ctx, key, price.String(), c.ttl).Err(); err != nil {
			c.logger.Warn("price cache: set failed", zap.String("key", key), zap.Error(err))
		}
		return price, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.(decimal.Decimal), nil
}

func (c *PriceCache) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(result)
	}
}

// CachedProducts decorates a ProductRepository so GetPriceByID reads through the cache.
type CachedProducts struct {
	repositories.ProductRepository
	cache *PriceCache
}

// NewCachedProducts wraps repo.
func NewCachedProducts(repo repositories.ProductRepository, cache *PriceCache) *CachedProducts {
	return &CachedProducts{ProductRepository: repo, cache: cache}
}

// GetPriceByID implements repositories.ProductRepository.
func (p *CachedProducts) GetPriceByID(ctx context.Context, productID string) (decimal.Decimal, error) {
	return p.cache.Lookup(ctx, "product", productID, func(ctx context.Context) (decimal.Decimal, error) {
		return p.ProductRepository.GetPriceByID(ctx, productID)
	})
}

// CachedAppointments decorates an AppointmentRepository so GetServicePrice reads through the cache.
type CachedAppointments struct {
	repositories.AppointmentRepository
	cache *PriceCache
}

// NewCachedAppointments wraps repo.
func NewCachedAppointments(repo repositories.AppointmentRepository, cache *PriceCache) *CachedAppointments {
	return &CachedAppointments{AppointmentRepository: repo, cache: cache}
}

// GetServicePrice implements repositories.AppointmentRepository.
func (a *CachedAppointments) GetServicePrice(ctx context.Context, appointmentID string) (decimal.Decimal, error) {
	return a.cache.Lookup(ctx, "appointment", appointmentID, func(ctx context.Context) (decimal.Decimal, error) {
		return a.AppointmentRepository.GetServicePrice(ctx, appointmentID)
	})
}
