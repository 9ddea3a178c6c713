package annotator

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nasher721/Extract721/pkg/metrics"
	pkgredis "github.com/nasher721/Extract721/pkg/redis"
)

const keyPrefix = "extract:"

// KV is the subset of pkg/redis.Client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Cache stores ExtractResponses in Redis keyed by a hash of the request.
// Concurrent misses for the same key share one pipeline run.
type Cache struct {
	kv      KV
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCache creates a Cache over kv. m may be nil.
func NewCache(kv KV, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		kv:      kv,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

func (c *Cache) get(ctx context.Context, key string) (*ExtractResponse, bool) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var resp ExtractResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}

func (c *Cache) set(ctx context.Context, key string, resp *ExtractResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for key or runs compute and
// caches its result. The boolean reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func() (*ExtractResponse, error)) (*ExtractResponse, bool, error) {
	if resp, ok := c.get(ctx, key); ok {
		c.recordHit()
		return resp, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if resp, ok := c.get(ctx, key); ok {
			return resp, nil
		}
		resp, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, resp)
		return resp, nil
	})
	c.recordMiss()
	if err != nil {
		return nil, false, err
	}
	return val.(*ExtractResponse), false, nil
}

// Stats returns the hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// CacheKey hashes every field of req that affects the result. The API key
// is excluded.
func CacheKey(req ExtractRequest, provider, model string, opts Options) string {
	keyed := req
	keyed.APIKey = ""
	keyed.Provider = provider
	keyed.ModelID = model
	raw, _ := json.Marshal(struct {
		Req     ExtractRequest
		Chunk   any
		Window  int
		Aligner any
		Temp    float64
	}{keyed, opts.Chunk, opts.ContextWindowChars, opts.Aligner, opts.Temperature})
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
