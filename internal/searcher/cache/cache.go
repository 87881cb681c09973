// Package cache keeps ranked search results in Redis. Keys are derived from
// the index generations a query read and its normalized plan, so a reload
// makes older entries unreachable without an explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
)

const keyPrefix = "docsearch:"

// Backend is the key-value store behind the cache. *pkgredis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
	breaker *resilience.Breaker
	hits    atomic.Int64
	misses  atomic.Int64
}

type Option func(*QueryCache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *QueryCache) { c.metrics = m }
}

// WithBreaker guards backend calls. While the breaker is open lookups are
// misses and writes are skipped, so searches never wait on a dead Redis.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *QueryCache) { c.breaker = b }
}

func New(backend Backend, cfg config.RedisConfig, opts ...Option) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     cfg.CacheTTL,
		logger:  slog.Default().With("component", "query-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *QueryCache) Get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	var data string
	err := c.guard(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		return err
	})
	if err != nil {
		if !pkgredis.IsNilError(err) && !errors.Is(err, resilience.ErrBreakerOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) Set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.guard(func() error { return c.backend.Set(ctx, key, data, c.ttl) })
	if err != nil && !errors.Is(err, resilience.ErrBreakerOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *QueryCache) guard(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Do(fn, pkgredis.IsNilError)
}

// GetOrCompute returns the cached result for key, or runs computeFn once
// per key across concurrent callers and caches its result. The boolean
// reports whether the result came from the cache. Errors and partial
// results (sites skipped) are not cached.
//
// computeFn runs under a context that keeps ctx's deadline and values but
// not its cancellation: callers waiting on the same key must not lose their
// result because the first caller went away.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	computeFn func(context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := detach(ctx)
		defer cancel()
		result, err := computeFn(shared)
		if err != nil {
			return nil, err
		}
		if len(result.Skipped) == 0 {
			c.Set(shared, key, result)
		}
		return result, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*executor.SearchResult), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key for plan run with limit against scope, the
// site generations the query reads (see executor.SiteScope).
func Key(scope string, plan *parser.QueryPlan, limit int) string {
	raw := fmt.Sprintf("%s|%s|limit=%d", scope, normalizePlan(plan), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizePlan renders a plan so that queries differing only in word
// order, case or inflection share a key.
func normalizePlan(plan *parser.QueryPlan) string {
	terms := plan.IncludeTerms()
	excludes := make([]string, 0, len(plan.ExcludeTerms))
	for _, t := range plan.ExcludeTerms {
		excludes = append(excludes, t.Term)
	}
	sort.Strings(terms)
	sort.Strings(excludes)
	parts := []string{plan.Type.String(), strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}
