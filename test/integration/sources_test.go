// Package integration verifies the search service against real backing
// stores: indexes published to PostgreSQL, analytics snapshots and the
// Redis result cache. Tests skip when a store is unreachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

const fixture = "../../internal/searchindex/format/testdata/searchindex.js"

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "docsearch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "docsearch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func skipIfNoRedis(t *testing.T) (*pkgredis.Client, config.RedisConfig) {
	t.Helper()
	cfg := config.RedisConfig{
		Enabled:  true,
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		DB:       envOrDefaultInt("TEST_REDIS_DB", 15),
		PoolSize: 4,
		CacheTTL: time.Minute,
	}
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, cfg
}

func publish(t *testing.T, sink source.Sink, payload []byte, encoding string) {
	t.Helper()
	compressed, err := source.Compress(payload, encoding)
	require.NoError(t, err)
	require.NoError(t, sink.Publish(context.Background(), compressed))
}

func searchSite(t *testing.T, srv *httptest.Server, site, query string) executor.SearchResult {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/sites/" + site + "/search?q=" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res executor.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

// TestPostgresPublishedIndexIsServed publishes builds into a table, serves
// them and reloads when a newer build lands.
func TestPostgresPublishedIndexIsServed(t *testing.T) {
	db := skipIfNoPostgres(t)
	table := fmt.Sprintf("docsearch_it_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		db.DB.Exec("DROP TABLE IF EXISTS " + pq.QuoteIdentifier(table))
	})

	site := config.SiteConfig{Name: "torch-bsf", Source: config.SourceConfig{Kind: "postgres", Table: table}}
	factory := source.NewFactory(config.ObjectStoreConfig{}, db)
	sink, err := factory.SinkFor(site)
	require.NoError(t, err)

	payload, err := os.ReadFile(fixture)
	require.NoError(t, err)
	publish(t, sink, payload, "gzip")

	cat := catalog.New(factory, config.SearchConfig{MatchMode: "and"},
		catalog.WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	require.NoError(t, cat.Load(context.Background(), []config.SiteConfig{site}))

	mux := http.NewServeMux()
	handler.New(executor.New(cat), cat, 10, 100).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := searchSite(t, srv, "torch-bsf", "simplex")
	assert.Equal(t, 5, res.TotalHits)
	assert.Equal(t, "whatis", res.Results[0].Path)
	assert.Equal(t, uint64(1), res.Generation)

	publish(t, sink, []byte(`Search.setIndex({docnames:["index"],titles:["Welcome"],terms:{simplex:0}})`), "zstd")
	resp, err := http.Post(srv.URL+"/api/v1/sites/torch-bsf/reload", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res = searchSite(t, srv, "torch-bsf", "simplex")
	assert.Equal(t, 1, res.TotalHits)
	assert.Equal(t, uint64(2), res.Generation)

	for i := 0; i < 6; i++ {
		publish(t, sink, payload, "none")
	}
	var builds int
	require.NoError(t, db.DB.QueryRow("SELECT COUNT(*) FROM "+pq.QuoteIdentifier(table)+" WHERE site = $1", site.Name).Scan(&builds))
	assert.Equal(t, 5, builds, "old builds are pruned")
}

func TestAnalyticsSnapshotRoundTrip(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	snapshots := aggregator.NewStore(db.DB)
	require.NoError(t, snapshots.EnsureSchema(ctx))

	agg := analytics.NewAggregator()
	agg.Record(analytics.SearchEvent{Site: "torch-bsf", Query: "simplex", TotalHits: 5, LatencyMs: 3})
	agg.Record(analytics.SearchEvent{Site: "torch-bsf", Query: "hyperparameter", LatencyMs: 1})
	require.NoError(t, snapshots.SaveSnapshot(ctx, agg.Stats()))

	latest, err := snapshots.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(2), latest.TotalSearches)
	assert.Equal(t, int64(1), latest.ZeroResultCount)
	require.Len(t, latest.ZeroResultQueries, 1)
	assert.Equal(t, "hyperparameter", latest.ZeroResultQueries[0].Query)
}

func TestRedisResultCache(t *testing.T) {
	client, cfg := skipIfNoRedis(t)
	ctx := context.Background()
	c := cache.New(client, cfg)
	require.NoError(t, c.Invalidate(ctx))

	key := cache.Key("torch-bsf@1", parser.Parse("bezier simplex"), 10)
	calls := 0
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls++
		return &executor.SearchResult{Query: "bezier simplex", Mode: "AND", TotalHits: 2, Results: []executor.Hit{{ID: 3}, {ID: 4}}}, nil
	}

	first, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	second, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	require.NoError(t, c.Invalidate(ctx))
	_, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
