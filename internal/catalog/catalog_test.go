package catalog

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

const (
	v1 = `Search.setIndex({docnames:["index","whatis"],titles:["Welcome","What is it?"],terms:{simplex:[0,1],bezier:1}})`
	v2 = `Search.setIndex({docnames:["index","whatis","faq"],titles:["Welcome","What is it?","FAQ"],terms:{simplex:[0,1,2],bezier:[1,2]}})`
)

var fastRetry = resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

// fakeSources serves a mutable payload per site.
type fakeSources struct {
	mu       sync.Mutex
	payloads map[string]string
	errs     map[string]error
}

func (f *fakeSources) set(site, payload string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[site] = payload
	f.errs[site] = err
}

func (f *fakeSources) For(site config.SiteConfig) (source.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return staticSource{name: site.Name, data: f.payloads[site.Name], err: f.errs[site.Name]}, nil
}

type staticSource struct {
	name string
	data string
	err  error
}

func (s staticSource) Fetch(context.Context) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.data)), nil
}

func (s staticSource) String() string { return "static://" + s.name }

func newFake() *fakeSources {
	return &fakeSources{payloads: map[string]string{}, errs: map[string]error{}}
}

func sites(names ...string) []config.SiteConfig {
	out := make([]config.SiteConfig, 0, len(names))
	for _, n := range names {
		out = append(out, config.SiteConfig{Name: n, Source: config.SourceConfig{Kind: "file", Path: n}})
	}
	return out
}

func TestLoadPublishesEverySite(t *testing.T) {
	fake := newFake()
	fake.set("alpha", v1, nil)
	fake.set("beta", v2, nil)
	c := New(fake, config.SearchConfig{MatchMode: "and"}, WithRetry(fastRetry))

	require.NoError(t, c.Load(context.Background(), sites("beta", "alpha")))
	assert.Equal(t, []string{"alpha", "beta"}, c.Names())

	alpha, err := c.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, alpha.Store.Len())
	assert.Equal(t, uint64(1), alpha.Generation)
	assert.Equal(t, "static://alpha", alpha.Source)

	beta, err := c.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, 3, beta.Store.Len())

	loaded, total := c.Ready()
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, total)
}

func TestGetUnknownSite(t *testing.T) {
	c := New(newFake(), config.SearchConfig{})
	_, err := c.Get("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, err, ErrUnknownSite)
	_, err = c.Reload(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReloadSwapsAndKeepsOldOnFailure(t *testing.T) {
	fake := newFake()
	fake.set("docs", v1, nil)
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	c := New(fake, config.SearchConfig{}, WithRetry(fastRetry), WithMetrics(m))
	require.NoError(t, c.Load(context.Background(), sites("docs")))

	before, err := c.Get("docs")
	require.NoError(t, err)

	fake.set("docs", v2, nil)
	after, err := c.Reload(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), after.Generation)
	assert.Equal(t, 3, after.Store.Len())
	assert.Equal(t, 2, before.Store.Len(), "readers holding the old entry keep a consistent view")

	fake.set("docs", `Search.setIndex({docnames:["a"],titles:[]})`, nil)
	_, err = c.Reload(context.Background(), "docs")
	assert.ErrorIs(t, err, apperrors.ErrFormat)

	fake.set("docs", "", errors.New("connection refused"))
	_, err = c.Reload(context.Background(), "docs")
	assert.Error(t, err)

	current, err := c.Get("docs")
	require.NoError(t, err)
	assert.Same(t, after, current)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexReloadsTotal.WithLabelValues("docs", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexReloadsTotal.WithLabelValues("docs", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SiteDocuments.WithLabelValues("docs")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SiteGeneration.WithLabelValues("docs")))
}

func TestLoadReportsFailedSiteAndPublishesTheRest(t *testing.T) {
	fake := newFake()
	fake.set("good", v1, nil)
	fake.set("bad", "", apperrors.NotFoundf("no such object"))
	c := New(fake, config.SearchConfig{}, WithRetry(fastRetry))

	err := c.Load(context.Background(), sites("good", "bad"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = c.Get("bad")
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}

func TestSiteMatchModeOverridesDefault(t *testing.T) {
	fake := newFake()
	fake.set("strict", v1, nil)
	fake.set("loose", v1, nil)
	cfgs := sites("strict", "loose")
	cfgs[1].MatchMode = "or"
	c := New(fake, config.SearchConfig{MatchMode: "and", Weights: config.WeightsConfig{Body: 1}}, WithRetry(fastRetry))
	require.NoError(t, c.Load(context.Background(), cfgs))

	strict, err := c.Get("strict")
	require.NoError(t, err)
	loose, err := c.Get("loose")
	require.NoError(t, err)
	assert.Equal(t, parser.QueryAND, strict.Store.MatchMode())
	assert.Equal(t, parser.QueryOR, loose.Store.MatchMode())

	results := slices.Collect(loose.Store.Search("simplex nothing"))
	require.Len(t, results, 2)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Empty(t, slices.Collect(strict.Store.Search("simplex nothing")))
}

func TestConcurrentReadsDuringReload(t *testing.T) {
	fake := newFake()
	fake.set("docs", v1, nil)
	c := New(fake, config.SearchConfig{}, WithRetry(fastRetry))
	require.NoError(t, c.Load(context.Background(), sites("docs")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				entry, err := c.Get("docs")
				if !assert.NoError(t, err) {
					return
				}
				n := len(slices.Collect(entry.Store.Search("simplex")))
				assert.Equal(t, entry.Store.Len(), n)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			fake.set("docs", v2, nil)
		} else {
			fake.set("docs", v1, nil)
		}
		_, err := c.Reload(context.Background(), "docs")
		require.NoError(t, err)
	}
	wg.Wait()

	entry, err := c.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), entry.Generation)
}

func TestLoadFromFileFactory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchindex.js")
	require.NoError(t, os.WriteFile(path, []byte(v2), 0o644))
	factory := source.NewFactory(config.ObjectStoreConfig{}, nil)
	c := New(factory, config.SearchConfig{}, WithRetry(fastRetry))

	cfg := config.SiteConfig{Name: "local", Source: config.SourceConfig{Kind: "file", Path: path}}
	require.NoError(t, c.Load(context.Background(), []config.SiteConfig{cfg}))
	entry, err := c.Get("local")
	require.NoError(t, err)
	title, err := entry.Store.TitleOf(2)
	require.NoError(t, err)
	assert.Equal(t, "FAQ", title)
}
