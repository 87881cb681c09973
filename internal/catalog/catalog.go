// Package catalog owns the search index of every configured documentation
// site. Each site's index is loaded from its source, built into an
// immutable store, and published with an atomic swap, so readers always
// see either the previous complete index or the new one.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

// ErrUnknownSite is returned for names that were never registered. It
// matches apperrors.ErrNotFound.
var ErrUnknownSite = fmt.Errorf("%w: unknown site", apperrors.ErrNotFound)

// SourceFactory resolves a site to the source its index is read from.
type SourceFactory interface {
	For(site config.SiteConfig) (source.Source, error)
}

// Entry is one published index generation of a site.
type Entry struct {
	Site       string
	Store      *store.Store
	Generation uint64
	LoadedAt   time.Time
	Source     string
}

type site struct {
	cfg        config.SiteConfig
	current    atomic.Pointer[Entry]
	reloadMu   sync.Mutex
	generation uint64
}

type Catalog struct {
	sources SourceFactory
	search  config.SearchConfig
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	sites map[string]*site
}

type Option func(*Catalog)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Catalog) { c.metrics = m }
}

func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Catalog) { c.retry = cfg }
}

func New(sources SourceFactory, search config.SearchConfig, opts ...Option) *Catalog {
	c := &Catalog{
		sources: sources,
		search:  search,
		sites:   make(map[string]*site),
		logger:  slog.Default().With("component", "catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load registers sites and loads all of them concurrently. One site failing
// does not cancel the others; Load returns the first error and every site
// that did load stays published.
func (c *Catalog) Load(ctx context.Context, sites []config.SiteConfig) error {
	c.mu.Lock()
	for _, cfg := range sites {
		if _, ok := c.sites[cfg.Name]; !ok {
			c.sites[cfg.Name] = &site{cfg: cfg}
		}
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, cfg := range sites {
		name := cfg.Name
		g.Go(func() error {
			_, err := c.Reload(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// Reload fetches a site's index again and swaps it in. Reloads of the same
// site are serialized. On failure the previous index keeps serving.
func (c *Catalog) Reload(ctx context.Context, name string) (*Entry, error) {
	s, err := c.site(name)
	if err != nil {
		return nil, err
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	start := time.Now()
	entry, err := c.build(ctx, s)
	if err != nil {
		c.observeReload(name, "error")
		c.logger.Error("index load failed", "site", name, "error", err)
		return nil, fmt.Errorf("loading site %q: %w", name, err)
	}
	s.current.Store(entry)
	c.observeReload(name, "ok")
	if c.metrics != nil {
		c.metrics.SiteDocuments.WithLabelValues(name).Set(float64(entry.Store.Len()))
		c.metrics.SiteGeneration.WithLabelValues(name).Set(float64(entry.Generation))
	}
	stats := entry.Store.Stats()
	c.logger.Info("index loaded",
		"site", name,
		"source", entry.Source,
		"generation", entry.Generation,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"objects", stats.Objects,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return entry, nil
}

func (c *Catalog) build(ctx context.Context, s *site) (*Entry, error) {
	src, err := c.sources.For(s.cfg)
	if err != nil {
		return nil, err
	}
	raw, err := source.Read(ctx, src, c.retry)
	if err != nil {
		return nil, err
	}
	st, err := store.Load(raw, c.storeOptions(s.cfg)...)
	if err != nil {
		return nil, err
	}
	s.generation++
	return &Entry{
		Site:       s.cfg.Name,
		Store:      st,
		Generation: s.generation,
		LoadedAt:   time.Now().UTC(),
		Source:     src.String(),
	}, nil
}

func (c *Catalog) storeOptions(cfg config.SiteConfig) []store.Option {
	mode := parser.ParseQueryType(cfg.MatchMode)
	if mode == parser.QueryDefault {
		mode = parser.ParseQueryType(c.search.MatchMode)
	}
	weights := ranker.DefaultWeights()
	w := c.search.Weights
	if w.Title > 0 {
		weights.Title = w.Title
	}
	if w.Body > 0 {
		weights.Body = w.Body
	}
	if w.PartialTitle > 0 {
		weights.PartialTitle = w.PartialTitle
	}
	if w.PartialBody > 0 {
		weights.PartialBody = w.PartialBody
	}
	return []store.Option{store.WithMatchMode(mode), store.WithWeights(weights)}
}

func (c *Catalog) observeReload(name, status string) {
	if c.metrics != nil {
		c.metrics.IndexReloadsTotal.WithLabelValues(name, status).Inc()
	}
}

func (c *Catalog) site(name string) (*site, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sites[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSite, name)
	}
	return s, nil
}

// Get returns the serving index of a site.
func (c *Catalog) Get(name string) (*Entry, error) {
	s, err := c.site(name)
	if err != nil {
		return nil, err
	}
	entry := s.current.Load()
	if entry == nil {
		return nil, fmt.Errorf("%w: site %q has no loaded index", apperrors.ErrSourceUnavailable, name)
	}
	return entry, nil
}

// Names returns the registered site names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.sites))
	for name := range c.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ready reports how many registered sites have an index loaded.
func (c *Catalog) Ready() (loaded, total int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sites {
		if s.current.Load() != nil {
			loaded++
		}
	}
	return loaded, len(c.sites)
}
