package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

type SearchExecutor interface {
	ExecuteEntry(entry *catalog.Entry, plan *parser.QueryPlan, limit int) *executor.SearchResult
	ExecuteAll(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error)
	Objects(ctx context.Context, site, query string, limit int) (*executor.ObjectsResult, error)
	Document(site string, id int) (store.Document, error)
	Scope() string
}

type Catalog interface {
	Get(name string) (*catalog.Entry, error)
	Reload(ctx context.Context, name string) (*catalog.Entry, error)
	Names() []string
}

type Handler struct {
	executor     SearchExecutor
	catalog      Catalog
	cache        *cache.QueryCache
	collector    *analytics.Collector
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	slowQuery    time.Duration
	logger       *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Handler)

func WithCache(c *cache.QueryCache) Option {
	return func(h *Handler) { h.cache = c }
}

func WithCollector(c *analytics.Collector) Option {
	return func(h *Handler) { h.collector = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithSlowQueryLog logs the span tree of searches that take at least
// threshold.
func WithSlowQueryLog(threshold time.Duration) Option {
	return func(h *Handler) { h.slowQuery = threshold }
}

func New(exec SearchExecutor, cat Catalog, defaultLimit, maxResults int, opts ...Option) *Handler {
	h := &Handler{
		executor:     exec,
		catalog:      cat,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.SearchAll)
	mux.HandleFunc("GET /api/v1/sites", h.Sites)
	mux.HandleFunc("GET /api/v1/sites/{site}/search", h.Search)
	mux.HandleFunc("GET /api/v1/sites/{site}/objects", h.Objects)
	mux.HandleFunc("GET /api/v1/sites/{site}/documents/{id}", h.Document)
	mux.HandleFunc("POST /api/v1/sites/{site}/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search ranks documents of one site. q may be empty, which yields an empty
// result rather than an error.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	site := r.PathValue("site")

	plan, limit, err := h.parseSearch(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ctx, span := h.startSpan(r, site, plan)
	entry, err := h.catalog.Get(site)
	if err != nil {
		h.observeQuery(site, "error")
		h.writeError(w, err)
		return
	}
	if len(plan.Terms) == 0 {
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{
			Site:       site,
			Generation: entry.Generation,
			Query:      plan.RawQuery,
			Mode:       entry.Store.MatchMode().String(),
			Results:    []executor.Hit{},
		})
		return
	}

	compute := func(context.Context) (*executor.SearchResult, error) {
		return h.executor.ExecuteEntry(entry, plan, limit), nil
	}
	result, cacheHit, err := h.run(ctx, cache.Key(executor.SiteScope(entry), plan, limit), compute)
	if err != nil {
		h.observeQuery(site, "error")
		h.writeError(w, err)
		return
	}
	h.finish(ctx, w, span, site, plan, result, cacheHit, start)
	h.writeJSON(w, http.StatusOK, result)
}

// SearchAll ranks documents across every loaded site.
func (h *Handler) SearchAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	plan, limit, err := h.parseSearch(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ctx, span := h.startSpan(r, "*", plan)
	if len(plan.Terms) == 0 {
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{
			Query:   plan.RawQuery,
			Mode:    plan.Type.String(),
			Results: []executor.Hit{},
		})
		return
	}
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		return h.executor.ExecuteAll(ctx, plan, limit)
	}
	result, cacheHit, err := h.run(ctx, cache.Key(h.executor.Scope(), plan, limit), compute)
	if err != nil {
		h.observeQuery("*", "error")
		h.writeError(w, err)
		return
	}
	h.finish(ctx, w, span, "*", plan, result, cacheHit, start)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) run(
	ctx context.Context,
	key string,
	compute func(context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if h.cache == nil {
		result, err := compute(ctx)
		return result, false, err
	}
	return h.cache.GetOrCompute(ctx, key, compute)
}

func (h *Handler) parseSearch(r *http.Request) (*parser.QueryPlan, int, error) {
	q := r.URL.Query()
	limit, err := h.parseLimit(q.Get("limit"))
	if err != nil {
		return nil, 0, err
	}
	plan := parser.Parse(q.Get("q"))
	if modeStr := q.Get("mode"); modeStr != "" {
		mode := parser.ParseQueryType(modeStr)
		if mode == parser.QueryDefault {
			return nil, 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "mode must be one of and, or")
		}
		// Keywords inside the query take precedence.
		if plan.Type == parser.QueryDefault {
			plan.Type = mode
		}
	}
	return plan, limit, nil
}

func (h *Handler) parseLimit(raw string) (int, error) {
	if raw == "" {
		return h.defaultLimit, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
	}
	if h.maxResults > 0 && parsed > h.maxResults {
		parsed = h.maxResults
	}
	return parsed, nil
}

func (h *Handler) startSpan(r *http.Request, site string, plan *parser.QueryPlan) (context.Context, *tracing.Span) {
	ctx, span := tracing.StartSpan(r.Context(), "search", middleware.GetRequestID(r.Context()))
	span.SetAttr("site", site)
	span.SetAttr("query", plan.RawQuery)
	return ctx, span
}

func (h *Handler) finish(
	ctx context.Context,
	w http.ResponseWriter,
	span *tracing.Span,
	site string,
	plan *parser.QueryPlan,
	result *executor.SearchResult,
	cacheHit bool,
	start time.Time,
) {
	latency := time.Since(start)
	resultType := "hit"
	if result.TotalHits == 0 {
		resultType = "zero_result"
	}
	cacheStatus := "disabled"
	if h.cache != nil {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	w.Header().Set("X-Cache", cacheStatus)
	h.observeQuery(site, resultType)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
		h.metrics.SearchResultsCount.WithLabelValues().Observe(float64(len(result.Results)))
	}

	logger.FromContext(ctx).Info("search completed",
		"site", site,
		"query", plan.RawQuery,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	if h.collector != nil {
		h.collector.Track(analytics.SearchEvent{
			Type:      analytics.EventSearch,
			Site:      site,
			Query:     plan.RawQuery,
			Terms:     plan.IncludeTerms(),
			Mode:      result.Mode,
			TotalHits: result.TotalHits,
			Returned:  len(result.Results),
			LatencyMs: latency.Milliseconds(),
			CacheHit:  cacheHit,
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}
	span.SetAttr("cache", cacheStatus)
	span.SetAttr("total_hits", result.TotalHits)
	span.LogIfSlow(logger.FromContext(ctx), h.slowQuery)
}

func (h *Handler) observeQuery(site, resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(site, resultType).Inc()
	}
}

// Objects looks up API objects (modules, classes, functions) by name.
func (h *Handler) Objects(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	site := r.PathValue("site")
	query := r.URL.Query().Get("q")
	limit, err := h.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.executor.Objects(r.Context(), site, query, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.collector != nil {
		h.collector.Track(analytics.SearchEvent{
			Type:      analytics.EventObjectSearch,
			Site:      site,
			Query:     query,
			TotalHits: result.TotalHits,
			Returned:  len(result.Results),
			LatencyMs: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(r.Context()),
		})
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	site := r.PathValue("site")
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document id must be an integer"))
		return
	}
	doc, err := h.executor.Document(site, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

type siteInfo struct {
	Name       string       `json:"name"`
	Loaded     bool         `json:"loaded"`
	Generation uint64       `json:"generation,omitempty"`
	LoadedAt   *time.Time   `json:"loaded_at,omitempty"`
	Source     string       `json:"source,omitempty"`
	Stats      *store.Stats `json:"stats,omitempty"`
}

func describe(name string, entry *catalog.Entry) siteInfo {
	info := siteInfo{Name: name}
	if entry == nil {
		return info
	}
	stats := entry.Store.Stats()
	loadedAt := entry.LoadedAt
	info.Loaded = true
	info.Generation = entry.Generation
	info.LoadedAt = &loadedAt
	info.Source = entry.Source
	info.Stats = &stats
	return info
}

// Sites lists every configured site and the generation it serves.
func (h *Handler) Sites(w http.ResponseWriter, r *http.Request) {
	names := h.catalog.Names()
	sites := make([]siteInfo, 0, len(names))
	for _, name := range names {
		entry, err := h.catalog.Get(name)
		if err != nil {
			entry = nil
		}
		sites = append(sites, describe(name, entry))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

// Reload fetches the site's index again and swaps it in. On failure the
// previous index keeps serving and the error is reported.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	site := r.PathValue("site")
	entry, err := h.catalog.Reload(r.Context(), site)
	if err != nil {
		logger.FromContext(r.Context()).Error("manual reload failed", "site", site, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, describe(site, entry))
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrSourceUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Internal failures are not echoed
// to the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
