// Package executor runs parsed queries against the serving index of a site
// and shapes the ranked documents into response records.
package executor

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/store"
)

// Catalog is the part of the site catalog the executor reads from.
type Catalog interface {
	Get(name string) (*catalog.Entry, error)
	Names() []string
}

// Hit is one ranked document reference.
type Hit struct {
	Site  string  `json:"site,omitempty"`
	ID    int     `json:"id"`
	Title string  `json:"title"`
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

type SearchResult struct {
	Site       string   `json:"site,omitempty"`
	Generation uint64   `json:"generation,omitempty"`
	Query      string   `json:"query"`
	Mode       string   `json:"mode"`
	TotalHits  int      `json:"total_hits"`
	Results    []Hit    `json:"results"`
	Skipped    []string `json:"skipped,omitempty"`
}

type ObjectsResult struct {
	Site      string               `json:"site"`
	Query     string               `json:"query"`
	TotalHits int                  `json:"total_hits"`
	Results   []store.ObjectResult `json:"results"`
}

type Executor struct {
	catalog Catalog
	logger  *slog.Logger
}

func New(c Catalog) *Executor {
	return &Executor{
		catalog: c,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Execute ranks plan against one site. A limit of zero or less returns
// every match.
func (e *Executor) Execute(ctx context.Context, site string, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	entry, err := e.catalog.Get(site)
	if err != nil {
		return nil, err
	}
	return e.ExecuteEntry(entry, plan, limit), nil
}

// ExecuteEntry ranks plan against an already resolved index generation.
func (e *Executor) ExecuteEntry(entry *catalog.Entry, plan *parser.QueryPlan, limit int) *SearchResult {
	start := time.Now()
	mode := plan.Type
	if mode == parser.QueryDefault {
		mode = entry.Store.MatchMode()
	}
	ranked, total := entry.Store.Rank(plan, limit)
	hits := make([]Hit, 0, len(ranked))
	for _, scored := range ranked {
		doc, err := entry.Store.Document(scored.DocID)
		if err != nil {
			// Rank only yields in-range documents.
			continue
		}
		hits = append(hits, Hit{ID: doc.ID, Title: doc.Title, Path: doc.Path, Score: scored.Score})
	}
	e.logger.Debug("query executed",
		"site", entry.Site,
		"query", plan.RawQuery,
		"terms", plan.IncludeTerms(),
		"mode", mode.String(),
		"total", total,
		"results", len(hits),
		"duration_us", time.Since(start).Microseconds(),
	)
	return &SearchResult{
		Site:       entry.Site,
		Generation: entry.Generation,
		Query:      plan.RawQuery,
		Mode:       mode.String(),
		TotalHits:  total,
		Results:    hits,
	}
}

// Objects looks up API objects by name on one site.
func (e *Executor) Objects(ctx context.Context, site, query string, limit int) (*ObjectsResult, error) {
	entry, err := e.catalog.Get(site)
	if err != nil {
		return nil, err
	}
	all := slices.Collect(entry.Store.SearchObjects(query))
	result := &ObjectsResult{
		Site:      site,
		Query:     query,
		TotalHits: len(all),
		Results:   all,
	}
	if limit > 0 && len(all) > limit {
		result.Results = all[:limit]
	}
	if result.Results == nil {
		result.Results = []store.ObjectResult{}
	}
	return result, nil
}

// Document returns one document of a site by index.
func (e *Executor) Document(site string, id int) (store.Document, error) {
	entry, err := e.catalog.Get(site)
	if err != nil {
		return store.Document{}, err
	}
	return entry.Store.Document(id)
}
