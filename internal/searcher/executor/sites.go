package executor

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

type siteResult struct {
	site   string
	result *SearchResult
	err    error
}

// ExecuteAll fans plan out to every loaded site and merges the per-site
// rankings. Sites without a serving index are reported in Skipped. Merged
// hits order by score, then site name, then document index.
func (e *Executor) ExecuteAll(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	results := e.fanOut(ctx, plan, limit)

	merged := &SearchResult{
		Query:   plan.RawQuery,
		Mode:    plan.Type.String(),
		Results: []Hit{},
	}
	lists := make([][]Hit, 0, len(results))
	for _, sr := range results {
		if sr.err != nil {
			e.logger.Warn("site skipped", "site", sr.site, "error", sr.err)
			merged.Skipped = append(merged.Skipped, sr.site)
			continue
		}
		if plan.Type == parser.QueryDefault && merged.Mode == parser.QueryDefault.String() {
			merged.Mode = sr.result.Mode
		}
		merged.TotalHits += sr.result.TotalHits
		hits := make([]Hit, len(sr.result.Results))
		for i, h := range sr.result.Results {
			h.Site = sr.site
			hits[i] = h
		}
		lists = append(lists, hits)
	}
	if limit <= 0 {
		limit = merged.TotalHits
	}
	if limit > 0 {
		merged.Results = merger.Merge(lists, limit, betterHit)
	}
	if merged.Results == nil {
		merged.Results = []Hit{}
	}
	return merged, nil
}

func (e *Executor) fanOut(ctx context.Context, plan *parser.QueryPlan, limit int) []siteResult {
	names := e.catalog.Names()
	results := make([]siteResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, span := tracing.StartChildSpan(ctx, "site:"+name)
			defer span.End()
			results[i] = siteResult{site: name}
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return
			}
			entry, err := e.catalog.Get(name)
			if err != nil {
				results[i].err = err
				return
			}
			results[i].result = e.ExecuteEntry(entry, plan, limit)
			span.SetAttr("generation", entry.Generation)
			span.SetAttr("total_hits", results[i].result.TotalHits)
		}()
	}
	wg.Wait()
	return results
}

// Scope identifies the index generations a cross-site query reads, so
// cached results are not served after any site reloads.
func (e *Executor) Scope() string {
	names := e.catalog.Names()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		entry, err := e.catalog.Get(name)
		if err != nil {
			continue
		}
		parts = append(parts, SiteScope(entry))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// SiteScope is Scope for a single site.
func SiteScope(entry *catalog.Entry) string {
	return entry.Site + "@" + strconv.FormatUint(entry.Generation, 10)
}

func betterHit(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Site != b.Site {
		return a.Site < b.Site
	}
	return a.ID < b.ID
}
