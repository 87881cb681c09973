package analytics

import (
	"sort"
	"sync"
	"time"
)

type AggregatedStats struct {
	Site              string           `json:"site,omitempty"`
	TotalSearches     int64            `json:"total_searches"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	SearchesBySite    map[string]int64 `json:"searches_by_site"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
}

type QueryCount struct {
	Site  string `json:"site"`
	Query string `json:"query"`
	Count int64  `json:"count"`
}

type queryKey struct {
	site  string
	query string
}

// maxLatencySamples bounds the latency window used for percentiles, both
// fleet-wide and per site.
const maxLatencySamples = 10000

// latencyWindow keeps the most recent maxLatencySamples latencies.
type latencyWindow struct {
	samples []int64
	next    int
}

func (w *latencyWindow) add(ms int64) {
	if len(w.samples) < maxLatencySamples {
		w.samples = append(w.samples, ms)
		return
	}
	w.samples[w.next] = ms
	w.next = (w.next + 1) % maxLatencySamples
}

type counters struct {
	searches    int64
	cacheHits   int64
	cacheMisses int64
	zeroResults int64
	latencies   latencyWindow
}

func (c *counters) record(event SearchEvent) {
	c.searches++
	if event.CacheHit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
	if event.TotalHits == 0 {
		c.zeroResults++
	}
	c.latencies.add(event.LatencyMs)
}

// Aggregator keeps in-process search statistics. Zero-result queries are
// the interesting part: they point at pages the documentation is missing.
type Aggregator struct {
	mu                sync.RWMutex
	all               counters
	bySite            map[string]*counters
	queryCounts       map[queryKey]int64
	zeroResultQueries map[queryKey]int64
	startTime         time.Time
	now               func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		bySite:            make(map[string]*counters),
		queryCounts:       make(map[queryKey]int64),
		zeroResultQueries: make(map[queryKey]int64),
		startTime:         time.Now(),
		now:               time.Now,
	}
}

func (a *Aggregator) Record(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.all.record(event)
	site, ok := a.bySite[event.Site]
	if !ok {
		site = &counters{}
		a.bySite[event.Site] = site
	}
	site.record(event)

	key := queryKey{site: event.Site, query: event.Query}
	a.queryCounts[key]++
	if event.TotalHits == 0 {
		a.zeroResultQueries[key]++
	}
}

// Stats summarises every site.
func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsFor("")
}

// StatsFor summarises one site, or every site when site is empty. A site
// with no recorded searches yields zero counts.
func (a *Aggregator) StatsFor(site string) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	c := &a.all
	if site != "" {
		c = a.bySite[site]
		if c == nil {
			c = &counters{}
		}
	}
	stats := AggregatedStats{
		Site:            site,
		TotalSearches:   c.searches,
		CacheHits:       c.cacheHits,
		CacheMisses:     c.cacheMisses,
		ZeroResultCount: c.zeroResults,
		SearchesBySite:  make(map[string]int64, len(a.bySite)),
	}
	for name, sc := range a.bySite {
		if site == "" || name == site {
			stats.SearchesBySite[name] = sc.searches
		}
	}
	if samples := c.latencies.samples; len(samples) > 0 {
		sorted := make([]int64, len(samples))
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, site, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, site, 10)
	elapsed := a.now().Sub(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then site and query so equal counts list stably.
// A non-empty site keeps only that site's queries.
func topN(counts map[queryKey]int64, site string, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for key, count := range counts {
		if site != "" && key.site != site {
			continue
		}
		result = append(result, QueryCount{Site: key.site, Query: key.query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		if result[i].Site != result[j].Site {
			return result[i].Site < result[j].Site
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
