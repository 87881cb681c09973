package benchmark

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/format"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

// BenchmarkQueryParse measures query parsing latency for queries of varying
// complexity.
func BenchmarkQueryParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "bezier simplex"},
		{"boolean_and", "simplex AND fitting AND mesh"},
		{"boolean_or", "training OR sampling OR optimizer"},
		{"with_not", "simplex NOT deprecated"},
		{"with_minus", "model -tensor -gradient"},
		{"long", "bezier simplex fitting approximation with neural network layers trained over batches"},
	}

	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				plan := parser.Parse(q.query)
				_ = plan
			}
		})
	}
}

// BenchmarkStoreSearch measures ranked search over 10 000 pages.
func BenchmarkStoreSearch(b *testing.B) {
	s := mustStore(b, syntheticIndex(10000))
	queries := map[string]string{
		"single":  "simplex",
		"and":     "simplex bezier",
		"or":      "simplex OR mesh OR epoch",
		"exclude": "model -tensor",
		"partial": "approx",
		"absent":  "hyperparameter",
	}
	for name, q := range queries {
		b.Run(name, func(b *testing.B) {
			plan := parser.Parse(q)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ranked, _ := s.Rank(plan, 10)
				_ = ranked
			}
		})
	}
}

// BenchmarkStoreSearchParallel measures concurrent read throughput on one
// shared store.
func BenchmarkStoreSearchParallel(b *testing.B) {
	s := mustStore(b, syntheticIndex(10000))
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			results := slices.Collect(s.Search("bezier simplex"))
			_ = results
		}
	})
}

// BenchmarkRanking measures scoring and sorting for different candidate
// counts.
func BenchmarkRanking(b *testing.B) {
	for _, numDocs := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			w := ranker.DefaultWeights()
			perTerm := []ranker.TermScores{{}, {}}
			candidates := make([]int, numDocs)
			for d := 0; d < numDocs; d++ {
				perTerm[0].Observe(w, d, ranker.MatchBody, d%4+1)
				perTerm[1].Observe(w, d, ranker.MatchTitle, 1)
				candidates[d] = d
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ranked := ranker.Rank(perTerm, slices.Values(candidates), 10)
				_ = ranked
			}
		})
	}
}

// BenchmarkMerge measures the bounded top-k merge across per-site lists.
func BenchmarkMerge(b *testing.B) {
	for _, numLists := range []int{2, 8, 32} {
		b.Run(fmt.Sprintf("lists_%d", numLists), func(b *testing.B) {
			lists := make([][]int, numLists)
			for l := range lists {
				for v := 1000; v > 0; v -= l + 1 {
					lists[l] = append(lists[l], v)
				}
			}
			better := func(a, b int) bool { return a > b }
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				merged := merger.Merge(lists, 10, better)
				_ = merged
			}
		})
	}
}

type benchSources map[string]string

func (p benchSources) For(site config.SiteConfig) (source.Source, error) {
	return benchSource(p[site.Name]), nil
}

type benchSource string

func (s benchSource) Fetch(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(s))), nil
}

func (s benchSource) String() string { return "memory" }

// BenchmarkExecuteAll exercises the cross-site executor with varying site
// counts.
func BenchmarkExecuteAll(b *testing.B) {
	for _, numSites := range []int{1, 4, 8} {
		b.Run(fmt.Sprintf("sites_%d", numSites), func(b *testing.B) {
			payloads := benchSources{}
			sites := make([]config.SiteConfig, 0, numSites)
			for i := 0; i < numSites; i++ {
				var buf strings.Builder
				if err := format.Encode(&buf, syntheticIndex(1000), format.StyleScript); err != nil {
					b.Fatal(err)
				}
				name := fmt.Sprintf("site%d", i)
				payloads[name] = buf.String()
				sites = append(sites, config.SiteConfig{Name: name})
			}
			cat := catalog.New(payloads, config.SearchConfig{MatchMode: "and"},
				catalog.WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
			if err := cat.Load(context.Background(), sites); err != nil {
				b.Fatal(err)
			}
			exec := executor.New(cat)
			plan := parser.Parse("bezier simplex")

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				result, err := exec.ExecuteAll(context.Background(), plan, 10)
				if err != nil {
					b.Fatal(err)
				}
				_ = result
			}
		})
	}
}
