// Package ranker scores candidate documents for a parsed query. The policy
// is fixed and deterministic: each query term contributes the best of its
// match kinds for a document (title beats body, exact beats partial), scaled
// by the posting weight, and a document's score is the sum over terms. Ties
// order by ascending document index.
package ranker

import (
	"iter"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/merger"
)

// MatchKind classifies how a query term matched a document.
type MatchKind int

const (
	MatchBody MatchKind = iota
	MatchTitle
	MatchPartialBody
	MatchPartialTitle
)

// Weights are the base scores per match kind.
type Weights struct {
	Title        float64 `yaml:"title"`
	Body         float64 `yaml:"body"`
	PartialTitle float64 `yaml:"partialTitle"`
	PartialBody  float64 `yaml:"partialBody"`
}

// DefaultWeights mirrors the scoring the generator's own search page uses.
func DefaultWeights() Weights {
	return Weights{
		Title:        15,
		Body:         5,
		PartialTitle: 7,
		PartialBody:  2,
	}
}

func (w Weights) base(kind MatchKind) float64 {
	switch kind {
	case MatchTitle:
		return w.Title
	case MatchPartialTitle:
		return w.PartialTitle
	case MatchPartialBody:
		return w.PartialBody
	default:
		return w.Body
	}
}

type ScoredDoc struct {
	DocID int     `json:"id"`
	Score float64 `json:"score"`
}

// TermScores accumulates the best score per document for one query term.
type TermScores map[int]float64

// Observe records a match of the term in doc, keeping the best score seen.
func (s TermScores) Observe(w Weights, doc int, kind MatchKind, weight int) {
	score := w.base(kind) * float64(weight)
	if cur, ok := s[doc]; !ok || score > cur {
		s[doc] = score
	}
}

// Rank sums per-term scores for every candidate document and returns them
// ordered by descending score then ascending document index. A limit of
// zero or less returns every candidate; otherwise a bounded heap keeps the
// best limit documents.
func Rank(perTerm []TermScores, candidates iter.Seq[int], limit int) []ScoredDoc {
	result := make([]ScoredDoc, 0)
	for doc := range candidates {
		var total float64
		for _, scores := range perTerm {
			total += scores[doc]
		}
		result = append(result, ScoredDoc{
			DocID: doc,
			Score: math.Round(total*10000) / 10000,
		})
	}
	if limit > 0 && len(result) > limit {
		return merger.Merge([][]ScoredDoc{result}, limit, better)
	}
	sort.Slice(result, func(i, j int) bool { return better(result[i], result[j]) })
	return result
}

func better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}
