package ranker

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserveKeepsBestMatch(t *testing.T) {
	w := DefaultWeights()
	scores := TermScores{}
	scores.Observe(w, 3, MatchBody, 1)
	scores.Observe(w, 3, MatchTitle, 1)
	scores.Observe(w, 3, MatchPartialBody, 1)
	assert.Equal(t, 15.0, scores[3])

	scores.Observe(w, 4, MatchBody, 4)
	assert.Equal(t, 20.0, scores[4])
}

func TestRankSumsTermsAndBreaksTiesByIndex(t *testing.T) {
	w := DefaultWeights()
	simplex := TermScores{}
	simplex.Observe(w, 1, MatchBody, 1)
	simplex.Observe(w, 3, MatchBody, 1)
	simplex.Observe(w, 4, MatchBody, 1)
	fit := TermScores{}
	fit.Observe(w, 4, MatchTitle, 1)

	got := Rank([]TermScores{simplex, fit}, slices.Values([]int{4, 3, 1}), 0)
	assert.Equal(t, []ScoredDoc{
		{DocID: 4, Score: 20},
		{DocID: 1, Score: 5},
		{DocID: 3, Score: 5},
	}, got)
}

func TestRankLimit(t *testing.T) {
	scores := TermScores{0: 1, 1: 2, 2: 3}
	got := Rank([]TermScores{scores}, slices.Values([]int{0, 1, 2}), 2)
	assert.Equal(t, []ScoredDoc{{DocID: 2, Score: 3}, {DocID: 1, Score: 2}}, got)
}

func TestRankNoCandidates(t *testing.T) {
	got := Rank(nil, slices.Values([]int(nil)), 10)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRankLimitMatchesFullRankingPrefix(t *testing.T) {
	scores := TermScores{}
	docs := make([]int, 0, 50)
	for doc := 49; doc >= 0; doc-- {
		scores[doc] = float64(doc % 4)
		docs = append(docs, doc)
	}
	all := Rank([]TermScores{scores}, slices.Values(docs), 0)
	for _, limit := range []int{1, 7, 13, 49} {
		assert.Equal(t, all[:limit], Rank([]TermScores{scores}, slices.Values(docs), limit), "limit %d", limit)
	}
}
