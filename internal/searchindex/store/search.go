package store

import (
	"iter"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
)

// minPartialLen is the shortest query term that may match inside longer
// index terms.
const minPartialLen = 3

const (
	objNameMatch    = 11
	objPartialMatch = 6
)

var objPriority = map[int]float64{0: 15, 1: 5, 2: -5}

// Result is a ranked document.
type Result struct {
	Document
	Score float64 `json:"score"`
}

// ObjectResult is a ranked API object.
type ObjectResult struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Type     string   `json:"type"`
	Anchor   string   `json:"anchor"`
	Score    float64  `json:"score"`
	Document Document `json:"document"`
}

// Search parses query and returns the matching documents in relevance
// order. The sequence is computed when ranged over, so it may be iterated
// any number of times and always yields the same results.
func (s *Store) Search(query string) iter.Seq[Result] {
	return s.SearchPlan(parser.Parse(query))
}

// SearchPlan is Search for an already parsed query.
func (s *Store) SearchPlan(plan *parser.QueryPlan) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		ranked, _ := s.Rank(plan, 0)
		for _, scored := range ranked {
			if !yield(Result{Document: s.docs[scored.DocID], Score: scored.Score}) {
				return
			}
		}
	}
}

// Rank scores plan against the store and returns at most limit documents
// (all of them when limit <= 0) along with the total number of matches.
//
// Each include term matches exactly against the body and title tables. A
// term with no exact entry in either table falls back to matching inside
// longer terms. AND mode keeps documents matched by every include term, OR
// mode by any. Documents containing an exclude term are dropped.
func (s *Store) Rank(plan *parser.QueryPlan, limit int) ([]ranker.ScoredDoc, int) {
	if plan == nil || len(plan.Terms) == 0 {
		return []ranker.ScoredDoc{}, 0
	}
	mode := plan.Type
	if mode == parser.QueryDefault {
		mode = s.mode
	}

	perTerm := make([]ranker.TermScores, 0, len(plan.Terms))
	sets := make([]*roaring.Bitmap, 0, len(plan.Terms))
	for _, t := range plan.Terms {
		scores := ranker.TermScores{}
		matched := s.matchTerm(t.Term, scores)
		if matched.IsEmpty() && mode == parser.QueryAND {
			return []ranker.ScoredDoc{}, 0
		}
		perTerm = append(perTerm, scores)
		sets = append(sets, matched)
	}

	var candidates *roaring.Bitmap
	if mode == parser.QueryOR {
		candidates = roaring.FastOr(sets...)
	} else {
		candidates = roaring.FastAnd(sets...)
	}
	for _, t := range plan.ExcludeTerms {
		if e, ok := s.terms.lookup(t.Term); ok {
			candidates.AndNot(e.docs)
		}
		if e, ok := s.titleTerms.lookup(t.Term); ok {
			candidates.AndNot(e.docs)
		}
	}

	total := int(candidates.GetCardinality())
	return ranker.Rank(perTerm, bitmapValues(candidates), limit), total
}

func (s *Store) matchTerm(term string, scores ranker.TermScores) *roaring.Bitmap {
	matched := roaring.New()
	body, inBody := s.terms.lookup(term)
	if inBody {
		s.observe(scores, body, ranker.MatchBody)
		matched.Or(body.docs)
	}
	title, inTitle := s.titleTerms.lookup(term)
	if inTitle {
		s.observe(scores, title, ranker.MatchTitle)
		matched.Or(title.docs)
	}
	if inBody || inTitle || utf8.RuneCountInString(term) < minPartialLen {
		return matched
	}
	for _, key := range s.terms.keys {
		if strings.Contains(key, term) {
			e := s.terms.entries[key]
			s.observe(scores, e, ranker.MatchPartialBody)
			matched.Or(e.docs)
		}
	}
	for _, key := range s.titleTerms.keys {
		if strings.Contains(key, term) {
			e := s.titleTerms.entries[key]
			s.observe(scores, e, ranker.MatchPartialTitle)
			matched.Or(e.docs)
		}
	}
	return matched
}

func (s *Store) observe(scores ranker.TermScores, e *termEntry, kind ranker.MatchKind) {
	for _, p := range e.postings {
		scores.Observe(s.weights, p.Doc, kind, p.Weight)
	}
}

func bitmapValues(b *roaring.Bitmap) iter.Seq[int] {
	return func(yield func(int) bool) {
		it := b.Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}

// SearchObjects looks up API objects by dotted name. An object qualifies
// when at least one query word equals or occurs in its full name and every
// query word occurs in its full name, kind or page title. Exact name
// matches outrank partial ones, and the object's priority shifts the score.
// Ties order by full name then document.
func (s *Store) SearchObjects(query string) iter.Seq[ObjectResult] {
	return func(yield func(ObjectResult) bool) {
		for _, r := range s.rankObjects(objectWords(query)) {
			if !yield(r) {
				return
			}
		}
	}
}

func (s *Store) rankObjects(words []string) []ObjectResult {
	if len(words) == 0 {
		return nil
	}
	results := make([]ObjectResult, 0)
	for _, obj := range s.objects {
		full := strings.ToLower(obj.FullName)
		name := strings.ToLower(obj.Name)
		kind := s.objectKind(obj.Type)
		haystack := full + " " + strings.ToLower(kind) + " " + strings.ToLower(s.docs[obj.Doc].Title)

		var best float64
		all := true
		for _, w := range words {
			switch {
			case full == w || name == w:
				best = max(best, objNameMatch)
			case strings.Contains(full, w):
				best = max(best, objPartialMatch)
			}
			if !strings.Contains(haystack, w) {
				all = false
				break
			}
		}
		if best == 0 || !all {
			continue
		}
		results = append(results, ObjectResult{
			Name:     obj.FullName,
			Kind:     kind,
			Type:     s.objTypes[obj.Type],
			Anchor:   s.objectAnchor(obj),
			Score:    best + objPriority[obj.Priority],
			Document: s.docs[obj.Doc],
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	return results
}

func (s *Store) objectKind(typ int) string {
	if names := s.objNames[typ]; len(names) > 2 {
		return names[2]
	}
	return s.objTypes[typ]
}

func (s *Store) objectAnchor(obj Object) string {
	switch obj.Anchor {
	case "":
		return obj.FullName
	case "-":
		if names := s.objNames[obj.Type]; len(names) > 1 {
			return names[1] + "-" + obj.FullName
		}
		return obj.FullName
	default:
		return obj.Anchor
	}
}

// objectWords lower-cases the query and splits it on whitespace, keeping
// dots and underscores so dotted names survive intact.
func objectWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
