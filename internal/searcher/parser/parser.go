package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/tokenizer"
)

type QueryType int

const (
	// QueryDefault defers to the store's configured match mode.
	QueryDefault QueryType = iota
	QueryAND
	QueryOR
)

func (t QueryType) String() string {
	switch t {
	case QueryAND:
		return "AND"
	case QueryOR:
		return "OR"
	default:
		return "DEFAULT"
	}
}

// ParseQueryType maps a mode name ("and", "all", "or", "any") to a
// QueryType. Unknown or empty names yield QueryDefault.
func ParseQueryType(s string) QueryType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "and", "all":
		return QueryAND
	case "or", "any":
		return QueryOR
	default:
		return QueryDefault
	}
}

// Term is a query term: the stemmed index term and the word it came from.
type Term struct {
	Term string
	Word string
}

type QueryPlan struct {
	Terms        []Term
	Type         QueryType
	ExcludeTerms []Term
	// Words holds every lower-cased query word, stop-words included, in
	// order. Object name lookups use these unstemmed.
	Words    []string
	RawQuery string
}

// IncludeTerms returns the stemmed include terms.
func (p *QueryPlan) IncludeTerms() []string {
	out := make([]string, 0, len(p.Terms))
	for _, t := range p.Terms {
		out = append(out, t.Term)
	}
	return out
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]Term, 0),
		ExcludeTerms: make([]Term, 0),
		Type:         QueryDefault,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]struct{})
	words := strings.Fields(query)
	excludeNext := false
	for i := 0; i < len(words); i++ {
		switch words[i] {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		exclude := excludeNext
		excludeNext = false
		word := words[i]
		if strings.HasPrefix(word, "-") {
			exclude = true
			word = strings.TrimLeft(word, "-")
		}
		plan.Words = append(plan.Words, tokenizer.Words(word)...)
		for _, tok := range tokenizer.Tokenize(word) {
			key := tok.Term
			if exclude {
				key = "-" + key
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			term := Term{Term: tok.Term, Word: tok.Word}
			if exclude {
				plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			} else {
				plan.Terms = append(plan.Terms, term)
			}
		}
	}
	return plan
}
