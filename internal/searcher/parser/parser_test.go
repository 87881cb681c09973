package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDefaultsToStoreMode(t *testing.T) {
	plan := Parse("Bezier simplex fitting")
	assert.Equal(t, QueryDefault, plan.Type)
	assert.Equal(t, []string{"bezier", "simplex", "fit"}, plan.IncludeTerms())
	assert.Empty(t, plan.ExcludeTerms)
	assert.Equal(t, "Bezier simplex fitting", plan.RawQuery)
}

func TestParseKeywordsAndExclusions(t *testing.T) {
	plan := Parse("simplex OR approximation NOT training -datasets")
	assert.Equal(t, QueryOR, plan.Type)
	assert.Equal(t, []string{"simplex", "approxim"}, plan.IncludeTerms())
	assert.Equal(t, []Term{{Term: "train", Word: "training"}, {Term: "dataset", Word: "datasets"}}, plan.ExcludeTerms)
}

func TestParseSplitsPunctuationAndDeduplicates(t *testing.T) {
	plan := Parse("torch_bsf.fit fit, FIT")
	assert.Equal(t, []string{"torch_bsf", "fit"}, plan.IncludeTerms())
	assert.Equal(t, []string{"torch_bsf", "fit", "fit", "fit"}, plan.Words)
}

func TestParseLowercaseKeywordsAreTerms(t *testing.T) {
	plan := Parse("fit or simplex")
	assert.Equal(t, QueryDefault, plan.Type)
	assert.Equal(t, []string{"fit", "simplex"}, plan.IncludeTerms())
}

func TestParseEmpty(t *testing.T) {
	for _, q := range []string{"", "   ", "the and of", "-"} {
		plan := Parse(q)
		assert.Empty(t, plan.Terms, q)
	}
}

func TestParseQueryType(t *testing.T) {
	assert.Equal(t, QueryAND, ParseQueryType("all"))
	assert.Equal(t, QueryOR, ParseQueryType(" OR "))
	assert.Equal(t, QueryDefault, ParseQueryType(""))
	assert.Equal(t, "OR", QueryOR.String())
}
