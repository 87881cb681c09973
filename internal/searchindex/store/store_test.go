package store

import (
	"bytes"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/format"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

func p(docs ...int) format.Postings {
	out := make(format.Postings, 0, len(docs))
	for _, d := range docs {
		out = append(out, format.Posting{Doc: d, Weight: 1})
	}
	return out
}

func sampleIndex() *format.RawIndex {
	return &format.RawIndex{
		DocNames:   []string{"faq", "index", "modules", "quickstart", "torch_bsf"},
		FileNames:  []string{"faq.rst", "index.rst", "modules.rst", "quickstart.rst", "torch_bsf.rst"},
		Titles:     []string{"FAQ", "Welcome", "torch_bsf", "Quickstart", "torch_bsf package"},
		EnvVersion: map[string]int{"sphinx": 56},
		Terms: map[string]format.Postings{
			"simplex":  p(1, 3, 4),
			"bezier":   p(3, 4),
			"fit":      {{Doc: 4, Weight: 3}, {Doc: 0, Weight: 1}},
			"approxim": p(0, 2),
		},
		TitleTerms: map[string]format.Postings{
			"quickstart": p(3),
		},
	}
}

func mustLoad(t *testing.T, raw *format.RawIndex, opts ...Option) *Store {
	t.Helper()
	s, err := Load(raw, opts...)
	require.NoError(t, err)
	return s
}

func loadFixture(t *testing.T) *format.RawIndex {
	t.Helper()
	f, err := os.Open("../format/testdata/searchindex.js")
	require.NoError(t, err)
	defer f.Close()
	raw, err := format.Decode(f)
	require.NoError(t, err)
	return raw
}

func ids(results []Result) []int {
	out := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

func TestLoadLookupsForEveryDocument(t *testing.T) {
	for name, raw := range map[string]*format.RawIndex{"sample": sampleIndex(), "fixture": loadFixture(t)} {
		t.Run(name, func(t *testing.T) {
			s := mustLoad(t, raw)
			require.Equal(t, len(raw.DocNames), s.Len())
			for id := 0; id < s.Len(); id++ {
				title, err := s.TitleOf(id)
				require.NoError(t, err)
				assert.Equal(t, raw.Titles[id], title)
				path, err := s.PathOf(id)
				require.NoError(t, err)
				assert.Equal(t, raw.DocNames[id], path)
			}
		})
	}
}

func TestLookupOutOfRange(t *testing.T) {
	s := mustLoad(t, sampleIndex())
	_, err := s.TitleOf(99)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.PathOf(-1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.Document(5)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	doc, err := s.Document(3)
	require.NoError(t, err)
	assert.Equal(t, Document{ID: 3, Path: "quickstart", File: "quickstart.rst", Title: "Quickstart"}, doc)
}

func TestLoadRejectsBrokenInvariants(t *testing.T) {
	cases := map[string]func(r *format.RawIndex){
		"titles length":    func(r *format.RawIndex) { r.Titles = r.Titles[:4] },
		"filenames length": func(r *format.RawIndex) { r.FileNames = r.FileNames[:2] },
		"term past end":    func(r *format.RawIndex) { r.Terms["simplex"] = p(1, 5) },
		"negative doc":     func(r *format.RawIndex) { r.TitleTerms["quickstart"] = p(-1) },
		"zero weight":      func(r *format.RawIndex) { r.Terms["fit"] = format.Postings{{Doc: 1, Weight: 0}} },
		"object doc": func(r *format.RawIndex) {
			r.ObjTypes = map[string]string{"0": "py:module"}
			r.Objects = map[string]map[string]format.ObjectRef{"": {"m": {Doc: 7, Type: 0}}}
		},
		"object type": func(r *format.RawIndex) {
			r.ObjTypes = map[string]string{"0": "py:module"}
			r.Objects = map[string]map[string]format.ObjectRef{"": {"m": {Doc: 1, Type: 3}}}
		},
		"objtypes key": func(r *format.RawIndex) { r.ObjTypes = map[string]string{"x": "py:module"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			raw := sampleIndex()
			mutate(raw)
			_, err := Load(raw)
			assert.ErrorIs(t, err, apperrors.ErrFormat)
		})
	}

	_, err := Load(nil)
	assert.ErrorIs(t, err, apperrors.ErrFormat)
}

func TestLoadWithoutFilenames(t *testing.T) {
	raw := sampleIndex()
	raw.FileNames = nil
	s := mustLoad(t, raw)
	doc, err := s.Document(0)
	require.NoError(t, err)
	assert.Empty(t, doc.File)
	assert.Nil(t, s.Raw().FileNames)
}

func TestSearchSingleTerm(t *testing.T) {
	s := mustLoad(t, sampleIndex())

	got := slices.Collect(s.Search("simplex"))
	assert.Equal(t, []int{1, 3, 4}, ids(got))
	for _, r := range got {
		assert.Equal(t, 5.0, r.Score)
	}

	assert.Empty(t, slices.Collect(s.Search("hyperparameter")))
	assert.Empty(t, slices.Collect(s.Search("")))
	assert.Empty(t, slices.Collect(s.Search("the of and")))
}

func TestSearchWordsTheStemmerRejects(t *testing.T) {
	raw := sampleIndex()
	raw.Terms["eed"] = p(2)
	s := mustLoad(t, raw)
	for _, q := range []string{"eed", "eeds", "feed eed"} {
		assert.NotPanics(t, func() { _ = slices.Collect(s.Search(q)) }, q)
	}
	assert.Equal(t, []int{2}, ids(slices.Collect(s.Search("eed"))))
	assert.Equal(t, []int{2}, ids(slices.Collect(s.Search("eeds OR eed"))))
	assert.Empty(t, slices.Collect(s.Search("feed eed")))
}

func TestSearchIsRestartableAndIdempotent(t *testing.T) {
	s := mustLoad(t, loadFixture(t))
	seq := s.Search("bezier simplex")
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, first, slices.Collect(s.Search("bezier simplex")))

	var taken []Result
	for r := range seq {
		taken = append(taken, r)
		break
	}
	assert.Equal(t, first[:1], taken)
}

func TestSearchModesAndExclusions(t *testing.T) {
	s := mustLoad(t, sampleIndex())

	assert.Equal(t, []int{3, 4}, ids(slices.Collect(s.Search("bezier simplex"))))
	assert.Empty(t, slices.Collect(s.Search("bezier approximation")))

	or := slices.Collect(s.Search("bezier OR fitting"))
	assert.Equal(t, []int{4, 0, 3}, ids(or))
	assert.Equal(t, 20.0, or[0].Score)

	assert.Equal(t, []int{1}, ids(slices.Collect(s.Search("simplex -bezier"))))
	assert.Equal(t, []int{1}, ids(slices.Collect(s.Search("simplex NOT beziers"))))

	anyMode := mustLoad(t, sampleIndex(), WithMatchMode(parser.QueryOR))
	assert.Equal(t, parser.QueryOR, anyMode.MatchMode())
	assert.Equal(t, []int{4, 0, 1, 3}, ids(slices.Collect(anyMode.Search("simplex fit"))))
	assert.Equal(t, []int{4}, ids(slices.Collect(anyMode.Search("simplex AND fit"))))
}

func TestSearchTitleBoost(t *testing.T) {
	s := mustLoad(t, loadFixture(t))
	got := slices.Collect(s.Search("simplex"))
	assert.Equal(t, []int{5, 0, 1, 3, 4}, ids(got))
	assert.Equal(t, 15.0, got[0].Score)
	assert.Equal(t, "What is Bezier simplex fitting?", got[0].Title)
	assert.Equal(t, "whatis", got[0].Path)
}

func TestSearchPartialFallback(t *testing.T) {
	s := mustLoad(t, sampleIndex())
	got := slices.Collect(s.Search("approx"))
	assert.Equal(t, []int{0, 2}, ids(got))
	assert.Equal(t, 2.0, got[0].Score)

	assert.Empty(t, slices.Collect(s.Search("ap")))
}

func TestSearchCustomWeights(t *testing.T) {
	s := mustLoad(t, sampleIndex(), WithWeights(ranker.Weights{Title: 1, Body: 1, PartialTitle: 1, PartialBody: 1}))
	got := slices.Collect(s.Search("fit"))
	assert.Equal(t, []int{4, 0}, ids(got))
	assert.Equal(t, 3.0, got[0].Score)
}

func TestLoadMergesCaseVariants(t *testing.T) {
	raw := sampleIndex()
	raw.Terms["Simplex"] = format.Postings{{Doc: 2, Weight: 1}, {Doc: 4, Weight: 2}}
	s := mustLoad(t, raw)
	assert.Equal(t, format.Postings{{Doc: 1, Weight: 1}, {Doc: 2, Weight: 1}, {Doc: 3, Weight: 1}, {Doc: 4, Weight: 3}}, s.Postings("simplex"))
	assert.Nil(t, s.Postings("Simplex"))
	assert.Equal(t, []int{4, 1, 2, 3}, ids(slices.Collect(s.Search("simplex"))))
}

func TestSingleTermResultsComeFromThatTerm(t *testing.T) {
	raw := loadFixture(t)
	s := mustLoad(t, raw)
	for name := range raw.Terms {
		key := strings.ToLower(name)
		plan := &parser.QueryPlan{Terms: []parser.Term{{Term: key, Word: key}}}
		allowed := map[int]bool{}
		for _, posting := range append(s.Postings(key), s.TitlePostings(key)...) {
			allowed[posting.Doc] = true
		}
		for r := range s.SearchPlan(plan) {
			assert.True(t, allowed[r.ID], "term %q returned document %d", key, r.ID)
		}
	}
}

func TestRawRoundTripPreservesResults(t *testing.T) {
	queries := []string{
		"simplex", "bezier simplex", "fit OR quickstart", "approx",
		"neural network", "-simplex bezier", "torch_bsf", "mlflow", "nothing-here",
	}
	original := mustLoad(t, loadFixture(t))

	var buf bytes.Buffer
	require.NoError(t, format.Encode(&buf, original.Raw(), format.StyleScript))
	decoded, err := format.Decode(&buf)
	require.NoError(t, err)
	reloaded := mustLoad(t, decoded)

	assert.Equal(t, original.Stats(), reloaded.Stats())
	assert.Equal(t, original.EnvVersion(), reloaded.EnvVersion())
	for _, q := range queries {
		assert.Equal(t, slices.Collect(original.Search(q)), slices.Collect(reloaded.Search(q)), q)
		assert.Equal(t, slices.Collect(original.SearchObjects(q)), slices.Collect(reloaded.SearchObjects(q)), q)
	}
}

func TestRankReportsTotalHits(t *testing.T) {
	s := mustLoad(t, sampleIndex())
	ranked, total := s.Rank(parser.Parse("simplex"), 2)
	assert.Equal(t, 3, total)
	assert.Len(t, ranked, 2)

	ranked, total = s.Rank(nil, 10)
	assert.Zero(t, total)
	assert.Empty(t, ranked)
}

func TestStats(t *testing.T) {
	s := mustLoad(t, sampleIndex())
	assert.Equal(t, Stats{Documents: 5, Terms: 4, TitleTerms: 1}, s.Stats())
}
