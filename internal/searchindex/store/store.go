// Package store holds a loaded documentation search index: the document
// tables (paths, source files, titles), the body and title term tables and
// the API object table. A Store is immutable once Load returns, so any
// number of goroutines may query it without locking.
package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/format"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// Document is one indexed page.
type Document struct {
	ID    int    `json:"id"`
	Path  string `json:"path"`
	File  string `json:"file,omitempty"`
	Title string `json:"title"`
}

type termEntry struct {
	postings format.Postings
	docs     *roaring.Bitmap
}

type termTable struct {
	entries map[string]*termEntry
	// keys is sorted so partial matches visit terms in a fixed order.
	keys []string
}

func (t termTable) lookup(term string) (*termEntry, bool) {
	e, ok := t.entries[term]
	return e, ok
}

// Object is a documented API object (module, class, function, ...).
type Object struct {
	Prefix   string
	Name     string
	FullName string
	Doc      int
	Type     int
	Priority int
	Anchor   string
}

type Store struct {
	docs       []Document
	terms      termTable
	titleTerms termTable
	objects    []Object
	objTypes   map[int]string
	objNames   map[int][]string
	envVersion map[string]int
	hasFiles   bool

	mode    parser.QueryType
	weights ranker.Weights
}

// Option configures a Store at load time.
type Option func(*Store)

// WithMatchMode sets the match mode used by queries that do not name one.
// QueryDefault is treated as QueryAND.
func WithMatchMode(mode parser.QueryType) Option {
	return func(s *Store) {
		if mode != parser.QueryDefault {
			s.mode = mode
		}
	}
}

// WithWeights overrides the ranking weights.
func WithWeights(w ranker.Weights) Option {
	return func(s *Store) {
		s.weights = w
	}
}

// Stats summarises a loaded store.
type Stats struct {
	Documents  int `json:"documents"`
	Terms      int `json:"terms"`
	TitleTerms int `json:"title_terms"`
	Objects    int `json:"objects"`
}

// Load validates raw and builds the in-memory tables. Term keys are
// lower-cased; postings that collapse onto the same term and document have
// their weights summed. Any length mismatch between the parallel document
// arrays, or any reference to a document or object type that does not
// exist, fails with ErrFormat.
func Load(raw *format.RawIndex, opts ...Option) (*Store, error) {
	if raw == nil {
		return nil, apperrors.Formatf("nil index")
	}
	n := len(raw.DocNames)
	if len(raw.Titles) != n {
		return nil, apperrors.Formatf("titles has %d entries, docnames has %d", len(raw.Titles), n)
	}
	if len(raw.FileNames) != 0 && len(raw.FileNames) != n {
		return nil, apperrors.Formatf("filenames has %d entries, docnames has %d", len(raw.FileNames), n)
	}

	s := &Store{
		docs:       make([]Document, n),
		objTypes:   make(map[int]string, len(raw.ObjTypes)),
		objNames:   make(map[int][]string, len(raw.ObjNames)),
		envVersion: make(map[string]int, len(raw.EnvVersion)),
		hasFiles:   len(raw.FileNames) != 0,
		mode:       parser.QueryAND,
		weights:    ranker.DefaultWeights(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, name := range raw.DocNames {
		doc := Document{ID: i, Path: name, Title: raw.Titles[i]}
		if s.hasFiles {
			doc.File = raw.FileNames[i]
		}
		s.docs[i] = doc
	}

	var err error
	if s.terms, err = buildTable("terms", raw.Terms, n); err != nil {
		return nil, err
	}
	if s.titleTerms, err = buildTable("titleterms", raw.TitleTerms, n); err != nil {
		return nil, err
	}
	if err := s.loadObjects(raw); err != nil {
		return nil, err
	}
	for k, v := range raw.EnvVersion {
		s.envVersion[k] = v
	}
	return s, nil
}

func buildTable(section string, raw map[string]format.Postings, numDocs int) (termTable, error) {
	merged := make(map[string]map[int]int, len(raw))
	for key, postings := range raw {
		term := strings.ToLower(key)
		byDoc, ok := merged[term]
		if !ok {
			byDoc = make(map[int]int, len(postings))
			merged[term] = byDoc
		}
		for _, p := range postings {
			if p.Doc < 0 || p.Doc >= numDocs {
				return termTable{}, apperrors.Formatf("%s[%q] references document %d, index has %d", section, key, p.Doc, numDocs)
			}
			if p.Weight < 1 {
				return termTable{}, apperrors.Formatf("%s[%q] has weight %d for document %d", section, key, p.Weight, p.Doc)
			}
			byDoc[p.Doc] += p.Weight
		}
	}

	table := termTable{
		entries: make(map[string]*termEntry, len(merged)),
		keys:    make([]string, 0, len(merged)),
	}
	for term, byDoc := range merged {
		entry := &termEntry{
			postings: make(format.Postings, 0, len(byDoc)),
			docs:     roaring.New(),
		}
		for doc, weight := range byDoc {
			entry.postings = append(entry.postings, format.Posting{Doc: doc, Weight: weight})
			entry.docs.Add(uint32(doc))
		}
		sort.Slice(entry.postings, func(i, j int) bool {
			return entry.postings[i].Doc < entry.postings[j].Doc
		})
		entry.docs.RunOptimize()
		table.entries[term] = entry
		table.keys = append(table.keys, term)
	}
	sort.Strings(table.keys)
	return table, nil
}

func (s *Store) loadObjects(raw *format.RawIndex) error {
	for key, name := range raw.ObjTypes {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return apperrors.Formatf("objtypes key %q is not an integer", key)
		}
		s.objTypes[idx] = name
	}
	for key, names := range raw.ObjNames {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return apperrors.Formatf("objnames key %q is not an integer", key)
		}
		s.objNames[idx] = append([]string(nil), names...)
	}
	for prefix, members := range raw.Objects {
		for name, ref := range members {
			if ref.Doc < 0 || ref.Doc >= len(s.docs) {
				return apperrors.Formatf("object %q references document %d, index has %d", joinName(prefix, name), ref.Doc, len(s.docs))
			}
			if _, ok := s.objTypes[ref.Type]; !ok {
				return apperrors.Formatf("object %q has unknown type %d", joinName(prefix, name), ref.Type)
			}
			s.objects = append(s.objects, Object{
				Prefix:   prefix,
				Name:     name,
				FullName: joinName(prefix, name),
				Doc:      ref.Doc,
				Type:     ref.Type,
				Priority: ref.Priority,
				Anchor:   ref.Anchor,
			})
		}
	}
	sort.Slice(s.objects, func(i, j int) bool {
		if s.objects[i].FullName != s.objects[j].FullName {
			return s.objects[i].FullName < s.objects[j].FullName
		}
		return s.objects[i].Doc < s.objects[j].Doc
	})
	return nil
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Len returns the number of documents.
func (s *Store) Len() int {
	return len(s.docs)
}

// Document returns the document with the given index.
func (s *Store) Document(id int) (Document, error) {
	if id < 0 || id >= len(s.docs) {
		return Document{}, apperrors.NotFoundf("document %d (index has %d)", id, len(s.docs))
	}
	return s.docs[id], nil
}

// TitleOf returns the display title of a document.
func (s *Store) TitleOf(id int) (string, error) {
	doc, err := s.Document(id)
	if err != nil {
		return "", err
	}
	return doc.Title, nil
}

// PathOf returns the extension-less relative path of a document.
func (s *Store) PathOf(id int) (string, error) {
	doc, err := s.Document(id)
	if err != nil {
		return "", err
	}
	return doc.Path, nil
}

// Postings returns a copy of the body posting list for an already
// normalised term, or nil if the term is absent.
func (s *Store) Postings(term string) format.Postings {
	e, ok := s.terms.lookup(term)
	if !ok {
		return nil
	}
	return append(format.Postings(nil), e.postings...)
}

// TitlePostings is Postings over the title term table.
func (s *Store) TitlePostings(term string) format.Postings {
	e, ok := s.titleTerms.lookup(term)
	if !ok {
		return nil
	}
	return append(format.Postings(nil), e.postings...)
}

// EnvVersion returns a copy of the generator's environment metadata.
func (s *Store) EnvVersion() map[string]int {
	out := make(map[string]int, len(s.envVersion))
	for k, v := range s.envVersion {
		out[k] = v
	}
	return out
}

// MatchMode reports the store's default match mode.
func (s *Store) MatchMode() parser.QueryType {
	return s.mode
}

func (s *Store) Stats() Stats {
	return Stats{
		Documents:  len(s.docs),
		Terms:      len(s.terms.keys),
		TitleTerms: len(s.titleTerms.keys),
		Objects:    len(s.objects),
	}
}

// Raw serialises the store back into the index format. Loading the result
// yields a store that answers every query identically.
func (s *Store) Raw() *format.RawIndex {
	raw := &format.RawIndex{
		DocNames:   make([]string, len(s.docs)),
		Titles:     make([]string, len(s.docs)),
		Terms:      rawTable(s.terms),
		TitleTerms: rawTable(s.titleTerms),
	}
	if s.hasFiles {
		raw.FileNames = make([]string, len(s.docs))
	}
	for i, doc := range s.docs {
		raw.DocNames[i] = doc.Path
		raw.Titles[i] = doc.Title
		if s.hasFiles {
			raw.FileNames[i] = doc.File
		}
	}
	if len(s.envVersion) > 0 {
		raw.EnvVersion = s.EnvVersion()
	}
	if len(s.objTypes) > 0 {
		raw.ObjTypes = make(map[string]string, len(s.objTypes))
		for idx, name := range s.objTypes {
			raw.ObjTypes[strconv.Itoa(idx)] = name
		}
	}
	if len(s.objNames) > 0 {
		raw.ObjNames = make(map[string][]string, len(s.objNames))
		for idx, names := range s.objNames {
			raw.ObjNames[strconv.Itoa(idx)] = append([]string(nil), names...)
		}
	}
	if len(s.objects) > 0 {
		raw.Objects = make(map[string]map[string]format.ObjectRef)
		for _, obj := range s.objects {
			members, ok := raw.Objects[obj.Prefix]
			if !ok {
				members = make(map[string]format.ObjectRef)
				raw.Objects[obj.Prefix] = members
			}
			members[obj.Name] = format.ObjectRef{
				Doc:      obj.Doc,
				Type:     obj.Type,
				Priority: obj.Priority,
				Anchor:   obj.Anchor,
			}
		}
	}
	return raw
}

func rawTable(t termTable) map[string]format.Postings {
	out := make(map[string]format.Postings, len(t.entries))
	for term, e := range t.entries {
		out[term] = append(format.Postings{}, e.postings...)
	}
	return out
}
