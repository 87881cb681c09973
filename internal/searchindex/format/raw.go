// Package format reads and writes the serialized search index emitted by the
// documentation generator. The index is a single object with parallel
// document arrays (docnames, filenames, titles), term tables mapping
// normalised terms to posting lists, an API object table and opaque
// environment version metadata.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

var jsonNull = []byte("null")

// RawIndex mirrors the serialized index object field for field.
type RawIndex struct {
	DocNames   []string                        `json:"docnames"`
	EnvVersion map[string]int                  `json:"envversion,omitempty"`
	FileNames  []string                        `json:"filenames,omitempty"`
	Objects    map[string]map[string]ObjectRef `json:"objects,omitempty"`
	ObjNames   map[string][]string             `json:"objnames,omitempty"`
	ObjTypes   map[string]string               `json:"objtypes,omitempty"`
	Terms      map[string]Postings             `json:"terms"`
	TitleTerms map[string]Postings             `json:"titleterms,omitempty"`
	Titles     []string                        `json:"titles"`
}

// Posting is one document reference inside a term's posting list. Weight is
// 1 unless the index recorded an explicit [doc, weight] pair.
type Posting struct {
	Doc    int
	Weight int
}

// Postings is a term's posting list. On the wire it is either a bare
// document index, or a list whose elements are document indices or
// [doc, weight] pairs.
type Postings []Posting

func (p *Postings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty posting list")
	}
	if bytes.Equal(data, jsonNull) {
		return apperrors.Formatf("posting list is null")
	}
	if data[0] != '[' {
		var doc int
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("posting %s: %w", data, err)
		}
		*p = Postings{{Doc: doc, Weight: 1}}
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("posting list: %w", err)
	}
	out := make(Postings, 0, len(elems))
	for _, elem := range elems {
		posting, err := decodePosting(elem)
		if err != nil {
			return err
		}
		out = append(out, posting)
	}
	*p = out
	return nil
}

func decodePosting(elem json.RawMessage) (Posting, error) {
	elem = bytes.TrimSpace(elem)
	if bytes.Equal(elem, jsonNull) {
		return Posting{}, apperrors.Formatf("null posting")
	}
	if len(elem) > 0 && elem[0] == '[' {
		var pair []*int
		if err := json.Unmarshal(elem, &pair); err != nil {
			return Posting{}, fmt.Errorf("weighted posting %s: %w", elem, err)
		}
		if len(pair) != 2 || pair[0] == nil || pair[1] == nil {
			return Posting{}, apperrors.Formatf("weighted posting %s: want [doc, weight]", elem)
		}
		return Posting{Doc: *pair[0], Weight: *pair[1]}, nil
	}
	var doc int
	if err := json.Unmarshal(elem, &doc); err != nil {
		return Posting{}, fmt.Errorf("posting %s: %w", elem, err)
	}
	return Posting{Doc: doc, Weight: 1}, nil
}

// MarshalJSON writes the most compact form the generator itself would use:
// a bare index for a single unweighted posting, otherwise a list.
func (p Postings) MarshalJSON() ([]byte, error) {
	if len(p) == 1 && p[0].Weight == 1 {
		return json.Marshal(p[0].Doc)
	}
	elems := make([]any, 0, len(p))
	for _, posting := range p {
		if posting.Weight == 1 {
			elems = append(elems, posting.Doc)
		} else {
			elems = append(elems, [2]int{posting.Doc, posting.Weight})
		}
	}
	return json.Marshal(elems)
}

// ObjectRef locates a documented API object: the document it lives in, its
// objtypes index, its search priority and its anchor. An empty anchor means
// the full object name; "-" means "<objname>-<full name>".
type ObjectRef struct {
	Doc      int
	Type     int
	Priority int
	Anchor   string
}

func (o *ObjectRef) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("object entry: %w", err)
	}
	if len(fields) != 4 {
		return fmt.Errorf("object entry %s: want 4 fields, got %d", data, len(fields))
	}
	targets := []any{&o.Doc, &o.Type, &o.Priority, &o.Anchor}
	for i, field := range fields {
		if i < 3 && bytes.Equal(bytes.TrimSpace(field), jsonNull) {
			return apperrors.Formatf("object entry %s: field %d is null", data, i)
		}
		if err := json.Unmarshal(field, targets[i]); err != nil {
			return fmt.Errorf("object entry %s field %d: %w", data, i, err)
		}
	}
	return nil
}

func (o ObjectRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{o.Doc, o.Type, o.Priority, o.Anchor})
}
