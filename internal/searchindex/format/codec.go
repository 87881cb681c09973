package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

const (
	scriptPrefix = "Search.setIndex("
	scriptSuffix = ")"
)

// Style selects the envelope Encode writes.
type Style int

const (
	// StyleScript wraps the object in Search.setIndex(...) so the output can
	// be dropped into a documentation build unchanged.
	StyleScript Style = iota
	StyleJSON
)

// Decode reads a search index in either script form (Search.setIndex({...})
// with unquoted keys) or plain JSON. Structural problems are reported as
// ErrFormat.
func Decode(r io.Reader) (*RawIndex, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading search index: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte) (*RawIndex, error) {
	body := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if bytes.HasPrefix(body, []byte(scriptPrefix)) {
		body = bytes.TrimSuffix(body, []byte(";"))
		body = bytes.TrimSpace(body)
		if !bytes.HasSuffix(body, []byte(scriptSuffix)) {
			return nil, apperrors.Formatf("unterminated %s call", scriptPrefix)
		}
		body = body[len(scriptPrefix) : len(body)-len(scriptSuffix)]
	}
	if len(body) == 0 || body[0] != '{' {
		return nil, apperrors.Formatf("search index is not an object")
	}
	normalized, err := quoteKeys(body)
	if err != nil {
		return nil, err
	}
	var raw RawIndex
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return nil, apperrors.Formatf("decoding search index: %v", err)
	}
	return &raw, nil
}

// Encode writes raw in the requested style.
func Encode(w io.Writer, raw *RawIndex, style Style) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding search index: %w", err)
	}
	if style == StyleScript {
		data = append(append([]byte(scriptPrefix), data...), scriptSuffix...)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing search index: %w", err)
	}
	return nil
}

// quoteKeys rewrites a JavaScript object literal into JSON by quoting bare
// object keys. A bare word is a key exactly when the next non-space byte is
// a colon; everything else, including string contents, is copied through.
func quoteKeys(src []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(src) + len(src)/8)
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"':
			end, err := stringEnd(src, i)
			if err != nil {
				return nil, err
			}
			out.Write(src[i:end])
			i = end
		case isBareByte(c):
			start := i
			for i < len(src) && isBareByte(src[i]) {
				i++
			}
			word := src[start:i]
			j := i
			for j < len(src) && isSpace(src[j]) {
				j++
			}
			if j < len(src) && src[j] == ':' {
				out.WriteByte('"')
				out.Write(word)
				out.WriteByte('"')
			} else {
				out.Write(word)
			}
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.Bytes(), nil
}

// stringEnd returns the offset just past the string literal starting at
// src[start].
func stringEnd(src []byte, start int) (int, error) {
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '"':
			return i + 1, nil
		}
	}
	return 0, apperrors.Formatf("unterminated string at offset %d", start)
}

func isBareByte(c byte) bool {
	return c == '_' || c == '$' || c == '-' || c == '+' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
