// Package tokenizer normalises document and query text into index terms.
// It lower-cases input, splits on non-word boundaries (letters, digits and
// underscores are word characters), removes stop-words, and applies the
// Porter stemmer used by the documentation generator when it wrote the index.
package tokenizer

import (
	"strings"
	"unicode"

	porterstemmer "github.com/reiver/go-porterstemmer"
)

var stopWords = map[string]struct{}{
	"a": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "if": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "near": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "such": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "will": {}, "with": {},
}

// Token represents a single normalised term, the lower-cased word it was
// derived from, and its position among the kept tokens.
type Token struct {
	Term     string
	Word     string
	Position int
}

// Tokenize breaks text into a slice of stemmed, lowercased Tokens with
// stop-words removed.
func Tokenize(text string) []Token {
	words := Words(text)
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if IsStopWord(word) {
			continue
		}
		tokens = append(tokens, Token{
			Term:     Stem(word),
			Word:     word,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Words lower-cases text and splits it into word runs without stemming or
// stop-word removal. Object names are matched against these.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
}

// Stem returns the index term for an already lower-cased word. Stems that
// collapse a word of three or more characters to fewer than three fall back
// to the word itself, as does any word the stemmer cannot handle.
func Stem(word string) string {
	stemmed, ok := porterStem(word)
	if !ok || (len([]rune(stemmed)) < 3 && len([]rune(word)) >= 3) {
		return word
	}
	return stemmed
}

// porterStem guards StemString, which indexes out of range on a few
// inputs ("eed", "eeds").
func porterStem(word string) (stemmed string, ok bool) {
	defer func() {
		if recover() != nil {
			stemmed, ok = "", false
		}
	}()
	return porterstemmer.StemString(word), true
}

// IsStopWord reports whether the lower-cased word is ignored by queries.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
