// Package tokenizer splits field text into index/highlight tokens, honoring
// per-field symbols-to-index, token separators, and locale folding.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Token is one tokenized span of the source text.
type Token struct {
	// Text is the normalized token (lowercased, NFC).
	Text string
	// Raw is the original span as it appears in the source.
	Raw string
	// Position is the token ordinal within the text.
	Position int
	// Start and End are byte offsets of Raw within the source.
	Start int
	End   int
}

// Tokenizer is configured per field from the collection schema.
type Tokenizer struct {
	locale          string
	symbolsToIndex  map[rune]bool
	tokenSeparators map[rune]bool
	caser           cases.Caser
}

// New creates a tokenizer. symbolsToIndex are kept inside tokens;
// tokenSeparators split tokens in addition to whitespace/punctuation.
func New(locale string, symbolsToIndex, tokenSeparators []string) *Tokenizer {
	t := &Tokenizer{
		locale:          locale,
		symbolsToIndex:  runeSet(symbolsToIndex),
		tokenSeparators: runeSet(tokenSeparators),
	}
	tag := language.Und
	if locale != "" {
		tag = language.Make(locale)
	}
	t.caser = cases.Lower(tag)
	return t
}

func runeSet(symbols []string) map[rune]bool {
	set := make(map[rune]bool, len(symbols))
	for _, s := range symbols {
		for _, r := range s {
			set[r] = true
		}
	}
	return set
}

func (t *Tokenizer) isWordRune(r rune) bool {
	if t.tokenSeparators[r] {
		return false
	}
	if t.symbolsToIndex[r] {
		return true
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize splits text into tokens with byte offsets into the source.
func (t *Tokenizer) Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	pos := 0
	for i, r := range text {
		if t.isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, t.makeToken(text[start:i], pos, start, i))
			pos++
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, t.makeToken(text[start:], pos, start, len(text)))
	}
	return tokens
}

func (t *Tokenizer) makeToken(raw string, pos, start, end int) Token {
	return Token{
		Text:     t.Normalize(raw),
		Raw:      raw,
		Position: pos,
		Start:    start,
		End:      end,
	}
}

// Normalize folds a single token: NFC normalization plus locale lowercasing.
func (t *Tokenizer) Normalize(s string) string {
	return t.caser.String(norm.NFC.String(s))
}

// TokenTexts tokenizes and returns just the normalized token strings.
func (t *Tokenizer) TokenTexts(text string) []string {
	tokens := t.Tokenize(text)
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Text
	}
	return out
}

// Detokenize joins tokens with single spaces; together with Tokenize this
// round-trips text modulo the locale's normalization.
func Detokenize(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = tok.Text
	}
	return strings.Join(parts, " ")
}
