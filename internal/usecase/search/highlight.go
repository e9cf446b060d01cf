package search

import (
	"strings"
	"unicode/utf8"

	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	"github.com/kailas-cloud/omnidex/internal/tokenizer"
	"github.com/kailas-cloud/omnidex/internal/usecase/collection"
)

// infixHighlightMaxLen bounds infix substring highlighting to short texts.
const infixHighlightMaxLen = 100

// highlightDoc builds the v2 nested highlight object and the optional v1
// flat array for one document.
func (s *Service) highlightDoc(h *collection.Handle, pl *plan.Plan, qTokens []string,
	doc domdoc.Doc) (map[string]any, []result.HighlightField) {
	if len(qTokens) == 0 {
		return map[string]any{}, nil
	}

	names := pl.HighlightSpec.Fields
	if len(names) == 0 {
		for _, wf := range pl.Fields {
			names = append(names, wf.Name)
		}
	}
	fullSet := map[string]bool{}
	for _, n := range pl.HighlightSpec.FullFields {
		fullSet[n] = true
	}

	highlight := map[string]any{}
	var flat []result.HighlightField

	for _, name := range names {
		f, ok := h.Meta.ResolveField(name)
		if !ok || (!f.IsString() && !f.IsObject()) {
			continue
		}
		raw, ok := domdoc.GetNested(doc, name)
		if !ok || raw == nil {
			continue
		}
		tok := h.Index.Tokenizer(name)
		infix := false
		for _, wf := range pl.Fields {
			if wf.Name == name && wf.Infix != "off" {
				infix = true
			}
		}

		node, entry := s.highlightValue(tok, pl, qTokens, raw, fullSet[name], infix)
		if node == nil {
			continue
		}
		setNested(highlight, name, node)
		if entry != nil && !strings.Contains(name, ".") {
			entry.Field = name
			flat = append(flat, *entry)
		}
	}
	return highlight, flat
}

// highlightValue recurses into arrays and objects mirroring the stored
// shape; string leaves become {snippet, matched_tokens, value?} objects.
func (s *Service) highlightValue(tok *tokenizer.Tokenizer, pl *plan.Plan, qTokens []string,
	raw any, full, infix bool) (any, *result.HighlightField) {
	switch v := raw.(type) {
	case string:
		snippet, value, matched := highlightText(tok, pl, qTokens, v, full, infix)
		if len(matched) == 0 {
			return nil, nil
		}
		node := map[string]any{
			"snippet":        snippet,
			"matched_tokens": matched,
		}
		entry := &result.HighlightField{Snippet: snippet, MatchedTokens: matched}
		if full {
			node["value"] = value
			entry.Value = value
		}
		return node, entry
	case []any:
		nodes := make([]any, len(v))
		entry := &result.HighlightField{}
		anyMatched := false
		for i, el := range v {
			child, childEntry := s.highlightValue(tok, pl, qTokens, el, full, infix)
			if child == nil {
				if str, ok := el.(string); ok {
					nodes[i] = map[string]any{"snippet": str, "matched_tokens": []string{}}
					entry.Snippets = append(entry.Snippets, str)
				}
				continue
			}
			anyMatched = true
			nodes[i] = child
			if childEntry != nil {
				entry.Snippets = append(entry.Snippets, childEntry.Snippet)
				entry.MatchedTokens = append(entry.MatchedTokens, childEntry.MatchedTokens...)
				entry.Indices = append(entry.Indices, i)
			}
		}
		if !anyMatched {
			return nil, nil
		}
		return nodes, entry
	case map[string]any:
		out := map[string]any{}
		for k, el := range v {
			child, _ := s.highlightValue(tok, pl, qTokens, el, full, infix)
			if child != nil {
				out[k] = child
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}
	return nil, nil
}

// tokenMatch describes how a stored token matched a query token.
type tokenMatch struct {
	qToken     string
	prefixOnly bool
	typos      int
}

// matchToken tests one stored token against the query tokens.
func matchToken(text string, qTokens []string) (tokenMatch, bool) {
	for _, q := range qTokens {
		if text == q {
			return tokenMatch{qToken: q}, true
		}
	}
	for _, q := range qTokens {
		if strings.HasPrefix(text, q) {
			return tokenMatch{qToken: q, prefixOnly: true}, true
		}
	}
	for _, q := range qTokens {
		d := editDistanceAtMost2(text, q)
		if d > 0 {
			return tokenMatch{qToken: q, typos: d}, true
		}
	}
	return tokenMatch{}, false
}

// highlightText builds the snippet and fully highlighted value of one
// string. Prefix-only matches wrap only the prefix (measured in code
// points) unless a typo within two characters makes the whole token count.
// Trailing punctuation stays outside the wrapper because tokens never
// include it.
func highlightText(tok *tokenizer.Tokenizer, pl *plan.Plan, qTokens []string,
	text string, full, infix bool) (snippet, value string, matched []string) {
	spec := pl.HighlightSpec
	tokens := tok.Tokenize(text)

	type span struct {
		start, end int
		token      string
	}
	var spans []span
	firstMatch := -1
	for _, t := range tokens {
		m, ok := matchToken(t.Text, qTokens)
		if !ok {
			continue
		}
		if firstMatch < 0 {
			firstMatch = t.Position
		}
		start, end := t.Start, t.End
		if m.prefixOnly {
			qLen := utf8.RuneCountInString(m.qToken)
			rawLen := utf8.RuneCountInString(t.Raw)
			charDiff := rawLen - qLen
			if m.typos == 0 && charDiff > 2 {
				// Highlight only the matched prefix.
				end = start + byteLenOfRunes(t.Raw, qLen)
			}
		}
		spans = append(spans, span{start: start, end: end, token: t.Raw[:end-start]})
		matched = append(matched, t.Raw[:end-start])
	}

	if len(spans) == 0 && infix && len(text) < infixHighlightMaxLen && len(qTokens) > 0 {
		// Infix fields highlight substring occurrences of the first token.
		lower := strings.ToLower(text)
		if i := strings.Index(lower, qTokens[0]); i >= 0 {
			spans = append(spans, span{start: i, end: i + len(qTokens[0]), token: text[i : i+len(qTokens[0])]})
			matched = append(matched, text[i:i+len(qTokens[0])])
			firstMatch = 0
		}
	}
	if len(spans) == 0 {
		return "", "", nil
	}

	wrap := func(src string, spans []span) string {
		var b strings.Builder
		prev := 0
		for _, sp := range spans {
			if sp.start < prev {
				continue
			}
			b.WriteString(src[prev:sp.start])
			b.WriteString(spec.StartTag)
			b.WriteString(src[sp.start:sp.end])
			b.WriteString(spec.EndTag)
			prev = sp.end
		}
		b.WriteString(src[prev:])
		return b.String()
	}

	if full {
		value = wrap(text, spans)
	}

	// Snippet window: affix tokens on each side of the first match,
	// extended up to the snippet threshold.
	if len(tokens) <= spec.SnippetThreshold {
		snippet = wrap(text, spans)
		return snippet, value, matched
	}
	start := firstMatch - spec.AffixNumTokens
	if start < 0 {
		start = 0
	}
	end := firstMatch + spec.AffixNumTokens
	if end-start+1 < spec.SnippetThreshold {
		end = start + spec.SnippetThreshold - 1
	}
	if end >= len(tokens) {
		end = len(tokens) - 1
	}
	byteStart := tokens[start].Start
	byteEnd := tokens[end].End

	var windowSpans []span
	for _, sp := range spans {
		if sp.start >= byteStart && sp.end <= byteEnd {
			windowSpans = append(windowSpans, span{start: sp.start - byteStart, end: sp.end - byteStart})
		}
	}
	snippet = wrap(text[byteStart:byteEnd], windowSpans)
	return snippet, value, matched
}

// byteLenOfRunes returns the byte length of the first n runes of s.
func byteLenOfRunes(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

// setNested writes a dot-path value into the highlight doc, mirroring the
// stored document's nesting.
func setNested(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = v
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
}

// editDistanceAtMost2 returns the edit distance when it is 1 or 2, else 0.
func editDistanceAtMost2(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > 2 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = minOf3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	d := prev[len(rb)]
	if d == 1 || d == 2 {
		return d
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minOf3(a, b, c int) int {
	if a < b {
		b = a
	}
	if b < c {
		return b
	}
	return c
}
