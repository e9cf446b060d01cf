package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

// FieldResolver resolves a field name against a collection schema,
// including dynamic field patterns.
type FieldResolver interface {
	ResolveField(name string) (field.Field, bool)
}

// Parse builds the filter tree for a filter expression. When
// validateFieldNames is false, atoms over unknown fields are marked ignored
// instead of failing.
func Parse(query string, schema FieldResolver, validateFieldNames bool) (*Node, error) {
	p := &parser{src: query, schema: schema, validateFields: validateFieldNames}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.pos < len(p.src) {
		return nil, syntaxErr("unexpected %q", p.src[p.pos:])
	}
	return node, nil
}

type parser struct {
	src            string
	pos            int
	schema         FieldResolver
	validateFields bool
}

func syntaxErr(format string, args ...any) error {
	return fmt.Errorf("%w: filter: %s", domain.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peekOperator() (Op, bool) {
	p.skipSpaces()
	if strings.HasPrefix(p.src[p.pos:], "&&") {
		return OpAnd, true
	}
	if strings.HasPrefix(p.src[p.pos:], "||") {
		return OpOr, true
	}
	return OpLeaf, false
}

// parseOr handles the loosest-binding level: and-chains joined by ||.
func (p *parser) parseOr() (*Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOperator()
		if !ok || op != OpOr {
			return left, nil
		}
		p.pos += 2
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = NewOperator(OpOr, left, right)
	}
}

func (p *parser) parseAnd() (*Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOperator()
		if !ok || op != OpAnd {
			return left, nil
		}
		p.pos += 2
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = NewOperator(OpAnd, left, right)
	}
}

func (p *parser) parseTerm() (*Node, error) {
	p.skipSpaces()
	if p.pos >= len(p.src) {
		return nil, syntaxErr("unexpected end of expression")
	}
	switch p.src[p.pos] {
	case '(':
		inner, err := p.balanced('(', ')')
		if err != nil {
			return nil, err
		}
		sub := &parser{src: inner, schema: p.schema, validateFields: p.validateFields}
		node, err := sub.parseOr()
		if err != nil {
			return nil, err
		}
		sub.skipSpaces()
		if sub.pos < len(sub.src) {
			return nil, syntaxErr("unexpected %q", sub.src[sub.pos:])
		}
		return node, nil
	case '$':
		return p.parseReference()
	default:
		return p.parseAtom()
	}
}

// balanced consumes a bracketed run starting at the current position and
// returns the inner text. Backtick-quoted spans are opaque.
func (p *parser) balanced(open, close byte) (string, error) {
	if p.src[p.pos] != open {
		return "", syntaxErr("expected %q", string(open))
	}
	depth := 0
	inQuote := false
	start := p.pos + 1
	for ; p.pos < len(p.src); p.pos++ {
		c := p.src[p.pos]
		if c == '`' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		if c == open {
			depth++
		} else if c == close {
			depth--
			if depth == 0 {
				inner := p.src[start:p.pos]
				p.pos++
				return inner, nil
			}
		}
	}
	return "", syntaxErr("unbalanced %q in %q", string(open), p.src)
}

// parseReference handles `$Coll(expr)` join atoms and the `$Coll(!=expr)`
// negate-join variant.
func (p *parser) parseReference() (*Node, error) {
	start := p.pos
	p.pos++ // consume $
	nameStart := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '(' {
		p.pos++
	}
	name := strings.TrimSpace(p.src[nameStart:p.pos])
	if name == "" {
		return nil, syntaxErr("reference filter requires a collection name")
	}
	if p.pos >= len(p.src) {
		return nil, syntaxErr("reference filter %q requires a parenthesized expression", name)
	}
	inner, err := p.balanced('(', ')')
	if err != nil {
		return nil, err
	}
	atom := Atom{ReferencedCollection: name}
	trimmed := strings.TrimSpace(inner)
	if strings.HasPrefix(trimmed, "!=") {
		atom.IsNegateJoin = true
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "!="))
	}
	if trimmed != "" {
		// The inner expression binds to the referenced collection's schema,
		// which is only reachable at evaluation time through the registry.
		sub, err := Parse(trimmed, unresolvedSchema{}, false)
		if err != nil {
			return nil, err
		}
		atom.SubFilter = sub
	}
	return NewLeaf(atom, p.src[start:p.pos]), nil
}

// unresolvedSchema defers field checks of join sub-expressions to evaluation.
type unresolvedSchema struct{}

func (unresolvedSchema) ResolveField(name string) (field.Field, bool) {
	f, _ := field.New(name, field.Auto)
	return f, true
}

func (p *parser) parseAtom() (*Node, error) {
	start := p.pos
	colon := -1
	for i := p.pos; i < len(p.src); i++ {
		if p.src[i] == ':' {
			colon = i
			break
		}
		if p.src[i] == '&' || p.src[i] == '|' || p.src[i] == ')' {
			break
		}
	}
	if colon < 0 {
		return nil, syntaxErr("expected <field>: in %q", p.src[p.pos:])
	}
	name := strings.TrimSpace(p.src[p.pos:colon])
	if name == "" {
		return nil, syntaxErr("empty field name in %q", p.src[p.pos:])
	}
	p.pos = colon + 1
	rawValue, err := p.scanValue()
	if err != nil {
		return nil, err
	}
	rawValue = strings.TrimSpace(rawValue)
	if rawValue == "" {
		return nil, syntaxErr("field %q has no filter value", name)
	}

	if name == "id" {
		atom, err := parseIDAtom(name, rawValue)
		if err != nil {
			return nil, err
		}
		return NewLeaf(atom, p.src[start:p.pos]), nil
	}

	f, ok := p.schema.ResolveField(name)
	if !ok {
		if p.validateFields {
			return nil, fmt.Errorf("%w: could not find a filter field named %q in the schema",
				domain.ErrNotFound, name)
		}
		return NewLeaf(Atom{FieldName: name, Ignored: true}, p.src[start:p.pos]), nil
	}

	var atom Atom
	if f.IsGeopoint() {
		atom, err = parseGeoAtom(f, rawValue)
	} else {
		atom, err = parseValueAtom(f, rawValue)
	}
	if err != nil {
		return nil, err
	}
	return NewLeaf(atom, p.src[start:p.pos]), nil
}

// scanValue consumes the value part of an atom: up to the next top-level
// && / || / ), honoring (), [] nesting and backtick quoting.
func (p *parser) scanValue() (string, error) {
	p.skipSpaces()
	start := p.pos
	depth := 0
	inQuote := false
	for ; p.pos < len(p.src); p.pos++ {
		c := p.src[p.pos]
		if c == '`' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch c {
		case '(', '[':
			depth++
		case ']':
			depth--
		case ')':
			if depth == 0 {
				return p.src[start:p.pos], nil
			}
			depth--
		case '&', '|':
			if depth == 0 && p.pos+1 < len(p.src) && p.src[p.pos+1] == c {
				return p.src[start:p.pos], nil
			}
		}
	}
	if inQuote {
		return "", syntaxErr("unbalanced backtick in %q", p.src[start:])
	}
	if depth != 0 {
		return "", syntaxErr("unbalanced brackets in %q", p.src[start:])
	}
	return p.src[start:p.pos], nil
}

func parseIDAtom(name, rawValue string) (Atom, error) {
	atom := Atom{FieldName: name}
	values, notEquals, err := splitValues(rawValue)
	if err != nil {
		return Atom{}, err
	}
	atom.ApplyNotEquals = notEquals
	for _, v := range values {
		val, comp, err := extractComparator(v)
		if err != nil {
			return Atom{}, err
		}
		if comp != Equals && comp != NotEquals && comp != Contains {
			return Atom{}, syntaxErr("the id field only supports equality checks")
		}
		if comp == NotEquals {
			atom.ApplyNotEquals = true
		}
		atom.Values = append(atom.Values, unquote(val))
		atom.Comparators = append(atom.Comparators, Equals)
	}
	return atom, nil
}

// parseValueAtom parses non-geo atoms: single values, [lists], ranges, and
// per-value comparators.
func parseValueAtom(f field.Field, rawValue string) (Atom, error) {
	atom := Atom{FieldName: f.Name}
	values, notEquals, err := splitValues(rawValue)
	if err != nil {
		return Atom{}, err
	}
	atom.ApplyNotEquals = notEquals

	for _, v := range values {
		val, comp, err := extractComparator(v)
		if err != nil {
			return Atom{}, err
		}
		if lo, hi, ok := splitRange(val); ok {
			if !f.IsNumerical() {
				return Atom{}, syntaxErr("range filter on non-numeric field %q", f.Name)
			}
			low, err1 := strconv.ParseFloat(lo, 64)
			high, err2 := strconv.ParseFloat(hi, 64)
			if err1 != nil || err2 != nil {
				return Atom{}, syntaxErr("invalid range %q for field %q", val, f.Name)
			}
			atom.Values = append(atom.Values, val)
			atom.Comparators = append(atom.Comparators, RangeInclusive)
			atom.RangeLow = append(atom.RangeLow, low)
			atom.RangeHigh = append(atom.RangeHigh, high)
			continue
		}
		atom.RangeLow = append(atom.RangeLow, 0)
		atom.RangeHigh = append(atom.RangeHigh, 0)

		if comp == NotEquals {
			// Negation applies to the aggregated result of the leaf.
			atom.ApplyNotEquals = true
			comp = Equals
		}
		val = unquote(val)
		switch {
		case f.IsNumerical():
			if err := validateNumeric(f, val); err != nil {
				return Atom{}, err
			}
			if comp == Contains {
				comp = Equals
			}
		default:
			// String semantics: `:` is contains, `:=` is exact equality.
			if comp != Equals {
				comp = Contains
			}
		}
		atom.Values = append(atom.Values, val)
		atom.Comparators = append(atom.Comparators, comp)
	}
	return atom, nil
}

func validateNumeric(f field.Field, val string) error {
	if f.ElementType() == field.Bool {
		if val != "true" && val != "false" {
			return fmt.Errorf("%w: value of field %q must be true or false", domain.ErrInvalidArgument, f.Name)
		}
		return nil
	}
	if _, err := strconv.ParseFloat(val, 64); err != nil {
		return fmt.Errorf("%w: value %q cannot be coerced to the type of field %q",
			domain.ErrInvalidArgument, val, f.Name)
	}
	return nil
}

// splitValues breaks `[a,b,c]` lists into elements; returns the single raw
// value otherwise. A leading `!=` before a list negates the aggregate; a
// leading `=` before a list is carried onto every element.
func splitValues(raw string) ([]string, bool, error) {
	raw = strings.TrimSpace(raw)
	notEquals := false
	elemPrefix := ""
	if strings.HasPrefix(raw, "!=") {
		rest := strings.TrimSpace(raw[2:])
		if strings.HasPrefix(rest, "[") {
			notEquals = true
			raw = rest
		}
	} else if strings.HasPrefix(raw, "=") {
		rest := strings.TrimSpace(raw[1:])
		if strings.HasPrefix(rest, "[") {
			elemPrefix = "="
			raw = rest
		}
	}
	if !strings.HasPrefix(raw, "[") {
		return []string{raw}, notEquals, nil
	}
	if !strings.HasSuffix(raw, "]") {
		return nil, false, syntaxErr("unbalanced [ in %q", raw)
	}
	inner := raw[1 : len(raw)-1]
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '`' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch c {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(inner[start:]); tail != "" {
		out = append(out, tail)
	}
	if len(out) == 0 {
		return nil, false, syntaxErr("empty value list in %q", raw)
	}
	for i := range out {
		out[i] = elemPrefix + out[i]
	}
	return out, notEquals, nil
}

// extractComparator strips a leading comparator from a single value.
func extractComparator(v string) (string, Comparator, error) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasPrefix(v, "<="):
		return strings.TrimSpace(v[2:]), LessThanEquals, nil
	case strings.HasPrefix(v, ">="):
		return strings.TrimSpace(v[2:]), GreaterThanEquals, nil
	case strings.HasPrefix(v, "!="):
		return strings.TrimSpace(v[2:]), NotEquals, nil
	case strings.HasPrefix(v, "<"):
		return strings.TrimSpace(v[1:]), LessThan, nil
	case strings.HasPrefix(v, ">"):
		return strings.TrimSpace(v[1:]), GreaterThan, nil
	case strings.HasPrefix(v, "="):
		return strings.TrimSpace(v[1:]), Equals, nil
	default:
		return v, Contains, nil
	}
}

// splitRange recognizes `low..high` values.
func splitRange(v string) (string, string, bool) {
	i := strings.Index(v, "..")
	if i <= 0 || i+2 >= len(v) {
		return "", "", false
	}
	lo := strings.TrimSpace(v[:i])
	hi := strings.TrimSpace(v[i+2:])
	if lo == "" || hi == "" {
		return "", "", false
	}
	// Guard against float dots: both sides must parse as numbers.
	if _, err := strconv.ParseFloat(lo, 64); err != nil {
		return "", "", false
	}
	if _, err := strconv.ParseFloat(hi, 64); err != nil {
		return "", "", false
	}
	return lo, hi, true
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '`' && v[len(v)-1] == '`' {
		return v[1 : len(v)-1]
	}
	return v
}
