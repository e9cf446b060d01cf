// Package sort parses and validates sort_by clauses into resolved sort specs.
package sort

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
)

// MaxClauses is the maximum number of effective sort clauses.
const MaxClauses = 3

// Special sort clause names.
const (
	TextMatch        = "_text_match"
	VectorDistance   = "_vector_distance"
	VectorQuery      = "_vector_query"
	Eval             = "_eval"
	RandomOrder      = "_random_order"
	SeqID            = "_seq_id"
	GroupFound       = "_group_found"
	UnionSearchIndex = "_union_search_index"
)

// Order is the sort direction.
type Order string

// Sort directions.
const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Kind discriminates resolved clause behavior.
type Kind int

// Clause kinds.
const (
	KindField Kind = iota
	KindTextMatch
	KindVectorDistance
	KindVectorQuery
	KindEval
	KindRandom
	KindSeqID
	KindGroupFound
	KindUnionIndex
	KindGeo
	KindDecay
)

// DecayFunc names a numeric decay scoring function.
type DecayFunc string

// Decay functions for numeric/date sort clauses.
const (
	DecayGauss  DecayFunc = "gauss"
	DecayExp    DecayFunc = "exp"
	DecayLinear DecayFunc = "linear"
	DecayDiff   DecayFunc = "diff"
)

// DecaySpec parameterizes decay scoring over a numeric field.
type DecaySpec struct {
	Func          DecayFunc
	Origin        float64
	Scale         float64
	Offset        float64
	Decay         float64
	MissingValues string // first | last
}

// EvalExpr is one filter expression of an _eval clause with its score.
type EvalExpr struct {
	Expr  *filter.Node
	Score int64
}

// Clause is one resolved sort criterion.
type Clause struct {
	Name  string
	Order Order
	Kind  Kind

	// Buckets / BucketSize configure coarse rescoring for text match and
	// vector distance clauses. Zero means disabled.
	Buckets    int
	BucketSize int

	// VectorQueryRaw holds the `field:[..]` expression of a _vector_query
	// clause; the assembler resolves it to a dense vector.
	VectorQueryRaw string

	EvalExprs []EvalExpr

	RandomSeed uint64

	// Geo parameters (meters).
	GeoLat, GeoLng float64
	ExcludeRadius  float64
	GeoPrecision   float64

	Decay *DecaySpec

	// FieldType backs the union sort-type compatibility check.
	FieldType field.Type
}

// TypeLabel names the clause's sort value type for union compatibility diffs.
func (c Clause) TypeLabel() string {
	switch c.Kind {
	case KindTextMatch:
		return "text_match"
	case KindVectorDistance, KindVectorQuery:
		return "vector"
	case KindEval:
		return "eval"
	case KindRandom:
		return "random"
	case KindSeqID:
		return "seq_id"
	case KindGroupFound:
		return "group_found"
	case KindUnionIndex:
		return "union_search_index"
	case KindGeo:
		return "geopoint"
	case KindDecay:
		return "decay"
	default:
		return string(c.FieldType)
	}
}

// Schema resolves sortable fields during clause validation.
type Schema interface {
	ResolveField(name string) (field.Field, bool)
}

// Parse resolves raw sort_by clauses ("name(params):order") against the
// schema. Filter sub-expressions of _eval are parsed with the same schema.
func Parse(rawClauses []string, schema Schema) ([]Clause, error) {
	var out []Clause
	evalSeen := false
	for _, raw := range rawClauses {
		c, err := parseClause(raw, schema)
		if err != nil {
			return nil, err
		}
		if c.Kind == KindEval {
			if evalSeen {
				return nil, fmt.Errorf("%w: only one _eval sort clause is allowed", domain.ErrInvalidArgument)
			}
			evalSeen = true
		}
		out = append(out, c)
	}
	if len(out) > MaxClauses {
		return nil, fmt.Errorf("%w: only up to %d sort fields are allowed", domain.ErrInvalidArgument, MaxClauses)
	}
	return out, nil
}

func parseClause(raw string, schema Schema) (Clause, error) {
	raw = strings.TrimSpace(raw)
	name, params, order, err := splitClause(raw)
	if err != nil {
		return Clause{}, err
	}

	c := Clause{Name: name, Order: order}
	switch name {
	case TextMatch:
		c.Kind = KindTextMatch
		return c, parseBucketParams(&c, params)
	case VectorDistance:
		c.Kind = KindVectorDistance
		return c, parseBucketParams(&c, params)
	case VectorQuery:
		c.Kind = KindVectorQuery
		if params == "" {
			return Clause{}, fmt.Errorf("%w: _vector_query requires a field:[..] parameter", domain.ErrInvalidArgument)
		}
		c.VectorQueryRaw = params
		return c, nil
	case Eval:
		c.Kind = KindEval
		return c, parseEvalParams(&c, params, schema)
	case RandomOrder:
		c.Kind = KindRandom
		if params != "" {
			seed, err := strconv.ParseUint(strings.TrimSpace(params), 10, 64)
			if err != nil {
				return Clause{}, fmt.Errorf("%w: _random_order seed must be an unsigned integer", domain.ErrInvalidArgument)
			}
			c.RandomSeed = seed
		}
		return c, nil
	case SeqID:
		c.Kind = KindSeqID
		return c, nil
	case GroupFound:
		c.Kind = KindGroupFound
		return c, nil
	case UnionSearchIndex:
		c.Kind = KindUnionIndex
		return c, nil
	}

	f, ok := schema.ResolveField(name)
	if !ok {
		return Clause{}, fmt.Errorf("%w: could not find a field named %q in the schema for sorting",
			domain.ErrNotFound, name)
	}
	if !f.Sort {
		return Clause{}, fmt.Errorf("%w: field %q is not a sort-enabled field", domain.ErrInvalidArgument, name)
	}
	c.FieldType = f.Type

	switch {
	case f.IsGeopoint():
		c.Kind = KindGeo
		return c, parseGeoParams(&c, params)
	case strings.Contains(params, "func:"):
		if !f.IsNumerical() {
			return Clause{}, fmt.Errorf("%w: decay sorting requires a numerical field, %q is %s",
				domain.ErrInvalidArgument, name, f.Type)
		}
		c.Kind = KindDecay
		return c, parseDecayParams(&c, params)
	default:
		c.Kind = KindField
		if params != "" {
			return Clause{}, fmt.Errorf("%w: field %q does not accept sort parameters %q",
				domain.ErrInvalidArgument, name, params)
		}
		return c, nil
	}
}

// splitClause breaks "name(params):order" into its parts. The trailing
// ":asc|:desc" is located from the right so parenthesized params may contain
// colons.
func splitClause(raw string) (name, params string, order Order, err error) {
	i := strings.LastIndex(raw, ":")
	if i < 0 {
		return "", "", "", fmt.Errorf("%w: sort clause %q must end with :asc or :desc", domain.ErrInvalidArgument, raw)
	}
	switch strings.ToLower(strings.TrimSpace(raw[i+1:])) {
	case "asc":
		order = Asc
	case "desc":
		order = Desc
	default:
		return "", "", "", fmt.Errorf("%w: sort order of %q must be asc or desc", domain.ErrInvalidArgument, raw)
	}
	head := strings.TrimSpace(raw[:i])
	if j := strings.Index(head, "("); j >= 0 {
		if !strings.HasSuffix(head, ")") {
			return "", "", "", fmt.Errorf("%w: unbalanced parenthesis in sort clause %q", domain.ErrInvalidArgument, raw)
		}
		return strings.TrimSpace(head[:j]), strings.TrimSpace(head[j+1 : len(head)-1]), order, nil
	}
	return head, "", order, nil
}

func parseBucketParams(c *Clause, params string) error {
	if params == "" {
		return nil
	}
	for _, part := range strings.Split(params, ",") {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("%w: invalid sort parameter %q", domain.ErrInvalidArgument, part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: sort parameter %q must be a positive integer", domain.ErrInvalidArgument, part)
		}
		switch strings.TrimSpace(key) {
		case "buckets":
			c.Buckets = n
		case "bucket_size":
			c.BucketSize = n
		default:
			return fmt.Errorf("%w: unknown sort parameter %q for %s", domain.ErrInvalidArgument, key, c.Name)
		}
	}
	return nil
}

// parseEvalParams parses `_eval(expr1: score1, expr2: score2)` where each
// expr is a filter expression. The trailing `: score` of each entry is
// located from the right of the entry.
func parseEvalParams(c *Clause, params string, schema Schema) error {
	if params == "" {
		return fmt.Errorf("%w: _eval requires at least one filter expression", domain.ErrInvalidArgument)
	}
	for _, entry := range splitTopLevel(params, ',') {
		entry = strings.TrimSpace(entry)
		i := strings.LastIndex(entry, ":")
		score := int64(1)
		expr := entry
		if i > 0 {
			if n, err := strconv.ParseInt(strings.TrimSpace(entry[i+1:]), 10, 64); err == nil {
				score = n
				expr = strings.TrimSpace(entry[:i])
			}
		}
		fieldSchema, ok := schema.(filter.FieldResolver)
		if !ok {
			return fmt.Errorf("%w: _eval is not supported here", domain.ErrInvalidArgument)
		}
		node, err := filter.Parse(expr, fieldSchema, true)
		if err != nil {
			return err
		}
		c.EvalExprs = append(c.EvalExprs, EvalExpr{Expr: node, Score: score})
	}
	return nil
}

func parseGeoParams(c *Clause, params string) error {
	if params == "" {
		return fmt.Errorf("%w: geopoint sorting requires (lat, lng)", domain.ErrInvalidArgument)
	}
	var coords []float64
	for _, part := range strings.Split(params, ",") {
		part = strings.TrimSpace(part)
		if key, val, ok := strings.Cut(part, ":"); ok {
			meters, err := parseSortDistance(strings.TrimSpace(val))
			if err != nil {
				return err
			}
			switch strings.TrimSpace(key) {
			case "exclude_radius":
				c.ExcludeRadius = meters
			case "precision":
				c.GeoPrecision = meters
			default:
				return fmt.Errorf("%w: unknown geo sort parameter %q", domain.ErrInvalidArgument, key)
			}
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return fmt.Errorf("%w: geo sort coordinate %q is not a number", domain.ErrInvalidArgument, part)
		}
		coords = append(coords, v)
	}
	if len(coords) != 2 {
		return fmt.Errorf("%w: geopoint sorting requires exactly one lat,lng pair", domain.ErrInvalidArgument)
	}
	c.GeoLat, c.GeoLng = coords[0], coords[1]
	return nil
}

func parseSortDistance(val string) (float64, error) {
	parts := strings.Fields(val)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: distance %q must be `<number> km|mi`", domain.ErrInvalidArgument, val)
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: distance %q must be a positive number", domain.ErrInvalidArgument, val)
	}
	switch parts[1] {
	case "km":
		return v * 1000, nil
	case "mi":
		return v * 1609.344, nil
	default:
		return 0, fmt.Errorf("%w: distance unit must be km or mi, got %q", domain.ErrInvalidArgument, parts[1])
	}
}

func parseDecayParams(c *Clause, params string) error {
	spec := DecaySpec{Decay: 0.5, MissingValues: "last"}
	haveOrigin, haveScale := false, false
	for _, part := range strings.Split(params, ",") {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("%w: invalid decay parameter %q", domain.ErrInvalidArgument, part)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "func":
			switch DecayFunc(val) {
			case DecayGauss, DecayExp, DecayLinear, DecayDiff:
				spec.Func = DecayFunc(val)
			default:
				return fmt.Errorf("%w: decay func must be gauss, exp, linear or diff", domain.ErrInvalidArgument)
			}
		case "origin":
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("%w: decay origin must be a number", domain.ErrInvalidArgument)
			}
			spec.Origin, haveOrigin = v, true
		case "scale":
			v, err := strconv.ParseFloat(val, 64)
			if err != nil || v == 0 {
				return fmt.Errorf("%w: decay scale must be a non-zero number", domain.ErrInvalidArgument)
			}
			spec.Scale, haveScale = v, true
		case "offset":
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("%w: decay offset must be a number", domain.ErrInvalidArgument)
			}
			spec.Offset = v
		case "decay":
			v, err := strconv.ParseFloat(val, 64)
			if err != nil || v < 0 || v > 1 {
				return fmt.Errorf("%w: decay must be in [0, 1]", domain.ErrInvalidArgument)
			}
			spec.Decay = v
		case "missing_values":
			if val != "first" && val != "last" {
				return fmt.Errorf("%w: missing_values must be first or last", domain.ErrInvalidArgument)
			}
			spec.MissingValues = val
		default:
			return fmt.Errorf("%w: unknown decay parameter %q", domain.ErrInvalidArgument, key)
		}
	}
	if spec.Func == "" {
		return fmt.Errorf("%w: decay sorting requires func", domain.ErrInvalidArgument)
	}
	if !haveOrigin || (!haveScale && spec.Func != DecayDiff) {
		return fmt.Errorf("%w: decay sorting requires origin and scale", domain.ErrInvalidArgument)
	}
	c.Decay = &spec
	return nil
}

// splitTopLevel splits on sep outside of (), [] and backtick quotes.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// ApplyDefaults appends the implicit sort chain: _text_match desc for
// non-wildcard queries (or _vector_distance asc for pure vector queries),
// then the collection's default sorting field, then _seq_id desc. Union
// searches get the _union_search_index/_seq_id tie-break pair appended when
// fewer than two clauses are present.
func ApplyDefaults(clauses []Clause, wildcard, vectorQuery, isUnion bool, defaultSortingField string,
	schema Schema) []Clause {
	if len(clauses) == 0 {
		if !wildcard {
			clauses = append(clauses, Clause{Name: TextMatch, Kind: KindTextMatch, Order: Desc})
		} else if vectorQuery {
			clauses = append(clauses, Clause{Name: VectorDistance, Kind: KindVectorDistance, Order: Asc})
		}
		if defaultSortingField != "" && len(clauses) < MaxClauses {
			if f, ok := schema.ResolveField(defaultSortingField); ok {
				clauses = append(clauses, Clause{
					Name: defaultSortingField, Kind: KindField, Order: Desc, FieldType: f.Type,
				})
			}
		}
		if len(clauses) < MaxClauses {
			clauses = append(clauses, Clause{Name: SeqID, Kind: KindSeqID, Order: Desc})
		}
	}
	if isUnion && len(clauses) < 2 {
		clauses = append(clauses, Clause{Name: UnionSearchIndex, Kind: KindUnionIndex, Order: Asc})
		if len(clauses) < MaxClauses {
			clauses = append(clauses, Clause{Name: SeqID, Kind: KindSeqID, Order: Desc})
		}
	}
	if len(clauses) > MaxClauses {
		clauses = clauses[:MaxClauses]
	}
	return clauses
}
