package request

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
)

// VectorQuery is a parsed `field:([v1, v2, ...], k: N, ...)` expression.
type VectorQuery struct {
	FieldName string
	Values    []float32
	K         int
	// DocID resolves the query vector from a stored document.
	DocID string
	// Queries are texts embedded and averaged into the query vector.
	Queries      []string
	QueryWeights []float32
	// Alpha weighs the vector side of hybrid rank fusion.
	Alpha float32
	// DistanceThreshold discards hits farther than this.
	DistanceThreshold float32
}

// ParseVectorQuery parses the vector_query parameter or a _vector_query sort
// argument: `field:([0.1, 0.2], k: 10, alpha: 0.4, id: doc1, queries: [a, b])`.
func ParseVectorQuery(raw string) (VectorQuery, error) {
	vq := VectorQuery{Alpha: 0.3, DistanceThreshold: 2.0}
	name, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return vq, fmt.Errorf("%w: malformed vector query %q", domain.ErrInvalidArgument, raw)
	}
	vq.FieldName = strings.TrimSpace(name)
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return vq, fmt.Errorf("%w: malformed vector query %q", domain.ErrInvalidArgument, raw)
	}
	inner := rest[1 : len(rest)-1]

	parts := splitArgs(inner)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i == 0 && strings.HasPrefix(part, "[") {
			vals, err := parseFloatList(part)
			if err != nil {
				return vq, err
			}
			vq.Values = vals
			continue
		}
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return vq, fmt.Errorf("%w: malformed vector query parameter %q", domain.ErrInvalidArgument, part)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "k":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return vq, fmt.Errorf("%w: vector query k must be a positive integer", domain.ErrInvalidArgument)
			}
			vq.K = n
		case "alpha":
			a, err := strconv.ParseFloat(val, 32)
			if err != nil || a < 0 || a > 1 {
				return vq, fmt.Errorf("%w: vector query alpha must be in [0, 1]", domain.ErrInvalidArgument)
			}
			vq.Alpha = float32(a)
		case "distance_threshold":
			d, err := strconv.ParseFloat(val, 32)
			if err != nil {
				return vq, fmt.Errorf("%w: vector query distance_threshold must be a number", domain.ErrInvalidArgument)
			}
			vq.DistanceThreshold = float32(d)
		case "id":
			vq.DocID = val
		case "queries":
			for _, q := range strings.Split(strings.Trim(val, "[]"), ",") {
				if q = strings.TrimSpace(q); q != "" {
					vq.Queries = append(vq.Queries, q)
				}
			}
		case "query_weights":
			ws, err := parseFloatList(val)
			if err != nil {
				return vq, err
			}
			vq.QueryWeights = ws
		default:
			return vq, fmt.Errorf("%w: unknown vector query parameter %q", domain.ErrInvalidArgument, key)
		}
	}
	if len(vq.QueryWeights) > 0 && len(vq.QueryWeights) != len(vq.Queries) {
		return vq, fmt.Errorf("%w: query_weights must match the number of queries", domain.ErrInvalidArgument)
	}
	return vq, nil
}

func parseFloatList(raw string) ([]float32, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil, fmt.Errorf("%w: expected a [..] list, got %q", domain.ErrInvalidArgument, raw)
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidArgument, p)
		}
		out = append(out, float32(v))
	}
	return out, nil
}

// splitArgs splits on top-level commas, keeping [..] lists intact.
func splitArgs(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
