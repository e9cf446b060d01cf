// Package document implements the stored JSON document representation:
// nested-field flattening, schema coercion, and response pruning.
package document

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

// FlatKey is the hidden array of flattened child paths kept inside a stored
// document. No user field may carry this name.
const FlatKey = ".flat"

// DirtyValues controls how documents that disagree with the schema are handled.
type DirtyValues int

// Dirty value handling modes.
const (
	CoerceOrReject DirtyValues = iota
	CoerceOrDrop
	Drop
	Reject
)

// Doc is a parsed JSON document.
type Doc = map[string]any

// Flatten walks the nested object fields of doc and records each primitive
// leaf under its dot-path, appending the created paths to the hidden ".flat"
// list. Existing flattened entries are replaced.
func Flatten(doc Doc, fields []field.Field) error {
	var flat []string
	for _, f := range fields {
		if !f.IsObject() && !strings.Contains(f.Name, ".") {
			continue
		}
		root := strings.SplitN(f.Name, ".", 2)[0]
		val, ok := doc[root]
		if !ok {
			continue
		}
		flattenValue(root, val, doc, &flat)
	}
	if len(flat) > 0 {
		sort.Strings(flat)
		flat = dedupe(flat)
		doc[FlatKey] = flat
	}
	return nil
}

func flattenValue(path string, val any, doc Doc, flat *[]string) {
	switch v := val.(type) {
	case map[string]any:
		for k, child := range v {
			flattenValue(path+"."+k, child, doc, flat)
		}
	case []any:
		// Arrays of objects flatten each element's leaves into one array
		// per child path so posting lists stay per-path.
		merged := map[string][]any{}
		plainArray := true
		for _, el := range v {
			if obj, ok := el.(map[string]any); ok {
				plainArray = false
				collectLeaves(path, obj, merged)
			}
		}
		if plainArray {
			if path != "" && !isTopLevel(path) {
				doc[path] = v
				*flat = append(*flat, path)
			}
			return
		}
		for childPath, vals := range merged {
			doc[childPath] = vals
			*flat = append(*flat, childPath)
		}
	default:
		if !isTopLevel(path) {
			doc[path] = v
			*flat = append(*flat, path)
		}
	}
}

func collectLeaves(prefix string, obj map[string]any, merged map[string][]any) {
	for k, v := range obj {
		p := prefix + "." + k
		switch child := v.(type) {
		case map[string]any:
			collectLeaves(p, child, merged)
		case []any:
			merged[p] = append(merged[p], child...)
		default:
			merged[p] = append(merged[p], v)
		}
	}
}

func isTopLevel(path string) bool { return !strings.Contains(path, ".") }

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

// GetNested fetches a dot-path value from doc, descending through objects.
func GetNested(doc Doc, path string) (any, bool) {
	if v, ok := doc[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	cur := any(doc)
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Validate coerces doc against the schema in place. Mode CoerceOrReject
// returns a typed error on irreconcilable values; CoerceOrDrop and Drop
// remove the offending field instead.
func Validate(doc Doc, fields []field.Field, mode DirtyValues) error {
	for _, f := range fields {
		if f.Name == ".*" || f.IsObject() || f.IsReferenceHelper() {
			continue
		}
		raw, ok := doc[f.Name]
		if !ok || raw == nil {
			if f.Optional || f.IsDynamic() || f.IsAutoEmbedding() {
				continue
			}
			return fmt.Errorf("%w: field %q has been declared in the schema, but is not found in the document",
				domain.ErrInvalidArgument, f.Name)
		}
		coerced, err := coerce(raw, f)
		if err != nil {
			switch mode {
			case CoerceOrDrop, Drop:
				delete(doc, f.Name)
				continue
			default:
				return err
			}
		}
		doc[f.Name] = coerced
	}
	return nil
}

func coerce(raw any, f field.Field) (any, error) {
	if f.IsArray() || f.Type == field.StringOrArray {
		arr, ok := raw.([]any)
		if !ok {
			if f.Type == field.StringOrArray {
				return coerceScalar(raw, field.String, f.Name)
			}
			return nil, typeError(f.Name, f.Type, raw)
		}
		out := make([]any, len(arr))
		for i, el := range arr {
			v, err := coerceScalar(el, f.ElementType(), f.Name)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return coerceScalar(raw, f.Type, f.Name)
}

func coerceScalar(raw any, t field.Type, name string) (any, error) {
	switch t {
	case field.String, field.StringOrArray:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return strconv.FormatInt(int64(v), 10), nil
			}
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
	case field.Int32:
		if v, ok := raw.(float64); ok && v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return int64(v), nil
		}
		if v, ok := raw.(int64); ok && v >= math.MinInt32 && v <= math.MaxInt32 {
			return v, nil
		}
		if v, ok := raw.(string); ok {
			if n, err := strconv.ParseInt(v, 10, 32); err == nil {
				return n, nil
			}
		}
	case field.Int64:
		if v, ok := raw.(float64); ok && v == math.Trunc(v) {
			return int64(v), nil
		}
		if v, ok := raw.(int64); ok {
			return v, nil
		}
		if v, ok := raw.(string); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, nil
			}
		}
	case field.Float:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
	case field.Bool:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
		if v, ok := raw.(string); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
	case field.Geopoint:
		if pair, ok := raw.([]any); ok && len(pair) == 2 {
			lat, okLat := asFloat(pair[0])
			lng, okLng := asFloat(pair[1])
			if okLat && okLng && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 {
				return []any{lat, lng}, nil
			}
		}
	case field.Auto:
		return raw, nil
	}
	return nil, typeError(name, t, raw)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func typeError(name string, t field.Type, raw any) error {
	return fmt.Errorf("%w: field %q must be %s, found %T", domain.ErrInvalidArgument, name, t, raw)
}

// Prune returns a copy of doc restricted to include (when non-empty) minus
// exclude, with the hidden ".flat" list and reference helper fields stripped.
func Prune(doc Doc, include, exclude map[string]bool) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		if k == FlatKey || strings.HasSuffix(k, field.ReferenceHelperSuffix) {
			continue
		}
		if isFlattenedChild(doc, k) {
			continue
		}
		if len(include) > 0 && !includeMatch(include, k) {
			continue
		}
		if excludeMatch(exclude, k) {
			continue
		}
		out[k] = v
	}
	return out
}

// isFlattenedChild hides auxiliary dot-path copies created by Flatten.
func isFlattenedChild(doc Doc, key string) bool {
	if !strings.Contains(key, ".") {
		return false
	}
	flat, ok := doc[FlatKey].([]string)
	if !ok {
		if anyFlat, ok2 := doc[FlatKey].([]any); ok2 {
			for _, f := range anyFlat {
				if s, ok3 := f.(string); ok3 && s == key {
					return true
				}
			}
		}
		return false
	}
	for _, f := range flat {
		if f == key {
			return true
		}
	}
	return false
}

func includeMatch(include map[string]bool, key string) bool {
	if include[key] {
		return true
	}
	for inc := range include {
		if strings.HasPrefix(key, inc+".") || strings.HasPrefix(inc, key+".") {
			return true
		}
	}
	return false
}

func excludeMatch(exclude map[string]bool, key string) bool {
	if exclude[key] {
		return true
	}
	for exc := range exclude {
		if strings.HasPrefix(key, exc+".") {
			return true
		}
	}
	return false
}
