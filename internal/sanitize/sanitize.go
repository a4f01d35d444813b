// Package sanitize implements the nested-attributes replacement transform.
// The public entry points live in the root package; this engine operates on
// decoded attribute trees (map[string]any / []any / scalar) only.
package sanitize

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/jinzhu/inflection"
)

// Suffix marks a mapping key as carrying one association's member attributes,
// e.g. "tags_attributes" describes the "tags" association.
const Suffix = "_attributes"

const (
	idKey      = "id"
	destroyKey = "_destroy"
)

// IDSource resolves the identifiers currently persisted for a derived
// collection name such as "tag_ids". ok reports whether the source exposes
// the collection at all; an unexposed collection disables deletion synthesis
// for that subtree.
type IDSource interface {
	AssociationIDs(name string) (ids []string, ok bool)
}

// LookupName derives the identifier-collection name for an association key:
// "tags_attributes" -> "tag_ids", "children_attributes" -> "child_ids".
// ok is false when key does not carry the association suffix.
func LookupName(key string) (string, bool) {
	base, found := strings.CutSuffix(key, Suffix)
	if !found || base == "" {
		return "", false
	}
	return inflection.Singular(base) + "_ids", true
}

// DeletionMarker builds the synthetic entry marking an associated record for
// removal. The host framework decides whether the marker takes effect.
func DeletionMarker(id string) map[string]any {
	return map[string]any{idKey: id, destroyKey: 1}
}

// CoerceID renders a payload value as an identifier string. Identifiers are
// compared by exact string equality, so numeric forms must round-trip without
// exponents or trailing zeros (json.Number carries the source text verbatim).
// Named types coerce through their underlying scalar kind; ok is false for
// nil and for anything non-scalar.
func CoerceID(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		return id, true
	case json.Number:
		return id.String(), true
	case int:
		return strconv.Itoa(id), true
	case int8:
		return strconv.FormatInt(int64(id), 10), true
	case int16:
		return strconv.FormatInt(int64(id), 10), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint:
		return strconv.FormatUint(uint64(id), 10), true
	case uint8:
		return strconv.FormatUint(uint64(id), 10), true
	case uint16:
		return strconv.FormatUint(uint64(id), 10), true
	case uint32:
		return strconv.FormatUint(uint64(id), 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(id), true
	case map[string]any, []any:
		return "", false
	default:
		return coerceKind(reflect.ValueOf(id))
	}
}

// coerceKind handles named types whose underlying kind is scalar, e.g.
// type TagID uint64. Composite and reference kinds carry no identifier.
func coerceKind(rv reflect.Value) (string, bool) {
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, rv.Type().Bits()), true
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	default:
		return "", false
	}
}

// Tree sanitizes one attributes subtree. key is the mapping key under which
// tree was found ("" at the root). The input is never mutated; mappings and
// sequences are rebuilt, scalars pass through as-is.
func Tree(tree any, key string, src IDSource) any {
	switch node := tree.(type) {
	case map[string]any:
		if node == nil {
			return node
		}
		return mapping(node, key, src)
	case []any:
		if node == nil {
			return node
		}
		return sequence(node, key, src)
	default:
		return tree
	}
}

// sequence rebuilds a slice node, then appends deletion markers for
// unmentioned identifiers. Map elements are members of the association, not
// associations themselves, so they recurse without the association key;
// nested sequences keep it.
func sequence(seq []any, key string, src IDSource) []any {
	out := make([]any, len(seq))
	for i, el := range seq {
		switch el.(type) {
		case map[string]any:
			out[i] = Tree(el, "", src)
		default:
			out[i] = Tree(el, key, src)
		}
	}
	ids, ok := currentIDs(key, src)
	if !ok {
		return out
	}
	mentioned := make(map[string]struct{}, len(out))
	for _, el := range out {
		if id, ok := entryID(el); ok {
			mentioned[id] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := mentioned[id]; !ok {
			out = append(out, DeletionMarker(id))
		}
	}
	return out
}

// mapping rebuilds a map node, sanitizing each value under its own key, then
// inserts deletion markers under sequential numeric-string keys continuing
// from the entry count. When a candidate key is already taken (payloads with
// non-contiguous numeric keys) the counter advances until a free one is
// found, so existing entries are never clobbered.
func mapping(m map[string]any, key string, src IDSource) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Tree(v, k, src)
	}
	ids, ok := currentIDs(key, src)
	if !ok {
		return out
	}
	mentioned := make(map[string]struct{}, len(out))
	for _, v := range out {
		if id, ok := entryID(v); ok {
			mentioned[id] = struct{}{}
		}
	}
	next := len(out)
	for _, id := range ids {
		if _, ok := mentioned[id]; ok {
			continue
		}
		k := strconv.Itoa(next)
		for {
			if _, taken := out[k]; !taken {
				break
			}
			next++
			k = strconv.Itoa(next)
		}
		out[k] = DeletionMarker(id)
		next = len(out)
	}
	return out
}

// entryID extracts the coerced identifier of one association entry. Entries
// that are not mappings, or carry no id, mention no identifier and can never
// suppress a deletion marker.
func entryID(entry any) (string, bool) {
	m, ok := entry.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[idKey]
	if !ok {
		return "", false
	}
	return CoerceID(v)
}

func currentIDs(key string, src IDSource) ([]string, bool) {
	name, ok := LookupName(key)
	if !ok || src == nil {
		return nil, false
	}
	return src.AssociationIDs(name)
}
