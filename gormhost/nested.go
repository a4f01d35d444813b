package gormhost

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/greena13/gorm-jsonapi-update/internal/sanitize"
)

const (
	idKey      = "id"
	destroyKey = "_destroy"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opRemove
)

// childOp is one staged association write: build a new member, update an
// existing one by id, or remove one by id.
type childOp struct {
	rel   *schema.Relationship
	kind  opKind
	attrs map[string]any
	id    string
}

// AssignAttributes applies an attributes mapping onto the wrapped model.
// Plain keys assign to schema fields by their column name;
// "<association>_attributes" values stage nested member writes that Save
// executes. Assignment is strict: unknown names are errors, unlike the
// sanitizer's degrade-to-passthrough lookups.
func (m *Model) AssignAttributes(attrs map[string]any) error {
	for key, v := range attrs {
		if rel, ok := m.relationshipForAttributes(key); ok {
			if err := m.stageAssociation(key, rel, v); err != nil {
				return err
			}
			continue
		}
		if err := m.setField(key, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) setField(name string, v any) error {
	field := m.schema.LookUpField(name)
	if field == nil {
		return fmt.Errorf("gormhost: %s has no attribute %q", m.schema.Name, name)
	}
	return field.Set(context.Background(), reflect.ValueOf(m.value).Elem(), normalizeScalar(v))
}

// stageAssociation normalizes one association payload (slice, or
// numeric-string-keyed mapping in key order) into staged child operations.
func (m *Model) stageAssociation(key string, rel *schema.Relationship, v any) error {
	entries, err := associationEntries(v)
	if err != nil {
		return fmt.Errorf("gormhost: %s: %w", key, err)
	}
	name := m.associationName(rel)
	for _, entry := range entries {
		em, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("gormhost: %s: entry %v is not a mapping", key, entry)
		}
		idv, hasID := em[idKey]
		if destroyFlag(em[destroyKey]) {
			if !m.allowDestroy[name] || !hasID {
				continue
			}
			id, ok := sanitize.CoerceID(idv)
			if !ok {
				continue
			}
			m.pending = append(m.pending, childOp{rel: rel, kind: opRemove, id: id})
			continue
		}
		attrs := cloneWithout(em, idKey, destroyKey)
		if hasID {
			id, ok := sanitize.CoerceID(idv)
			if !ok {
				return fmt.Errorf("gormhost: %s: entry id %v is not an identifier", key, idv)
			}
			m.pending = append(m.pending, childOp{rel: rel, kind: opUpdate, attrs: attrs, id: id})
			continue
		}
		m.pending = append(m.pending, childOp{rel: rel, kind: opCreate, attrs: attrs})
	}
	return nil
}

func (m *Model) applyChildOp(tx *gorm.DB, op childOp) error {
	switch op.kind {
	case opCreate:
		return m.createChild(tx, op)
	case opUpdate:
		return m.updateChild(tx, op)
	case opRemove:
		return m.removeChild(tx, op)
	default:
		return fmt.Errorf("gormhost: unknown child operation %d", op.kind)
	}
}

// createChild builds a new member, links it to the owner, then flushes any
// grandchild operations the entry carried. Grandchild updates by id under a
// freshly built member fail naturally: the new member has no children yet.
func (m *Model) createChild(tx *gorm.DB, op childOp) error {
	childPtr := reflect.New(op.rel.FieldSchema.ModelType)
	child := m.childModel(tx, op.rel, childPtr.Interface())
	if err := child.AssignAttributes(op.attrs); err != nil {
		return err
	}
	if err := tx.Model(m.value).Association(op.rel.Name).Append(childPtr.Interface()); err != nil {
		return err
	}
	return child.flushPending(tx)
}

func (m *Model) updateChild(tx *gorm.DB, op childOp) error {
	childPtr, err := m.findChild(tx, op.rel, op.id)
	if err != nil {
		return err
	}
	if childPtr == nil {
		return fmt.Errorf("gormhost: %s has no %s with id %s", m.schema.Name, m.associationName(op.rel), op.id)
	}
	child := m.childModel(tx, op.rel, childPtr)
	if err := child.AssignAttributes(op.attrs); err != nil {
		return err
	}
	if err := tx.Omit(clause.Associations).Save(childPtr).Error; err != nil {
		return err
	}
	return child.flushPending(tx)
}

// removeChild deletes the member row for has-many associations and unlinks
// it for many-to-many. Identifiers no longer in the association are skipped;
// removal is idempotent.
func (m *Model) removeChild(tx *gorm.DB, op childOp) error {
	childPtr, err := m.findChild(tx, op.rel, op.id)
	if err != nil {
		return err
	}
	if childPtr == nil {
		return nil
	}
	if op.rel.Type == schema.Many2Many {
		return tx.Model(m.value).Association(op.rel.Name).Delete(childPtr)
	}
	return tx.Delete(childPtr).Error
}

// findChild loads the association member with the given primary key, scoped
// to the association so foreign rows are unreachable. nil means no match.
func (m *Model) findChild(tx *gorm.DB, rel *schema.Relationship, id string) (any, error) {
	pk := rel.FieldSchema.PrioritizedPrimaryField
	if pk == nil {
		return nil, fmt.Errorf("gormhost: %s has no primary key", rel.FieldSchema.Name)
	}
	records, err := m.associationRecords(tx, rel, pk.DBName+" = ?", pkQueryValue(pk, id))
	if err != nil {
		return nil, err
	}
	if records.Len() == 0 {
		return nil, nil
	}
	return records.Index(0).Addr().Interface(), nil
}

// pkQueryValue rebinds a coerced identifier string to the primary key
// column's native type so equality holds on databases without implicit
// text-to-number affinity.
func pkQueryValue(pk *schema.Field, id string) any {
	switch pk.DataType {
	case schema.Int:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return n
		}
	case schema.Uint:
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			return n
		}
	}
	return id
}

func (m *Model) flushPending(tx *gorm.DB) error {
	for _, op := range m.pending {
		if err := m.applyChildOp(tx, op); err != nil {
			return err
		}
	}
	m.pending = nil
	return nil
}

// associationEntries flattens one association payload into an entry slice.
// Mappings use the nested-attributes hash convention: values ordered by
// their numeric key, non-numeric keys after, lexicographically.
func associationEntries(v any) ([]any, error) {
	switch node := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return node, nil
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return entryKeyLess(keys[i], keys[j]) })
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, node[k])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a sequence or mapping, got %T", v)
	}
}

func entryKeyLess(a, b string) bool {
	na, aerr := strconv.Atoi(a)
	nb, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return na < nb
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

// destroyFlag interprets a "_destroy" value: true booleans, non-zero
// numbers, and the strings "1"/"t"/"true" (any case) request removal.
func destroyFlag(v any) bool {
	switch flag := v.(type) {
	case bool:
		return flag
	case string:
		return flag == "1" || strings.EqualFold(flag, "t") || strings.EqualFold(flag, "true")
	case json.Number:
		n, err := flag.Float64()
		return err == nil && n != 0
	case int:
		return flag != 0
	case int64:
		return flag != 0
	case float64:
		return flag != 0
	default:
		return false
	}
}

// normalizeScalar rewrites decoder-specific number types into values gorm's
// field setters convert natively.
func normalizeScalar(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

func cloneWithout(m map[string]any, drop ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range drop {
		delete(out, k)
	}
	return out
}
