// Package gormhost adapts a gorm model into the jsonapiupdate.Entity
// capability set: identifier-collection lookups by convention
// ("tag_ids"), nested-attributes assignment, and transactional saves.
package gormhost

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jinzhu/inflection"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	jsonapiupdate "github.com/greena13/gorm-jsonapi-update"
	"github.com/greena13/gorm-jsonapi-update/internal/sanitize"
)

var _ jsonapiupdate.Entity = (*Model)(nil)

// ErrValidation marks a save rejection that should read as "not saved"
// rather than as an infrastructure failure. Model hooks wrap it:
//
//	func (p *Post) BeforeSave(*gorm.DB) error {
//		if p.Title == "" {
//			return fmt.Errorf("%w: title required", gormhost.ErrValidation)
//		}
//		return nil
//	}
var ErrValidation = errors.New("gormhost: validation failed")

const idsSuffix = "_ids"

var schemaCache = &sync.Map{}

// Model wraps a pointer to a gorm model struct. Attribute assignments are
// staged on the wrapper and flushed in one transaction by Save or
// SaveOrFail.
type Model struct {
	db           *gorm.DB
	value        any
	schema       *schema.Schema
	namer        schema.Namer
	allowDestroy map[string]bool
	pending      []childOp
}

// Option configures a Model.
type Option func(*Model)

// WithAllowDestroy opts the named associations (snake-cased plural form,
// e.g. "tags") into honoring "_destroy" markers. Markers for other
// associations are ignored, which is the host-framework contract: the
// sanitizer only emits markers, configuration decides whether they take
// effect.
func WithAllowDestroy(associations ...string) Option {
	return func(m *Model) {
		for _, a := range associations {
			m.allowDestroy[a] = true
		}
	}
}

// New wraps model, which must be a pointer to a struct gorm can parse.
func New(db *gorm.DB, model any, opts ...Option) (*Model, error) {
	if db == nil {
		return nil, errors.New("gormhost: nil db")
	}
	rv := reflect.ValueOf(model)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("gormhost: model must be a non-nil struct pointer, got %T", model)
	}
	namer := db.NamingStrategy
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	s, err := schema.Parse(model, schemaCache, namer)
	if err != nil {
		return nil, fmt.Errorf("gormhost: parse model: %w", err)
	}
	m := &Model{
		db:           db,
		value:        model,
		schema:       s,
		namer:        namer,
		allowDestroy: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Value returns the wrapped model pointer.
func (m *Model) Value() any { return m.value }

// AssociationIDs resolves a derived collection name such as "tag_ids" to the
// primary keys currently persisted for the matching has-many or
// many-to-many association, coerced to strings. ok is false for names that
// match no association; query failures also report ok=false, degrading the
// caller to passthrough rather than surfacing an error.
func (m *Model) AssociationIDs(name string) ([]string, bool) {
	rel, ok := m.relationshipForIDs(name)
	if !ok {
		return nil, false
	}
	if m.primaryKeyZero() {
		// Unsaved owner: nothing persisted yet, an empty set by definition.
		return []string{}, true
	}
	records, err := m.associationRecords(m.db, rel)
	if err != nil {
		return nil, false
	}
	pk := rel.FieldSchema.PrioritizedPrimaryField
	if pk == nil {
		return nil, false
	}
	ctx := context.Background()
	ids := make([]string, 0, records.Len())
	for i := 0; i < records.Len(); i++ {
		v, zero := pk.ValueOf(ctx, records.Index(i))
		if zero {
			continue
		}
		if id, ok := sanitize.CoerceID(v); ok {
			ids = append(ids, id)
		}
	}
	return ids, true
}

// Save flushes the staged assignment in one transaction. A rejection whose
// error wraps ErrValidation reports (false, nil); anything else is an
// error.
func (m *Model) Save(ctx context.Context) (bool, error) {
	err := m.SaveOrFail(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrValidation):
		return false, nil
	default:
		return false, err
	}
}

// SaveOrFail flushes the staged assignment in one transaction, returning
// every failure, validation included, unchanged.
func (m *Model) SaveOrFail(ctx context.Context) error {
	return m.db.WithContext(ctx).Transaction(m.saveIn)
}

// saveIn persists the owner's own columns first, then applies staged child
// operations. Staged operations survive a rollback, so a retried save
// replays the whole assignment.
func (m *Model) saveIn(tx *gorm.DB) error {
	if err := tx.Omit(clause.Associations).Save(m.value).Error; err != nil {
		return err
	}
	for _, op := range m.pending {
		if err := m.applyChildOp(tx, op); err != nil {
			return err
		}
	}
	m.pending = nil
	return nil
}

// relationshipForIDs matches "tag_ids" to the collection relationship whose
// snake-cased name singularizes to "tag".
func (m *Model) relationshipForIDs(name string) (*schema.Relationship, bool) {
	base, found := strings.CutSuffix(name, idsSuffix)
	if !found || base == "" {
		return nil, false
	}
	for _, rel := range m.collectionRelationships() {
		if inflection.Singular(m.associationName(rel)) == base {
			return rel, true
		}
	}
	return nil, false
}

// relationshipForAttributes matches "tags_attributes" to the collection
// relationship named "tags".
func (m *Model) relationshipForAttributes(key string) (*schema.Relationship, bool) {
	base, found := strings.CutSuffix(key, sanitize.Suffix)
	if !found || base == "" {
		return nil, false
	}
	for _, rel := range m.collectionRelationships() {
		if m.associationName(rel) == base {
			return rel, true
		}
	}
	return nil, false
}

func (m *Model) collectionRelationships() []*schema.Relationship {
	rels := make([]*schema.Relationship, 0, len(m.schema.Relationships.HasMany)+len(m.schema.Relationships.Many2Many))
	rels = append(rels, m.schema.Relationships.HasMany...)
	rels = append(rels, m.schema.Relationships.Many2Many...)
	return rels
}

// associationName snake-cases the relationship's Go field name, matching
// the convention the payload keys use ("Tags" -> "tags").
func (m *Model) associationName(rel *schema.Relationship) string {
	return m.namer.ColumnName("", rel.Name)
}

// associationRecords loads the association's current members, optionally
// filtered, into a fresh slice of the child model type.
func (m *Model) associationRecords(tx *gorm.DB, rel *schema.Relationship, conds ...any) (reflect.Value, error) {
	slicePtr := reflect.New(reflect.SliceOf(rel.FieldSchema.ModelType))
	assoc := tx.Model(m.value).Association(rel.Name)
	if err := assoc.Find(slicePtr.Interface(), conds...); err != nil {
		return reflect.Value{}, err
	}
	return slicePtr.Elem(), nil
}

func (m *Model) primaryKeyZero() bool {
	pk := m.schema.PrioritizedPrimaryField
	if pk == nil {
		return true
	}
	_, zero := pk.ValueOf(context.Background(), reflect.ValueOf(m.value).Elem())
	return zero
}

// childModel wraps an association member so nested attribute trees reuse
// the same assignment machinery. The destroy opt-in set is shared.
func (m *Model) childModel(tx *gorm.DB, rel *schema.Relationship, ptr any) *Model {
	return &Model{
		db:           tx,
		value:        ptr,
		schema:       rel.FieldSchema,
		namer:        m.namer,
		allowDestroy: m.allowDestroy,
	}
}
