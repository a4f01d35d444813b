package jsonapiupdate

import (
	"context"

	"github.com/greena13/gorm-jsonapi-update/internal/sanitize"
)

// AttributesSuffix is the reserved mapping-key suffix marking a subtree as
// one association's member attributes ("tags_attributes" describes "tags").
const AttributesSuffix = sanitize.Suffix

// AssociationSource resolves the identifiers currently persisted for a
// derived collection name such as "tag_ids". ok reports whether the entity
// exposes the collection at all; a name the entity does not recognize must
// yield ok=false rather than an error, which reverts the affected
// association to the host's native additive-merge behavior.
type AssociationSource interface {
	AssociationIDs(name string) (ids []string, ok bool)
}

// Entity is the host-model capability set consumed by the update helpers.
// Implementations delegate nested association writes to their own
// machinery; this package only preprocesses the attribute tree.
type Entity interface {
	AssociationSource

	// AssignAttributes applies a mapping of attribute names to values onto
	// the entity without persisting anything.
	AssignAttributes(attrs map[string]any) error

	// Save persists pending changes. A validation rejection reports
	// (false, nil); infrastructure failures report an error.
	Save(ctx context.Context) (saved bool, err error)

	// SaveOrFail persists pending changes, surfacing validation rejections
	// as errors.
	SaveOrFail(ctx context.Context) error
}

// Sanitize rewrites an attributes tree so that every association-attributes
// subtree explicitly lists the associated records it omits as
// {"id": ..., "_destroy": 1} deletion markers, turning a nested-attributes
// update into a full replacement of the association's membership.
//
// Associations whose identifier lookup src does not resolve pass through
// unchanged. The input tree is never mutated. The implementation delegates
// to internal/sanitize.
func Sanitize(attrs map[string]any, src AssociationSource) map[string]any {
	out, _ := sanitize.Tree(attrs, "", src).(map[string]any)
	return out
}

// AssignAttributes sanitizes attrs against e's current association
// identifiers and hands the result to the entity's own attribute
// assignment. Nothing is persisted.
func AssignAttributes(e Entity, attrs map[string]any) error {
	if e == nil {
		return ErrNilEntity
	}
	return e.AssignAttributes(Sanitize(attrs, e))
}

// Update sanitizes, assigns and saves. It reports whether the save took
// effect; a validation rejection is (false, nil), not an error.
func Update(ctx context.Context, e Entity, attrs map[string]any) (bool, error) {
	if err := AssignAttributes(e, attrs); err != nil {
		return false, err
	}
	return e.Save(ctx)
}

// UpdateOrFail sanitizes, assigns and saves, propagating the host's save
// failure unchanged.
func UpdateOrFail(ctx context.Context, e Entity, attrs map[string]any) error {
	if err := AssignAttributes(e, attrs); err != nil {
		return err
	}
	return e.SaveOrFail(ctx)
}
