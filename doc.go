package jsonapiupdate

// Package jsonapiupdate provides:
//
// - Attribute-tree sanitization implementing JSON:API relationship-replacement
//   semantics for nested-attributes updates (Sanitize)
// - Update helpers composing sanitize -> assign -> save against any host
//   model implementing the Entity capability set (AssignAttributes, Update,
//   UpdateOrFail)
// - Payload decoding helpers that keep numeric identifiers lossless
//   (DecodeJSON, DecodeYAML)
//
// Design policy:
// - Keep only public APIs in the root package; the transform engine lives
//   under internal/sanitize.
// - Host integrations are subpackages; gormhost/ adapts a gorm model.
// - Prefer black-box testing against public APIs.
//
// Typical usage:
//
//	attrs, err := jsonapiupdate.DecodeJSON(body)
//	model, err := gormhost.New(db, &post, gormhost.WithAllowDestroy("tags"))
//	saved, err := jsonapiupdate.Update(ctx, model, attrs)
