package jsonapiupdate

import "errors"

// ErrNilEntity is returned by the update helpers when called without an
// entity. The sanitizer itself raises nothing; degraded lookups pass the
// affected subtree through instead (see Sanitize).
var ErrNilEntity = errors.New("jsonapiupdate: nil entity")

// ErrNotMapping is returned by the decode helpers when the payload's root is
// not a mapping. An attributes tree is always a mapping at the root.
var ErrNotMapping = errors.New("jsonapiupdate: attributes payload root is not a mapping")
