package common

import "errors"

// Request-level error taxonomy. Handlers map these onto the response
// envelope; everything else bubbles up as an internal error.
var (
	// ErrAuth means the request carried no usable identity.
	ErrAuth = errors.New("unauthorized")

	// ErrNotFound covers both "absent" and "owned by someone else".
	// Callers never learn which, so foreign rooms stay invisible.
	ErrNotFound = errors.New("not found")

	// ErrValidation is malformed input (empty prompt, missing room id).
	ErrValidation = errors.New("invalid input")

	// ErrUpstream is a model-provider failure. Partial output already
	// written to the client is not retracted.
	ErrUpstream = errors.New("upstream error")

	// ErrConflict is a duplicate message uuid racing an in-flight one.
	ErrConflict = errors.New("conflict")

	// ErrDurability is a failed commit after the client already saw
	// success. Logged, never surfaced.
	ErrDurability = errors.New("durability failure")
)
