package registry

import "errors"

// Sentinel errors for the registry store, checked with errors.Is and mapped
// to HTTP status codes by the handlers.
var (
	ErrInvalidUpload  = errors.New("registry: invalid upload")
	ErrTooLarge       = errors.New("registry: artifact exceeds maximum size")
	ErrDuplicate      = errors.New("registry: duplicate plugin version")
	ErrNotFound       = errors.New("registry: plugin not found")
	ErrVersionInvalid = errors.New("registry: invalid version string")
	ErrNoVersions     = errors.New("registry: plugin has no versions")
)
