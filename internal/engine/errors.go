package engine

import "errors"

// Sentinel causes, grounded on the teacher's internal/store/errors.go style
// (a handful of package-level sentinels, checked with errors.Is). The
// groundb facade wraps these into the public, context-bearing Error type.
var (
	ErrNotFound             = errors.New("document not found")
	ErrPathConflict         = errors.New("rendered path already occupied")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrValidation           = errors.New("validation failed")
	ErrMigration            = errors.New("unsafe schema migration")
	ErrClosed               = errors.New("store is closed")
	ErrReadonly             = errors.New("collection is readonly")
)
