package groundb

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an [Error] into the stable taxonomy callers can switch on.
type Kind uint8

// Kind values. Names match the taxonomy so Kind.String() round-trips into
// schema.yaml-adjacent documentation and log lines without translation.
const (
	KindOther Kind = iota
	KindSchema
	KindValidation
	KindNotFound
	KindPathConflict
	KindReferentialIntegrity
	KindIO
	KindSerializationYAML
	KindSerializationJSON
	KindIndex
	KindSQLParse
	KindMigration
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "Schema"
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindPathConflict:
		return "PathConflict"
	case KindReferentialIntegrity:
		return "ReferentialIntegrity"
	case KindIO:
		return "Io"
	case KindSerializationYAML:
		return "SerializationYaml"
	case KindSerializationJSON:
		return "SerializationJson"
	case KindIndex:
		return "Index"
	case KindSQLParse:
		return "SqlParse"
	case KindMigration:
		return "Migration"
	default:
		return "Other"
	}
}

// Error is the single structured error type returned by every public
// operation. Collection/ID/Path are populated when known; zero values are
// omitted from the formatted message.
type Error struct {
	Kind       Kind
	Collection string
	ID         string
	Path       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}

	suffix := e.suffix()
	if suffix == "" {
		return msg
	}

	return msg + " " + suffix
}

func (e *Error) suffix() string {
	var parts []string

	if e.Collection != "" {
		parts = append(parts, "collection="+e.Collection)
	}

	if e.ID != "" {
		parts = append(parts, "id="+e.ID)
	}

	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// newErr builds an [Error] wrapping cause, tagged with kind and whatever
// context fields are known at the call site.
func newErr(kind Kind, collection, id, path string, cause error) *Error {
	return &Error{Kind: kind, Collection: collection, ID: id, Path: path, Err: cause}
}

// WrapErr attaches collection/id/path context to an arbitrary cause and
// classifies it. Used at package boundaries (index, docfile, viewsql) to
// turn an internal error into the public taxonomy.
func WrapErr(kind Kind, collection, id, path string, cause error) error {
	if cause == nil {
		return nil
	}

	return newErr(kind, collection, id, path, cause)
}

// Sentinel causes. Wrap with [WrapErr] (or compare with errors.Is against
// the returned *Error's Unwrap chain) to recover the taxonomy Kind.
var (
	ErrNotFound             = errors.New("not found")
	ErrPathConflict         = errors.New("path conflict")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrSchema               = errors.New("invalid schema")
	ErrValidation           = errors.New("validation failed")
	ErrMigrationUnsafe      = errors.New("unsafe migration")
	ErrSQLParse             = errors.New("sql parse error")
	ErrClosed               = errors.New("store is closed")
)

// NotFound builds a stable NotFound error for a missing (collection, id) pair.
func NotFound(collection, id string) error {
	return newErr(KindNotFound, collection, id, "", ErrNotFound)
}

// PathConflict builds a stable PathConflict error for an occupied path.
func PathConflict(collection, path string) error {
	return newErr(KindPathConflict, collection, "", path, fmt.Errorf("%w: %s", ErrPathConflict, path))
}
