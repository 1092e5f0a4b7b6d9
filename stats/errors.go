package stats

import "fmt"

// ParseError reports malformed snapshot JSON or an unusable capture timestamp.
// The capture timestamp becomes part of the row uniqueness key, so the strict
// ingestion path must fail loudly instead of guessing.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports a snapshot whose decoded shape is neither a data.items
// object nor a bare top-level list of extension records.
type SchemaError struct {
	Path   string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unexpected snapshot shape in %s: %s", e.Path, e.Detail)
}

// NotFoundError reports a referenced file or entity that does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.Name) }

// AuthorizationError reports a malformed or unknown client key.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return "unauthorized: " + e.Reason }

// StorageError wraps a database connectivity or query failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }
