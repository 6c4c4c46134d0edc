package ingest

import (
	"errors"
	"strings"
)

var (
	// ErrMissingFile means the request carried no primary file. No side
	// effects have occurred.
	ErrMissingFile = errors.New("no file provided")
	// ErrStorageFailure means the durable storage upload failed after
	// inspection passed. Opaque to the caller, logged with detail.
	ErrStorageFailure = errors.New("storage upload failed")
	// ErrMetadataFailure means the metadata commit failed after a successful
	// storage upload.
	ErrMetadataFailure = errors.New("metadata commit failed")
	// ErrUnauthorized means the caller does not own the target resource.
	ErrUnauthorized = errors.New("not authorized for this resource")
)

// SecurityError is the one rejection with structured, user-facing detail:
// blocking errors plus advisory warnings, returned verbatim to the caller.
type SecurityError struct {
	Errors   []string
	Warnings []string
}

func (e *SecurityError) Error() string {
	return "file rejected: " + strings.Join(e.Errors, "; ")
}
