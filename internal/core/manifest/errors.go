// Package manifest models a compose-style service manifest: ordered services,
// profile memberships, named volumes and networks.
// Apart from Load, everything here is pure and does no I/O.
package manifest

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrManifestNotFound is returned when the manifest file does not exist.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrManifestUnparseable is returned when the manifest is not valid YAML
	// or has no services mapping.
	ErrManifestUnparseable = errors.New("manifest is not parseable")
)

// ManifestError wraps errors with the manifest path and failure context.
type ManifestError struct {
	Path    string
	Message string
	Err     error
}

func (e *ManifestError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// NewManifestError creates a new ManifestError.
func NewManifestError(path, message string, err error) *ManifestError {
	return &ManifestError{
		Path:    path,
		Message: message,
		Err:     err,
	}
}
