// Package blobstore provides the landing/archive/recovery storage areas the
// pipeline moves capture packages through. A Store is scoped to one area
// (bucket or local folder); keys may contain '/' prefixes.
package blobstore

import "context"

// Store is the narrow blob interface the pipeline stages consume. Files are
// exchanged by local path since packages are zip files staged on disk.
type Store interface {
	// Ping verifies the area is reachable.
	Ping(ctx context.Context) error
	// Put uploads localPath under key.
	Put(ctx context.Context, localPath, key string) error
	// Get downloads key to localPath, creating parent folders.
	Get(ctx context.Context, localPath, key string) error
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns keys matching a glob pattern, sorted.
	List(ctx context.Context, pattern string) ([]string, error)
}

// Error codes for storage failures.
const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeObjectNotFound      = "E_OBJECT_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeTimeout             = "E_TIMEOUT"
	CodeWriteFailed         = "E_WRITE_FAILED"
)

// Error wraps storage failures with retryability hints.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) RetryableStatus() bool { return e.Retryable }

func wrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}
