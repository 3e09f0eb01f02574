package simpleblob

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrBlobNotFound indicates a blob metadata row was not found
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobExists indicates a blob with the same hash already exists.
	// Repositories return it on a hash uniqueness violation; the service
	// treats it as "found existing" (dedup), never as a hard failure.
	ErrBlobExists = errors.New("blob already exists")

	// ErrBlobInUse indicates a blob cannot be destroyed while references
	// still point at it
	ErrBlobInUse = errors.New("blob is still referenced")

	// ErrReferenceNotFound indicates no reference of the requested type
	// exists for the document
	ErrReferenceNotFound = errors.New("no content found for document")

	// ErrReferenceExists indicates the (document, ref type) slot is already
	// occupied
	ErrReferenceExists = errors.New("reference already exists for document and ref type")

	// ErrObjectNotFound indicates a storage backend has no object at the
	// requested key
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnknownBackend indicates a storage backend name that is not
	// registered with the service
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrInvalidHash indicates a digest that is not 64 lowercase hex characters
	ErrInvalidHash = errors.New("invalid content hash")

	// ErrNoContent indicates blob creation was attempted without content bytes
	ErrNoContent = errors.New("content is required")

	// ErrNoContentType indicates no content type was given and none could be
	// detected
	ErrNoContentType = errors.New("content type could not be resolved")
)

// BlobError represents an error related to blob operations
type BlobError struct {
	BlobID uuid.UUID
	Op     string
	Err    error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob operation %s failed for blob %s: %v", e.Op, e.BlobID, e.Err)
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

// ReferenceError represents an error related to reference operations
type ReferenceError struct {
	DocumentID uuid.UUID
	RefType    RefType
	Op         string
	Err        error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("reference operation %s failed for document %s (%s): %v", e.Op, e.DocumentID, e.RefType, e.Err)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage backend operations.
// Transient marks failures that a caller may reasonably retry (network
// timeouts, throttling); the library itself never retries.
type StorageError struct {
	Backend   string
	Key       string
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
