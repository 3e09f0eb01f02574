package simpleblob

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// StorageBackend defines the capability contract for raw byte persistence.
// Implementations must be safe for concurrent use.
type StorageBackend interface {
	// Put stores the bytes read from reader at objectKey, overwriting any
	// existing object. Keys are content-addressed, so an overwrite always
	// carries identical bytes.
	Put(ctx context.Context, objectKey string, reader io.Reader) error

	// Get opens the object at objectKey for reading. Returns an error
	// wrapping ErrObjectNotFound when no object exists at the key.
	Get(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes the object at objectKey. Returns an error wrapping
	// ErrObjectNotFound when no object exists at the key.
	Delete(ctx context.Context, objectKey string) error

	// Exists reports whether an object is present at objectKey.
	Exists(ctx context.Context, objectKey string) (bool, error)
}

// Repository defines the interface for blob and reference metadata
// persistence.
//
// Two uniqueness guarantees back the store's invariants and must be enforced
// at the storage layer, not by application locking: blob hashes are unique
// (CreateBlob returns ErrBlobExists on a duplicate), and (document_id,
// ref_type) slots are unique (CreateReference returns ErrReferenceExists on
// a duplicate). DeleteBlobIfUnreferenced and RepointReference are composite
// operations that must be atomic within the repository's consistency
// boundary.
type Repository interface {
	// Blob operations
	CreateBlob(ctx context.Context, blob *Blob) error
	GetBlob(ctx context.Context, id uuid.UUID) (*Blob, error)
	GetBlobByHash(ctx context.Context, hash string) (*Blob, error)

	// DeleteBlobIfUnreferenced removes the blob row only if no reference
	// points at it, atomically with the count check. Returns ErrBlobInUse
	// when references remain, ErrBlobNotFound when the row is missing.
	DeleteBlobIfUnreferenced(ctx context.Context, id uuid.UUID) error

	// Reference operations
	CreateReference(ctx context.Context, ref *Reference) error
	GetReference(ctx context.Context, id uuid.UUID) (*Reference, error)
	GetReferenceByDocumentAndType(ctx context.Context, documentID uuid.UUID, refType RefType) (*Reference, error)
	ListReferencesByDocument(ctx context.Context, documentID uuid.UUID) ([]*Reference, error)

	// RepointReference atomically points the (documentID, refType) slot at
	// blobID: it updates the existing row's blob_id, or inserts a fresh row
	// if the slot is empty, and returns the resulting row.
	RepointReference(ctx context.Context, documentID uuid.UUID, refType RefType, blobID uuid.UUID) (*Reference, error)

	DeleteReference(ctx context.Context, id uuid.UUID) error
	CountReferencesByBlob(ctx context.Context, blobID uuid.UUID) (int64, error)
}

// EventSink defines the interface for lifecycle event handling. Sink errors
// are logged and ignored; they never fail the triggering operation.
type EventSink interface {
	// BlobCreated is fired when a new blob row is persisted
	BlobCreated(ctx context.Context, blob *Blob) error

	// BlobDeduplicated is fired when a create resolved to an existing blob
	BlobDeduplicated(ctx context.Context, blob *Blob) error

	// BlobDestroyed is fired when a blob and its bytes are destroyed
	BlobDestroyed(ctx context.Context, blobID uuid.UUID) error

	// ReferenceCreated is fired when a reference is created
	ReferenceCreated(ctx context.Context, ref *Reference) error

	// ReferenceRepointed is fired when a reference slot is pointed at a new blob
	ReferenceRepointed(ctx context.Context, ref *Reference) error

	// ReferenceDeleted is fired when a reference is deleted
	ReferenceDeleted(ctx context.Context, refID uuid.UUID) error
}
