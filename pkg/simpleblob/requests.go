package simpleblob

import "github.com/google/uuid"

// Request DTOs

// CreateBlobRequest contains parameters for creating (or deduplicating) a blob.
//
// ContentType may be left empty, in which case it is detected from FileName
// and the data itself. StorageBackendName may be left empty to use the
// service's configured default backend.
type CreateBlobRequest struct {
	Data               []byte
	FileName           string
	ContentType        string
	StorageBackendName string
}

// CreateReferenceRequest contains parameters for linking an existing blob to
// a document slot.
type CreateReferenceRequest struct {
	DocumentID uuid.UUID
	BlobID     uuid.UUID
	RefType    RefType
}

// LinkContentRequest contains parameters for LinkContent: blob creation and
// reference creation in one step. RefType defaults to RefTypeContent.
type LinkContentRequest struct {
	DocumentID         uuid.UUID
	Data               []byte
	FileName           string
	ContentType        string
	RefType            RefType
	StorageBackendName string
}

// UpdateContentRequest contains parameters for UpdateContent. The new bytes
// always become a new (or deduplicated) blob; the previous blob is never
// mutated. RefType defaults to RefTypeContent.
type UpdateContentRequest struct {
	DocumentID         uuid.UUID
	Data               []byte
	FileName           string
	ContentType        string
	RefType            RefType
	StorageBackendName string
}
