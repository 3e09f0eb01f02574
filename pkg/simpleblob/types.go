package simpleblob

import (
	"time"

	"github.com/google/uuid"
)

// RefType labels the role a reference plays for its document.
type RefType string

// Well-known reference types. Callers may define their own role labels;
// these are the ones the surrounding system uses.
const (
	RefTypeContent    RefType = "content"
	RefTypeAttachment RefType = "attachment"
	RefTypePreview    RefType = "preview"
)

// Blob encoding constants.
const (
	EncodingUTF8   = "utf-8"
	EncodingBinary = "binary"
)

// Blob represents a unique, immutable piece of content plus its metadata.
//
// Hash is the 64-character lowercase hex SHA-256 digest of the bytes and is
// unique across the store: two blobs with equal bytes always collapse to the
// same row. The bytes themselves live in the storage backend named by
// StorageBackendName, under ObjectKey.
type Blob struct {
	ID                 uuid.UUID `json:"id"`
	Hash               string    `json:"hash"`
	Size               int64     `json:"size"`
	ContentType        string    `json:"content_type"`
	Encoding           string    `json:"encoding"`
	StorageBackendName string    `json:"storage_backend_name"`
	ObjectKey          string    `json:"object_key"`
	CreatedAt          time.Time `json:"created_at"`
}

// Reference represents "document D's slot R currently points at blob B".
//
// At most one Reference exists per (DocumentID, RefType) pair. The document
// entity itself is owned externally; only its ID is recorded here.
type Reference struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	BlobID     uuid.UUID `json:"blob_id"`
	RefType    RefType   `json:"ref_type"`
	CreatedAt  time.Time `json:"created_at"`
}
