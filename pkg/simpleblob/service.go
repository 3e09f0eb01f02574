package simpleblob

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service defines the main interface for the simple-blob library
type Service interface {
	// Blob operations
	CreateBlob(ctx context.Context, req CreateBlobRequest) (*Blob, error)
	FindOrCreateBlob(ctx context.Context, req CreateBlobRequest) (*Blob, error)
	GetBlob(ctx context.Context, id uuid.UUID) (*Blob, error)
	GetBlobByHash(ctx context.Context, hash string) (*Blob, error)
	GetBlobContent(ctx context.Context, id uuid.UUID) ([]byte, error)
	OpenBlobContent(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)
	DestroyBlob(ctx context.Context, id uuid.UUID) error

	// Reference operations
	CreateReference(ctx context.Context, req CreateReferenceRequest) (*Reference, error)
	LinkContent(ctx context.Context, req LinkContentRequest) (*Reference, error)
	UpdateContent(ctx context.Context, req UpdateContentRequest) (*Reference, error)
	GetDocumentContent(ctx context.Context, documentID uuid.UUID, refType RefType) ([]byte, error)
	ListReferences(ctx context.Context, documentID uuid.UUID) ([]*Reference, error)
	GetReferenceByType(ctx context.Context, documentID uuid.UUID, refType RefType) (*Reference, error)
	DeleteReference(ctx context.Context, id uuid.UUID) error
	ReferenceCount(ctx context.Context, blobID uuid.UUID) (int64, error)

	// Storage backend operations
	RegisterBackend(name string, backend StorageBackend)
	GetBackend(name string) (StorageBackend, error)
}
