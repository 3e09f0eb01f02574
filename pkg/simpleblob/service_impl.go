package simpleblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository     Repository
	backends       map[string]StorageBackend
	defaultBackend string
	eventSink      EventSink
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithStorageBackend adds a named storage backend
func WithStorageBackend(name string, backend StorageBackend) Option {
	return func(s *service) {
		if s.backends == nil {
			s.backends = make(map[string]StorageBackend)
		}
		s.backends[name] = backend
	}
}

// WithDefaultBackend sets the backend used when a request names none
func WithDefaultBackend(name string) Option {
	return func(s *service) {
		s.defaultBackend = name
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		backends: make(map[string]StorageBackend),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if len(s.backends) == 0 {
		return nil, fmt.Errorf("at least one storage backend is required")
	}
	if s.defaultBackend == "" && len(s.backends) == 1 {
		for name := range s.backends {
			s.defaultBackend = name
		}
	}
	if _, ok := s.backends[s.defaultBackend]; !ok {
		return nil, fmt.Errorf("%w: default backend %q is not registered", ErrUnknownBackend, s.defaultBackend)
	}

	return s, nil
}

// Blob operations

func (s *service) CreateBlob(ctx context.Context, req CreateBlobRequest) (*Blob, error) {
	blob, _, err := s.createBlob(ctx, req)
	return blob, err
}

// createBlob reports whether the returned blob row was newly created, which
// LinkContent needs for compensation.
func (s *service) createBlob(ctx context.Context, req CreateBlobRequest) (*Blob, bool, error) {
	if req.Data == nil {
		return nil, false, &BlobError{Op: "create", Err: ErrNoContent}
	}

	// Resolve the backend first so an unknown name fails even when the
	// bytes turn out to already exist.
	backendName, backend, err := s.resolveBackend(req.StorageBackendName)
	if err != nil {
		return nil, false, err
	}

	hash := ComputeHash(req.Data)

	// Dedup fast path: equal bytes collapse to the existing row without a
	// re-write.
	if existing, err := s.repository.GetBlobByHash(ctx, hash); err == nil {
		s.fireBlobDeduplicated(ctx, existing)
		return existing, false, nil
	} else if !errors.Is(err, ErrBlobNotFound) {
		return nil, false, &BlobError{Op: "create", Err: err}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = DetectContentType(req.Data, req.FileName)
	}
	if contentType == "" {
		return nil, false, &BlobError{Op: "create", Err: ErrNoContentType}
	}

	objectKey, err := BuildObjectKey(hash)
	if err != nil {
		return nil, false, &BlobError{Op: "create", Err: err}
	}

	// Bytes first, metadata second. If the metadata insert fails the bytes
	// are a sweepable orphan at a content-addressed key.
	if err := backend.Put(ctx, objectKey, bytes.NewReader(req.Data)); err != nil {
		return nil, false, s.storageError(backendName, objectKey, "put", err)
	}

	blob := &Blob{
		ID:                 uuid.New(),
		Hash:               hash,
		Size:               int64(len(req.Data)),
		ContentType:        contentType,
		Encoding:           EncodingFor(req.Data),
		StorageBackendName: backendName,
		ObjectKey:          objectKey,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.repository.CreateBlob(ctx, blob); err != nil {
		if errors.Is(err, ErrBlobExists) {
			// Concurrent identical upload won the insert race. The unique
			// constraint on hash is the dedup guarantee: read after conflict.
			existing, gerr := s.repository.GetBlobByHash(ctx, hash)
			if gerr != nil {
				return nil, false, &BlobError{BlobID: blob.ID, Op: "create", Err: gerr}
			}
			s.fireBlobDeduplicated(ctx, existing)
			return existing, false, nil
		}
		return nil, false, &BlobError{BlobID: blob.ID, Op: "create", Err: err}
	}

	if s.eventSink != nil {
		_ = s.eventSink.BlobCreated(ctx, blob)
	}

	return blob, true, nil
}

// FindOrCreateBlob is CreateBlob spelled as the idempotent entry point:
// calling it twice with equal bytes returns the same blob both times.
func (s *service) FindOrCreateBlob(ctx context.Context, req CreateBlobRequest) (*Blob, error) {
	return s.CreateBlob(ctx, req)
}

func (s *service) GetBlob(ctx context.Context, id uuid.UUID) (*Blob, error) {
	return s.repository.GetBlob(ctx, id)
}

func (s *service) GetBlobByHash(ctx context.Context, hash string) (*Blob, error) {
	if !IsValidHash(hash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return s.repository.GetBlobByHash(ctx, hash)
}

func (s *service) GetBlobContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	rc, err := s.OpenBlobContent(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &BlobError{BlobID: id, Op: "get_content", Err: err}
	}
	return data, nil
}

func (s *service) OpenBlobContent(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	blob, err := s.repository.GetBlob(ctx, id)
	if err != nil {
		return nil, &BlobError{BlobID: id, Op: "get_content", Err: err}
	}

	backend, err := s.GetBackend(blob.StorageBackendName)
	if err != nil {
		return nil, &BlobError{BlobID: id, Op: "get_content", Err: err}
	}

	rc, err := backend.Get(ctx, blob.ObjectKey)
	if err != nil {
		// The metadata row exists but the backend object does not: a
		// detectable orphan, surfaced as a storage error distinct from a
		// plain not-found.
		return nil, s.storageError(blob.StorageBackendName, blob.ObjectKey, "get", err)
	}

	return rc, nil
}

func (s *service) DestroyBlob(ctx context.Context, id uuid.UUID) error {
	blob, err := s.repository.GetBlob(ctx, id)
	if err != nil {
		return &BlobError{BlobID: id, Op: "destroy", Err: err}
	}

	count, err := s.repository.CountReferencesByBlob(ctx, id)
	if err != nil {
		return &BlobError{BlobID: id, Op: "destroy", Err: err}
	}
	if count > 0 {
		return &BlobError{BlobID: id, Op: "destroy", Err: ErrBlobInUse}
	}

	backend, err := s.GetBackend(blob.StorageBackendName)
	if err != nil {
		return &BlobError{BlobID: id, Op: "destroy", Err: err}
	}

	// Bytes before metadata: a partial failure leaves harmless orphaned
	// bytes rather than a metadata row pointing at nothing. Already-missing
	// bytes are tolerated here.
	if err := backend.Delete(ctx, blob.ObjectKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return s.storageError(blob.StorageBackendName, blob.ObjectKey, "delete", err)
	}

	// The repository re-checks the reference count atomically with the row
	// delete, closing the window between the check above and the delete.
	if err := s.repository.DeleteBlobIfUnreferenced(ctx, id); err != nil {
		return &BlobError{BlobID: id, Op: "destroy", Err: err}
	}

	if s.eventSink != nil {
		_ = s.eventSink.BlobDestroyed(ctx, id)
	}

	return nil
}

// Reference operations

func (s *service) CreateReference(ctx context.Context, req CreateReferenceRequest) (*Reference, error) {
	refType := req.RefType
	if refType == "" {
		refType = RefTypeContent
	}

	if _, err := s.repository.GetBlob(ctx, req.BlobID); err != nil {
		return nil, &ReferenceError{DocumentID: req.DocumentID, RefType: refType, Op: "create", Err: err}
	}

	ref := &Reference{
		ID:         uuid.New(),
		DocumentID: req.DocumentID,
		BlobID:     req.BlobID,
		RefType:    refType,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repository.CreateReference(ctx, ref); err != nil {
		return nil, &ReferenceError{DocumentID: req.DocumentID, RefType: refType, Op: "create", Err: err}
	}

	if s.eventSink != nil {
		_ = s.eventSink.ReferenceCreated(ctx, ref)
	}

	return ref, nil
}

func (s *service) LinkContent(ctx context.Context, req LinkContentRequest) (*Reference, error) {
	refType := req.RefType
	if refType == "" {
		refType = RefTypeContent
	}

	blob, created, err := s.createBlob(ctx, CreateBlobRequest{
		Data:               req.Data,
		FileName:           req.FileName,
		ContentType:        req.ContentType,
		StorageBackendName: req.StorageBackendName,
	})
	if err != nil {
		return nil, err
	}

	ref, err := s.CreateReference(ctx, CreateReferenceRequest{
		DocumentID: req.DocumentID,
		BlobID:     blob.ID,
		RefType:    refType,
	})
	if err != nil {
		// Compensation: a blob row created solely for this link must not
		// remain observable. Deduped pre-existing blobs stay untouched, and
		// the bytes themselves are left for a later sweep.
		if created {
			_ = s.repository.DeleteBlobIfUnreferenced(ctx, blob.ID)
		}
		return nil, err
	}

	return ref, nil
}

func (s *service) UpdateContent(ctx context.Context, req UpdateContentRequest) (*Reference, error) {
	refType := req.RefType
	if refType == "" {
		refType = RefTypeContent
	}

	// Edits never mutate existing bytes: the new content becomes its own
	// blob (or dedups to one), and only the reference moves.
	blob, _, err := s.createBlob(ctx, CreateBlobRequest{
		Data:               req.Data,
		FileName:           req.FileName,
		ContentType:        req.ContentType,
		StorageBackendName: req.StorageBackendName,
	})
	if err != nil {
		return nil, err
	}

	ref, err := s.repository.RepointReference(ctx, req.DocumentID, refType, blob.ID)
	if err != nil {
		return nil, &ReferenceError{DocumentID: req.DocumentID, RefType: refType, Op: "update", Err: err}
	}

	if s.eventSink != nil {
		_ = s.eventSink.ReferenceRepointed(ctx, ref)
	}

	return ref, nil
}

func (s *service) GetDocumentContent(ctx context.Context, documentID uuid.UUID, refType RefType) ([]byte, error) {
	if refType == "" {
		refType = RefTypeContent
	}

	ref, err := s.repository.GetReferenceByDocumentAndType(ctx, documentID, refType)
	if err != nil {
		return nil, &ReferenceError{DocumentID: documentID, RefType: refType, Op: "get_content", Err: err}
	}

	return s.GetBlobContent(ctx, ref.BlobID)
}

func (s *service) ListReferences(ctx context.Context, documentID uuid.UUID) ([]*Reference, error) {
	return s.repository.ListReferencesByDocument(ctx, documentID)
}

// GetReferenceByType returns the reference for the document slot, or
// (nil, nil) when none exists: absence is a valid outcome here.
func (s *service) GetReferenceByType(ctx context.Context, documentID uuid.UUID, refType RefType) (*Reference, error) {
	if refType == "" {
		refType = RefTypeContent
	}

	ref, err := s.repository.GetReferenceByDocumentAndType(ctx, documentID, refType)
	if errors.Is(err, ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &ReferenceError{DocumentID: documentID, RefType: refType, Op: "get_by_type", Err: err}
	}
	return ref, nil
}

func (s *service) DeleteReference(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.DeleteReference(ctx, id); err != nil {
		return err
	}

	if s.eventSink != nil {
		_ = s.eventSink.ReferenceDeleted(ctx, id)
	}

	return nil
}

func (s *service) ReferenceCount(ctx context.Context, blobID uuid.UUID) (int64, error) {
	return s.repository.CountReferencesByBlob(ctx, blobID)
}

// Storage backend operations

func (s *service) RegisterBackend(name string, backend StorageBackend) {
	s.backends[name] = backend
}

func (s *service) GetBackend(name string) (StorageBackend, error) {
	backend, exists := s.backends[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return backend, nil
}

// Helper methods

func (s *service) resolveBackend(name string) (string, StorageBackend, error) {
	if name == "" {
		name = s.defaultBackend
	}
	backend, err := s.GetBackend(name)
	if err != nil {
		return "", nil, err
	}
	return name, backend, nil
}

// storageError wraps a backend failure, passing through errors the backend
// already classified.
func (s *service) storageError(backendName, key, op string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

func (s *service) fireBlobDeduplicated(ctx context.Context, blob *Blob) {
	if s.eventSink != nil {
		_ = s.eventSink.BlobDeduplicated(ctx, blob)
	}
}
