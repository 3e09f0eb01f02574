package simpleblob

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) BlobCreated(ctx context.Context, blob *Blob) error            { return nil }
func (n *NoopEventSink) BlobDeduplicated(ctx context.Context, blob *Blob) error       { return nil }
func (n *NoopEventSink) BlobDestroyed(ctx context.Context, blobID uuid.UUID) error    { return nil }
func (n *NoopEventSink) ReferenceCreated(ctx context.Context, ref *Reference) error   { return nil }
func (n *NoopEventSink) ReferenceRepointed(ctx context.Context, ref *Reference) error { return nil }
func (n *NoopEventSink) ReferenceDeleted(ctx context.Context, refID uuid.UUID) error  { return nil }

// SlogEventSink logs lifecycle events through slog and takes no other action.
// Useful for development and debugging.
type SlogEventSink struct {
	logger *slog.Logger
}

// NewSlogEventSink creates an event sink logging to logger. A nil logger
// uses slog.Default.
func NewSlogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEventSink{logger: logger}
}

func (s *SlogEventSink) BlobCreated(ctx context.Context, blob *Blob) error {
	s.logger.InfoContext(ctx, "blob created",
		"blob_id", blob.ID, "hash", blob.Hash, "size", blob.Size, "backend", blob.StorageBackendName)
	return nil
}

func (s *SlogEventSink) BlobDeduplicated(ctx context.Context, blob *Blob) error {
	s.logger.InfoContext(ctx, "blob deduplicated", "blob_id", blob.ID, "hash", blob.Hash)
	return nil
}

func (s *SlogEventSink) BlobDestroyed(ctx context.Context, blobID uuid.UUID) error {
	s.logger.InfoContext(ctx, "blob destroyed", "blob_id", blobID)
	return nil
}

func (s *SlogEventSink) ReferenceCreated(ctx context.Context, ref *Reference) error {
	s.logger.InfoContext(ctx, "reference created",
		"reference_id", ref.ID, "document_id", ref.DocumentID, "blob_id", ref.BlobID, "ref_type", ref.RefType)
	return nil
}

func (s *SlogEventSink) ReferenceRepointed(ctx context.Context, ref *Reference) error {
	s.logger.InfoContext(ctx, "reference repointed",
		"reference_id", ref.ID, "document_id", ref.DocumentID, "blob_id", ref.BlobID, "ref_type", ref.RefType)
	return nil
}

func (s *SlogEventSink) ReferenceDeleted(ctx context.Context, refID uuid.UUID) error {
	s.logger.InfoContext(ctx, "reference deleted", "reference_id", refID)
	return nil
}
