package simpleblob_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blob/pkg/simpleblob"
	"github.com/tendant/simple-blob/pkg/simpleblob/repo/memory"
	memorystorage "github.com/tendant/simple-blob/pkg/simpleblob/storage/memory"
)

func newTestService(t *testing.T) simpleblob.Service {
	t.Helper()

	svc, err := simpleblob.New(
		simpleblob.WithRepository(memory.New()),
		simpleblob.WithStorageBackend("memory", memorystorage.New()),
		simpleblob.WithDefaultBackend("memory"),
	)
	require.NoError(t, err)
	return svc
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []simpleblob.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []simpleblob.Option{},
			expectError: true,
		},
		{
			name: "repository without storage should fail",
			options: []simpleblob.Option{
				simpleblob.WithRepository(memory.New()),
			},
			expectError: true,
		},
		{
			name: "repository and storage should succeed",
			options: []simpleblob.Option{
				simpleblob.WithRepository(memory.New()),
				simpleblob.WithStorageBackend("memory", memorystorage.New()),
			},
			expectError: false,
		},
		{
			name: "unregistered default backend should fail",
			options: []simpleblob.Option{
				simpleblob.WithRepository(memory.New()),
				simpleblob.WithStorageBackend("memory", memorystorage.New()),
				simpleblob.WithDefaultBackend("s3"),
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := simpleblob.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestCreateBlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{
		Data:     []byte("Hello, World!"),
		FileName: "hello.txt",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, blob.ID)
	assert.Equal(t, "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f", blob.Hash)
	assert.Equal(t, int64(13), blob.Size)
	assert.Equal(t, "text/plain", blob.ContentType)
	assert.Equal(t, simpleblob.EncodingUTF8, blob.Encoding)
	assert.Equal(t, "memory", blob.StorageBackendName)
	assert.Equal(t, "blobs/df/fd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f", blob.ObjectKey)
}

func TestCreateBlob_RequiresContent(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateBlob(context.Background(), simpleblob.CreateBlobRequest{})
	assert.ErrorIs(t, err, simpleblob.ErrNoContent)
}

func TestCreateBlob_EmptyButPresentContent(t *testing.T) {
	svc := newTestService(t)

	// Zero-length data is valid content; only absent data is rejected.
	blob, err := svc.CreateBlob(context.Background(), simpleblob.CreateBlobRequest{
		Data: []byte{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), blob.Size)
}

func TestCreateBlob_UnknownBackend(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateBlob(context.Background(), simpleblob.CreateBlobRequest{
		Data:               []byte("data"),
		StorageBackendName: "does-not-exist",
	})
	assert.ErrorIs(t, err, simpleblob.ErrUnknownBackend)
}

func TestCreateBlob_UnknownBackendFailsOnExistingBytes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("already stored")})
	require.NoError(t, err)

	// A bad backend name must fail even when the bytes would dedup to an
	// existing blob.
	_, err = svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{
		Data:               []byte("already stored"),
		StorageBackendName: "does-not-exist",
	})
	assert.ErrorIs(t, err, simpleblob.ErrUnknownBackend)
}

func TestFindOrCreateBlob_Idempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.FindOrCreateBlob(ctx, simpleblob.CreateBlobRequest{
		Data:     []byte("shared bytes"),
		FileName: "a.md",
	})
	require.NoError(t, err)

	second, err := svc.FindOrCreateBlob(ctx, simpleblob.CreateBlobRequest{
		Data:     []byte("shared bytes"),
		FileName: "b.md",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Hash, second.Hash)
}

// racingHashRepo simulates a concurrent identical upload: the hash lookup
// misses for the first lookups, so a second creator proceeds to the insert
// and hits the unique constraint on hash.
type racingHashRepo struct {
	simpleblob.Repository
	misses int
}

func (r *racingHashRepo) GetBlobByHash(ctx context.Context, hash string) (*simpleblob.Blob, error) {
	if r.misses > 0 {
		r.misses--
		return nil, simpleblob.ErrBlobNotFound
	}
	return r.Repository.GetBlobByHash(ctx, hash)
}

func TestCreateBlob_ReadAfterConflict(t *testing.T) {
	// Both creates see a hash miss; the second one's insert conflicts and
	// must resolve to the first one's row instead of failing.
	repo := &racingHashRepo{Repository: memory.New(), misses: 2}
	svc, err := simpleblob.New(
		simpleblob.WithRepository(repo),
		simpleblob.WithStorageBackend("memory", memorystorage.New()),
	)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("raced bytes")})
	require.NoError(t, err)

	second, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("raced bytes")})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	// Exactly one row exists for the hash.
	found, err := svc.GetBlobByHash(ctx, first.Hash)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestGetBlobByHash(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("findable")})
	require.NoError(t, err)

	found, err := svc.GetBlobByHash(ctx, created.Hash)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = svc.GetBlobByHash(ctx, "not-a-hash")
	assert.ErrorIs(t, err, simpleblob.ErrInvalidHash)

	_, err = svc.GetBlobByHash(ctx, simpleblob.ComputeHash([]byte("never stored")))
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)
}

func TestGetBlobContent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("round trip")})
	require.NoError(t, err)

	data, err := svc.GetBlobContent(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("round trip"), data)
}

func TestGetBlobContent_NotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetBlobContent(context.Background(), uuid.New())
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)
}

func TestGetBlobContent_OrphanedMetadata(t *testing.T) {
	repo := memory.New()
	store := memorystorage.New()
	svc, err := simpleblob.New(
		simpleblob.WithRepository(repo),
		simpleblob.WithStorageBackend("memory", store),
	)
	require.NoError(t, err)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("doomed")})
	require.NoError(t, err)

	// Remove the bytes out from under the metadata row.
	require.NoError(t, store.Delete(ctx, blob.ObjectKey))

	_, err = svc.GetBlobContent(ctx, blob.ID)
	require.Error(t, err)

	var storageErr *simpleblob.StorageError
	assert.ErrorAs(t, err, &storageErr, "orphaned metadata must surface as a storage error, not not-found")
	assert.NotErrorIs(t, err, simpleblob.ErrBlobNotFound)
}

func TestOpenBlobContent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("streamed")})
	require.NoError(t, err)

	rc, err := svc.OpenBlobContent(ctx, blob.ID)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestDestroyBlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("transient")})
	require.NoError(t, err)

	require.NoError(t, svc.DestroyBlob(ctx, blob.ID))

	_, err = svc.GetBlob(ctx, blob.ID)
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)

	_, err = svc.GetBlobByHash(ctx, blob.Hash)
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)
}

func TestDestroyBlob_BlockedWhileReferenced(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	ref, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("pinned"),
	})
	require.NoError(t, err)

	err = svc.DestroyBlob(ctx, ref.BlobID)
	assert.ErrorIs(t, err, simpleblob.ErrBlobInUse)

	// Content must still be readable after the refused destroy.
	data, err := svc.GetDocumentContent(ctx, docID, simpleblob.RefTypeContent)
	require.NoError(t, err)
	assert.Equal(t, "pinned", string(data))

	// Dropping the reference unblocks the destroy.
	require.NoError(t, svc.DeleteReference(ctx, ref.ID))
	require.NoError(t, svc.DestroyBlob(ctx, ref.BlobID))
}

func TestCreateReference(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("target")})
	require.NoError(t, err)

	docID := uuid.New()
	ref, err := svc.CreateReference(ctx, simpleblob.CreateReferenceRequest{
		DocumentID: docID,
		BlobID:     blob.ID,
		RefType:    simpleblob.RefTypeAttachment,
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, ref.ID)
	assert.Equal(t, docID, ref.DocumentID)
	assert.Equal(t, blob.ID, ref.BlobID)
	assert.Equal(t, simpleblob.RefTypeAttachment, ref.RefType)
}

func TestCreateReference_SlotConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("slotted")})
	require.NoError(t, err)

	docID := uuid.New()
	_, err = svc.CreateReference(ctx, simpleblob.CreateReferenceRequest{
		DocumentID: docID,
		BlobID:     blob.ID,
		RefType:    simpleblob.RefTypeContent,
	})
	require.NoError(t, err)

	// Second reference in the same (document, ref type) slot conflicts.
	_, err = svc.CreateReference(ctx, simpleblob.CreateReferenceRequest{
		DocumentID: docID,
		BlobID:     blob.ID,
		RefType:    simpleblob.RefTypeContent,
	})
	assert.ErrorIs(t, err, simpleblob.ErrReferenceExists)

	// A different ref type for the same document is a distinct slot.
	_, err = svc.CreateReference(ctx, simpleblob.CreateReferenceRequest{
		DocumentID: docID,
		BlobID:     blob.ID,
		RefType:    simpleblob.RefTypePreview,
	})
	assert.NoError(t, err)
}

func TestCreateReference_MissingBlob(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateReference(context.Background(), simpleblob.CreateReferenceRequest{
		DocumentID: uuid.New(),
		BlobID:     uuid.New(),
	})
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)
}

func TestLinkContent_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	ref, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("# Title\n\nBody.\n"),
		FileName:   "doc.md",
	})
	require.NoError(t, err)
	assert.Equal(t, simpleblob.RefTypeContent, ref.RefType)

	blob, err := svc.GetBlob(ctx, ref.BlobID)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", blob.ContentType)

	data, err := svc.GetDocumentContent(ctx, docID, simpleblob.RefTypeContent)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody.\n", string(data))
}

func TestLinkContent_SlotConflictCompensates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	_, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("first"),
	})
	require.NoError(t, err)

	_, err = svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("second"),
	})
	assert.ErrorIs(t, err, simpleblob.ErrReferenceExists)

	// The blob created for the failed link must not remain observable.
	_, err = svc.GetBlobByHash(ctx, simpleblob.ComputeHash([]byte("second")))
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)

	// The original content is untouched.
	data, err := svc.GetDocumentContent(ctx, docID, simpleblob.RefTypeContent)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestLinkContent_ConflictKeepsDedupedBlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	keeper := uuid.New()
	kept, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: keeper,
		Data:       []byte("shared payload"),
	})
	require.NoError(t, err)

	// Occupy the slot on another document, then try to link the shared bytes
	// into it. The link fails but the pre-existing blob must survive.
	docID := uuid.New()
	_, err = svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("occupier"),
	})
	require.NoError(t, err)

	_, err = svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("shared payload"),
	})
	assert.ErrorIs(t, err, simpleblob.ErrReferenceExists)

	blob, err := svc.GetBlob(ctx, kept.BlobID)
	require.NoError(t, err)
	assert.Equal(t, simpleblob.ComputeHash([]byte("shared payload")), blob.Hash)
}

func TestUpdateContent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	original, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("version one"),
	})
	require.NoError(t, err)

	updated, err := svc.UpdateContent(ctx, simpleblob.UpdateContentRequest{
		DocumentID: docID,
		Data:       []byte("version two"),
	})
	require.NoError(t, err)

	assert.NotEqual(t, original.BlobID, updated.BlobID)

	data, err := svc.GetDocumentContent(ctx, docID, simpleblob.RefTypeContent)
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))

	// The superseded blob is never mutated: still fetchable by hash.
	old, err := svc.GetBlobByHash(ctx, simpleblob.ComputeHash([]byte("version one")))
	require.NoError(t, err)

	oldData, err := svc.GetBlobContent(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "version one", string(oldData))
}

func TestUpdateContent_CreatesReferenceWhenAbsent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	ref, err := svc.UpdateContent(ctx, simpleblob.UpdateContentRequest{
		DocumentID: docID,
		Data:       []byte("fresh"),
	})
	require.NoError(t, err)
	assert.Equal(t, docID, ref.DocumentID)

	data, err := svc.GetDocumentContent(ctx, docID, simpleblob.RefTypeContent)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestUpdateContent_SameBytesDedup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	first, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("stable"),
	})
	require.NoError(t, err)

	second, err := svc.UpdateContent(ctx, simpleblob.UpdateContentRequest{
		DocumentID: docID,
		Data:       []byte("stable"),
	})
	require.NoError(t, err)
	assert.Equal(t, first.BlobID, second.BlobID)
}

func TestGetDocumentContent_NoReference(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetDocumentContent(context.Background(), uuid.New(), simpleblob.RefTypeContent)
	require.Error(t, err)
	assert.ErrorIs(t, err, simpleblob.ErrReferenceNotFound)
	assert.Contains(t, err.Error(), "no content found for document")
}

func TestListReferences(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	_, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("body"),
		RefType:    simpleblob.RefTypeContent,
	})
	require.NoError(t, err)

	_, err = svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("thumb"),
		RefType:    simpleblob.RefTypePreview,
	})
	require.NoError(t, err)

	refs, err := svc.ListReferences(ctx, docID)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	// Empty list, not an error, for an unknown document.
	refs, err = svc.ListReferences(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestGetReferenceByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	docID := uuid.New()
	created, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: docID,
		Data:       []byte("typed"),
		RefType:    simpleblob.RefTypeAttachment,
	})
	require.NoError(t, err)

	ref, err := svc.GetReferenceByType(ctx, docID, simpleblob.RefTypeAttachment)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, created.ID, ref.ID)

	// Absence is a valid outcome: nil reference, nil error.
	ref, err = svc.GetReferenceByType(ctx, docID, simpleblob.RefTypePreview)
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestReferenceCount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{Data: []byte("counted")})
	require.NoError(t, err)

	count, err := svc.ReferenceCount(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for i := 0; i < 3; i++ {
		_, err = svc.CreateReference(ctx, simpleblob.CreateReferenceRequest{
			DocumentID: uuid.New(),
			BlobID:     blob.ID,
		})
		require.NoError(t, err)
	}

	count, err = svc.ReferenceCount(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRegisterBackend(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RegisterBackend("second", memorystorage.New())

	backend, err := svc.GetBackend("second")
	require.NoError(t, err)
	assert.NotNil(t, backend)

	blob, err := svc.CreateBlob(ctx, simpleblob.CreateBlobRequest{
		Data:               []byte("routed"),
		StorageBackendName: "second",
	})
	require.NoError(t, err)
	assert.Equal(t, "second", blob.StorageBackendName)

	data, err := svc.GetBlobContent(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, "routed", string(data))
}

func TestGetBackend_Unknown(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetBackend("nope")
	assert.ErrorIs(t, err, simpleblob.ErrUnknownBackend)
}

type failingPutBackend struct {
	simpleblob.StorageBackend
}

func (f *failingPutBackend) Put(ctx context.Context, key string, r io.Reader) error {
	return &simpleblob.StorageError{Backend: "flaky", Key: key, Op: "put", Transient: true, Err: errors.New("throttled")}
}

func TestCreateBlob_TransientStorageFailure(t *testing.T) {
	svc, err := simpleblob.New(
		simpleblob.WithRepository(memory.New()),
		simpleblob.WithStorageBackend("flaky", &failingPutBackend{memorystorage.New()}),
	)
	require.NoError(t, err)

	_, err = svc.CreateBlob(context.Background(), simpleblob.CreateBlobRequest{
		Data: []byte(strings.Repeat("x", 32)),
	})
	require.Error(t, err)

	var storageErr *simpleblob.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.True(t, storageErr.Transient)
	assert.Equal(t, "flaky", storageErr.Backend)

	// No metadata row may exist after a failed write.
	_, err = svc.GetBlobByHash(context.Background(), simpleblob.ComputeHash([]byte(strings.Repeat("x", 32))))
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)
}
