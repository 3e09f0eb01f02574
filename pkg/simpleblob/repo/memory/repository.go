package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

type slotKey struct {
	documentID uuid.UUID
	refType    simpleblob.RefType
}

// Repository implements simpleblob.Repository using in-memory storage.
// All composite operations run under one lock, which is the in-memory
// equivalent of the transactional boundary the SQL repositories get from
// their database.
type Repository struct {
	mu          sync.RWMutex
	blobs       map[uuid.UUID]*simpleblob.Blob
	blobsByHash map[string]uuid.UUID
	refs        map[uuid.UUID]*simpleblob.Reference
	refsBySlot  map[slotKey]uuid.UUID
	refsByDoc   map[uuid.UUID][]uuid.UUID
}

// New creates a new in-memory repository
func New() simpleblob.Repository {
	return &Repository{
		blobs:       make(map[uuid.UUID]*simpleblob.Blob),
		blobsByHash: make(map[string]uuid.UUID),
		refs:        make(map[uuid.UUID]*simpleblob.Reference),
		refsBySlot:  make(map[slotKey]uuid.UUID),
		refsByDoc:   make(map[uuid.UUID][]uuid.UUID),
	}
}

// Blob operations

func (r *Repository) CreateBlob(ctx context.Context, blob *simpleblob.Blob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Hash uniqueness is the dedup guarantee
	if _, exists := r.blobsByHash[blob.Hash]; exists {
		return simpleblob.ErrBlobExists
	}

	// Create a copy to avoid external modifications
	blobCopy := *blob
	r.blobs[blob.ID] = &blobCopy
	r.blobsByHash[blob.Hash] = blob.ID

	return nil
}

func (r *Repository) GetBlob(ctx context.Context, id uuid.UUID) (*simpleblob.Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blob, exists := r.blobs[id]
	if !exists {
		return nil, simpleblob.ErrBlobNotFound
	}

	blobCopy := *blob
	return &blobCopy, nil
}

func (r *Repository) GetBlobByHash(ctx context.Context, hash string) (*simpleblob.Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.blobsByHash[hash]
	if !exists {
		return nil, simpleblob.ErrBlobNotFound
	}

	blobCopy := *r.blobs[id]
	return &blobCopy, nil
}

func (r *Repository) DeleteBlobIfUnreferenced(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob, exists := r.blobs[id]
	if !exists {
		return simpleblob.ErrBlobNotFound
	}
	if r.countRefsLocked(id) > 0 {
		return simpleblob.ErrBlobInUse
	}

	delete(r.blobs, id)
	delete(r.blobsByHash, blob.Hash)

	return nil
}

// Reference operations

func (r *Repository) CreateReference(ctx context.Context, ref *simpleblob.Reference) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := slotKey{documentID: ref.DocumentID, refType: ref.RefType}
	if _, exists := r.refsBySlot[slot]; exists {
		return simpleblob.ErrReferenceExists
	}

	refCopy := *ref
	r.refs[ref.ID] = &refCopy
	r.refsBySlot[slot] = ref.ID
	r.refsByDoc[ref.DocumentID] = append(r.refsByDoc[ref.DocumentID], ref.ID)

	return nil
}

func (r *Repository) GetReference(ctx context.Context, id uuid.UUID) (*simpleblob.Reference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, exists := r.refs[id]
	if !exists {
		return nil, simpleblob.ErrReferenceNotFound
	}

	refCopy := *ref
	return &refCopy, nil
}

func (r *Repository) GetReferenceByDocumentAndType(ctx context.Context, documentID uuid.UUID, refType simpleblob.RefType) (*simpleblob.Reference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.refsBySlot[slotKey{documentID: documentID, refType: refType}]
	if !exists {
		return nil, simpleblob.ErrReferenceNotFound
	}

	refCopy := *r.refs[id]
	return &refCopy, nil
}

func (r *Repository) ListReferencesByDocument(ctx context.Context, documentID uuid.UUID) ([]*simpleblob.Reference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.refsByDoc[documentID]
	result := make([]*simpleblob.Reference, 0, len(ids))
	for _, id := range ids {
		if ref, exists := r.refs[id]; exists {
			refCopy := *ref
			result = append(result, &refCopy)
		}
	}

	// Sort by created_at ascending
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *Repository) RepointReference(ctx context.Context, documentID uuid.UUID, refType simpleblob.RefType, blobID uuid.UUID) (*simpleblob.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := slotKey{documentID: documentID, refType: refType}
	if id, exists := r.refsBySlot[slot]; exists {
		ref := r.refs[id]
		ref.BlobID = blobID
		refCopy := *ref
		return &refCopy, nil
	}

	ref := &simpleblob.Reference{
		ID:         uuid.New(),
		DocumentID: documentID,
		BlobID:     blobID,
		RefType:    refType,
		CreatedAt:  time.Now().UTC(),
	}
	r.refs[ref.ID] = ref
	r.refsBySlot[slot] = ref.ID
	r.refsByDoc[documentID] = append(r.refsByDoc[documentID], ref.ID)

	refCopy := *ref
	return &refCopy, nil
}

func (r *Repository) DeleteReference(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, exists := r.refs[id]
	if !exists {
		return simpleblob.ErrReferenceNotFound
	}

	delete(r.refs, id)
	delete(r.refsBySlot, slotKey{documentID: ref.DocumentID, refType: ref.RefType})

	ids := r.refsByDoc[ref.DocumentID]
	for i, refID := range ids {
		if refID == id {
			r.refsByDoc[ref.DocumentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.refsByDoc[ref.DocumentID]) == 0 {
		delete(r.refsByDoc, ref.DocumentID)
	}

	return nil
}

func (r *Repository) CountReferencesByBlob(ctx context.Context, blobID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.countRefsLocked(blobID), nil
}

func (r *Repository) countRefsLocked(blobID uuid.UUID) int64 {
	var count int64
	for _, ref := range r.refs {
		if ref.BlobID == blobID {
			count++
		}
	}
	return count
}
