package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleblob.Repository using PostgreSQL.
//
// Expected schema (uniqueness constraints carry the store's invariants):
//
//	CREATE TABLE blobs (
//	    id                   UUID PRIMARY KEY,
//	    hash                 TEXT NOT NULL,
//	    size                 BIGINT NOT NULL CHECK (size >= 0),
//	    content_type         TEXT NOT NULL,
//	    encoding             TEXT NOT NULL,
//	    storage_backend_name TEXT NOT NULL,
//	    object_key           TEXT NOT NULL,
//	    created_at           TIMESTAMPTZ NOT NULL,
//	    CONSTRAINT blobs_hash_key UNIQUE (hash)
//	);
//
//	CREATE TABLE blob_references (
//	    id          UUID PRIMARY KEY,
//	    document_id UUID NOT NULL,
//	    blob_id     UUID NOT NULL REFERENCES blobs(id),
//	    ref_type    TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    CONSTRAINT blob_references_slot_key UNIQUE (document_id, ref_type)
//	);
//	CREATE INDEX blob_references_blob_id_idx ON blob_references (blob_id);
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) simpleblob.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) simpleblob.Repository {
	return &Repository{db: pool}
}

// uniqueViolation maps a 23505 to the sentinel matching the violated
// constraint, or returns nil for other errors.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "blobs_hash_key":
		return simpleblob.ErrBlobExists
	case "blob_references_slot_key":
		return simpleblob.ErrReferenceExists
	}
	return fmt.Errorf("duplicate entry: %s", pgErr.ConstraintName)
}

// Blob operations

func (r *Repository) CreateBlob(ctx context.Context, blob *simpleblob.Blob) error {
	query := `
		INSERT INTO blobs (id, hash, size, content_type, encoding, storage_backend_name, object_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		blob.ID, blob.Hash, blob.Size, blob.ContentType,
		blob.Encoding, blob.StorageBackendName, blob.ObjectKey, blob.CreatedAt)

	if err != nil {
		if uerr := uniqueViolation(err); uerr != nil {
			return uerr
		}
		return fmt.Errorf("create blob: %w", err)
	}

	return nil
}

func (r *Repository) GetBlob(ctx context.Context, id uuid.UUID) (*simpleblob.Blob, error) {
	query := `
		SELECT id, hash, size, content_type, encoding, storage_backend_name, object_key, created_at
		FROM blobs WHERE id = $1`

	return r.scanBlob(r.db.QueryRow(ctx, query, id))
}

func (r *Repository) GetBlobByHash(ctx context.Context, hash string) (*simpleblob.Blob, error) {
	query := `
		SELECT id, hash, size, content_type, encoding, storage_backend_name, object_key, created_at
		FROM blobs WHERE hash = $1`

	return r.scanBlob(r.db.QueryRow(ctx, query, hash))
}

func (r *Repository) DeleteBlobIfUnreferenced(ctx context.Context, id uuid.UUID) error {
	// One statement: the count check and the delete share a snapshot, so a
	// reference cannot be created between them.
	query := `
		DELETE FROM blobs
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM blob_references WHERE blob_id = $1)`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if !exists {
		return simpleblob.ErrBlobNotFound
	}
	return simpleblob.ErrBlobInUse
}

// Reference operations

func (r *Repository) CreateReference(ctx context.Context, ref *simpleblob.Reference) error {
	query := `
		INSERT INTO blob_references (id, document_id, blob_id, ref_type, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		ref.ID, ref.DocumentID, ref.BlobID, string(ref.RefType), ref.CreatedAt)

	if err != nil {
		if uerr := uniqueViolation(err); uerr != nil {
			return uerr
		}
		return fmt.Errorf("create reference: %w", err)
	}

	return nil
}

func (r *Repository) GetReference(ctx context.Context, id uuid.UUID) (*simpleblob.Reference, error) {
	query := `
		SELECT id, document_id, blob_id, ref_type, created_at
		FROM blob_references WHERE id = $1`

	return r.scanReference(r.db.QueryRow(ctx, query, id))
}

func (r *Repository) GetReferenceByDocumentAndType(ctx context.Context, documentID uuid.UUID, refType simpleblob.RefType) (*simpleblob.Reference, error) {
	query := `
		SELECT id, document_id, blob_id, ref_type, created_at
		FROM blob_references WHERE document_id = $1 AND ref_type = $2`

	return r.scanReference(r.db.QueryRow(ctx, query, documentID, string(refType)))
}

func (r *Repository) ListReferencesByDocument(ctx context.Context, documentID uuid.UUID) ([]*simpleblob.Reference, error) {
	query := `
		SELECT id, document_id, blob_id, ref_type, created_at
		FROM blob_references WHERE document_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*simpleblob.Reference
	for rows.Next() {
		ref, err := r.scanReference(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ref)
	}
	return result, rows.Err()
}

func (r *Repository) RepointReference(ctx context.Context, documentID uuid.UUID, refType simpleblob.RefType, blobID uuid.UUID) (*simpleblob.Reference, error) {
	// Atomic update-or-insert for the document slot; RETURNING hands back
	// the surviving row either way.
	query := `
		INSERT INTO blob_references (id, document_id, blob_id, ref_type, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (document_id, ref_type) DO UPDATE SET blob_id = EXCLUDED.blob_id
		RETURNING id, document_id, blob_id, ref_type, created_at`

	return r.scanReference(r.db.QueryRow(ctx, query, uuid.New(), documentID, blobID, string(refType)))
}

func (r *Repository) DeleteReference(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM blob_references WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleblob.ErrReferenceNotFound
	}
	return nil
}

func (r *Repository) CountReferencesByBlob(ctx context.Context, blobID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM blob_references WHERE blob_id = $1`, blobID).Scan(&count)
	return count, err
}

// Scan helpers

func (r *Repository) scanBlob(row pgx.Row) (*simpleblob.Blob, error) {
	var blob simpleblob.Blob
	err := row.Scan(&blob.ID, &blob.Hash, &blob.Size, &blob.ContentType,
		&blob.Encoding, &blob.StorageBackendName, &blob.ObjectKey, &blob.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleblob.ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &blob, nil
}

func (r *Repository) scanReference(row pgx.Row) (*simpleblob.Reference, error) {
	var ref simpleblob.Reference
	var refType string
	err := row.Scan(&ref.ID, &ref.DocumentID, &ref.BlobID, &refType, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleblob.ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	ref.RefType = simpleblob.RefType(refType)
	return &ref, nil
}
