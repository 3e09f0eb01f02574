// Package sqlite implements simpleblob.Repository on a single SQLite file,
// for single-node deployments and tests that want real uniqueness
// enforcement without a Postgres instance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-blob/pkg/simpleblob"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
    id                   TEXT PRIMARY KEY,
    hash                 TEXT NOT NULL UNIQUE,
    size                 INTEGER NOT NULL CHECK (size >= 0),
    content_type         TEXT NOT NULL,
    encoding             TEXT NOT NULL,
    storage_backend_name TEXT NOT NULL,
    object_key           TEXT NOT NULL,
    created_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS blob_references (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    blob_id     TEXT NOT NULL REFERENCES blobs(id),
    ref_type    TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL,
    UNIQUE (document_id, ref_type)
);

CREATE INDEX IF NOT EXISTS idx_blob_references_blob_id ON blob_references(blob_id);
CREATE INDEX IF NOT EXISTS idx_blob_references_document_id ON blob_references(document_id);
`

// Repository implements simpleblob.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and bootstraps the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Repository, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer; a bounded pool avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// New wraps an already-open database handle. The schema must exist.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// Blob operations

func (r *Repository) CreateBlob(ctx context.Context, blob *simpleblob.Blob) error {
	query := `
		INSERT INTO blobs (id, hash, size, content_type, encoding, storage_backend_name, object_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		blob.ID.String(), blob.Hash, blob.Size, blob.ContentType,
		blob.Encoding, blob.StorageBackendName, blob.ObjectKey, blob.CreatedAt)

	if isUniqueViolation(err) {
		return simpleblob.ErrBlobExists
	}
	return err
}

func (r *Repository) GetBlob(ctx context.Context, id uuid.UUID) (*simpleblob.Blob, error) {
	query := `
		SELECT id, hash, size, content_type, encoding, storage_backend_name, object_key, created_at
		FROM blobs WHERE id = ?`

	return r.scanBlob(r.db.QueryRowContext(ctx, query, id.String()))
}

func (r *Repository) GetBlobByHash(ctx context.Context, hash string) (*simpleblob.Blob, error) {
	query := `
		SELECT id, hash, size, content_type, encoding, storage_backend_name, object_key, created_at
		FROM blobs WHERE hash = ?`

	return r.scanBlob(r.db.QueryRowContext(ctx, query, hash))
}

func (r *Repository) DeleteBlobIfUnreferenced(ctx context.Context, id uuid.UUID) error {
	// Single statement keeps the count check and the delete in one atomic
	// step; no window for a reference to appear in between.
	query := `
		DELETE FROM blobs
		WHERE id = ?
		  AND NOT EXISTS (SELECT 1 FROM blob_references WHERE blob_id = ?)`

	res, err := r.db.ExecContext(ctx, query, id.String(), id.String())
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Nothing deleted: distinguish missing from still-referenced.
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return simpleblob.ErrBlobNotFound
	}
	if err != nil {
		return err
	}
	return simpleblob.ErrBlobInUse
}

// Reference operations

func (r *Repository) CreateReference(ctx context.Context, ref *simpleblob.Reference) error {
	query := `
		INSERT INTO blob_references (id, document_id, blob_id, ref_type, created_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		ref.ID.String(), ref.DocumentID.String(), ref.BlobID.String(), string(ref.RefType), ref.CreatedAt)

	if isUniqueViolation(err) {
		return simpleblob.ErrReferenceExists
	}
	return err
}

func (r *Repository) GetReference(ctx context.Context, id uuid.UUID) (*simpleblob.Reference, error) {
	query := `
		SELECT id, document_id, blob_id, ref_type, created_at
		FROM blob_references WHERE id = ?`

	return r.scanReference(r.db.QueryRowContext(ctx, query, id.String()))
}

func (r *Repository) GetReferenceByDocumentAndType(ctx context.Context, documentID uuid.UUID, refType simpleblob.RefType) (*simpleblob.Reference, error) {
	query := `
		SELECT id, document_id, blob_id, ref_type, created_at
		FROM blob_references WHERE document_id = ? AND ref_type = ?`

	return r.scanReference(r.db.QueryRowContext(ctx, query, documentID.String(), string(refType)))
}

func (r *Repository) ListReferencesByDocument(ctx context.Context, documentID uuid.UUID) ([]*simpleblob.Reference, error) {
	query := `
		SELECT id, document_id, blob_id, ref_type, created_at
		FROM blob_references WHERE document_id = ?
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, documentID.String())
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
	query := `
		INSERT INTO blob_references (id, document_id, blob_id, ref_type, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, ref_type) DO UPDATE SET blob_id = excluded.blob_id
		RETURNING id, document_id, blob_id, ref_type, created_at`

	return r.scanReference(r.db.QueryRowContext(ctx, query,
		uuid.New().String(), documentID.String(), blobID.String(), string(refType), time.Now().UTC()))
}

func (r *Repository) DeleteReference(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blob_references WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return simpleblob.ErrReferenceNotFound
	}
	return nil
}

func (r *Repository) CountReferencesByBlob(ctx context.Context, blobID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blob_references WHERE blob_id = ?`, blobID.String()).Scan(&count)
	return count, err
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanBlob(row rowScanner) (*simpleblob.Blob, error) {
	var blob simpleblob.Blob
	var id string
	err := row.Scan(&id, &blob.Hash, &blob.Size, &blob.ContentType,
		&blob.Encoding, &blob.StorageBackendName, &blob.ObjectKey, &blob.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, simpleblob.ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	if blob.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt blob id %q: %w", id, err)
	}
	return &blob, nil
}

func (r *Repository) scanReference(row rowScanner) (*simpleblob.Reference, error) {
	var ref simpleblob.Reference
	var id, documentID, blobID, refType string
	err := row.Scan(&id, &documentID, &blobID, &refType, &ref.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, simpleblob.ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	if ref.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt reference id %q: %w", id, err)
	}
	if ref.DocumentID, err = uuid.Parse(documentID); err != nil {
		return nil, fmt.Errorf("corrupt document id %q: %w", documentID, err)
	}
	if ref.BlobID, err = uuid.Parse(blobID); err != nil {
		return nil, fmt.Errorf("corrupt blob id %q: %w", blobID, err)
	}
	ref.RefType = simpleblob.RefType(refType)
	return &ref, nil
}
