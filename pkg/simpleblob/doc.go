// Package simpleblob is a content-addressable blob store with a reference
// layer on top.
//
// Blobs are immutable byte sequences identified by the SHA-256 digest of
// their content. Creating a blob whose bytes already exist returns the
// existing row (dedup); there is no operation that rewrites a blob's bytes.
// References map a (document, ref type) slot to a blob, with at most one
// reference per slot. A blob cannot be destroyed while any reference still
// points at it.
//
// Byte persistence is delegated to pluggable StorageBackend implementations
// (filesystem, in-memory, S3-compatible, append-only versioned, hybrid
// router), and metadata lives in a Repository (in-memory, SQLite, Postgres).
// The documents that own references are external to this library: only their
// UUIDs are stored here.
package simpleblob
