// Package versioned is a filesystem storage backend in which every write is
// an append-only commit. Each object key maps to a directory holding
// numbered, immutable revision files plus a commit log; a HEAD file names
// the revision that Get serves. Useful when the history of writes at a key
// is itself valuable.
//
// Note the store above already never rewrites blob bytes: under
// content-addressed keys each key normally sees a single revision, and the
// history becomes interesting only for callers using this backend directly
// with their own keys.
package versioned

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-blob/pkg/simpleblob"
)

const (
	headFile = "HEAD"
	logFile  = "COMMITS"
)

// Revision describes one committed write at a key.
type Revision struct {
	Name      string
	Size      int64
	Committed time.Time
}

// Backend is an append-only implementation of the
// simpleblob.StorageBackend interface.
type Backend struct {
	mu      sync.Mutex
	baseDir string
}

// Config options for the versioned backend
type Config struct {
	BaseDir string // Base directory for storing revisions
}

// New creates a new versioned storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir}, nil
}

func (b *Backend) keyDir(objectKey string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(objectKey))
}

// Put commits the content as a new immutable revision at objectKey and
// advances HEAD to it. Prior revisions are never modified or removed.
func (b *Backend) Put(ctx context.Context, objectKey string, reader io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := b.keyDir(objectKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	next, err := b.nextRevisionLocked(dir)
	if err != nil {
		return err
	}
	revName := fmt.Sprintf("rev-%06d", next)
	revPath := filepath.Join(dir, revName)

	tmp, err := os.CreateTemp(dir, ".commit-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, reader)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write revision: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, revPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit revision: %w", err)
	}

	committed := time.Now().UTC()
	if err := b.appendCommitLocked(dir, revName, size, committed); err != nil {
		return err
	}

	// HEAD last: a crash before this leaves the previous revision current
	// and the new one as an orphaned commit, never a torn HEAD.
	return b.writeHeadLocked(dir, revName)
}

// Get opens the HEAD revision at objectKey for reading
func (b *Backend) Get(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	dir := b.keyDir(objectKey)

	head, err := b.readHead(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	file, err := os.Open(filepath.Join(dir, head))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open revision: %w", err)
	}

	return file, nil
}

// Delete removes the key and its entire revision history
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := b.keyDir(objectKey)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(dir))
	return nil
}

// Exists reports whether a HEAD revision is present at objectKey
func (b *Backend) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := b.readHead(b.keyDir(objectKey))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Revisions returns the commit history for objectKey, oldest first.
func (b *Backend) Revisions(ctx context.Context, objectKey string) ([]Revision, error) {
	dir := b.keyDir(objectKey)

	f, err := os.Open(filepath.Join(dir, logFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open commit log: %w", err)
	}
	defer f.Close()

	var revisions []Revision
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Line format: "<rev-name> <size> <rfc3339 timestamp>"
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		committed, err := time.Parse(time.RFC3339Nano, fields[2])
		if err != nil {
			continue
		}
		revisions = append(revisions, Revision{Name: fields[0], Size: size, Committed: committed})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commit log: %w", err)
	}

	return revisions, nil
}

func (b *Backend) nextRevisionLocked(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read key directory: %w", err)
	}

	next := 1
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "rev-") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(name, "rev-")); err == nil && n >= next {
			next = n + 1
		}
	}
	return next, nil
}

func (b *Backend) appendCommitLocked(dir, revName string, size int64, committed time.Time) error {
	f, err := os.OpenFile(filepath.Join(dir, logFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open commit log: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s %d %s\n", revName, size, committed.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append commit: %w", err)
	}
	return nil
}

func (b *Backend) writeHeadLocked(dir, revName string) error {
	tmp := filepath.Join(dir, ".head-tmp")
	if err := os.WriteFile(tmp, []byte(revName+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write HEAD: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, headFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to advance HEAD: %w", err)
	}
	return nil
}

func (b *Backend) readHead(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, headFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
