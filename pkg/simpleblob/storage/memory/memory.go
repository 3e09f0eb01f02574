package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tendant/simple-blob/pkg/simpleblob"
)

// Backend is an in-memory implementation of the simpleblob.StorageBackend
// interface. Contents are lost on process exit; intended for tests and
// ephemeral caching layers.
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates a new in-memory storage backend
func New() simpleblob.StorageBackend {
	return &Backend{
		objects: make(map[string][]byte),
	}
}

// Put stores content at objectKey
func (b *Backend) Put(ctx context.Context, objectKey string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[objectKey] = data
	return nil
}

// Get opens the object at objectKey for reading
func (b *Backend) Get(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object at objectKey
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[objectKey]; !exists {
		return fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
	}

	delete(b.objects, objectKey)
	return nil
}

// Exists reports whether an object is present at objectKey
func (b *Backend) Exists(ctx context.Context, objectKey string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[objectKey]
	return exists, nil
}
