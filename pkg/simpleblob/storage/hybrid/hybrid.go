// Package hybrid routes writes across two child backends by payload shape:
// small or textual payloads go to one backend (typically disk), large binary
// payloads to another (typically an object store). Reads and deletes probe
// the children, so no routing state needs to survive a restart.
package hybrid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tendant/simple-blob/pkg/simpleblob"
)

// DefaultLargeThreshold is the payload size at which binary content routes
// to the Large backend.
const DefaultLargeThreshold int64 = 1 << 20 // 1 MiB

// Config options for the hybrid backend
type Config struct {
	Small simpleblob.StorageBackend // small and textual payloads
	Large simpleblob.StorageBackend // large binary payloads

	// LargeThreshold is the size in bytes at or above which binary content
	// is considered large. Defaults to DefaultLargeThreshold.
	LargeThreshold int64
}

// Backend is a routing implementation of the simpleblob.StorageBackend
// interface.
type Backend struct {
	small     simpleblob.StorageBackend
	large     simpleblob.StorageBackend
	threshold int64
}

// New creates a new hybrid storage backend
func New(config Config) (*Backend, error) {
	if config.Small == nil || config.Large == nil {
		return nil, errors.New("both small and large child backends are required")
	}

	threshold := config.LargeThreshold
	if threshold <= 0 {
		threshold = DefaultLargeThreshold
	}

	return &Backend{
		small:     config.Small,
		large:     config.Large,
		threshold: threshold,
	}, nil
}

// Put buffers the content to classify it, then stores it in the routed
// child backend.
func (b *Backend) Put(ctx context.Context, objectKey string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to buffer content for routing: %w", err)
	}

	return b.route(data).Put(ctx, objectKey, bytes.NewReader(data))
}

// Get reads the object from whichever child holds it
func (b *Backend) Get(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	for _, child := range b.children() {
		rc, err := child.Get(ctx, objectKey)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, simpleblob.ErrObjectNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
}

// Delete removes the object from whichever children hold it
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	deleted := false
	for _, child := range b.children() {
		err := child.Delete(ctx, objectKey)
		if err == nil {
			deleted = true
			continue
		}
		if !errors.Is(err, simpleblob.ErrObjectNotFound) {
			return err
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %s", simpleblob.ErrObjectNotFound, objectKey)
	}
	return nil
}

// Exists reports whether any child holds the object
func (b *Backend) Exists(ctx context.Context, objectKey string) (bool, error) {
	for _, child := range b.children() {
		exists, err := child.Exists(ctx, objectKey)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// route picks the child backend for a payload: binary content at or above
// the threshold goes large, everything else small.
func (b *Backend) route(data []byte) simpleblob.StorageBackend {
	if int64(len(data)) >= b.threshold && !simpleblob.IsTextContent(data) {
		return b.large
	}
	return b.small
}

func (b *Backend) children() []simpleblob.StorageBackend {
	return []simpleblob.StorageBackend{b.small, b.large}
}
