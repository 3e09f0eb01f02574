package simpleblob

import "fmt"

// objectKeyPrefix is the top-level directory for blob objects in every
// storage backend.
const objectKeyPrefix = "blobs"

// BuildObjectKey maps a content digest to its storage key:
// "blobs/{hash[0:2]}/{hash[2:64]}".
//
// The two-character fan-out bounds the number of entries in any single
// directory as the store grows. Returns ErrInvalidHash unless hash is a
// 64-character lowercase hex digest.
func BuildObjectKey(hash string) (string, error) {
	if !IsValidHash(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return fmt.Sprintf("%s/%s/%s", objectKeyPrefix, hash[:2], hash[2:]), nil
}
