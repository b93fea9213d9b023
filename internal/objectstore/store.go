package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingKey indicates that an object key is empty.
	ErrMissingKey = errors.New("objectstore: object key is required")
	// ErrMissingBucket indicates that a backend was configured without a bucket.
	ErrMissingBucket = errors.New("objectstore: bucket is required")
	// ErrUnknownDriver indicates that the configured storage driver is not supported.
	ErrUnknownDriver = errors.New("objectstore: unknown driver")
)

// Store is the narrow object store contract consumed by the gallery core.
// None of the operations are atomic across keys.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Remove deletes every key it can. Missing keys are not an error.
	// When some keys could not be removed the returned error is a *RemoveError.
	Remove(ctx context.Context, keys []string) error

	// PublicURL returns the address clients use to fetch key.
	PublicURL(key string) string
}

// RemoveError reports the keys a multi-key removal failed to delete.
type RemoveError struct {
	Keys  []string
	Cause error
}

func (e *RemoveError) Error() string {
	return fmt.Sprintf("objectstore: failed to remove %d object(s) [%s]: %v", len(e.Keys), strings.Join(e.Keys, ", "), e.Cause)
}

func (e *RemoveError) Unwrap() error {
	return e.Cause
}

// FailedKeys extracts the keys left behind by a failed Remove call. Errors that are
// not a *RemoveError are assumed to have affected every requested key.
func FailedKeys(err error, requested []string) []string {
	if err == nil {
		return nil
	}
	var removeErr *RemoveError
	if errors.As(err, &removeErr) && len(removeErr.Keys) > 0 {
		return append([]string(nil), removeErr.Keys...)
	}
	return append([]string(nil), requested...)
}

func compactKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	compacted := make([]string, 0, len(keys))
	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		compacted = append(compacted, trimmed)
	}
	return compacted
}

func joinPublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}
