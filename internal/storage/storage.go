package storage

import (
	"context"
	"errors"
)

var (
	// ErrQuotaExceeded is returned when a write would exceed the medium's capacity.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrClosed        = errors.New("storage medium closed")
)

// Medium holds named regions of bytes. Implementations must be safe for concurrent use.
type Medium interface {
	// Get returns the region's value; ok is false when the region was never written.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}
