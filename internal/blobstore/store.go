// Package blobstore persists small string values under bucket/key pairs.
package blobstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Read when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the read/write collaborator holding the freshness marker.
type Store interface {
	Read(ctx context.Context, bucket, key string) (string, error)
	Write(ctx context.Context, bucket, key, value string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) Read(_ context.Context, bucket, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[objectName(bucket, key)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Write(_ context.Context, bucket, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[objectName(bucket, key)] = value
	return nil
}

func objectName(bucket, key string) string {
	return bucket + "/" + key
}
