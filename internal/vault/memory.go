package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"drift-go/internal/drift"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for testing and is safe for concurrent use.
type MemoryVault struct {
	name    string
	content map[string][]byte // hash -> sealed payload
	mu      sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		content: make(map[string][]byte),
	}
}

// PutContent stores content identified by its hash.
func (m *MemoryVault) PutContent(_ context.Context, hash string, r io.Reader, size int64) error {
	if err := checkHash(hash); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[hash]; !ok {
		m.content[hash] = data
	}
	return nil
}

// GetContent retrieves content by hash.
func (m *MemoryVault) GetContent(_ context.Context, hash string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[hash]
	m.mu.RUnlock()
	if !ok {
		return contentNotFound(hash)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// HasContent reports whether content for hash is stored.
func (m *MemoryVault) HasContent(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[hash]
	return ok, nil
}

// Len returns the number of stored objects.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}

var _ drift.Vault = (*MemoryVault)(nil)
