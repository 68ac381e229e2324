package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"portab/internal/portab"
)

// MemoryVault keeps everything in process memory. It backs tests and the
// "memory" vault type. Safe for concurrent use.
type MemoryVault struct {
	name string

	mu       sync.RWMutex
	blobs    map[string][]byte // checksum -> blob
	metadata map[string]metadataEntry
}

type metadataEntry struct {
	data    []byte
	version int64
}

var _ portab.Vault = (*MemoryVault)(nil)

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		blobs:    make(map[string][]byte),
		metadata: make(map[string]metadataEntry),
	}
}

func (m *MemoryVault) PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	data, err := readSized(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[checksum]; !ok {
		m.blobs[checksum] = data
	}
	return nil
}

func (m *MemoryVault) GetContent(ctx context.Context, checksum string, w io.Writer) error {
	if err := checkChecksum(checksum); err != nil {
		return err
	}
	m.mu.RLock()
	data, ok := m.blobs[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: content %s", ErrNotFound, checksum)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

func (m *MemoryVault) PutMetadata(ctx context.Context, hostID, name string, r io.Reader, size int64, version int64) error {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return err
	}
	data, err := readSized(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[key] = metadataEntry{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetMetadata(ctx context.Context, hostID, name string, w io.Writer) error {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return err
	}
	m.mu.RLock()
	entry, ok := m.metadata[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: metadata %q for host %s", ErrNotFound, name, hostID)
	}
	if _, err := io.Copy(w, bytes.NewReader(entry.data)); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

func (m *MemoryVault) GetMetadataVersion(ctx context.Context, hostID, name string) (int64, error) {
	key, err := metadataKey(hostID, name)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[key].version, nil
}

func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}
