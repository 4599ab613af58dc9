package index

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// Manager opens and caches tenant partitions under the index directory.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	partitions map[string]*Partition
	closed     bool
}

// NewManager creates a partition manager. Partitions open lazily on first
// use.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "index directory is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "embedding dimensions must be positive", nil)
	}
	return &Manager{
		cfg:        cfg,
		partitions: make(map[string]*Partition),
	}, nil
}

// Partition returns the tenant's partition, opening it if needed.
func (m *Manager) Partition(tenantID string) (*Partition, error) {
	if tenantID == "" || strings.ContainsAny(tenantID, `/\`) || strings.Contains(tenantID, "..") {
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("invalid tenant id %q", tenantID), nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, pipeerrors.New(pipeerrors.ErrCodeCorruptIndex, "index manager is closed", nil)
	}
	if p, ok := m.partitions[tenantID]; ok {
		return p, nil
	}

	p, err := openPartition(tenantID, filepath.Join(m.cfg.Dir, tenantID), m.cfg)
	if err != nil {
		return nil, err
	}
	m.partitions[tenantID] = p
	return p, nil
}

// Close closes every open partition, persisting vector graphs.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for _, p := range m.partitions {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.partitions = nil
	return firstErr
}
