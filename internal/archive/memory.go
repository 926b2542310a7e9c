package archive

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process archive for tests and single-node runs without
// durability requirements. Snapshots are stored serialized so Load returns
// the same representation a remote backend would.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()
	if data == nil {
		return nil, ErrNoSnapshot
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *Memory) Close() error { return nil }
