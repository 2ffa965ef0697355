package store

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
)

// Entry is one version of a secret held by Memory.
type Entry struct {
	Value    string
	Metadata Metadata
	Version  int
}

// Memory is an in-process Client. It backs the memory backend and tests.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]map[string]Entry
	sealed bool
	// PutHook, when set, is called before every Put and can fail it.
	PutHook func(path, key string) error
}

var _ Client = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Entry)}
}

// Seal toggles the sealed flag reported by Status.
func (m *Memory) Seal(sealed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = sealed
}

func (m *Memory) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{Sealed: m.sealed, Version: "memory"}, nil
}

func (m *Memory) Put(ctx context.Context, path, key, value string, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.PutHook != nil {
		if err := m.PutHook(path, key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.data[path]
	if !ok {
		keys = make(map[string]Entry)
		m.data[path] = keys
	}
	keys[key] = Entry{Value: value, Metadata: maps.Clone(meta), Version: keys[key].Version + 1}
	return nil
}

func (m *Memory) Get(ctx context.Context, path, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.data[path][key]
	if !ok {
		return "", ErrNotFound
	}
	return entry.Value, nil
}

func (m *Memory) PathExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[path]
	return ok, nil
}

// Entry returns the stored entry for path and key.
func (m *Memory) Entry(path, key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[path][key]
	return e, ok
}

// Paths returns every path with a prefix, sorted.
func (m *Memory) Paths(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for p := range m.data {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
