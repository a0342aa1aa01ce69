package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore holds any number of in-process origins. Each origin has its own
// map and its own quota accounting.
type MemoryStore struct {
	mu         sync.RWMutex
	origins    map[string]map[string]string
	quotaBytes int64
}

// NewMemoryStore creates an empty store. quotaBytes <= 0 disables the quota.
func NewMemoryStore(quotaBytes int64) *MemoryStore {
	return &MemoryStore{
		origins:    make(map[string]map[string]string),
		quotaBytes: quotaBytes,
	}
}

// Origin returns the KV view for one origin.
func (s *MemoryStore) Origin(origin string) *MemoryKV {
	return &MemoryKV{store: s, origin: origin}
}

// NewMemoryKV is a shorthand for a single-origin memory backend.
func NewMemoryKV(quotaBytes int64) *MemoryKV {
	return NewMemoryStore(quotaBytes).Origin("default")
}

// MemoryKV is the in-process backend, used for tests and local development.
type MemoryKV struct {
	store  *MemoryStore
	origin string
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.origins[m.origin]
	if entries == nil {
		entries = make(map[string]string)
		s.origins[m.origin] = entries
	}

	if s.quotaBytes > 0 {
		var used int64
		for k, v := range entries {
			if k == key {
				continue
			}
			used += entrySize(k, v)
		}
		if used+entrySize(key, value) > s.quotaBytes {
			return ErrQuotaExceeded
		}
	}

	entries[key] = value
	return nil
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	s := m.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.origins[m.origin][key]
	return v, ok, nil
}

func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	s := m.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.origins[m.origin]))
	for k := range s.origins[m.origin] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) (bool, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.origins[m.origin]
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)
	return true, nil
}

func (m *MemoryKV) Ping(context.Context) error { return nil }
