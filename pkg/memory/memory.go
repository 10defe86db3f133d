// Package memory is the keyed scratch space agents and the coordinator use
// to exchange intermediate results during workflow execution.
//
// Writers must use distinct keys; Put has plain overwrite semantics and no
// conflict resolution beyond last write wins.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned by Put when the store holds the configured
// maximum number of entries and the key is new.
var ErrBudgetExceeded = errors.New("memory budget exceeded")

// Entry is one key/value record.
type Entry struct {
	Key       string
	Value     any
	UpdatedAt time.Time
}

// Store is the shared key-value scratch space.
type Store interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, bool, error)
	Delete(ctx context.Context, key string) error
	// Query returns entries matching the predicate, ordered by key.
	Query(ctx context.Context, match func(Entry) bool) ([]Entry, error)
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// InMemoryStore is the default single-process backend.
type InMemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	maxEntries int
}

// NewInMemoryStore creates an in-memory store. maxEntries <= 0 means
// unbounded.
func NewInMemoryStore(maxEntries int) *InMemoryStore {
	return &InMemoryStore{
		entries:    make(map[string]Entry),
		maxEntries: maxEntries,
	}
}

// Put stores a value under key, overwriting any previous value.
func (s *InMemoryStore) Put(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		return ErrBudgetExceeded
	}

	s.entries[key] = Entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// Get returns the value for key and whether it exists.
func (s *InMemoryStore) Get(ctx context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Delete removes key if present.
func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Query returns matching entries ordered by key.
func (s *InMemoryStore) Query(ctx context.Context, match func(Entry) bool) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Entry
	for _, entry := range s.entries {
		if match == nil || match(entry) {
			results = append(results, entry)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

// Keys returns all keys in sorted order.
func (s *InMemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close releases nothing for the in-memory backend.
func (s *InMemoryStore) Close() error {
	return nil
}

// Scope is a key-prefixed view of a Store, used to confine one workflow's
// intermediate results to its own namespace.
type Scope struct {
	store  Store
	prefix string
}

// ScopeFor returns a view of store prefixed for the given workflow.
func ScopeFor(store Store, workflowID string) *Scope {
	return &Scope{store: store, prefix: "wf:" + workflowID + ":"}
}

// Put stores a value under the scoped key.
func (s *Scope) Put(ctx context.Context, key string, value any) error {
	return s.store.Put(ctx, s.prefix+key, value)
}

// Get returns the value for the scoped key.
func (s *Scope) Get(ctx context.Context, key string) (any, bool, error) {
	return s.store.Get(ctx, s.prefix+key)
}

// Entries returns every entry in this scope, with the prefix stripped.
func (s *Scope) Entries(ctx context.Context) ([]Entry, error) {
	entries, err := s.store.Query(ctx, func(e Entry) bool {
		return strings.HasPrefix(e.Key, s.prefix)
	})
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Key = strings.TrimPrefix(entries[i].Key, s.prefix)
	}
	return entries, nil
}

// Clear removes every entry in this scope.
func (s *Scope) Clear(ctx context.Context) error {
	entries, err := s.store.Query(ctx, func(e Entry) bool {
		return strings.HasPrefix(e.Key, s.prefix)
	})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := s.store.Delete(ctx, entry.Key); err != nil {
			return err
		}
	}
	return nil
}
