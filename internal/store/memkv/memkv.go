// Package memkv provides an in-memory kv.KV implementation. It backs
// tests and serves as the degraded-mode target when the persistent store
// runs out of quota.
package memkv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	corekv "github.com/prdeck/prdeck/internal/core/kv"
	"github.com/prdeck/prdeck/pkg/kv"
)

// Store is a thread-safe in-memory key-value store. Values are stored as
// their JSON encoding so round-trip semantics match the persistent store.
type Store struct {
	data *kv.Store[string, []byte]
}

var _ corekv.KV = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: kv.New[string, []byte]()}
}

// Get retrieves a value by key into dest.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	raw, ok := s.data.Get(key)
	if !ok {
		return fmt.Errorf("get %q: %w", key, corekv.ErrNotFound)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// Set stores a value by key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	s.data.Set(key, raw)
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.data.Delete(key)
	return nil
}

// Has returns whether a key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok := s.data.Get(key)
	return ok, nil
}

// ListKeys returns all keys with the given prefix, sorted.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	all := s.data.Keys()
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
