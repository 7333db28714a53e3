// Package failover wraps a persistent kv.KV with an in-memory fallback.
// When the persistent store becomes unusable (quota exhausted, blocked
// writes, failure to open) the wrapper degrades to memory-only operation
// for the remainder of the session. Degradation is one-way: no attempt is
// made to reconnect to persistent storage.
//
// All collections share one failover.Store, so they degrade together —
// they share one physical database.
package failover

import (
	"context"
	"errors"
	"sync"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/prdeck/prdeck/internal/core/kv"
	"github.com/prdeck/prdeck/internal/store/memkv"
)

// ErrQuotaExceeded marks an error as quota-class. Tests and alternate
// store implementations wrap it to trigger degradation.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// IsQuotaError reports whether err indicates the persistent store is out
// of space or refusing writes, as opposed to a normal operation failure.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, badger.ErrTxnTooBig) ||
		errors.Is(err, badger.ErrBlockedWrites) ||
		errors.Is(err, syscall.ENOSPC)
}

// OpenFunc opens the primary persistent store. It is invoked lazily on
// first access and at most once.
type OpenFunc func() (kv.KV, error)

// Store is a kv.KV that prefers a persistent primary store and falls back
// to an in-memory store when the primary is unavailable or out of quota.
type Store struct {
	open OpenFunc
	log  zerolog.Logger

	once    sync.Once
	primary kv.KV

	mu       sync.RWMutex
	degraded bool
	mem      *memkv.Store
}

var _ kv.KV = (*Store)(nil)

// New creates a failover store. The primary is not opened until first use;
// concurrent first callers share the same initialization.
func New(open OpenFunc, log zerolog.Logger) *Store {
	return &Store{
		open: open,
		log:  log,
		mem:  memkv.New(),
	}
}

// Degraded reports whether the store has fallen back to memory-only mode.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// backend returns the store to operate against, opening the primary on
// first use. An open failure degrades immediately.
func (s *Store) backend() kv.KV {
	s.mu.RLock()
	if s.degraded {
		s.mu.RUnlock()
		return s.mem
	}
	s.mu.RUnlock()

	s.once.Do(func() {
		primary, err := s.open()
		if err != nil {
			s.log.Warn().Err(err).Msg("persistent store unavailable, using in-memory fallback")
			s.degrade()
			return
		}
		s.primary = primary
	})

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return s.mem
	}
	return s.primary
}

func (s *Store) degrade() {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
}

// Get retrieves a value by key into dest.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	return s.backend().Get(ctx, key, dest)
}

// Set stores a value. A quota-class failure on the primary degrades the
// store and retries the write against the in-memory fallback.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	b := s.backend()
	err := b.Set(ctx, key, value)
	if err == nil || b == s.mem || !IsQuotaError(err) {
		return err
	}

	s.log.Warn().Err(err).Str("key", key).
		Msg("storage quota exceeded, falling back to in-memory store for this session")
	s.degrade()
	return s.mem.Set(ctx, key, value)
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	b := s.backend()
	err := b.Delete(ctx, key)
	if err == nil || b == s.mem || !IsQuotaError(err) {
		return err
	}

	s.log.Warn().Err(err).Str("key", key).
		Msg("storage quota exceeded, falling back to in-memory store for this session")
	s.degrade()
	return s.mem.Delete(ctx, key)
}

// Has returns whether a key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	return s.backend().Has(ctx, key)
}

// ListKeys returns all keys with the given prefix.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return s.backend().ListKeys(ctx, prefix)
}

// Close closes the primary store if it was opened. The in-memory fallback
// needs no teardown.
func (s *Store) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.primary != nil {
		return s.primary.Close()
	}
	return nil
}
