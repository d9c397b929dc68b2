// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package memory provides an in-process kv.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/kv"
)

type record struct {
	key       kv.Key
	value     []byte
	version   kv.Versionstamp
	expiresAt time.Time // zero = never
}

func (r record) expiredAt(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

// Store is a mutex-guarded map implementing kv.Store. Every commit runs
// under the write lock, which makes check-then-apply atomic.
type Store struct {
	mu      sync.RWMutex
	data    map[string]record
	counter uint64
	closed  bool
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]record),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errClosed = oops.Code("KV_CLOSED").Errorf("memory store is closed")

// Get returns the live entry for key.
func (s *Store) Get(_ context.Context, key kv.Key) (kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.Entry{}, errClosed
	}

	rec, ok := s.live(key.String())
	if !ok {
		return kv.Entry{Key: key}, nil
	}
	return kv.Entry{Key: key, Value: clone(rec.value), Versionstamp: rec.version}, nil
}

// List returns all live entries under prefix, ordered by key.
func (s *Store) List(_ context.Context, prefix kv.Key) ([]kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	now := s.now()
	var entries []kv.Entry
	for _, rec := range s.data {
		if !rec.key.HasPrefix(prefix) || rec.expiredAt(now) {
			continue
		}
		entries = append(entries, kv.Entry{Key: rec.key, Value: clone(rec.value), Versionstamp: rec.version})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
	return entries, nil
}

// Commit applies mutations if every check holds.
func (s *Store) Commit(_ context.Context, checks []kv.Check, mutations []kv.Mutation) (kv.Versionstamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errClosed
	}

	for _, c := range checks {
		var current kv.Versionstamp
		if rec, ok := s.live(c.Key.String()); ok {
			current = rec.version
		}
		if current != c.Versionstamp {
			return "", kv.ErrCheckFailed
		}
	}
	for _, m := range mutations {
		if m.Kind != kv.MutationSet && m.Kind != kv.MutationDelete {
			return "", oops.Code("KV_INVALID_MUTATION").With("kind", m.Kind).Errorf("unknown mutation kind")
		}
	}

	s.counter++
	version := kv.Versionstamp(fmt.Sprintf("%020x", s.counter))
	now := s.now()

	for _, m := range mutations {
		k := m.Key.String()
		if m.Kind == kv.MutationDelete {
			delete(s.data, k)
			continue
		}
		rec := record{key: append(kv.Key(nil), m.Key...), value: clone(m.Value), version: version}
		if m.ExpireIn > 0 {
			rec.expiresAt = now.Add(m.ExpireIn)
		}
		s.data[k] = rec
	}
	return version, nil
}

// DeleteExpired removes entries whose expiry has passed.
func (s *Store) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	now := s.now()
	var n int64
	for k, rec := range s.data {
		if rec.expiredAt(now) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed. Subsequent calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// live must be called with s.mu held.
func (s *Store) live(key string) (record, bool) {
	rec, ok := s.data[key]
	if !ok || rec.expiredAt(s.now()) {
		return record{}, false
	}
	return rec, true
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
