// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package kv defines the transactional key-value store contract that every
// FreshKV record lives in.
//
// The store offers point reads, ordered prefix listing, and a single atomic
// primitive: Commit evaluates a set of version checks and, only if all of
// them hold, applies a batch of mutations under one new versionstamp.
// There are no locks, joins, or schema. Backends live in subpackages:
//   - memory - in-process store for tests and single-node development
//   - postgres - one kv_entries table, commits as SQL transactions
//   - redis - WATCH/MULTI/EXEC optimistic transactions
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
)

// ErrCheckFailed is returned by Commit when at least one version check does
// not match. No mutation of the rejected commit is applied.
var ErrCheckFailed = errors.New("atomic check failed")

// keySeparator joins key parts in the canonical string form.
const keySeparator = "/"

// Key is an ordered tuple of string parts, e.g. {"users", id}.
type Key []string

// String returns the canonical form of the key ("users/<id>").
func (k Key) String() string {
	return strings.Join(k, keySeparator)
}

// HasPrefix reports whether k starts with every part of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Versionstamp is an opaque token identifying the commit that last wrote a
// key. The empty Versionstamp means "no live value".
type Versionstamp string

// Entry is the result of a read.
type Entry struct {
	Key          Key
	Value        []byte
	Versionstamp Versionstamp
}

// Exists reports whether the entry holds a live value.
func (e Entry) Exists() bool {
	return e.Versionstamp != ""
}

// Decode unmarshals the JSON value into v.
func (e Entry) Decode(v any) error {
	if !e.Exists() {
		return oops.Code("KV_DECODE_FAILED").
			With("key", e.Key.String()).
			Errorf("entry has no value")
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return oops.Code("KV_DECODE_FAILED").
			With("key", e.Key.String()).
			Wrap(err)
	}
	return nil
}

// Marshal encodes v as a JSON value suitable for Set.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Code("KV_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}

// Check asserts that Key currently carries Versionstamp. An empty
// Versionstamp asserts that the key is absent.
type Check struct {
	Key          Key
	Versionstamp Versionstamp
}

// MutationKind selects what a Mutation does.
type MutationKind int

// Mutation kinds.
const (
	MutationSet MutationKind = iota
	MutationDelete
)

// Mutation is a single write inside a commit.
type Mutation struct {
	Kind  MutationKind
	Key   Key
	Value []byte
	// ExpireIn asks the store to drop the value after the given duration.
	// Zero means no expiry. It is a cleanup hint; callers that care about
	// exact expiry keep their own timestamp alongside the value.
	ExpireIn time.Duration
}

// SetOption customizes a set mutation.
type SetOption func(*Mutation)

// WithExpireIn sets the store-level expiry hint for a set mutation.
func WithExpireIn(d time.Duration) SetOption {
	return func(m *Mutation) {
		m.ExpireIn = d
	}
}

// Store is the contract every backend implements.
type Store interface {
	// Get returns the live entry for key. A missing or expired key yields
	// an Entry with an empty Versionstamp and a nil error.
	Get(ctx context.Context, key Key) (Entry, error)

	// List returns all live entries under prefix, ordered by key.
	List(ctx context.Context, prefix Key) ([]Entry, error)

	// Commit applies mutations atomically if every check holds, returning
	// the versionstamp shared by all written keys. Returns ErrCheckFailed
	// (and writes nothing) when a check does not hold.
	Commit(ctx context.Context, checks []Check, mutations []Mutation) (Versionstamp, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// ExpiredDeleter is implemented by backends without native key expiry.
type ExpiredDeleter interface {
	// DeleteExpired removes entries whose expiry has passed and returns
	// how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Set writes a single key unconditionally.
func Set(ctx context.Context, s Store, key Key, value []byte, opts ...SetOption) (Versionstamp, error) {
	return NewAtomic(s).Set(key, value, opts...).Commit(ctx)
}

// Delete removes a single key unconditionally. Deleting an absent key is
// not an error.
func Delete(ctx context.Context, s Store, key Key) error {
	_, err := NewAtomic(s).Delete(key).Commit(ctx)
	return err
}
