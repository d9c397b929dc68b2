// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package kv

import (
	"context"

	"github.com/samber/oops"
)

// Atomic accumulates checks and mutations for a single Commit.
//
//	vs, err := kv.NewAtomic(store).
//		Check(kv.Key{"users", id}, "").
//		Set(kv.Key{"users", id}, data).
//		Commit(ctx)
type Atomic struct {
	store     Store
	checks    []Check
	mutations []Mutation
}

// NewAtomic starts an atomic operation against s.
func NewAtomic(s Store) *Atomic {
	return &Atomic{store: s}
}

// Check asserts key currently has versionstamp vs (empty = absent).
func (a *Atomic) Check(key Key, vs Versionstamp) *Atomic {
	a.checks = append(a.checks, Check{Key: key, Versionstamp: vs})
	return a
}

// CheckEntry asserts that e is still the current value of its key.
func (a *Atomic) CheckEntry(e Entry) *Atomic {
	return a.Check(e.Key, e.Versionstamp)
}

// Set queues a write of value to key.
func (a *Atomic) Set(key Key, value []byte, opts ...SetOption) *Atomic {
	m := Mutation{Kind: MutationSet, Key: key, Value: value}
	for _, opt := range opts {
		opt(&m)
	}
	a.mutations = append(a.mutations, m)
	return a
}

// Delete queues removal of key.
func (a *Atomic) Delete(key Key) *Atomic {
	a.mutations = append(a.mutations, Mutation{Kind: MutationDelete, Key: key})
	return a
}

// Commit submits the operation. It returns ErrCheckFailed, unwrapped so
// callers can test it with errors.Is, when any check does not hold.
func (a *Atomic) Commit(ctx context.Context) (Versionstamp, error) {
	if len(a.mutations) == 0 && len(a.checks) == 0 {
		return "", oops.Code("KV_EMPTY_COMMIT").Errorf("atomic operation has no checks or mutations")
	}
	for _, m := range a.mutations {
		if len(m.Key) == 0 {
			return "", oops.Code("KV_INVALID_KEY").Errorf("mutation key cannot be empty")
		}
		if m.ExpireIn < 0 {
			return "", oops.Code("KV_INVALID_EXPIRY").
				With("key", m.Key.String()).
				Errorf("expiry cannot be negative")
		}
	}
	return a.store.Commit(ctx, a.checks, a.mutations)
}
