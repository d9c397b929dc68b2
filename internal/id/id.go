// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package id generates the ULIDs used as record identifiers.
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New returns a ULID string stamped with at. IDs generated within the same
// millisecond sort in generation order.
func New(at time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// Parse validates s as a ULID and returns its canonical form.
func Parse(s string) (string, error) {
	parsed, err := ulid.ParseStrict(s)
	if err != nil {
		return "", oops.Code("INVALID_ID").With("id", s).Wrap(err)
	}
	return parsed.String(), nil
}
