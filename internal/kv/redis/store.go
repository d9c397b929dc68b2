// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package redis implements kv.Store on Redis. Each entry is one string key
// holding a JSON envelope; commits use WATCH on the checked keys followed by
// MULTI/EXEC, and expiry is native key TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/kv"
)

const (
	keyPrefix     = "freshkv:"
	versionKey    = "freshkv-meta:versionstamp"
	scanBatchSize = 256
)

// envelope is the stored form of an entry.
type envelope struct {
	Parts        []string        `json:"parts"`
	Value        []byte          `json:"value"`
	Versionstamp kv.Versionstamp `json:"versionstamp"`
}

// Store implements kv.Store on a Redis client.
type Store struct {
	client *redis.Client
}

// New wraps an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Open connects to the Redis server at addr.
func Open(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("KV_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return New(client), nil
}

func redisKey(key kv.Key) string {
	return keyPrefix + key.String()
}

// Get returns the live entry for key.
func (s *Store) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	data, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return kv.Entry{Key: key}, nil
	}
	if err != nil {
		return kv.Entry{}, oops.Code("KV_GET_FAILED").With("key", key.String()).Wrap(err)
	}
	entry, err := decodeEnvelope(data)
	if err != nil {
		return kv.Entry{}, oops.Code("KV_GET_FAILED").With("key", key.String()).Wrap(err)
	}
	return entry, nil
}

// List scans keys under prefix and returns their live entries ordered by
// key.
func (s *Store) List(ctx context.Context, prefix kv.Key) ([]kv.Entry, error) {
	match := keyPrefix + escapeGlob(prefix.String())
	if len(prefix) > 0 {
		match += "/"
	}
	match += "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, match, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, oops.Code("KV_LIST_FAILED").With("prefix", prefix.String()).Wrap(err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, oops.Code("KV_LIST_FAILED").With("prefix", prefix.String()).Wrap(err)
	}

	entries := make([]kv.Entry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired or deleted between SCAN and MGET.
			continue
		}
		entry, err := decodeEnvelope([]byte(raw))
		if err != nil {
			return nil, oops.Code("KV_LIST_FAILED").With("key", keys[i]).Wrap(err)
		}
		if entry.Key.HasPrefix(prefix) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
	return entries, nil
}

// Commit verifies checks under WATCH and applies mutations in MULTI/EXEC.
// A concurrent write to any checked key aborts the transaction with
// kv.ErrCheckFailed.
func (s *Store) Commit(ctx context.Context, checks []kv.Check, mutations []kv.Mutation) (kv.Versionstamp, error) {
	for _, m := range mutations {
		if m.Kind != kv.MutationSet && m.Kind != kv.MutationDelete {
			return "", oops.Code("KV_INVALID_MUTATION").With("kind", m.Kind).Errorf("unknown mutation kind")
		}
	}

	next, err := s.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return "", oops.Code("KV_COMMIT_FAILED").With("operation", "allocate versionstamp").Wrap(err)
	}
	vs := kv.Versionstamp(fmt.Sprintf("%020x", next))

	watched := make([]string, 0, len(checks))
	for _, c := range checks {
		watched = append(watched, redisKey(c.Key))
	}

	txf := func(tx *redis.Tx) error {
		for _, c := range checks {
			current, err := currentVersion(ctx, tx, c.Key)
			if err != nil {
				return err
			}
			if current != c.Versionstamp {
				return kv.ErrCheckFailed
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range mutations {
				if m.Kind == kv.MutationDelete {
					pipe.Del(ctx, redisKey(m.Key))
					continue
				}
				data, err := json.Marshal(envelope{Parts: m.Key, Value: m.Value, Versionstamp: vs})
				if err != nil {
					return oops.Code("KV_ENCODE_FAILED").With("key", m.Key.String()).Wrap(err)
				}
				pipe.Set(ctx, redisKey(m.Key), data, m.ExpireIn)
			}
			return nil
		})
		return err //nolint:wrapcheck // classified by the caller
	}

	err = s.client.Watch(ctx, txf, watched...)
	switch {
	case err == nil:
		return vs, nil
	case errors.Is(err, kv.ErrCheckFailed), errors.Is(err, redis.TxFailedErr):
		return "", kv.ErrCheckFailed
	default:
		return "", oops.Code("KV_COMMIT_FAILED").With("operation", "exec").Wrap(err)
	}
}

func currentVersion(ctx context.Context, tx *redis.Tx, key kv.Key) (kv.Versionstamp, error) {
	data, err := tx.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", oops.Code("KV_COMMIT_FAILED").With("key", key.String()).Wrap(err)
	}
	entry, err := decodeEnvelope(data)
	if err != nil {
		return "", oops.Code("KV_COMMIT_FAILED").With("key", key.String()).Wrap(err)
	}
	return entry.Versionstamp, nil
}

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code("KV_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return oops.Code("KV_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func decodeEnvelope(data []byte) (kv.Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return kv.Entry{}, oops.Code("KV_DECODE_FAILED").Wrap(err)
	}
	if env.Versionstamp == "" || len(env.Parts) == 0 {
		return kv.Entry{}, oops.Code("KV_DECODE_FAILED").Errorf("envelope missing key or versionstamp")
	}
	return kv.Entry{Key: kv.Key(env.Parts), Value: env.Value, Versionstamp: env.Versionstamp}, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
