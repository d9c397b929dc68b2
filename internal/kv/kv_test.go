// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/internal/kv/memory"
	"github.com/freshkv/freshkv/pkg/errutil"
)

func TestKey_String(t *testing.T) {
	assert.Equal(t, "users/abc", kv.Key{"users", "abc"}.String())
	assert.Equal(t, "", kv.Key{}.String())
}

func TestKey_HasPrefix(t *testing.T) {
	tests := []struct {
		name   string
		key    kv.Key
		prefix kv.Key
		want   bool
	}{
		{"exact", kv.Key{"users", "1"}, kv.Key{"users", "1"}, true},
		{"namespace", kv.Key{"users", "1"}, kv.Key{"users"}, true},
		{"empty prefix", kv.Key{"users", "1"}, kv.Key{}, true},
		{"different namespace", kv.Key{"users_by_email", "1"}, kv.Key{"users"}, false},
		{"prefix longer than key", kv.Key{"users"}, kv.Key{"users", "1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.HasPrefix(tt.prefix))
		})
	}
}

func TestEntry_Decode(t *testing.T) {
	t.Run("decodes JSON value", func(t *testing.T) {
		e := kv.Entry{Key: kv.Key{"k"}, Value: []byte(`{"name":"x"}`), Versionstamp: "1"}
		var v struct{ Name string }
		require.NoError(t, e.Decode(&v))
		assert.Equal(t, "x", v.Name)
	})

	t.Run("missing entry fails", func(t *testing.T) {
		var v struct{}
		err := kv.Entry{Key: kv.Key{"k"}}.Decode(&v)
		errutil.AssertErrorCode(t, err, "KV_DECODE_FAILED")
	})

	t.Run("corrupt value fails", func(t *testing.T) {
		var v struct{}
		err := kv.Entry{Key: kv.Key{"k"}, Value: []byte("{"), Versionstamp: "1"}.Decode(&v)
		errutil.AssertErrorCode(t, err, "KV_DECODE_FAILED")
	})
}

func TestAtomic_Commit(t *testing.T) {
	ctx := context.Background()

	t.Run("empty operation is rejected", func(t *testing.T) {
		_, err := kv.NewAtomic(memory.New()).Commit(ctx)
		errutil.AssertErrorCode(t, err, "KV_EMPTY_COMMIT")
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		_, err := kv.NewAtomic(memory.New()).Set(nil, []byte("1")).Commit(ctx)
		errutil.AssertErrorCode(t, err, "KV_INVALID_KEY")
	})

	t.Run("negative expiry is rejected", func(t *testing.T) {
		_, err := kv.NewAtomic(memory.New()).
			Set(kv.Key{"a"}, []byte("1"), kv.WithExpireIn(-time.Second)).
			Commit(ctx)
		errutil.AssertErrorCode(t, err, "KV_INVALID_EXPIRY")
	})

	t.Run("check entry guards a read-modify-write", func(t *testing.T) {
		store := memory.New()
		key := kv.Key{"persons", "1"}
		_, err := kv.Set(ctx, store, key, []byte(`1`))
		require.NoError(t, err)

		entry, err := store.Get(ctx, key)
		require.NoError(t, err)

		_, err = kv.Set(ctx, store, key, []byte(`2`))
		require.NoError(t, err)

		_, err = kv.NewAtomic(store).CheckEntry(entry).Set(key, []byte(`3`)).Commit(ctx)
		require.ErrorIs(t, err, kv.ErrCheckFailed)

		current, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(`2`), current.Value)
	})
}

func TestDelete_AbsentKeyIsNotAnError(t *testing.T) {
	require.NoError(t, kv.Delete(context.Background(), memory.New(), kv.Key{"sessions", "nope"}))
}
