// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/pkg/errutil"
)

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"users", "users"},
		{"a*b", `a\*b`},
		{"what?", `what\?`},
		{"[x]", `\[x\]`},
		{`back\slash`, `back\\slash`},
		{"café", "café"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeGlob(tt.in))
		})
	}
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "freshkv:users_by_email/a@x.com", redisKey(kv.Key{"users_by_email", "a@x.com"}))
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		entry, err := decodeEnvelope([]byte(`{"parts":["users","a/b"],"value":"eyJpZCI6MX0=","versionstamp":"00000000000000000001"}`))
		require.NoError(t, err)
		assert.Equal(t, kv.Key{"users", "a/b"}, entry.Key)
		assert.Equal(t, `{"id":1}`, string(entry.Value))
		assert.Equal(t, kv.Versionstamp("00000000000000000001"), entry.Versionstamp)
	})

	t.Run("corrupt", func(t *testing.T) {
		_, err := decodeEnvelope([]byte(`{`))
		errutil.AssertErrorCode(t, err, "KV_DECODE_FAILED")
	})

	t.Run("missing versionstamp", func(t *testing.T) {
		_, err := decodeEnvelope([]byte(`{"parts":["a"],"value":null}`))
		errutil.AssertErrorCode(t, err, "KV_DECODE_FAILED")
	})
}
