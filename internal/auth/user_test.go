// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshkv/freshkv/internal/auth"
	"github.com/freshkv/freshkv/pkg/errutil"
)

func TestNewRegistration(t *testing.T) {
	t.Run("normalizes input", func(t *testing.T) {
		reg, err := auth.NewRegistration("  alice ", " Alice@X.com ", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "alice", reg.Username)
		assert.Equal(t, "alice@x.com", reg.Email)
		assert.Equal(t, "secret1", reg.Password)
	})

	tests := []struct {
		name                      string
		username, email, password string
		wantMessage               string
	}{
		{"blank username", "   ", "a@x.com", "secret1", "Username is required"},
		{"blank email", "alice", " ", "secret1", "Email is required"},
		{"short password", "alice", "a@x.com", "12345", "Password must be at least 6 characters long"},
		{"bad email", "alice", "not-an-email", "secret1", "Invalid email format"},
		{"email without dot", "alice", "a@x", "secret1", "Invalid email format"},
		{"username checked first", "", "", "", "Username is required"},
		{"password checked before email format", "alice", "bad", "123", "Password must be at least 6 characters long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewRegistration(tt.username, tt.email, tt.password)
			errutil.AssertValidation(t, err, tt.wantMessage)
		})
	}

	t.Run("password length counts characters", func(t *testing.T) {
		_, err := auth.NewRegistration("alice", "a@x.com", "ééééé")
		errutil.AssertValidation(t, err, "Password must be at least 6 characters long")
	})
}

func TestUser_Profile(t *testing.T) {
	u := &auth.User{ID: "01H", Username: "alice", Email: "a@x.com", PasswordHash: "$argon2id$..."}
	assert.Equal(t, auth.Profile{ID: "01H", Username: "alice", Email: "a@x.com"}, u.Profile())
}
