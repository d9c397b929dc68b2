// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/freshkv/freshkv/internal/auth"
	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/internal/kv/memory"
	"github.com/freshkv/freshkv/pkg/errutil"
)

type mockHasher struct {
	mock.Mock
}

func (m *mockHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *mockHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

func (m *mockHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

func newDirectory(t *testing.T, store kv.Store, opts ...auth.DirectoryOption) *auth.Directory {
	t.Helper()
	opts = append([]auth.DirectoryOption{auth.WithHasher(fastHasher())}, opts...)
	dir, err := auth.NewDirectory(store, opts...)
	require.NoError(t, err)
	return dir
}

func TestNewDirectory_RequiresStore(t *testing.T) {
	_, err := auth.NewDirectory(nil)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_DEPENDENCY")
}

func TestDirectory_Register(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	dir := newDirectory(t, store, auth.WithDirectoryClock(func() time.Time { return now }))

	user, err := dir.Register(ctx, " alice ", "Alice@X.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.Equal(t, now, user.CreatedAt)
	assert.Equal(t, now, user.UpdatedAt)

	for _, key := range []kv.Key{
		{"users", user.ID},
		{"users_by_username", "alice"},
		{"users_by_email", "alice@x.com"},
	} {
		entry, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, entry.Exists(), "expected %s", key)
	}

	index, err := store.Get(ctx, kv.Key{"users_by_email", "alice@x.com"})
	require.NoError(t, err)
	var ref string
	require.NoError(t, index.Decode(&ref))
	assert.Equal(t, user.ID, ref)

	got, err := dir.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)
}

func TestDirectory_RegisterDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := newDirectory(t, store)

	_, err := dir.Register(ctx, "alice", "alice@x.com", "secret1")
	require.NoError(t, err)

	t.Run("same username", func(t *testing.T) {
		_, err := dir.Register(ctx, "alice", "bob@x.com", "other12")
		require.ErrorIs(t, err, auth.ErrUserExists)
		errutil.AssertErrorCode(t, err, "AUTH_USER_EXISTS")

		entry, err := store.Get(ctx, kv.Key{"users_by_email", "bob@x.com"})
		require.NoError(t, err)
		assert.False(t, entry.Exists(), "rejected registration must not leave an index behind")
	})

	t.Run("same email in different case", func(t *testing.T) {
		_, err := dir.Register(ctx, "alice2", "ALICE@x.com", "other12")
		require.ErrorIs(t, err, auth.ErrUserExists)
	})

	users, err := store.List(ctx, kv.Key{"users"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestDirectory_RegisterValidation(t *testing.T) {
	dir := newDirectory(t, memory.New())
	_, err := dir.Register(context.Background(), "alice", "alice@x.com", "123")
	errutil.AssertValidation(t, err, "Password must be at least 6 characters long")
}

func TestDirectory_ConcurrentRegistrationAdmitsOne(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := newDirectory(t, store)

	const attempts = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half collide on username, half on email.
			username, email := "alice", fmt.Sprintf("alice%d@x.com", i)
			if i%2 == 1 {
				username, email = fmt.Sprintf("alice%d", i), "alice@x.com"
			}
			_, err := dir.Register(ctx, username, email, "secret1")
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, auth.ErrUserExists)
		}(i)
	}
	wg.Wait()

	// Evens compete for the username, odds for the email; exactly one of
	// each group gets through.
	assert.Equal(t, int32(2), wins.Load())

	users, err := store.List(ctx, kv.Key{"users"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestDirectory_ConcurrentIdenticalRegistration(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, memory.New())

	const attempts = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := dir.Register(ctx, "alice", "alice@x.com", "secret1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestDirectory_Authenticate(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, memory.New())
	registered, err := dir.Register(ctx, "alice", "alice@x.com", "secret1")
	require.NoError(t, err)

	t.Run("by username", func(t *testing.T) {
		user, err := dir.Authenticate(ctx, "alice", "secret1")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("by email, trimmed and case-insensitive", func(t *testing.T) {
		user, err := dir.Authenticate(ctx, "  ALICE@x.com ", "secret1")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("wrong password and unknown user look the same", func(t *testing.T) {
		_, wrongPassword := dir.Authenticate(ctx, "alice", "nope123")
		_, unknownUser := dir.Authenticate(ctx, "mallory", "secret1")

		require.ErrorIs(t, wrongPassword, auth.ErrInvalidCredentials)
		require.ErrorIs(t, unknownUser, auth.ErrInvalidCredentials)
		assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
		errutil.AssertErrorCode(t, wrongPassword, "AUTH_INVALID_CREDENTIALS")
		errutil.AssertErrorCode(t, unknownUser, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("empty identity", func(t *testing.T) {
		_, err := dir.Authenticate(ctx, "  ", "secret1")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestDirectory_AuthenticateDanglingIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := kv.Set(ctx, store, kv.Key{"users_by_username", "ghost"}, []byte(`"01HXXXXXXXXXXXXXXXXXXXXXXX"`))
	require.NoError(t, err)

	_, err = newDirectory(t, store).Authenticate(ctx, "ghost", "secret1")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestDirectory_AuthenticateUnknownUserStillVerifies(t *testing.T) {
	hasher := &mockHasher{}
	hasher.On("Verify", "secret1", mock.AnythingOfType("string")).Return(false, nil).Once()

	dir, err := auth.NewDirectory(memory.New(), auth.WithHasher(hasher))
	require.NoError(t, err)

	_, err = dir.Authenticate(context.Background(), "nobody", "secret1")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	hasher.AssertExpectations(t)
}

func TestDirectory_AuthenticateHashFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := newDirectory(t, store)
	user, err := dir.Register(ctx, "alice", "alice@x.com", "secret1")
	require.NoError(t, err)

	user.PasswordHash = "garbage"
	record, err := kv.Marshal(user)
	require.NoError(t, err)
	_, err = kv.Set(ctx, store, kv.Key{"users", user.ID}, record)
	require.NoError(t, err)

	_, err = dir.Authenticate(ctx, "alice", "secret1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
	errutil.AssertErrorContext(t, err, "operation", "verify password")
}

func TestDirectory_UpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	registeredAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	loginAt := registeredAt.Add(48 * time.Hour)
	store := memory.New()

	legacy, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	record, err := kv.Marshal(&auth.User{
		ID:           "01J000000000000000000000AA",
		Username:     "legacy",
		Email:        "legacy@x.com",
		PasswordHash: string(legacy),
		CreatedAt:    registeredAt,
		UpdatedAt:    registeredAt,
	})
	require.NoError(t, err)
	ref, err := kv.Marshal("01J000000000000000000000AA")
	require.NoError(t, err)
	_, err = kv.NewAtomic(store).
		Set(kv.Key{"users", "01J000000000000000000000AA"}, record).
		Set(kv.Key{"users_by_username", "legacy"}, ref).
		Commit(ctx)
	require.NoError(t, err)

	dir := newDirectory(t, store, auth.WithDirectoryClock(func() time.Time { return loginAt }))
	user, err := dir.Authenticate(ctx, "legacy", "secret1")
	require.NoError(t, err)
	assert.Equal(t, loginAt, user.UpdatedAt)

	stored, err := dir.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.PasswordHash, "$argon2id$")
	assert.Equal(t, registeredAt, stored.CreatedAt)
	assert.Equal(t, loginAt, stored.UpdatedAt)

	_, err = dir.Authenticate(ctx, "legacy", "secret1")
	require.NoError(t, err, "upgraded hash still verifies")
}

func TestDirectory_UpgradeFailureDoesNotFailLogin(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	hasher := &mockHasher{}
	hasher.On("Hash", "secret1").Return("$2a$legacy", nil).Once()
	dir, err := auth.NewDirectory(store, auth.WithHasher(hasher))
	require.NoError(t, err)
	_, err = dir.Register(ctx, "alice", "alice@x.com", "secret1")
	require.NoError(t, err)

	hasher.On("Verify", "secret1", "$2a$legacy").Return(true, nil)
	hasher.On("NeedsUpgrade", "$2a$legacy").Return(true)
	hasher.On("Hash", "secret1").Return("", errors.New("entropy exhausted")).Once()

	user, err := dir.Authenticate(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "$2a$legacy", user.PasswordHash)
	hasher.AssertExpectations(t)
}

func TestDirectory_GetByIDMissing(t *testing.T) {
	_, err := newDirectory(t, memory.New()).GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, auth.ErrNotFound)
	errutil.AssertErrorCode(t, err, "AUTH_USER_NOT_FOUND")
}
