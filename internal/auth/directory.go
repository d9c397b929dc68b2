// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/id"
	"github.com/freshkv/freshkv/internal/kv"
)

// dummyPasswordHash is verified when the identity is unknown so that both
// authentication failure paths do the same work. It matches no password.
//
//nolint:gosec // G101: not a credential
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Directory owns user records and their username and email indexes.
type Directory struct {
	store  kv.Store
	hasher PasswordHasher
	now    func() time.Time
	logger *slog.Logger
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithHasher replaces the default argon2id hasher.
func WithHasher(h PasswordHasher) DirectoryOption {
	return func(d *Directory) { d.hasher = h }
}

// WithDirectoryClock sets the time source for createdAt and updatedAt.
func WithDirectoryClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) { d.now = now }
}

// WithDirectoryLogger sets the logger for best-effort failures.
func WithDirectoryLogger(l *slog.Logger) DirectoryOption {
	return func(d *Directory) { d.logger = l }
}

// NewDirectory creates a Directory over store.
func NewDirectory(store kv.Store, opts ...DirectoryOption) (*Directory, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("store is required")
	}
	d := &Directory{
		store:  store,
		hasher: NewArgon2idHasher(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Register creates a user. The user record and both index entries are
// written in one commit that requires all three keys to be absent; if any
// is taken the result is ErrUserExists without saying which.
func (d *Directory) Register(ctx context.Context, username, email, password string) (*User, error) {
	reg, err := NewRegistration(username, email, password)
	if err != nil {
		return nil, err
	}

	hash, err := d.hasher.Hash(reg.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := d.now()
	user := &User{
		ID:           id.New(now),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	record, err := kv.Marshal(user)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "encode user").Wrap(err)
	}
	ref, err := kv.Marshal(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "encode index").Wrap(err)
	}

	_, err = kv.NewAtomic(d.store).
		Check(userKey(user.ID), "").
		Check(usernameKey(user.Username), "").
		Check(emailKey(user.Email), "").
		Set(userKey(user.ID), record).
		Set(usernameKey(user.Username), ref).
		Set(emailKey(user.Email), ref).
		Commit(ctx)
	if errors.Is(err, kv.ErrCheckFailed) {
		return nil, oops.Code("AUTH_USER_EXISTS").Wrap(ErrUserExists)
	}
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "commit user").Wrap(err)
	}
	return user, nil
}

// Authenticate resolves usernameOrEmail through the username index, then
// the email index, and verifies password. Unknown identities and wrong
// passwords both return ErrInvalidCredentials after the same hashing work.
// A legacy hash is upgraded to argon2id on success.
func (d *Directory) Authenticate(ctx context.Context, usernameOrEmail, password string) (*User, error) {
	identity := strings.TrimSpace(usernameOrEmail)

	user, entry, err := d.lookup(ctx, identity)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "lookup user").Wrap(err)
	}

	if user == nil {
		_, _ = d.hasher.Verify(password, dummyPasswordHash) //nolint:errcheck // result is discarded on purpose
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	ok, err := d.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(err)
	}
	if !ok {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	if d.hasher.NeedsUpgrade(user.PasswordHash) {
		d.upgradeHash(ctx, user, entry, password)
	}
	return user, nil
}

// lookup returns (nil, _, nil) when the identity does not resolve to a
// stored user, including when an index points at a missing record.
func (d *Directory) lookup(ctx context.Context, identity string) (*User, kv.Entry, error) {
	if identity == "" {
		return nil, kv.Entry{}, nil
	}

	userID, err := d.resolveIndex(ctx, usernameKey(identity))
	if err != nil {
		return nil, kv.Entry{}, err
	}
	if userID == "" {
		userID, err = d.resolveIndex(ctx, emailKey(strings.ToLower(identity)))
		if err != nil {
			return nil, kv.Entry{}, err
		}
	}
	if userID == "" {
		return nil, kv.Entry{}, nil
	}

	entry, err := d.store.Get(ctx, userKey(userID))
	if err != nil {
		return nil, kv.Entry{}, err
	}
	if !entry.Exists() {
		d.logger.WarnContext(ctx, "user index points at missing record", "user_id", userID)
		return nil, kv.Entry{}, nil
	}
	var user User
	if err := entry.Decode(&user); err != nil {
		return nil, kv.Entry{}, err
	}
	return &user, entry, nil
}

func (d *Directory) resolveIndex(ctx context.Context, key kv.Key) (string, error) {
	entry, err := d.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !entry.Exists() {
		return "", nil
	}
	var userID string
	if err := entry.Decode(&userID); err != nil {
		return "", err
	}
	return userID, nil
}

// upgradeHash rewrites the user's hash with argon2id, conditioned on the
// record being unchanged since it was read. Failures only get logged; the
// login has already succeeded.
func (d *Directory) upgradeHash(ctx context.Context, user *User, entry kv.Entry, password string) {
	hash, err := d.hasher.Hash(password)
	if err != nil {
		d.logger.WarnContext(ctx, "password hash upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	upgraded := *user
	upgraded.PasswordHash = hash
	upgraded.UpdatedAt = d.now()

	record, err := kv.Marshal(&upgraded)
	if err != nil {
		d.logger.WarnContext(ctx, "password hash upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	if _, err := kv.NewAtomic(d.store).CheckEntry(entry).Set(userKey(user.ID), record).Commit(ctx); err != nil {
		d.logger.WarnContext(ctx, "password hash upgrade skipped", "user_id", user.ID, "error", err)
		return
	}
	*user = upgraded
}

// GetByID returns the user stored under users/{id}.
func (d *Directory) GetByID(ctx context.Context, userID string) (*User, error) {
	entry, err := d.store.Get(ctx, userKey(userID))
	if err != nil {
		return nil, oops.Code("AUTH_GET_USER_FAILED").With("user_id", userID).Wrap(err)
	}
	if !entry.Exists() {
		return nil, oops.Code("AUTH_USER_NOT_FOUND").With("user_id", userID).Wrap(ErrNotFound)
	}
	var user User
	if err := entry.Decode(&user); err != nil {
		return nil, oops.Code("AUTH_GET_USER_FAILED").With("user_id", userID).Wrap(err)
	}
	return &user, nil
}
