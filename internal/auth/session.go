// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/kv"
)

// Session token configuration.
const (
	SessionTokenBytes = 32             // 32 bytes = 64 hex chars
	SessionTTL        = 24 * time.Hour // fixed lifetime
)

// Session is a login session stored under sessions/{id}. Username and
// email are copied from the user at issue time and are not refreshed if
// the user changes later.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExpiredAt reports whether the session is expired at t. A session is
// still valid at exactly ExpiresAt.
func (s *Session) ExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// Profile returns the identity captured in the session.
func (s *Session) Profile() Profile {
	return Profile{ID: s.UserID, Username: s.Username, Email: s.Email}
}

// GenerateSessionToken returns a random 64-character hex session id.
func GenerateSessionToken() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// SessionManager issues, resolves and revokes sessions.
type SessionManager struct {
	store kv.Store
	now   func() time.Time
}

// NewSessionManager creates a SessionManager over store. A nil now uses
// time.Now.
func NewSessionManager(store kv.Store, now func() time.Time) (*SessionManager, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: store, now: now}, nil
}

func sessionKey(id string) kv.Key {
	return kv.Key{"sessions", id}
}

// Issue creates a session for user that expires after SessionTTL. The
// store is also asked to expire the key after the same duration; the
// ExpiresAt field remains the authority.
func (m *SessionManager) Issue(ctx context.Context, user *User) (*Session, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &Session{
		ID:        token,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}

	record, err := kv.Marshal(session)
	if err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	if _, err := kv.Set(ctx, m.store, sessionKey(token), record, kv.WithExpireIn(SessionTTL)); err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return session, nil
}

// Resolve returns the live session for sessionID. An absent session, or
// one whose ExpiresAt has passed, yields ErrSessionNotFound; an expired
// record is deleted on the way out.
func (m *SessionManager) Resolve(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
	}

	entry, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, oops.Code("SESSION_RESOLVE_FAILED").Wrap(err)
	}
	if !entry.Exists() {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
	}

	var session Session
	if err := entry.Decode(&session); err != nil {
		return nil, oops.Code("SESSION_RESOLVE_FAILED").Wrap(err)
	}

	if session.ExpiredAt(m.now()) {
		if err := kv.Delete(ctx, m.store, sessionKey(sessionID)); err != nil {
			return nil, oops.Code("SESSION_RESOLVE_FAILED").With("operation", "delete expired session").Wrap(err)
		}
		return nil, oops.Code("SESSION_EXPIRED").Wrap(ErrSessionNotFound)
	}
	return &session, nil
}

// Revoke deletes the session. Revoking an absent session is not an error.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := kv.Delete(ctx, m.store, sessionKey(sessionID)); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").Wrap(err)
	}
	return nil
}
