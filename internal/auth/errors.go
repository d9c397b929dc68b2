// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package auth

import "errors"

// Sentinel errors. Returned errors wrap these; match with errors.Is.
var (
	// ErrUserExists means the username or the email is already taken. Which
	// one is not reported.
	ErrUserExists = errors.New("username or email already registered")

	// ErrInvalidCredentials covers both an unknown identity and a wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionNotFound means the session is absent or expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("not found")
)
