// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package auth implements FreshKV's credential and session layer on top of
// the kv store.
//
// # Components
//
//   - PasswordHasher - argon2id hashing, with verification of legacy bcrypt
//   - Directory - user records plus the username and email indexes
//   - SessionManager - 24-hour session tokens keyed by id
//
// # Storage layout
//
//	users/{id}                    User record
//	users_by_username/{username}  user id
//	users_by_email/{email}        user id
//	sessions/{id}                 Session record
//
// Registration writes the three user keys in one atomic commit that first
// asserts all of them absent, so two registrations can never share a
// username or an email. No application lock is involved.
package auth
