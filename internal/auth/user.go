// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package auth

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/pkg/errutil"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User is a registered account as stored under users/{id}.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile is the part of a user that is safe to show to clients.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Profile returns the user's public fields.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Registration is the normalized input to Directory.Register.
type Registration struct {
	Username string
	Email    string
	Password string
}

// NewRegistration trims username, trims and lower-cases email, and
// validates the result. Checks run in order: username, email, password
// length, email format.
func NewRegistration(username, email, password string) (Registration, error) {
	r := Registration{
		Username: strings.TrimSpace(username),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: password,
	}
	switch {
	case r.Username == "":
		return Registration{}, errutil.Invalid("username", "Username is required")
	case r.Email == "":
		return Registration{}, errutil.Invalid("email", "Email is required")
	case utf8.RuneCountInString(r.Password) < MinPasswordLength:
		return Registration{}, errutil.Invalid("password", "Password must be at least 6 characters long")
	case !emailRegex.MatchString(r.Email):
		return Registration{}, errutil.Invalid("email", "Invalid email format")
	}
	return r, nil
}

func userKey(id string) kv.Key {
	return kv.Key{"users", id}
}

func usernameKey(username string) kv.Key {
	return kv.Key{"users_by_username", username}
}

func emailKey(email string) kv.Key {
	return kv.Key{"users_by_email", email}
}
