// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/freshkv/freshkv/internal/auth"
	"github.com/freshkv/freshkv/pkg/errutil"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

const sessionCookieName = "session"

type errorBody struct {
	Error string `json:"error"`
}

type failureBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type userBody struct {
	Success bool         `json:"success"`
	User    auth.Profile `json:"user"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client may have gone away
}

// decodeJSON reads a JSON object from the request body into v. A field of
// the wrong JSON type is reported with typeErrors[field] so callers can
// keep their per-field messages.
func decodeJSON(r *http.Request, v any, typeErrors map[string]string) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if msg, ok := typeErrors[typeErr.Field]; ok {
			return errutil.Invalid(typeErr.Field, msg)
		}
		return errutil.Invalid(typeErr.Field, "Invalid value for "+typeErr.Field)
	}
	return errutil.Invalid("body", "Invalid JSON body")
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(auth.SessionTTL.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
