// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/freshkv/freshkv/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

var registerTypeErrors = map[string]string{
	"username": "Username is required",
	"email":    "Email is required",
	"password": "Password must be at least 6 characters long",
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

var loginTypeErrors = map[string]string{
	"usernameOrEmail": "Username or email is required",
	"password":        "Password is required",
}

type statusBody struct {
	Authenticated bool          `json:"authenticated"`
	User          *auth.Profile `json:"user"`
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, registerTypeErrors); err != nil {
		h.badRequest(w, err)
		return
	}

	user, err := h.directory.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			h.metrics.RecordAuth("register", "invalid")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
			return
		}
		if errors.Is(err, auth.ErrUserExists) {
			h.metrics.RecordAuth("register", "conflict")
			h.metrics.RecordConflict("register")
			writeJSON(w, http.StatusConflict, errorBody{Error: "Username or email already exists"})
			return
		}
		h.metrics.RecordAuth("register", "error")
		h.internalError(w, r, "registration failed", err)
		return
	}

	if !h.startSession(w, r, user) {
		h.metrics.RecordAuth("register", "error")
		return
	}
	h.metrics.RecordAuth("register", "success")
	writeJSON(w, http.StatusCreated, userBody{Success: true, User: user.Profile()})
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, loginTypeErrors); err != nil {
		h.badRequest(w, err)
		return
	}
	if req.UsernameOrEmail == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: loginTypeErrors["usernameOrEmail"]})
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: loginTypeErrors["password"]})
		return
	}

	user, err := h.directory.Authenticate(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.metrics.RecordAuth("login", "invalid")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid username/email or password"})
			return
		}
		h.metrics.RecordAuth("login", "error")
		h.internalError(w, r, "login failed", err)
		return
	}

	if !h.startSession(w, r, user) {
		h.metrics.RecordAuth("login", "error")
		return
	}
	h.metrics.RecordAuth("login", "success")
	writeJSON(w, http.StatusOK, userBody{Success: true, User: user.Profile()})
}

// startSession issues a session for user and sets the cookie. On failure
// it writes the 500 response and returns false.
func (h *handler) startSession(w http.ResponseWriter, r *http.Request, user *auth.User) bool {
	session, err := h.sessions.Issue(r.Context(), user)
	if err != nil {
		h.internalError(w, r, "session issue failed", err)
		return false
	}
	setSessionCookie(w, session.ID)
	return true
}

// handleLogout revokes the cookie's session, whether or not it still
// resolves, and always clears the cookie.
func (h *handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := ExtractSessionToken(r.Header.Get("Cookie")); token != "" {
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			h.metrics.RecordAuth("logout", "error")
			h.internalError(w, r, "logout failed", err)
			return
		}
	}
	h.metrics.RecordAuth("logout", "success")
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, successBody{Success: true, Message: "Logged out successfully"})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusOK, statusBody{})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Authenticated: true, User: &identity.User})
}

func (h *handler) badRequest(w http.ResponseWriter, err error) {
	msg, ok := validationMessage(err)
	if !ok {
		msg = "Invalid request"
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
