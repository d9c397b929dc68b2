// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/auth"
	"github.com/freshkv/freshkv/internal/chat"
	"github.com/freshkv/freshkv/internal/logging"
	"github.com/freshkv/freshkv/internal/observability"
	"github.com/freshkv/freshkv/internal/person"
	"github.com/freshkv/freshkv/pkg/errutil"
)

// Directory registers and authenticates users.
type Directory interface {
	Register(ctx context.Context, username, email, password string) (*auth.User, error)
	Authenticate(ctx context.Context, usernameOrEmail, password string) (*auth.User, error)
}

// Sessions issues, resolves and revokes sessions.
type Sessions interface {
	SessionResolver
	Issue(ctx context.Context, user *auth.User) (*auth.Session, error)
	Revoke(ctx context.Context, sessionID string) error
}

// Ledger appends and reads chat messages.
type Ledger interface {
	Append(ctx context.Context, userID, username, text string) (*chat.Message, error)
	Recent(ctx context.Context, limit int) ([]chat.Message, error)
}

// Persons manages person records.
type Persons interface {
	List(ctx context.Context) ([]person.Person, error)
	Get(ctx context.Context, personID string) (*person.Person, error)
	Create(ctx context.Context, fields person.Fields) (*person.Person, error)
	Update(ctx context.Context, personID string, fields person.Fields) (*person.Person, error)
	Delete(ctx context.Context, personID string) error
}

// Config wires the router's collaborators. Pages and Metrics are optional.
type Config struct {
	Directory Directory
	Sessions  Sessions
	Ledger    Ledger
	Persons   Persons

	// Pages renders everything outside /api. /chat is only reached with a
	// session; anonymous callers are redirected to /login.
	Pages http.Handler

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type handler struct {
	directory Directory
	sessions  Sessions
	ledger    Ledger
	persons   Persons
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewRouter builds the HTTP handler for the API and the gated pages.
func NewRouter(cfg Config) (http.Handler, error) {
	switch {
	case cfg.Directory == nil:
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("directory is required")
	case cfg.Sessions == nil:
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("sessions are required")
	case cfg.Ledger == nil:
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("ledger is required")
	case cfg.Persons == nil:
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("persons are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pages := cfg.Pages
	if pages == nil {
		pages = http.NotFoundHandler()
	}

	h := &handler{
		directory: cfg.Directory,
		sessions:  cfg.Sessions,
		ledger:    cfg.Ledger,
		persons:   cfg.Persons,
		metrics:   cfg.Metrics,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(Gate(cfg.Sessions, logger))

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", h.handleRegister)
		api.Post("/auth/login", h.handleLogin)
		api.Post("/auth/logout", h.handleLogout)
		api.Get("/auth/status", h.handleStatus)

		api.With(requireAPIAuth).Get("/chat", h.handleChatList)
		api.With(requireAPIAuth).Post("/chat", h.handleChatSend)

		api.Get("/persons", h.handlePersonsGet)
		api.With(requireAPIAuth).Post("/persons", h.handlePersonCreate)
		api.With(requireAPIAuth).Put("/persons", h.handlePersonUpdate)
		api.With(requireAPIAuth).Delete("/persons", h.handlePersonDelete)

		api.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "Invalid endpoint"})
		})
	})

	r.With(requirePageAuth).Get("/chat", pages.ServeHTTP)
	r.Handle("/*", pages)

	return r, nil
}

func (h *handler) logError(r *http.Request, msg string, err error) {
	errutil.LogError(h.logger, msg, err, "request_id", logging.RequestID(r.Context()))
}

// internalError logs err and writes the generic 500 body.
func (h *handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logError(r, msg, err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
}

// validationMessage returns the client-facing message when err is a
// validation failure.
func validationMessage(err error) (string, bool) {
	if v, ok := errutil.AsValidation(err); ok {
		return v.Message, true
	}
	return "", false
}
