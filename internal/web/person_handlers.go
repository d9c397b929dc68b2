// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/freshkv/freshkv/internal/person"
)

type personRequest struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Age      *int    `json:"age"`
	Infected *bool   `json:"infected"`
}

func (p personRequest) fields() person.Fields {
	return person.Fields{Name: p.Name, Age: p.Age, Infected: p.Infected}
}

var createTypeErrors = map[string]string{
	"name":     "Name is required and must be a string",
	"age":      "Age is required and must be a positive number",
	"infected": "Infected status is required and must be a boolean",
}

var updateTypeErrors = map[string]string{
	"id":       "ID is required for updates",
	"name":     "Name must be a non-empty string",
	"age":      "Age must be a positive number",
	"infected": "Infected status must be a boolean",
}

type deletedBody struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// personError maps service errors to responses. conflictMsg is used for
// ErrConflict.
func (h *handler) personError(w http.ResponseWriter, r *http.Request, err error, operation, conflictMsg string) {
	if msg, ok := validationMessage(err); ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
		return
	}
	switch {
	case errors.Is(err, person.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Person not found"})
	case errors.Is(err, person.ErrConflict):
		h.metrics.RecordConflict(operation)
		writeJSON(w, http.StatusConflict, errorBody{Error: conflictMsg})
	default:
		h.internalError(w, r, "person "+operation+" failed", err)
	}
}

func (h *handler) handlePersonsGet(w http.ResponseWriter, r *http.Request) {
	if personID := r.URL.Query().Get("id"); personID != "" {
		p, err := h.persons.Get(r.Context(), personID)
		if err != nil {
			h.personError(w, r, err, "get", "")
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	persons, err := h.persons.List(r.Context())
	if err != nil {
		h.internalError(w, r, "person list failed", err)
		return
	}
	writeJSON(w, http.StatusOK, persons)
}

func (h *handler) handlePersonCreate(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := decodeJSON(r, &req, createTypeErrors); err != nil {
		h.badRequest(w, err)
		return
	}
	p, err := h.persons.Create(r.Context(), req.fields())
	if err != nil {
		h.personError(w, r, err, "create", "Create failed - please retry")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) handlePersonUpdate(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := decodeJSON(r, &req, updateTypeErrors); err != nil {
		h.badRequest(w, err)
		return
	}
	p, err := h.persons.Update(r.Context(), req.ID, req.fields())
	if err != nil {
		h.personError(w, r, err, "update", "Update failed - person may have been modified by another request")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) handlePersonDelete(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("id")
	if err := h.persons.Delete(r.Context(), personID); err != nil {
		h.personError(w, r, err, "delete", "Delete failed - person may have been modified by another request")
		return
	}
	writeJSON(w, http.StatusOK, deletedBody{Message: "Person deleted successfully", ID: personID})
}
