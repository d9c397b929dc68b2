// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package web

import (
	"net/http"
	"strconv"

	"github.com/freshkv/freshkv/internal/chat"
)

type chatListBody struct {
	Success  bool           `json:"success"`
	Messages []chat.Message `json:"messages"`
}

type chatSendRequest struct {
	Message string `json:"message"`
}

type chatSendBody struct {
	Success bool          `json:"success"`
	Message *chat.Message `json:"message"`
}

// parseLimit reads ?limit=N, falling back to the default for anything
// that is not a positive integer.
func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		return chat.DefaultRecentLimit
	}
	return limit
}

func (h *handler) handleChatList(w http.ResponseWriter, r *http.Request) {
	messages, err := h.ledger.Recent(r.Context(), parseLimit(r))
	if err != nil {
		h.logError(r, "chat list failed", err)
		writeJSON(w, http.StatusInternalServerError, failureBody{Error: "Failed to fetch messages"})
		return
	}
	writeJSON(w, http.StatusOK, chatListBody{Success: true, Messages: messages})
}

func (h *handler) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req chatSendRequest
	if err := decodeJSON(r, &req, map[string]string{"message": "Message is required"}); err != nil {
		msg, _ := validationMessage(err)
		writeJSON(w, http.StatusBadRequest, failureBody{Error: msg})
		return
	}

	identity := IdentityFrom(r.Context())
	msg, err := h.ledger.Append(r.Context(), identity.User.ID, identity.User.Username, req.Message)
	if err != nil {
		if text, ok := validationMessage(err); ok {
			writeJSON(w, http.StatusBadRequest, failureBody{Error: text})
			return
		}
		h.logError(r, "chat send failed", err)
		writeJSON(w, http.StatusInternalServerError, failureBody{Error: "Failed to send message"})
		return
	}
	h.metrics.RecordChatMessage()
	writeJSON(w, http.StatusOK, chatSendBody{Success: true, Message: msg})
}
