// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package chat stores chat messages under chat_messages/{id}. Messages are
// never edited or removed.
package chat

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/id"
	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/pkg/errutil"
)

// Message limits.
const (
	MaxMessageLength   = 500
	DefaultRecentLimit = 50
)

// Message is one chat line.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

var namespace = kv.Key{"chat_messages"}

func messageKey(id string) kv.Key {
	return kv.Key{"chat_messages", id}
}

// Ledger appends and reads chat messages.
type Ledger struct {
	store kv.Store
	now   func() time.Time
}

// NewLedger creates a Ledger over store. A nil now uses time.Now.
func NewLedger(store kv.Store, now func() time.Time) (*Ledger, error) {
	if store == nil {
		return nil, oops.Code("CHAT_INVALID_DEPENDENCY").Errorf("store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}, nil
}

// NormalizeMessage trims text and checks it is non-empty and at most
// MaxMessageLength characters.
func NormalizeMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errutil.Invalid("message", "Message is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", errutil.Invalid("message", "Message too long (max 500 characters)")
	}
	return text, nil
}

// Append stores a new message from the given user.
func (l *Ledger) Append(ctx context.Context, userID, username, text string) (*Message, error) {
	text, err := NormalizeMessage(text)
	if err != nil {
		return nil, err
	}

	now := l.now()
	msg := &Message{
		ID:        id.New(now),
		UserID:    userID,
		Username:  username,
		Message:   text,
		CreatedAt: now,
	}
	record, err := kv.Marshal(msg)
	if err != nil {
		return nil, oops.Code("CHAT_APPEND_FAILED").With("user_id", userID).Wrap(err)
	}
	if _, err := kv.Set(ctx, l.store, messageKey(msg.ID), record); err != nil {
		return nil, oops.Code("CHAT_APPEND_FAILED").With("user_id", userID).Wrap(err)
	}
	return msg, nil
}

// Recent returns up to limit messages, newest first. A limit below one
// means DefaultRecentLimit. Messages with equal timestamps are ordered by
// descending id.
//
// Every call scans the whole namespace and sorts in memory.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit < 1 {
		limit = DefaultRecentLimit
	}

	entries, err := l.store.List(ctx, namespace)
	if err != nil {
		return nil, oops.Code("CHAT_LIST_FAILED").Wrap(err)
	}

	messages := make([]Message, 0, len(entries))
	for _, e := range entries {
		var m Message
		if err := e.Decode(&m); err != nil {
			return nil, oops.Code("CHAT_LIST_FAILED").With("key", e.Key.String()).Wrap(err)
		}
		messages = append(messages, m)
	}

	slices.SortFunc(messages, func(a, b Message) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}
