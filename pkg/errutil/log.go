// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package errutil holds the error helpers shared across FreshKV: structured
// logging of oops errors, the validation error type handlers map to 400,
// and test assertions on error codes.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. For oops errors the code and context are
// logged as separate attributes. A nil logger uses slog.Default().
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.Error(msg, append(attrs, "error", err)...)
		return
	}

	attrs = append(attrs, "error", oopsErr.Error())
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	logger.Error(msg, attrs...)
}
