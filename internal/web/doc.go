// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package web serves FreshKV's JSON API.
//
// Routes:
//
//	POST   /api/auth/register  create a user and start a session
//	POST   /api/auth/login     start a session
//	POST   /api/auth/logout    end the session and clear the cookie
//	GET    /api/auth/status    report the caller's identity
//	GET    /api/chat           recent messages (session required)
//	POST   /api/chat           append a message (session required)
//	GET    /api/persons        list, or one person with ?id=
//	POST   /api/persons        create (session required)
//	PUT    /api/persons        partial update (session required)
//	DELETE /api/persons?id=    delete (session required)
//
// Every request passes through the Gate, which resolves the session cookie
// into an Identity stored in the request context. Routes that need a
// session deny anonymous callers with a 401 JSON body (API routes) or a
// redirect to /login (pages).
package web
