// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds FreshKV's application metrics. All methods are safe on a
// nil *Metrics, so components can run without instrumentation in tests.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	AuthEvents      *prometheus.CounterVec
	ChatMessages    prometheus.Counter
	CommitConflicts *prometheus.CounterVec
	SweptEntries    prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freshkv_http_requests_total",
				Help: "HTTP requests by method, route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freshkv_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freshkv_auth_events_total",
				Help: "Registration, login and logout attempts by outcome",
			},
			[]string{"event", "outcome"},
		),
		ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshkv_chat_messages_total",
			Help: "Chat messages appended to the ledger",
		}),
		CommitConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freshkv_commit_conflicts_total",
				Help: "Atomic commits rejected by a version check, by operation",
			},
			[]string{"operation"},
		),
		SweptEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshkv_swept_entries_total",
			Help: "Expired entries removed by the sweeper",
		}),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.AuthEvents, m.ChatMessages, m.CommitConflicts, m.SweptEntries)
	return m
}

// RecordAuth counts an authentication event ("register", "login",
// "logout") with its outcome ("success", "conflict", "invalid", "error").
func (m *Metrics) RecordAuth(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, outcome).Inc()
}

// RecordChatMessage counts one appended chat message.
func (m *Metrics) RecordChatMessage() {
	if m == nil {
		return
	}
	m.ChatMessages.Inc()
}

// RecordConflict counts a rejected atomic commit.
func (m *Metrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.CommitConflicts.WithLabelValues(operation).Inc()
}

// RecordSwept adds n purged entries.
func (m *Metrics) RecordSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptEntries.Add(float64(n))
}

// RecordHTTP counts a served request and observes its latency. route is
// the matched route pattern, not the raw path.
func (m *Metrics) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
