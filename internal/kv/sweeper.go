// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package kv

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/freshkv/freshkv/pkg/errutil"
)

// DefaultSweepInterval is how often expired entries are purged.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically purges expired entries from a backend that does not
// expire keys on its own. Reads already hide expired entries, so the
// sweeper only reclaims space.
type Sweeper struct {
	store    ExpiredDeleter
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper. A non-positive interval uses
// DefaultSweepInterval; a nil logger uses slog.Default().
func NewSweeper(store ExpiredDeleter, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, oops.Code("SWEEPER_INVALID").Errorf("store is required")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}, nil
}

// Start launches the sweep loop. Calling Start on a running sweeper is an error.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return oops.Code("SWEEPER_RUNNING").Errorf("sweeper already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
	return nil
}

// Stop halts the loop and waits for it to exit. Safe to call when stopped.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SweepOnce runs a single purge.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errutil.LogError(s.logger, "expired entry sweep failed", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired entries", "count", n)
			}
		}
	}
}
