// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package offline

import (
	"context"
	"log/slog"
	"time"
)

// Source is the host environment's connectivity signal. Transitions
// delivers online/offline edges (true = online); Online reports the
// current state.
type Source interface {
	Online() bool
	Transitions() <-chan bool
}

// Monitor subscribes to connectivity transitions and triggers the sync
// engine when the client comes back online. While offline it polls every
// PollInterval only to refresh the pending-count display, never to sync.
type Monitor struct {
	source       Source
	engine       *Engine
	store        *Store
	logger       *slog.Logger
	pollInterval time.Duration
	pendingFn    func(int) // Invoked with the queue length while offline; may be nil

	stop chan struct{}
	done chan struct{}
}

// NewMonitor wires a monitor to its engine. pendingFn receives the queue
// length during offline polls (nil to disable the display refresh).
func NewMonitor(source Source, engine *Engine, store *Store, pendingFn func(int), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:       source,
		engine:       engine,
		store:        store,
		logger:       logger,
		pollInterval: 5 * time.Second,
		pendingFn:    pendingFn,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the monitor loop. Call Stop to tear it down.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop tears down the loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case online, ok := <-m.source.Transitions():
			if !ok {
				return
			}
			if online {
				m.logger.Debug("connectivity restored, flushing queue")
				m.engine.Flush(ctx)
			}
		case <-ticker.C:
			if m.source.Online() || m.pendingFn == nil {
				continue
			}
			n, err := m.store.PendingCount(ctx)
			if err != nil {
				m.logger.Warn("pending count refresh failed", "error", err)
				continue
			}
			m.pendingFn(n)
		}
	}
}
