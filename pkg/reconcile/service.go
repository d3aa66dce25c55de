// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/poll"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// Providers resolves a server id to its provider.
type Providers interface {
	Provider(serverID string) (provider.Provider, error)
}

// Summary reports the outcome of one refresh of all servers.
type Summary struct {
	Timestamp string            `json:"timestamp" yaml:"timestamp"`
	Refreshed []string          `json:"refreshed" yaml:"refreshed"`
	Skipped   []string          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failed    map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock driving the loop and the refresh timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithBackoff sets the delay used after a failed cycle.
func WithBackoff(d time.Duration) Option {
	return func(s *Service) {
		s.backoff = d
	}
}

// WithConcurrency sets how many servers are fetched at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		s.concurrency = n
	}
}

// Service is the background reconciliation loop.
type Service struct {
	providers   Providers
	store       ledger.Store
	clock       clock.Clock
	backoff     time.Duration
	concurrency int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService returns a stopped Service.
func NewService(providers Providers, store ledger.Store, opts ...Option) *Service {
	s := &Service{
		providers:   providers,
		store:       store,
		clock:       clock.RealClock{},
		backoff:     defaults.RefreshBackoff,
		concurrency: defaults.RefreshConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the shortest live refresh interval over all servers.
// A server without one counts as defaults.RefreshInterval, as does an
// empty ledger.
func Interval(doc *ledger.Document) time.Duration {
	if len(doc.Servers) == 0 {
		return defaults.RefreshInterval
	}
	out := doc.Servers[0].RefreshInterval(defaults.RefreshInterval)
	for i := range doc.Servers[1:] {
		out = min(out, doc.Servers[i+1].RefreshInterval(defaults.RefreshInterval))
	}
	return out
}

// Start launches the loop. It returns false when the loop is already running.
func (s *Service) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		if err := poll.Every(ctx, s.clock, s.cycle); err != nil && ctx.Err() == nil {
			slog.Error("refresh loop stopped", "error", err)
		}
	}()

	slog.Info("background refresh started")
	return true
}

// Stop cancels the loop and waits for the running cycle to finish, at
// most defaults.RefreshStopTimeout or until ctx is done. Stopping a
// stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()

	timer := time.NewTimer(defaults.RefreshStopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		slog.Info("background refresh stopped")
		return nil
	case <-timer.C:
		return errors.New(errors.ErrCodeTimeout, "refresh cycle did not finish before the stop timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cycle runs one iteration of the loop and returns the delay before the
// next one.
func (s *Service) cycle(ctx context.Context) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("refresh cycle panicked", "panic", fmt.Sprint(r))
			refreshCycles.WithLabelValues("error").Inc()
			next = s.backoff
		}
	}()

	doc, err := s.store.Load(ctx)
	if err != nil {
		slog.Error("failed to read refresh configuration", "error", err)
		refreshCycles.WithLabelValues("error").Inc()
		return s.backoff
	}
	interval := Interval(doc)

	if !doc.Config.AutoRefresh() {
		slog.Debug("auto refresh disabled, skipping cycle")
		refreshCycles.WithLabelValues("skipped").Inc()
		return interval
	}

	sum, err := s.RefreshAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return interval
		}
		slog.Error("refresh cycle failed", "error", err)
		refreshCycles.WithLabelValues("error").Inc()
		return s.backoff
	}

	result := "success"
	if len(sum.Failed) > 0 {
		result = "partial"
	}
	refreshCycles.WithLabelValues(result).Inc()
	slog.Debug("refresh cycle complete",
		"refreshed", len(sum.Refreshed),
		"failed", len(sum.Failed),
		"next", interval.String())
	return interval
}

type fetched struct {
	id    string
	views []provider.ServerView
}

// RefreshAll fetches every server in parallel and merges the successful
// fetches in one ledger write. Servers that fail are reported in the
// summary and left untouched. An error is returned only when the ledger
// itself cannot be read or written.
func (s *Service) RefreshAll(ctx context.Context) (Summary, error) {
	start := s.clock.Now()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Refreshed: []string{}, Failed: map[string]string{}}
	var (
		mu      sync.Mutex
		results []fetched
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.concurrency))
	for _, srv := range doc.Servers {
		if b, _ := provider.BackendFor(srv); b == provider.BackendStatic {
			sum.Skipped = append(sum.Skipped, srv.ID)
			continue
		}
		g.Go(func() error {
			views, err := s.fetch(gctx, srv.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("failed to refresh server", "server", srv.ID, "error", err)
				serverRefreshes.WithLabelValues(srv.ID, "error").Inc()
				sum.Failed[srv.ID] = err.Error()
				return nil
			}
			results = append(results, fetched{id: srv.ID, views: views})
			return nil
		})
	}
	_ = g.Wait()

	now := s.clock.Now().UTC().Format(time.RFC3339)
	sum.Timestamp = now
	err = s.store.Update(ctx, func(doc *ledger.Document) error {
		for _, r := range results {
			srv, ok := doc.Server(r.id)
			if !ok {
				continue
			}
			Merge(srv, r.views, now)
		}
		doc.Config.LastRefresh = now
		if len(results) > 0 {
			doc.Config.LastLiveRefresh = now
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	for _, r := range results {
		serverRefreshes.WithLabelValues(r.id, "success").Inc()
		sum.Refreshed = append(sum.Refreshed, r.id)
	}
	sort.Strings(sum.Refreshed)
	refreshDuration.Observe(s.clock.Since(start).Seconds())
	return sum, nil
}

// RefreshServer fetches and merges a single server and returns the
// updated entry.
func (s *Service) RefreshServer(ctx context.Context, id string) (ledger.Server, error) {
	views, err := s.fetch(ctx, id)
	if err != nil {
		serverRefreshes.WithLabelValues(id, "error").Inc()
		return ledger.Server{}, err
	}

	now := s.clock.Now().UTC().Format(time.RFC3339)
	var out ledger.Server
	err = s.store.Update(ctx, func(doc *ledger.Document) error {
		srv, ok := doc.Server(id)
		if !ok {
			return errors.ServerNotFound(id)
		}
		Merge(srv, views, now)
		doc.Config.LastLiveRefresh = now
		out = *srv
		return nil
	})
	if err != nil {
		return ledger.Server{}, err
	}
	serverRefreshes.WithLabelValues(id, "success").Inc()
	return out, nil
}

// fetch reads the live view of one server. A panicking provider is
// reported as an error for that server only.
func (s *Service) fetch(ctx context.Context, id string) (views []provider.ServerView, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeInternal, fmt.Sprintf("provider panicked: %v", r))
		}
	}()

	p, err := s.providers.Provider(id)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, defaults.ProviderCallTimeout)
	defer cancel()
	return p.ServersWithPods(callCtx)
}
