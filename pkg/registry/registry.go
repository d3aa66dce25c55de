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

package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
)

// snapshot is an immutable view of the provider map.
type snapshot struct {
	providers map[string]provider.Provider
	failures  map[string]error
}

// Registry resolves server ids to providers.
type Registry struct {
	store   ledger.Store
	factory *provider.Factory

	current atomic.Pointer[snapshot]

	// reloadMu serializes rebuilds; readers never take it.
	reloadMu sync.Mutex
}

// New returns an empty registry. Call Reload to populate it.
func New(store ledger.Store, factory *provider.Factory) *Registry {
	if factory == nil {
		factory = provider.NewFactory(nil)
	}
	r := &Registry{store: store, factory: factory}
	r.current.Store(&snapshot{
		providers: map[string]provider.Provider{},
		failures:  map[string]error{},
	})
	return r
}

// Store returns the ledger store backing the registry.
func (r *Registry) Store() ledger.Store {
	return r.store
}

// Factory returns the provider factory.
func (r *Registry) Factory() *provider.Factory {
	return r.factory
}

// Reload rebuilds the provider of every server in the ledger and swaps the
// new map in. A server whose backend cannot be built is logged and kept
// out of the map; looking it up returns the build error.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	doc, err := r.store.Load(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to load ledger", err)
	}

	next := &snapshot{
		providers: make(map[string]provider.Provider, len(doc.Servers)),
		failures:  map[string]error{},
	}
	for _, s := range doc.Servers {
		p, err := r.factory.New(s)
		if err != nil {
			slog.Warn("failed to initialize provider",
				"server", s.ID,
				"type", s.Type,
				"method", s.Connection.Method,
				"error", err)
			next.failures[s.ID] = err
			continue
		}
		next.providers[s.ID] = p
	}

	r.current.Store(next)
	slog.Debug("registry reloaded", "providers", len(next.providers), "failures", len(next.failures))
	return nil
}

// Provider returns the provider for id.
func (r *Registry) Provider(id string) (provider.Provider, error) {
	snap := r.current.Load()
	if p, ok := snap.providers[id]; ok {
		return p, nil
	}
	if err, ok := snap.failures[id]; ok {
		return nil, err
	}
	return nil, errors.ServerNotFound(id)
}

// IDs returns the ids of servers with a working provider, sorted.
func (r *Registry) IDs() []string {
	snap := r.current.Load()
	ids := make([]string, 0, len(snap.providers))
	for id := range snap.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Servers returns the servers as recorded in the ledger. It makes no
// remote calls.
func (r *Registry) Servers(ctx context.Context) ([]ledger.Server, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to load ledger", err)
	}
	return doc.Servers, nil
}

// Server returns the ledger entry for id.
func (r *Registry) Server(ctx context.Context, id string) (ledger.Server, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return ledger.Server{}, errors.Wrap(errors.ErrCodeInternal, "failed to load ledger", err)
	}
	s, ok := doc.Server(id)
	if !ok {
		return ledger.Server{}, errors.ServerNotFound(id)
	}
	return *s, nil
}

// Configure adds server to the ledger, replacing any server with the same
// id, and reloads. The first configured server becomes the default.
func (r *Registry) Configure(ctx context.Context, server ledger.Server) error {
	if server.ID == "" {
		return errors.New(errors.ErrCodeInvalidRequest, "server id is required")
	}
	if server.Name == "" {
		server.Name = server.ID
	}
	if _, err := provider.BackendFor(server); err != nil {
		return err
	}
	prepare(&server)

	err := r.store.Update(ctx, func(doc *ledger.Document) error {
		if existing, ok := doc.Server(server.ID); ok {
			if len(server.Pods) == 0 {
				server.Pods = existing.Pods
			}
			*existing = server
		} else {
			doc.Servers = append(doc.Servers, server)
		}
		if doc.Config.DefaultServer == "" {
			doc.Config.DefaultServer = server.ID
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("server configured", "server", server.ID, "type", server.Type)
	r.factory.Forget(server.ID)
	return r.Reload(ctx)
}

// Deconfigure removes the server and its pods from the ledger and reloads.
func (r *Registry) Deconfigure(ctx context.Context, id string) error {
	err := r.store.Update(ctx, func(doc *ledger.Document) error {
		if _, ok := doc.RemoveServer(id); !ok {
			return errors.ServerNotFound(id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("server removed", "server", id)
	r.factory.Forget(id)
	return r.Reload(ctx)
}

// Verify checks that the credentials of server id allow every call the
// provider makes. Backends without access control report no checks.
func (r *Registry) Verify(ctx context.Context, id, namespace string) ([]provider.PermissionCheck, error) {
	p, err := r.Provider(id)
	if err != nil {
		return nil, err
	}
	pc, ok := p.(provider.PermissionChecker)
	if !ok {
		return []provider.PermissionCheck{}, nil
	}
	return pc.CheckPermissions(ctx, namespace)
}

// prepare fills the derived fields of a new server definition. A server
// given only totals starts fully available.
func prepare(s *ledger.Server) {
	s.Resources.Normalize()
	if isZero(s.Resources.Available) && isZero(s.Resources.Allocated) {
		s.Resources.Available = s.Resources.Total.Clone()
	}
	if isZero(s.Resources.Allocated) {
		for _, k := range s.Resources.Total.Keys() {
			s.Resources.Allocated[k] = max(0, s.Resources.Total[k]-s.Resources.Available.Get(k))
		}
	}
	if s.Pods == nil {
		s.Pods = []ledger.Pod{}
	}
	if s.Status == "" {
		s.Status = "online"
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	if _, ok := s.Metadata["configured_at"]; !ok {
		s.Metadata["configured_at"] = ledger.Now()
	}
}

func isZero(m ledger.ResourceMap) bool {
	for _, v := range m {
		if v != 0 {
			return false
		}
	}
	return true
}
