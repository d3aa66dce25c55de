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

package fleet

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/accounting"
	"github.com/NVIDIA/fleet-ledger/pkg/deploy"
	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
	"github.com/NVIDIA/fleet-ledger/pkg/reconcile"
	"github.com/NVIDIA/fleet-ledger/pkg/registry"
	"k8s.io/utils/clock"
)

// Options configures New. The zero value opens the file ledger at the
// default path with live cluster clients.
type Options struct {
	// Ledger is the store URI passed to ledger.Open.
	Ledger string

	// Store, when set, is used instead of opening Ledger. Close still
	// closes it.
	Store ledger.Store

	// Clients builds live cluster clients.
	Clients provider.ClientBuilder

	Clock clock.Clock

	// ReleaseOnFailure gives the reservation of a failed or timed-out
	// deployment back immediately.
	ReleaseOnFailure bool

	DeployTimeout      time.Duration
	DeployPollInterval time.Duration
}

// Fleet is the process-wide control plane.
type Fleet struct {
	store       ledger.Store
	factory     *provider.Factory
	registry    *registry.Registry
	deployments *deploy.Manager
	refresh     *reconcile.Service
}

// New opens the ledger, builds a provider for every configured server and
// wires the deployment manager and the reconciliation service to them.
// The background loop is not started.
func New(ctx context.Context, opts Options) (*Fleet, error) {
	store := opts.Store
	if store == nil {
		s, err := ledger.Open(ctx, opts.Ledger)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, "failed to open ledger", err)
		}
		store = s
	}

	factory := provider.NewFactory(opts.Clients)
	reg := registry.New(store, factory)
	if err := reg.Reload(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	var (
		deployOpts  []deploy.Option
		refreshOpts []reconcile.Option
	)
	if opts.Clock != nil {
		deployOpts = append(deployOpts, deploy.WithClock(opts.Clock))
		refreshOpts = append(refreshOpts, reconcile.WithClock(opts.Clock))
	}
	if opts.DeployTimeout > 0 {
		deployOpts = append(deployOpts, deploy.WithTimeout(opts.DeployTimeout))
	}
	if opts.DeployPollInterval > 0 {
		deployOpts = append(deployOpts, deploy.WithPollInterval(opts.DeployPollInterval))
	}
	deployOpts = append(deployOpts, deploy.WithReleaseOnFailure(opts.ReleaseOnFailure))

	f := &Fleet{
		store:       store,
		factory:     factory,
		registry:    reg,
		deployments: deploy.NewManager(reg, store, deployOpts...),
		refresh:     reconcile.NewService(reg, store, refreshOpts...),
	}

	slog.Debug("fleet initialized", "servers", len(reg.IDs()), "release_on_failure", opts.ReleaseOnFailure)
	return f, nil
}

// Factory returns the provider factory, so tests can pin mock clusters.
func (f *Fleet) Factory() *provider.Factory {
	return f.factory
}

// Store returns the ledger store.
func (f *Fleet) Store() ledger.Store {
	return f.store
}

// ListServers returns every server as recorded in the ledger, without
// contacting any cluster.
func (f *Fleet) ListServers(ctx context.Context) ([]ledger.Server, error) {
	return f.registry.Servers(ctx)
}

// Server returns one ledger entry.
func (f *Fleet) Server(ctx context.Context, id string) (ledger.Server, error) {
	return f.registry.Server(ctx, id)
}

// CreatePod accepts a deployment and returns while it runs.
func (f *Fleet) CreatePod(ctx context.Context, serverID string, req deploy.Request) (deploy.Accepted, error) {
	return f.deployments.Create(ctx, serverID, req)
}

// DeploymentStatus returns the recorded state of a pod.
func (f *Fleet) DeploymentStatus(ctx context.Context, serverID, podID string) (deploy.Report, error) {
	return f.deployments.Status(ctx, serverID, podID)
}

// WaitForDeployment blocks until the pod's deployment task ends.
func (f *Fleet) WaitForDeployment(ctx context.Context, serverID, podID string) (deploy.Report, error) {
	return f.deployments.Wait(ctx, serverID, podID)
}

// DeletePod removes a pod from its cluster and the ledger.
func (f *Fleet) DeletePod(ctx context.Context, serverID, podName string) (provider.Result, error) {
	return f.deployments.Delete(ctx, serverID, podName)
}

// UpdatePod resizes a pod's reservation.
func (f *Fleet) UpdatePod(ctx context.Context, serverID, podID string, resources ledger.ResourceMap) (deploy.Report, error) {
	return f.deployments.Update(ctx, serverID, podID, resources)
}

// RefreshServer pulls the live state of one server into the ledger.
func (f *Fleet) RefreshServer(ctx context.Context, id string) (ledger.Server, error) {
	return f.refresh.RefreshServer(ctx, id)
}

// RefreshAll pulls the live state of every server into the ledger.
func (f *Fleet) RefreshAll(ctx context.Context) (reconcile.Summary, error) {
	return f.refresh.RefreshAll(ctx)
}

// StartBackgroundRefresh starts the reconciliation loop. It reports false
// when the loop was already running.
func (f *Fleet) StartBackgroundRefresh() bool {
	return f.refresh.Start()
}

// StopBackgroundRefresh stops the reconciliation loop.
func (f *Fleet) StopBackgroundRefresh(ctx context.Context) error {
	return f.refresh.Stop(ctx)
}

// BackgroundRefreshRunning reports whether the loop is running.
func (f *Fleet) BackgroundRefreshRunning() bool {
	return f.refresh.Running()
}

// ConsistencyCheck reports ledger entries whose books do not add up.
func (f *Fleet) ConsistencyCheck(ctx context.Context) ([]accounting.Issue, error) {
	doc, err := f.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return accounting.Consistency(doc), nil
}

// ConfigureServer adds or replaces a server definition.
func (f *Fleet) ConfigureServer(ctx context.Context, server ledger.Server) error {
	return f.registry.Configure(ctx, server)
}

// DeconfigureServer removes a server and its pods from the ledger.
func (f *Fleet) DeconfigureServer(ctx context.Context, id string) error {
	return f.registry.Deconfigure(ctx, id)
}

// VerifyServer checks the permissions of a server's credentials.
func (f *Fleet) VerifyServer(ctx context.Context, id, namespace string) ([]provider.PermissionCheck, error) {
	return f.registry.Verify(ctx, id, namespace)
}

// RefreshConfig changes how the reconciliation loop runs. Nil fields are
// left unchanged.
type RefreshConfig struct {
	// AutoRefresh enables or disables the fetch step of each cycle.
	AutoRefresh *bool `json:"auto_refresh_enabled,omitempty" yaml:"auto_refresh_enabled,omitempty"`

	// Intervals sets live_refresh_interval in seconds per server id.
	Intervals map[string]int `json:"intervals,omitempty" yaml:"intervals,omitempty"`
}

// SetRefreshConfig applies rc to the ledger and returns the resulting
// config. The running loop picks it up on its next cycle.
func (f *Fleet) SetRefreshConfig(ctx context.Context, rc RefreshConfig) (ledger.Config, error) {
	for id, secs := range rc.Intervals {
		if secs < 0 {
			return ledger.Config{}, errors.NewWithContext(errors.ErrCodeInvalidRequest,
				"refresh interval must not be negative", map[string]any{"server": id, "interval": secs})
		}
	}

	var out ledger.Config
	err := f.store.Update(ctx, func(doc *ledger.Document) error {
		for id, secs := range rc.Intervals {
			s, ok := doc.Server(id)
			if !ok {
				return errors.ServerNotFound(id)
			}
			s.LiveRefreshInterval = secs
		}
		if rc.AutoRefresh != nil {
			enabled := *rc.AutoRefresh
			doc.Config.AutoRefreshEnabled = &enabled
		}
		out = doc.Config
		return nil
	})
	if err != nil {
		return ledger.Config{}, err
	}
	slog.Info("refresh configuration updated", "auto_refresh", out.AutoRefresh())
	return out, nil
}

// SeedDemo configures the demo servers that are not in the ledger yet and
// returns how many were added.
func (f *Fleet) SeedDemo(ctx context.Context) (int, error) {
	doc, err := f.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, s := range provider.DemoServers() {
		if _, ok := doc.Server(s.ID); ok {
			continue
		}
		if err := f.registry.Configure(ctx, s); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Close stops the loop, waits for in-flight deployments and closes the
// store.
func (f *Fleet) Close(ctx context.Context) error {
	return stderrors.Join(
		f.refresh.Stop(ctx),
		f.deployments.Shutdown(ctx),
		f.store.Close(),
	)
}
