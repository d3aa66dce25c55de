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
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/deploy"
	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rm(cpus, ram, gpus int64) ledger.ResourceMap {
	return ledger.ResourceMap{ledger.CPUs: cpus, ledger.RAMGB: ram, ledger.GPUs: gpus}
}

// assertResources compares quantities per kind, so a kind missing on one
// side matches an explicit zero on the other.
func assertResources(t *testing.T, want, got ledger.ResourceMap) {
	t.Helper()
	kinds := append(slices.Clone(ledger.Kinds), want.Keys()...)
	kinds = append(kinds, got.Keys()...)
	for _, k := range kinds {
		assert.Equal(t, want.Get(k), got.Get(k), "resource %s", k)
	}
}

func newFleet(t *testing.T) *Fleet {
	t.Helper()
	f, err := New(context.Background(), Options{Ledger: filepath.Join(t.TempDir(), "master.json")})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.Close(ctx)
	})
	return f
}

func configureMock(t *testing.T, f *Fleet, id string, total ledger.ResourceMap) *provider.Mock {
	t.Helper()
	require.NoError(t, f.ConfigureServer(context.Background(), ledger.Server{
		ID:        id,
		Type:      "mock",
		Resources: ledger.Resources{Total: total},
	}))
	m := provider.NewMock(id, ledger.Resources{Total: total})
	f.Factory().Use(id, m)
	require.NoError(t, f.registry.Reload(context.Background()))
	return m
}

func TestNewEmptyLedger(t *testing.T) {
	f := newFleet(t)
	servers, err := f.ListServers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, servers)
	assert.False(t, f.BackgroundRefreshRunning())
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	_, err := New(context.Background(), Options{Ledger: "etcd://localhost:2379"})
	require.Error(t, err)
}

func TestPodLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	configureMock(t, f, "srv-1", rm(8, 32, 2))

	acc, err := f.CreatePod(ctx, "srv-1", deploy.Request{Name: "web", Resources: rm(2, 4, 1)})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, acc.Status)

	rep, err := f.WaitForDeployment(ctx, "srv-1", acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOnline, rep.Status)

	rep, err = f.DeploymentStatus(ctx, "srv-1", acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOnline, rep.Status)

	_, err = f.UpdatePod(ctx, "srv-1", acc.PodID, rm(4, 8, 1))
	require.NoError(t, err)
	s, err := f.Server(ctx, "srv-1")
	require.NoError(t, err)
	assertResources(t, rm(4, 24, 1), s.Resources.Available)

	issues, err := f.ConsistencyCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)

	res, err := f.DeletePod(ctx, "srv-1", acc.PodID)
	require.NoError(t, err)
	assert.True(t, res.OK())

	s, err = f.Server(ctx, "srv-1")
	require.NoError(t, err)
	assertResources(t, rm(8, 32, 2), s.Resources.Available)
	assert.Empty(t, s.Pods)
}

func TestCreateOnUnknownServer(t *testing.T) {
	f := newFleet(t)
	_, err := f.CreatePod(context.Background(), "nope", deploy.Request{Name: "web"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeServerNotFound))
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)

	n, err := f.SeedDemo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.SeedDemo(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	servers, err := f.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	sum, err := f.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Len(t, sum.Refreshed, 2)
	assert.Empty(t, sum.Failed)
}

func TestRefreshServer(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	m := configureMock(t, f, "srv-1", rm(8, 32, 2))
	m.SetAvailable(rm(5, 20, 2))

	s, err := f.RefreshServer(ctx, "srv-1")
	require.NoError(t, err)
	assertResources(t, rm(5, 20, 2), s.Resources.Available)
	assertResources(t, rm(3, 12, 0), s.Resources.Allocated)
}

func TestSetRefreshConfig(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	configureMock(t, f, "srv-1", rm(1, 1, 0))

	off := false
	cfg, err := f.SetRefreshConfig(ctx, RefreshConfig{AutoRefresh: &off, Intervals: map[string]int{"srv-1": 15}})
	require.NoError(t, err)
	assert.False(t, cfg.AutoRefresh())

	s, err := f.Server(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 15, s.LiveRefreshInterval)

	_, err = f.SetRefreshConfig(ctx, RefreshConfig{Intervals: map[string]int{"ghost": 10}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeServerNotFound))

	_, err = f.SetRefreshConfig(ctx, RefreshConfig{Intervals: map[string]int{"srv-1": -1}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
}

func TestBackgroundRefreshToggle(t *testing.T) {
	f := newFleet(t)
	assert.True(t, f.StartBackgroundRefresh())
	assert.False(t, f.StartBackgroundRefresh())
	assert.True(t, f.BackgroundRefreshRunning())
	require.NoError(t, f.StopBackgroundRefresh(context.Background()))
	assert.False(t, f.BackgroundRefreshRunning())
}

func TestDeconfigureAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	configureMock(t, f, "srv-1", rm(1, 1, 0))

	checks, err := f.VerifyServer(ctx, "srv-1", "")
	require.NoError(t, err)
	assert.Empty(t, checks)

	require.NoError(t, f.DeconfigureServer(ctx, "srv-1"))
	_, err = f.Server(ctx, "srv-1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeServerNotFound))

	err = f.DeconfigureServer(ctx, "srv-1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeServerNotFound))
}
