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

package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

const serverID = "srv-1"

type providerMap map[string]provider.Provider

func (p providerMap) Provider(id string) (provider.Provider, error) {
	if v, ok := p[id]; ok {
		return v, nil
	}
	return nil, errors.ServerNotFound(id)
}

type fixture struct {
	store ledger.Store
	mock  *provider.Mock
	clock *testclock.FakeClock
	mgr   *Manager
}

func resources(cpus, ram, gpus int64) ledger.ResourceMap {
	return ledger.ResourceMap{ledger.CPUs: cpus, ledger.RAMGB: ram, ledger.GPUs: gpus}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store := ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, store.Save(ctx, &ledger.Document{
		Servers: []ledger.Server{{
			ID:   serverID,
			Name: "Server One",
			Type: "mock",
			Resources: ledger.Resources{
				Total:     resources(8, 32, 2),
				Allocated: resources(0, 0, 0),
				Available: resources(8, 32, 2),
			},
		}},
	}))

	mock := provider.NewMock(serverID, ledger.Resources{Total: resources(8, 32, 2)})
	clk := testclock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	opts = append([]Option{WithClock(clk)}, opts...)
	mgr := NewManager(providerMap{serverID: mock}, store, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	return &fixture{store: store, mock: mock, clock: clk, mgr: mgr}
}

func (f *fixture) server(t *testing.T) ledger.Server {
	t.Helper()
	doc, err := f.store.Load(context.Background())
	require.NoError(t, err)
	s, ok := doc.Server(serverID)
	require.True(t, ok)
	return *s
}

// step waits for the deployment task to block on the clock and then
// advances it by d.
func (f *fixture) step(t *testing.T, d time.Duration) {
	t.Helper()
	require.Eventually(t, f.clock.HasWaiters, 5*time.Second, time.Millisecond)
	f.clock.Step(d)
}

func TestCreateReachesOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	podID := PodID("web", f.clock.Now())
	f.mock.ScriptPhases(podID, provider.PhasePending, provider.PhaseRunning)

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(2, 4, 1)})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, acc.Status)
	assert.Equal(t, "web-20260102-030405", acc.PodID)
	assert.Equal(t, "srv-1-web-20260102-030405", acc.DeploymentID)
	assert.Equal(t, "web-20260102-030405-ns", acc.Namespace)

	s := f.server(t)
	assert.Equal(t, resources(6, 28, 1), s.Resources.Available)
	assert.Equal(t, resources(2, 4, 1), s.Resources.Allocated)

	f.step(t, defaults.DeployPollInterval)

	rep, err := f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOnline, rep.Status)
	assert.Equal(t, "10.244.0.1", rep.PodIP)
	assert.False(t, rep.Tracking)
	assert.Equal(t, 1, f.mock.CreateCalls())

	s = f.server(t)
	assert.Equal(t, resources(6, 28, 1), s.Resources.Available, "reservation unchanged by going online")
	assert.Equal(t, resources(2, 4, 1), s.Resources.Allocated)
	pod, ok := s.Pod(acc.PodID)
	require.True(t, ok)
	assert.Equal(t, "unknown", pod.Owner)
	assert.Equal(t, DefaultImage, pod.ImageURL)
	assert.False(t, pod.Released)
}

func TestCreateInsufficientLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(2, 4, 1)})
	require.NoError(t, err)
	_, err = f.mgr.Wait(ctx, serverID, "web")
	require.NoError(t, err)
	before := f.server(t)

	_, err = f.mgr.Create(ctx, serverID, Request{Name: "big", Resources: ledger.ResourceMap{ledger.GPUs: 2}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInsufficientResources))
	assert.Equal(t, "[INSUFFICIENT_RESOURCES] Not enough gpus available. Requested: 2, Available: 1", err.Error())

	after := f.server(t)
	assert.Equal(t, before.Resources, after.Resources)
	assert.Len(t, after.Pods, 1)
}

func TestCreateProviderFailureKeepsReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.RejectCreate("quota exceeded")

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(2, 4, 1)})
	require.NoError(t, err)

	rep, err := f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, rep.Status)
	assert.Equal(t, "quota exceeded", rep.Message)

	s := f.server(t)
	assert.Equal(t, resources(6, 28, 1), s.Resources.Available)
	assert.Equal(t, resources(2, 4, 1), s.Resources.Allocated)

	// Deleting the failed pod gives the reservation back.
	_, err = f.mgr.Delete(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	s = f.server(t)
	assert.Equal(t, resources(8, 32, 2), s.Resources.Available)
	assert.Empty(t, s.Pods)
}

func TestCreateProviderFailureReleaseOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithReleaseOnFailure(true))
	f.mock.FailCreate(errors.New(errors.ErrCodeProviderUnavailable, "connection refused"))

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(2, 4, 1)})
	require.NoError(t, err)

	rep, err := f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, rep.Status)

	s := f.server(t)
	assert.Equal(t, resources(8, 32, 2), s.Resources.Available)
	assert.Equal(t, resources(0, 0, 0), s.Resources.Allocated)
	pod, _ := s.Pod(acc.PodID)
	assert.True(t, pod.Released)

	_, err = f.mgr.Delete(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	s = f.server(t)
	assert.Equal(t, resources(0, 0, 0), s.Resources.Allocated, "no second release")
}

func TestCreateTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithPollInterval(10*time.Second), WithTimeout(30*time.Second))
	f.mock.SetDefaultPhases(provider.PhasePending)

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(1, 1, 0)})
	require.NoError(t, err)

	for range 3 {
		f.step(t, 10*time.Second)
	}

	rep, err := f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusTimeout, rep.Status)
	assert.Contains(t, rep.Message, "within 30s")
	assert.Equal(t, resources(7, 31, 2), f.server(t).Resources.Available)
}

func TestWaitDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.SetDefaultPhases(provider.PhasePending)

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web"})
	require.NoError(t, err)

	wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.mgr.Wait(wctx, serverID, acc.PodID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDeploymentTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cctx, cancelNow := context.WithCancel(ctx)
	cancelNow()
	_, err = f.mgr.Wait(cctx, serverID, acc.PodID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsCode(err, errors.ErrCodeDeploymentTimeout))

	rep, err := f.mgr.Status(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, rep.Status)
}

func TestCreatePodEntersFailedPhase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.SetDefaultPhases(provider.PhaseFailed)

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web"})
	require.NoError(t, err)

	rep, err := f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, rep.Status)
	assert.Equal(t, "Pod entered the Failed phase", rep.Message)
}

func TestCreateLiveValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.SetAvailable(resources(8, 32, 0))

	_, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(1, 1, 1)})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInsufficientResources))

	s := f.server(t)
	assert.Equal(t, resources(8, 32, 2), s.Resources.Available, "nothing reserved")
	require.Len(t, s.Pods, 1)
	assert.Equal(t, ledger.StatusFailed, s.Pods[0].Status)
	assert.Contains(t, s.Pods[0].DeploymentMessage, "Not enough gpus available")
	assert.True(t, s.Pods[0].Released)
	assert.Equal(t, 0, f.mock.CreateCalls())

	_, err = f.mgr.Delete(ctx, serverID, "web")
	require.NoError(t, err)
	assert.Equal(t, resources(8, 32, 2), f.server(t).Resources.Available)
}

func TestCreateLiveReadFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.FailReads(fmt.Errorf("dial tcp: connection refused"))

	_, err := f.mgr.Create(ctx, serverID, Request{Name: "web"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeProviderUnavailable))
}

func TestCreateRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name     string
		serverID string
		req      Request
		code     errors.ErrorCode
	}{
		{"missing name", serverID, Request{}, errors.ErrCodeInvalidRequest},
		{"bad name", serverID, Request{Name: "Web_App"}, errors.ErrCodeInvalidRequest},
		{"long name", serverID, Request{Name: "a23456789012345678901234567890123456789012345"}, errors.ErrCodeInvalidRequest},
		{"bad namespace", serverID, Request{Name: "web", Namespace: "Team A"}, errors.ErrCodeInvalidRequest},
		{"negative", serverID, Request{Name: "web", Resources: ledger.ResourceMap{ledger.CPUs: -1}}, errors.ErrCodeInvalidRequest},
		{"unknown server", "nope", Request{Name: "web"}, errors.ErrCodeServerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Create(ctx, tt.serverID, tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), err.Error())
		})
	}
	assert.Empty(t, f.server(t).Pods)
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Create(ctx, serverID, Request{Name: "web"})
	require.NoError(t, err)
	_, err = f.mgr.Create(ctx, serverID, Request{Name: "web"})
	assert.True(t, errors.IsCode(err, errors.ErrCodePodAlreadyExists))
}

func TestCreateConcurrentDoesNotOverbook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.mgr.Create(ctx, serverID, Request{
				Name:      fmt.Sprintf("gpu-%d", i),
				Resources: ledger.ResourceMap{ledger.GPUs: 2},
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.IsCode(err, errors.ErrCodeInsufficientResources))
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(0), f.server(t).Resources.Available[ledger.GPUs])
}

func TestDeleteReleases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(2, 4, 1)})
	require.NoError(t, err)
	_, err = f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)

	res, err := f.mgr.Delete(ctx, serverID, "web")
	require.NoError(t, err)
	assert.True(t, res.OK())

	s := f.server(t)
	assert.Equal(t, resources(8, 32, 2), s.Resources.Available)
	assert.Equal(t, resources(0, 0, 0), s.Resources.Allocated)
	assert.Empty(t, s.Pods)
	assert.Equal(t, 1, f.mock.DeleteCalls())
}

func TestDeleteProviderFailureLeavesLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(2, 4, 1)})
	require.NoError(t, err)
	_, err = f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)
	before := f.server(t)

	f.mock.FailDelete(errors.New(errors.ErrCodeProviderUnavailable, "connection refused"))
	_, err = f.mgr.Delete(ctx, serverID, acc.PodID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProviderUnavailable))

	after := f.server(t)
	assert.Equal(t, before.Resources, after.Resources)
	assert.Len(t, after.Pods, 1)
}

func TestDeleteUnknownPod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.mgr.Delete(ctx, serverID, "ghost")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, resources(8, 32, 2), f.server(t).Resources.Available)

	_, err = f.mgr.Delete(ctx, "nope", "ghost")
	assert.True(t, errors.IsCode(err, errors.ErrCodeServerNotFound))
}

func TestStatusExpiresUntrackedPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created := f.clock.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339)
	require.NoError(t, f.store.Update(ctx, func(doc *ledger.Document) error {
		s, _ := doc.Server(serverID)
		s.Pods = append(s.Pods, ledger.Pod{
			PodID:            "old-20260102-025405",
			Name:             "old",
			Status:           ledger.StatusPending,
			DeploymentStatus: ledger.StatusPending,
			Timestamp:        created,
		})
		return nil
	}))

	rep, err := f.mgr.Status(ctx, serverID, "old")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusTimeout, rep.Status)
	assert.Equal(t, created, rep.CreatedAt)

	_, err = f.mgr.Status(ctx, serverID, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodePodNotFound))
}

func TestUpdateResizesReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acc, err := f.mgr.Create(ctx, serverID, Request{Name: "web", Resources: resources(2, 4, 1)})
	require.NoError(t, err)
	_, err = f.mgr.Wait(ctx, serverID, acc.PodID)
	require.NoError(t, err)

	rep, err := f.mgr.Update(ctx, serverID, acc.PodID, resources(4, 8, 1))
	require.NoError(t, err)
	assert.Equal(t, resources(4, 8, 1), rep.Requested)
	assert.Equal(t, ledger.StatusOnline, rep.Status)

	s := f.server(t)
	assert.Equal(t, resources(4, 24, 1), s.Resources.Available)
	assert.Equal(t, resources(4, 8, 1), s.Resources.Allocated)

	_, err = f.mgr.Update(ctx, serverID, acc.PodID, resources(10, 8, 1))
	require.Error(t, err)
	assert.Equal(t, "[INSUFFICIENT_RESOURCES] Not enough cpus available. Requested: 10, Available: 8", err.Error())

	_, err = f.mgr.Update(ctx, serverID, "missing", resources(1, 1, 0))
	assert.True(t, errors.IsCode(err, errors.ErrCodePodNotFound))
}

func TestShutdownCancelsTracking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.SetDefaultPhases(provider.PhasePending)

	_, err := f.mgr.Create(ctx, serverID, Request{Name: "web"})
	require.NoError(t, err)
	require.Eventually(t, f.clock.HasWaiters, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, f.mgr.InFlight())

	sctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = f.mgr.Shutdown(sctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.mgr.InFlight())

	_, err = f.mgr.Create(ctx, serverID, Request{Name: "late"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnavailable))
}

func TestRequestSpecDefaults(t *testing.T) {
	spec := Request{Name: "web", Resources: ledger.ResourceMap{ledger.CPUs: 1, ledger.GPUs: 0}}.spec("web-1")
	assert.Equal(t, "web-1-ns", spec.Namespace)
	assert.Equal(t, DefaultImage, spec.Image)
	assert.Equal(t, DefaultOwner, spec.Owner)
	assert.Equal(t, int32(1), spec.Replicas)
	assert.Equal(t, ledger.ResourceMap{ledger.CPUs: 1}, spec.Resources)
	assert.Equal(t, 44, MaxNameLength)
}
