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
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/accounting"
	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/poll"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
	"k8s.io/utils/clock"
)

// Providers resolves a server id to its provider.
type Providers interface {
	Provider(serverID string) (provider.Provider, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for pod ids, timestamps and polling.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithPollInterval sets how often the pod phase is checked.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithTimeout sets how long a deployment may stay pending.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithReleaseOnFailure makes failed and timed-out deployments give their
// reservation back immediately instead of holding it until deletion.
func WithReleaseOnFailure(enabled bool) Option {
	return func(m *Manager) {
		m.releaseOnFailure = enabled
	}
}

// Manager runs the deployment state machine.
type Manager struct {
	providers Providers
	store     ledger.Store

	clock            clock.Clock
	pollInterval     time.Duration
	timeout          time.Duration
	releaseOnFailure bool

	locks serverLocks

	mu       sync.Mutex
	inflight map[string]chan struct{}
	closed   bool
	wg       sync.WaitGroup

	// ctx outlives the requests that start deployments; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager returns a Manager that resolves providers through providers
// and records every transition in store.
func NewManager(providers Providers, store ledger.Store, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		providers:    providers,
		store:        store,
		clock:        clock.RealClock{},
		pollInterval: defaults.DeployPollInterval,
		timeout:      defaults.DeployTimeout,
		inflight:     map[string]chan struct{}{},
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create records a pending pod, reserves its resources and starts the
// deployment in the background. It returns without waiting for the
// cluster.
func (m *Manager) Create(ctx context.Context, serverID string, req Request) (Accepted, error) {
	if err := req.Validate(); err != nil {
		return Accepted{}, m.reject(serverID, req.Name, err)
	}
	if m.isClosed() {
		return Accepted{}, m.reject(serverID, req.Name, errShuttingDown())
	}
	p, err := m.providers.Provider(serverID)
	if err != nil {
		return Accepted{}, m.reject(serverID, req.Name, err)
	}

	now := m.clock.Now()
	podID := PodID(req.Name, now)
	spec := req.spec(podID)
	stamp := now.UTC().Format(time.RFC3339)

	unlock := m.locks.lock(serverID)
	defer unlock()

	pod := ledger.Pod{
		PodID:             podID,
		Name:              req.Name,
		Namespace:         spec.Namespace,
		ServerID:          serverID,
		ImageURL:          spec.Image,
		Requested:         spec.Resources.Clone(),
		Owner:             spec.Owner,
		Status:            ledger.StatusPending,
		Timestamp:         stamp,
		Replicas:          spec.Replicas,
		DeploymentStatus:  ledger.StatusPending,
		DeploymentMessage: "Deployment accepted",
		LastUpdated:       stamp,
		Released:          true,
	}
	err = m.store.Update(ctx, func(doc *ledger.Document) error {
		s, ok := doc.Server(serverID)
		if !ok {
			return errors.ServerNotFound(serverID)
		}
		for i := range s.Pods {
			if s.Pods[i].PodID == podID || s.Pods[i].Name == req.Name {
				return errors.PodAlreadyExists(serverID, req.Name)
			}
		}
		if err := accounting.Validate(s.Resources.Available, spec.Resources); err != nil {
			return err
		}
		s.Pods = append(s.Pods, pod)
		return nil
	})
	if err != nil {
		return Accepted{}, m.reject(serverID, req.Name, err)
	}

	// The ledger can lag the cluster, so check the live numbers as well.
	if err := m.validateLive(ctx, p, spec.Resources); err != nil {
		m.record(m.finish(ctx, serverID, podID, ledger.StatusFailed, err.Error()), serverID, podID)
		return Accepted{}, m.reject(serverID, req.Name, err)
	}

	if err := m.reserve(ctx, serverID, podID, spec.Resources); err != nil {
		m.record(m.finish(ctx, serverID, podID, ledger.StatusFailed,
			fmt.Sprintf("Failed to reserve resources: %v", err)), serverID, podID)
		return Accepted{}, m.reject(serverID, req.Name, err)
	}

	done, err := m.track(serverID, podID)
	if err != nil {
		m.record(m.fail(ctx, serverID, podID, ledger.StatusFailed, err.Error(), releaseAlways), serverID, podID)
		return Accepted{}, m.reject(serverID, req.Name, err)
	}
	go m.run(serverID, p, spec, now, done)

	slog.Info("deployment accepted",
		"server", serverID,
		"pod", podID,
		"namespace", spec.Namespace,
		"image", spec.Image)

	return Accepted{
		Status:       ledger.StatusPending,
		PodID:        podID,
		DeploymentID: serverID + "-" + podID,
		Namespace:    spec.Namespace,
		Message:      "Deployment started",
	}, nil
}

// Status returns the recorded status of a pod. A pending pod that is no
// longer tracked and has outlived the deployment timeout is marked timeout.
func (m *Manager) Status(ctx context.Context, serverID, podID string) (Report, error) {
	pod, err := m.lookup(ctx, serverID, podID)
	if err != nil {
		return Report{}, err
	}
	_, tracking := m.tracking(serverID, pod.PodID)

	if !tracking && m.expired(pod) {
		msg := fmt.Sprintf("Pod did not reach a terminal phase within %s", m.timeout)
		if err := m.fail(ctx, serverID, pod.PodID, ledger.StatusTimeout, msg, releaseByPolicy); err != nil {
			return Report{}, err
		}
		if pod, err = m.lookup(ctx, serverID, pod.PodID); err != nil {
			return Report{}, err
		}
	}
	return reportOf(serverID, &pod, tracking), nil
}

// Wait blocks until the pod's deployment task has finished or ctx is done,
// then returns its status.
func (m *Manager) Wait(ctx context.Context, serverID, podID string) (Report, error) {
	pod, err := m.lookup(ctx, serverID, podID)
	if err != nil {
		return Report{}, err
	}
	if done, ok := m.tracking(serverID, pod.PodID); ok {
		select {
		case <-done:
		case <-ctx.Done():
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Report{}, errors.WrapWithContext(errors.ErrCodeDeploymentTimeout,
					"deployment still in progress at the wait deadline", ctx.Err(),
					map[string]any{"server": serverID, "pod": pod.PodID})
			}
			return Report{}, ctx.Err()
		}
	}
	return m.Status(ctx, serverID, pod.PodID)
}

// Delete removes a pod from the cluster and then from the ledger,
// releasing its reservation. When the provider fails the ledger is left
// untouched.
func (m *Manager) Delete(ctx context.Context, serverID, podName string) (provider.Result, error) {
	p, err := m.providers.Provider(serverID)
	if err != nil {
		return provider.Result{}, err
	}
	doc, err := m.store.Load(ctx)
	if err != nil {
		return provider.Result{}, err
	}
	s, ok := doc.Server(serverID)
	if !ok {
		return provider.Result{}, errors.ServerNotFound(serverID)
	}

	ref := provider.PodRef{PodID: podName, Name: podName, Namespace: DefaultNamespace(podName)}
	if pod, ok := s.Pod(podName); ok {
		ref.PodID = pod.PodID
		ref.Name = pod.Name
		if pod.Namespace != "" {
			ref.Namespace = pod.Namespace
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, defaults.ProviderCallTimeout+defaults.NamespaceDeleteTimeout)
	res, err := p.DeletePod(callCtx, ref)
	cancel()
	if err != nil {
		slog.Error("pod deletion failed", "server", serverID, "pod", ref.PodID, "error", err)
		return res, err
	}
	if !res.OK() {
		return res, errors.NewWithContext(errors.ErrCodeDeploymentFailed, res.Message,
			map[string]any{"server": serverID, "pod": ref.PodID})
	}

	unlock := m.locks.lock(serverID)
	defer unlock()

	err = m.store.Update(ctx, func(doc *ledger.Document) error {
		s, ok := doc.Server(serverID)
		if !ok {
			return errors.ServerNotFound(serverID)
		}
		removed, ok := s.RemovePod(ref.PodID)
		if !ok {
			return nil
		}
		if !removed.Released {
			accounting.Release(&s.Resources, removed.Requested)
			accounting.Clamp(&s.Resources)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	slog.Info("pod deleted", "server", serverID, "pod", ref.PodID, "namespace", ref.Namespace)
	return res, nil
}

// Update changes the resources reserved for a pod. The difference must fit
// in what is available once the old reservation is returned.
func (m *Manager) Update(ctx context.Context, serverID, podID string, resources ledger.ResourceMap) (Report, error) {
	if err := validateQuantities(resources); err != nil {
		return Report{}, err
	}

	unlock := m.locks.lock(serverID)
	defer unlock()

	var out Report
	err := m.store.Update(ctx, func(doc *ledger.Document) error {
		s, ok := doc.Server(serverID)
		if !ok {
			return errors.ServerNotFound(serverID)
		}
		pod, ok := s.Pod(podID)
		if !ok {
			return errors.PodNotFound(serverID, podID)
		}
		next := resources.Clone()
		if !pod.Released {
			trial := s.Resources.Clone()
			accounting.Release(&trial, pod.Requested)
			if err := accounting.Validate(trial.Available, next); err != nil {
				return err
			}
			accounting.Release(&s.Resources, pod.Requested)
			accounting.Reserve(&s.Resources, next)
		}
		pod.Requested = next
		pod.DeploymentMessage = "Resources updated"
		pod.LastUpdated = m.now()
		out = reportOf(serverID, pod, false)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	_, out.Tracking = m.tracking(serverID, out.PodID)
	slog.Info("pod resources updated", "server", serverID, "pod", out.PodID)
	return out, nil
}

// InFlight returns the number of deployments being tracked.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Shutdown stops accepting deployments and waits for tracked ones. When ctx
// ends first the remaining tasks are cancelled; their pods stay pending
// and are reported as timed out once the deadline has passed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		slog.Warn("cancelling in-flight deployments", "count", m.InFlight())
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) run(serverID string, p provider.Provider, spec provider.PodSpec, started time.Time, done chan struct{}) {
	defer m.untrack(serverID, spec.PodID, done)

	outcome := m.deploy(m.ctx, serverID, p, spec)
	elapsed := m.clock.Since(started)
	deploymentsTotal.WithLabelValues(outcome).Inc()
	deploymentDuration.Observe(elapsed.Seconds())

	slog.Info("deployment finished",
		"server", serverID,
		"pod", spec.PodID,
		"outcome", outcome,
		"duration", elapsed.String())
}

// deploy creates the workload and polls its phase until it is terminal.
func (m *Manager) deploy(ctx context.Context, serverID string, p provider.Provider, spec provider.PodSpec) string {
	callCtx, cancel := context.WithTimeout(ctx, defaults.ProviderCallTimeout)
	res, err := p.CreatePod(callCtx, spec)
	cancel()
	if err != nil || !res.OK() {
		msg := res.Message
		if msg == "" && err != nil {
			msg = err.Error()
		}
		if msg == "" {
			msg = "Provider rejected the deployment"
		}
		slog.Error("deployment failed", "server", serverID, "pod", spec.PodID, "error", msg)
		m.record(m.fail(ctx, serverID, spec.PodID, ledger.StatusFailed, msg, releaseByPolicy), serverID, spec.PodID)
		return outcomeFailed
	}

	err = m.transition(ctx, serverID, spec.PodID, func(pod *ledger.Pod) {
		pod.DeploymentMessage = res.Message
		if res.PodIP != "" {
			pod.PodIP = res.PodIP
		}
	})
	if errors.IsCode(err, errors.ErrCodePodNotFound) {
		return outcomeCancelled
	}
	m.record(err, serverID, spec.PodID)

	ref := provider.PodRef{PodID: spec.PodID, Name: spec.Name, Namespace: spec.Namespace}
	outcome := outcomeTimeout
	lastPhase := ""

	err = poll.Until(ctx, m.clock, m.pollInterval, m.timeout, func(ctx context.Context) (bool, error) {
		callCtx, cancel := context.WithTimeout(ctx, defaults.ProviderCallTimeout)
		state, err := p.PodState(callCtx, ref)
		cancel()
		if err != nil {
			slog.Warn("failed to read pod phase", "server", serverID, "pod", spec.PodID, "error", err)
			return false, nil
		}

		var werr error
		switch state.Phase {
		case provider.PhaseRunning:
			outcome = outcomeOnline
			werr = m.transition(ctx, serverID, spec.PodID, func(pod *ledger.Pod) {
				pod.Status = ledger.StatusOnline
				pod.DeploymentStatus = ledger.StatusOnline
				pod.DeploymentMessage = fmt.Sprintf("Pod is running (%d pods)", state.Pods)
				if state.PodIP != "" {
					pod.PodIP = state.PodIP
				}
			})
		case provider.PhaseFailed:
			outcome = outcomeFailed
			werr = m.fail(ctx, serverID, spec.PodID, ledger.StatusFailed, "Pod entered the Failed phase", releaseByPolicy)
		default:
			if state.Phase == lastPhase {
				return false, nil
			}
			lastPhase = state.Phase
			werr = m.transition(ctx, serverID, spec.PodID, func(pod *ledger.Pod) {
				pod.DeploymentMessage = fmt.Sprintf("Waiting for pods (phase %s, %d pods)", state.Phase, state.Pods)
			})
			if errors.IsCode(werr, errors.ErrCodePodNotFound) {
				outcome = outcomeCancelled
				return true, nil
			}
			m.record(werr, serverID, spec.PodID)
			return false, nil
		}
		m.record(werr, serverID, spec.PodID)
		return true, nil
	})

	switch {
	case err == nil:
		return outcome
	case stderrors.Is(err, poll.ErrTimeout):
		msg := fmt.Sprintf("Pod did not reach a terminal phase within %s", m.timeout)
		slog.Warn("deployment timed out", "server", serverID, "pod", spec.PodID, "timeout", m.timeout.String())
		m.record(m.fail(ctx, serverID, spec.PodID, ledger.StatusTimeout, msg, releaseByPolicy), serverID, spec.PodID)
		return outcomeTimeout
	default:
		slog.Warn("deployment tracking stopped", "server", serverID, "pod", spec.PodID, "error", err)
		return outcomeCancelled
	}
}

func (m *Manager) validateLive(ctx context.Context, p provider.Provider, requested ledger.ResourceMap) error {
	callCtx, cancel := context.WithTimeout(ctx, defaults.ProviderCallTimeout)
	defer cancel()
	live, err := p.AvailableResources(callCtx)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeInternal {
			err = errors.Wrap(errors.ErrCodeProviderUnavailable, "failed to read live resources", err)
		}
		return err
	}
	return accounting.Validate(live, requested)
}

// reserve books requested on the server and marks the pod as holding it,
// in one write.
func (m *Manager) reserve(ctx context.Context, serverID, podID string, requested ledger.ResourceMap) error {
	return m.store.Update(ctx, func(doc *ledger.Document) error {
		s, ok := doc.Server(serverID)
		if !ok {
			return errors.ServerNotFound(serverID)
		}
		pod, ok := s.Pod(podID)
		if !ok {
			return errors.PodNotFound(serverID, podID)
		}
		accounting.Reserve(&s.Resources, requested)
		pod.Released = false
		return nil
	})
}

// transition reloads the ledger, applies fn to the pod and writes it back.
func (m *Manager) transition(ctx context.Context, serverID, podID string, fn func(*ledger.Pod)) error {
	return m.store.Update(ctx, func(doc *ledger.Document) error {
		s, ok := doc.Server(serverID)
		if !ok {
			return errors.ServerNotFound(serverID)
		}
		pod, ok := s.Pod(podID)
		if !ok {
			return errors.PodNotFound(serverID, podID)
		}
		fn(pod)
		pod.LastUpdated = m.now()
		return nil
	})
}

// release selects what fail does with the pod's reservation.
type release int

const (
	keepReservation release = iota
	releaseByPolicy
	releaseAlways
)

// finish records a terminal status without touching resources.
func (m *Manager) finish(ctx context.Context, serverID, podID string, status ledger.PodStatus, msg string) error {
	return m.fail(ctx, serverID, podID, status, msg, keepReservation)
}

// fail records a failed or timed-out status and, depending on mode and the
// release policy, returns the pod's reservation in the same write.
func (m *Manager) fail(ctx context.Context, serverID, podID string, status ledger.PodStatus, msg string, mode release) error {
	return m.store.Update(ctx, func(doc *ledger.Document) error {
		s, ok := doc.Server(serverID)
		if !ok {
			return errors.ServerNotFound(serverID)
		}
		pod, ok := s.Pod(podID)
		if !ok {
			return errors.PodNotFound(serverID, podID)
		}
		pod.Status = status
		pod.DeploymentStatus = status
		pod.DeploymentMessage = msg
		pod.LastUpdated = m.now()
		giveBack := mode == releaseAlways || mode == releaseByPolicy && m.releaseOnFailure
		if giveBack && !pod.Released {
			accounting.Release(&s.Resources, pod.Requested)
			accounting.Clamp(&s.Resources)
			pod.Released = true
		}
		return nil
	})
}

// record logs a failed ledger write from the background task. Such errors
// have no caller to return to.
func (m *Manager) record(err error, serverID, podID string) {
	if err == nil {
		return
	}
	slog.Error("failed to record deployment status", "server", serverID, "pod", podID, "error", err)
}

func (m *Manager) reject(serverID, name string, err error) error {
	deploymentsTotal.WithLabelValues(outcomeRejected).Inc()
	slog.Warn("deployment rejected", "server", serverID, "pod", name, "error", err)
	return err
}

func (m *Manager) lookup(ctx context.Context, serverID, podID string) (ledger.Pod, error) {
	doc, err := m.store.Load(ctx)
	if err != nil {
		return ledger.Pod{}, err
	}
	s, ok := doc.Server(serverID)
	if !ok {
		return ledger.Pod{}, errors.ServerNotFound(serverID)
	}
	pod, ok := s.Pod(podID)
	if !ok {
		return ledger.Pod{}, errors.PodNotFound(serverID, podID)
	}
	return *pod, nil
}

// expired reports whether a pod created by this manager is still pending
// past the deployment timeout.
func (m *Manager) expired(p ledger.Pod) bool {
	if p.Status != ledger.StatusPending || p.DeploymentStatus != ledger.StatusPending {
		return false
	}
	created, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return false
	}
	return m.clock.Since(created) > m.timeout
}

func (m *Manager) now() string {
	return m.clock.Now().UTC().Format(time.RFC3339)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) track(serverID, podID string) (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errShuttingDown()
	}
	done := make(chan struct{})
	m.inflight[serverID+"/"+podID] = done
	m.wg.Add(1)
	deploymentsInFlight.Inc()
	return done, nil
}

func (m *Manager) untrack(serverID, podID string, done chan struct{}) {
	m.mu.Lock()
	delete(m.inflight, serverID+"/"+podID)
	m.mu.Unlock()
	close(done)
	deploymentsInFlight.Dec()
	m.wg.Done()
}

func (m *Manager) tracking(serverID, podID string) (chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	done, ok := m.inflight[serverID+"/"+podID]
	return done, ok
}

func errShuttingDown() error {
	return errors.New(errors.ErrCodeUnavailable, "deployment manager is shutting down")
}
