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

package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
)

// Mock is a deterministic in-memory cluster. Created pods report the
// Running phase unless phases were scripted, and failures can be injected
// per call type.
type Mock struct {
	mu sync.Mutex

	serverID  string
	name      string
	ip        string
	total     ledger.ResourceMap
	available ledger.ResourceMap
	pods      map[string]*mockPod
	nextIP    int

	defaultPhases []string
	phases        map[string][]string

	createErr    error
	createReject string
	deleteErr    error
	readErr      error

	createCalls int
	deleteCalls int
}

type mockPod struct {
	pod ledger.Pod
	seq int
}

// NewMock returns an empty mock cluster with the given resources. A nil
// Available starts fully free.
func NewMock(serverID string, res ledger.Resources) *Mock {
	available := res.Available.Clone()
	if available == nil {
		available = res.Total.Clone()
	}
	if available == nil {
		available = ledger.NewResourceMap()
	}
	total := res.Total.Clone()
	if total == nil {
		total = ledger.NewResourceMap()
	}
	return &Mock{
		serverID:  serverID,
		name:      serverID,
		total:     total,
		available: available,
		pods:      map[string]*mockPod{},
		phases:    map[string][]string{},
	}
}

// SetDefaultPhases sets the phase sequence reported for pods without a
// script. The last phase repeats.
func (m *Mock) SetDefaultPhases(phases ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultPhases = phases
}

// ScriptPhases sets the phases PodState reports for name, one per call.
// The last phase repeats.
func (m *Mock) ScriptPhases(name string, phases ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[name] = append([]string(nil), phases...)
}

// FailCreate makes CreatePod return err.
func (m *Mock) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// RejectCreate makes CreatePod return an error result with msg.
func (m *Mock) RejectCreate(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createReject = msg
}

// FailDelete makes DeletePod return err.
func (m *Mock) FailDelete(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// FailReads makes every read call return err. A nil err clears it.
func (m *Mock) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetAvailable overrides the available resources.
func (m *Mock) SetAvailable(res ledger.ResourceMap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = res.Clone()
}

// AddPod places an existing pod on the cluster.
func (m *Mock) AddPod(p ledger.Pod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ServerID = m.serverID
	m.pods[firstNonEmpty(p.PodID, p.Name)] = &mockPod{pod: p, seq: len(m.pods)}
}

// CreateCalls returns how many times CreatePod was called.
func (m *Mock) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// DeleteCalls returns how many times DeletePod was called.
func (m *Mock) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

// CreatePod implements Provider.
func (m *Mock) CreatePod(_ context.Context, spec PodSpec) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	if m.createErr != nil {
		return failure(m.createErr.Error()), m.createErr
	}
	if m.createReject != "" {
		return failure(m.createReject), nil
	}

	name := deploymentName(spec.PodID)
	if _, ok := m.pods[name]; ok {
		return success(fmt.Sprintf("Deployment %s already exists", name)), nil
	}

	m.nextIP++
	m.pods[name] = &mockPod{
		seq: len(m.pods),
		pod: ledger.Pod{
			PodID:     name,
			Name:      name,
			Namespace: spec.Namespace,
			ServerID:  m.serverID,
			ImageURL:  spec.Image,
			Requested: spec.Resources.Clone(),
			Owner:     spec.Owner,
			Status:    ledger.StatusPending,
			Timestamp: ledger.Now(),
			PodIP:     fmt.Sprintf("10.244.0.%d", m.nextIP),
			Replicas:  replicas(spec.Replicas),
		},
	}
	for k, v := range spec.Resources {
		m.available[k] = max(0, m.available.Get(k)-v)
	}
	return success(fmt.Sprintf("Deployment %s created with %d replicas in namespace %s",
		name, replicas(spec.Replicas), spec.Namespace)), nil
}

// DeletePod implements Provider. Deleting an unknown pod succeeds.
func (m *Mock) DeletePod(_ context.Context, ref PodRef) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++

	if m.deleteErr != nil {
		return failure(m.deleteErr.Error()), m.deleteErr
	}

	name := firstNonEmpty(ref.PodID, ref.Name)
	mp, ok := m.pods[name]
	if !ok {
		return success(fmt.Sprintf("Pod %s was already deleted", name)), nil
	}
	delete(m.pods, name)
	for k, v := range mp.pod.Requested {
		m.available[k] = m.available.Get(k) + v
		if t, ok := m.total[k]; ok && m.available[k] > t {
			m.available[k] = t
		}
	}
	return success(fmt.Sprintf("Pod %s deleted", name)), nil
}

// AvailableResources implements Provider.
func (m *Mock) AvailableResources(context.Context) (ledger.ResourceMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.available.Clone(), nil
}

// Nodes implements Provider with a single node.
func (m *Mock) Nodes(context.Context) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return []Node{{
		Name:      m.name,
		Role:      "control-plane",
		IP:        m.ip,
		Ready:     true,
		Resources: m.resources(),
	}}, nil
}

// Pods implements Provider.
func (m *Mock) Pods(context.Context) ([]ledger.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.podList(), nil
}

// ServersWithPods implements Provider with a single view.
func (m *Mock) ServersWithPods(context.Context) ([]ServerView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return []ServerView{{
		ID:        m.serverID,
		Name:      m.name,
		IP:        m.ip,
		Status:    "online",
		Resources: m.resources(),
		Pods:      m.podList(),
	}}, nil
}

// PodState implements Provider. Each call consumes one scripted phase.
func (m *Mock) PodState(_ context.Context, ref PodRef) (PodState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return PodState{}, m.readErr
	}

	name := firstNonEmpty(ref.PodID, ref.Name)
	phase := m.nextPhase(name)
	mp, ok := m.pods[name]
	if !ok {
		return PodState{Phase: phase}, nil
	}
	mp.pod.Status = StatusFromPhase(phase)
	return PodState{Phase: phase, PodIP: mp.pod.PodIP, Pods: int(replicas(mp.pod.Replicas))}, nil
}

func (m *Mock) nextPhase(name string) string {
	script, ok := m.phases[name]
	if !ok {
		script = m.defaultPhases
	}
	if len(script) == 0 {
		return PhaseRunning
	}
	phase := script[0]
	if len(script) > 1 {
		if ok {
			m.phases[name] = script[1:]
		} else {
			m.defaultPhases = script[1:]
		}
	}
	return phase
}

func (m *Mock) resources() ledger.Resources {
	allocated := ledger.NewResourceMap()
	for k, t := range m.total {
		allocated[k] = max(0, t-m.available.Get(k))
	}
	return ledger.Resources{
		Total:       m.total.Clone(),
		Allocated:   allocated,
		Available:   m.available.Clone(),
		ActualUsage: allocated.Clone(),
	}
}

func (m *Mock) podList() []ledger.Pod {
	list := make([]*mockPod, 0, len(m.pods))
	for _, mp := range m.pods {
		list = append(list, mp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]ledger.Pod, 0, len(list))
	for _, mp := range list {
		p := mp.pod
		p.Requested = p.Requested.Clone()
		out = append(out, p)
	}
	return out
}

// Static serves a server's last known ledger entry and rejects mutations.
// It backs servers marked is_dummy.
type Static struct {
	server ledger.Server
}

// NewStatic returns a provider that replays server.
func NewStatic(server ledger.Server) *Static {
	return &Static{server: server}
}

func (s *Static) offline() error {
	return errors.NewWithContext(errors.ErrCodeProviderUnavailable,
		fmt.Sprintf("server %s is offline", s.server.ID),
		map[string]any{"server": s.server.ID})
}

// CreatePod implements Provider.
func (s *Static) CreatePod(context.Context, PodSpec) (Result, error) {
	err := s.offline()
	return failure(err.Error()), err
}

// DeletePod implements Provider.
func (s *Static) DeletePod(context.Context, PodRef) (Result, error) {
	err := s.offline()
	return failure(err.Error()), err
}

// AvailableResources implements Provider.
func (s *Static) AvailableResources(context.Context) (ledger.ResourceMap, error) {
	return s.server.Resources.Available.Clone(), nil
}

// Nodes implements Provider.
func (s *Static) Nodes(context.Context) ([]Node, error) {
	return []Node{{Name: s.server.Name, IP: s.server.Connection.Host, Resources: s.server.Resources}}, nil
}

// Pods implements Provider.
func (s *Static) Pods(context.Context) ([]ledger.Pod, error) {
	return append([]ledger.Pod(nil), s.server.Pods...), nil
}

// ServersWithPods implements Provider.
func (s *Static) ServersWithPods(context.Context) ([]ServerView, error) {
	ip := s.server.Connection.Host
	if ip == "" {
		ip = "0.0.0.0"
	}
	return []ServerView{{
		ID:        s.server.ID,
		Name:      s.server.Name,
		IP:        ip,
		Status:    "offline",
		Resources: s.server.Resources,
		Pods:      append([]ledger.Pod(nil), s.server.Pods...),
	}}, nil
}

// PodState implements Provider.
func (s *Static) PodState(context.Context, PodRef) (PodState, error) {
	return PodState{}, s.offline()
}
