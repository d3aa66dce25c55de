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
	"fmt"
	"sync"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/k8s/client"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Backend is the closed set of provider implementations.
type Backend string

const (
	BackendKubernetes Backend = "kubernetes"
	BackendMock       Backend = "mock"
	BackendDemo       Backend = "demo"
	BackendStatic     Backend = "static"
)

// BackendFor selects the backend for server from its type and connection
// method.
func BackendFor(server ledger.Server) (Backend, error) {
	if server.Connection.IsDummy {
		return BackendStatic, nil
	}
	switch Backend(server.Type) {
	case BackendKubernetes:
		switch server.Connection.Method {
		case "", client.MethodKubeconfig, client.MethodToken, client.MethodLocal, client.MethodInCluster:
			return BackendKubernetes, nil
		}
		return "", unknownBackend(server, fmt.Sprintf("unsupported connection method %q for server %s",
			server.Connection.Method, server.ID))
	case BackendMock:
		return BackendMock, nil
	case BackendDemo:
		return BackendDemo, nil
	default:
		return "", unknownBackend(server, fmt.Sprintf("unknown server type %q for server %s", server.Type, server.ID))
	}
}

func unknownBackend(server ledger.Server, msg string) error {
	return errors.NewWithContext(errors.ErrCodeUnknownBackend, msg, map[string]any{
		"server": server.ID,
		"type":   server.Type,
		"method": server.Connection.Method,
	})
}

// ClientBuilder builds the API clients for a live server. The metrics
// client may be nil.
type ClientBuilder func(conn ledger.ConnectionInfo) (kubernetes.Interface, metricsclient.Interface, error)

// BuildClients is the default ClientBuilder.
func BuildClients(conn ledger.ConnectionInfo) (kubernetes.Interface, metricsclient.Interface, error) {
	cs, cfg, err := client.BuildFromConnection(conn)
	if err != nil {
		return nil, nil, err
	}
	mc, err := metricsclient.NewForConfig(cfg)
	if err != nil {
		return cs, nil, nil //nolint:nilerr // usage data is optional
	}
	return cs, mc, nil
}

// Factory creates providers. In-memory backends are cached per server id
// so their state survives a registry reload.
type Factory struct {
	// Clients builds live clients; BuildClients when nil.
	Clients ClientBuilder

	mu    sync.Mutex
	mocks map[string]*Mock
}

// NewFactory returns a Factory using clients for live servers.
func NewFactory(clients ClientBuilder) *Factory {
	return &Factory{Clients: clients}
}

// Use pins m as the provider for serverID.
func (f *Factory) Use(serverID string, m *Mock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mocks == nil {
		f.mocks = map[string]*Mock{}
	}
	f.mocks[serverID] = m
}

// New returns the provider for server.
func (f *Factory) New(server ledger.Server) (Provider, error) {
	backend, err := BackendFor(server)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendStatic:
		return NewStatic(server), nil
	case BackendMock, BackendDemo:
		f.mu.Lock()
		defer f.mu.Unlock()
		if m, ok := f.mocks[server.ID]; ok {
			return m, nil
		}
		var m *Mock
		if backend == BackendDemo {
			m = NewDemo(server)
		} else {
			m = NewMock(server.ID, server.Resources)
		}
		if f.mocks == nil {
			f.mocks = map[string]*Mock{}
		}
		f.mocks[server.ID] = m
		return m, nil
	default:
		build := f.Clients
		if build == nil {
			build = BuildClients
		}
		cs, mc, err := build(server.Connection)
		if err != nil {
			return nil, errors.WrapWithContext(errors.ErrCodeProviderUnavailable,
				fmt.Sprintf("failed to connect to server %s", server.ID), err,
				map[string]any{"server": server.ID})
		}
		return NewKube(server.ID, cs, mc), nil
	}
}

// Forget drops the cached in-memory provider for serverID.
func (f *Factory) Forget(serverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mocks, serverID)
}
