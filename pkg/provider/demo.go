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
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
)

// Demo server ids.
const (
	DemoServerAlpha = "demo-server-01"
	DemoServerBeta  = "demo-server-02"
)

type demoPod struct {
	id        string
	requested [4]int64 // cpus, ram_gb, gpus, storage_gb
	owner     string
	image     string
	age       time.Duration
}

func (d demoPod) ledgerPod(serverID string, now time.Time) ledger.Pod {
	return ledger.Pod{
		PodID:    d.id,
		Name:     d.id,
		ServerID: serverID,
		ImageURL: d.image,
		Requested: ledger.ResourceMap{
			ledger.CPUs:      d.requested[0],
			ledger.RAMGB:     d.requested[1],
			ledger.GPUs:      d.requested[2],
			ledger.StorageGB: d.requested[3],
		},
		Owner:     d.owner,
		Status:    ledger.StatusOnline,
		Timestamp: now.Add(-d.age).UTC().Format(time.RFC3339),
		Replicas:  1,
	}
}

func resourceMap(cpus, ram, gpus, storage int64) ledger.ResourceMap {
	return ledger.ResourceMap{
		ledger.CPUs:      cpus,
		ledger.RAMGB:     ram,
		ledger.GPUs:      gpus,
		ledger.StorageGB: storage,
	}
}

// DemoServers returns the two demo servers with their pods.
func DemoServers() []ledger.Server {
	now := time.Now()

	alpha := ledger.Server{
		ID:          DemoServerAlpha,
		Name:        "Demo Server Alpha",
		Type:        string(BackendDemo),
		Environment: "demo",
		Connection:  ledger.ConnectionInfo{Method: "demo", Host: "192.168.1.100"},
		Resources: ledger.Resources{
			Total:     resourceMap(8, 32, 2, 500),
			Allocated: resourceMap(4, 16, 1, 200),
			Available: resourceMap(4, 16, 1, 300),
		},
		Status:   "online",
		Metadata: map[string]any{"ip": "192.168.1.100"},
	}
	for _, p := range []demoPod{
		{"demo-web-app-01", [4]int64{2, 4, 0, 50}, "demo-user", "nginx:latest", 2 * time.Hour},
		{"demo-api-service-01", [4]int64{1, 2, 0, 30}, "demo-user", "node:16-alpine", time.Hour},
		{"demo-ml-training-01", [4]int64{1, 8, 1, 100}, "ml-team", "tensorflow/tensorflow:latest-gpu", 30 * time.Minute},
	} {
		alpha.Pods = append(alpha.Pods, p.ledgerPod(alpha.ID, now))
	}

	beta := ledger.Server{
		ID:          DemoServerBeta,
		Name:        "Demo Server Beta",
		Type:        string(BackendDemo),
		Environment: "demo",
		Connection:  ledger.ConnectionInfo{Method: "demo", Host: "192.168.1.101"},
		Resources: ledger.Resources{
			Total:     resourceMap(16, 64, 4, 1000),
			Allocated: resourceMap(8, 32, 2, 400),
			Available: resourceMap(8, 32, 2, 600),
		},
		Status:   "online",
		Metadata: map[string]any{"ip": "192.168.1.101"},
	}
	for _, p := range []demoPod{
		{"demo-database-01", [4]int64{4, 16, 0, 200}, "db-team", "postgres:13", 4 * time.Hour},
		{"demo-cache-service-01", [4]int64{2, 8, 0, 50}, "cache-team", "redis:6-alpine", 3 * time.Hour},
		{"demo-monitoring-01", [4]int64{1, 4, 0, 100}, "ops-team", "prom/prometheus:latest", 2 * time.Hour},
		{"demo-gpu-inference-01", [4]int64{1, 4, 2, 50}, "ai-team", "pytorch/pytorch:latest", 45 * time.Minute},
	} {
		beta.Pods = append(beta.Pods, p.ledgerPod(beta.ID, now))
	}

	return []ledger.Server{alpha, beta}
}

// NewDemo returns a mock cluster preloaded from server's resources and pods.
func NewDemo(server ledger.Server) *Mock {
	m := NewMock(server.ID, server.Resources)
	m.name = server.Name
	m.ip = server.Connection.Host
	for _, p := range server.Pods {
		m.AddPod(p)
	}
	return m
}
