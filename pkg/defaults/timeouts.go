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

package defaults

import "time"

// Deployment tracking for newly created workloads.
const (
	// DeployPollInterval is how often the phase of a new workload is checked.
	DeployPollInterval = 10 * time.Second

	// DeployTimeout bounds the wait for a terminal phase before the pod is marked timeout.
	DeployTimeout = 300 * time.Second

	// DeployShutdownTimeout bounds how long shutdown waits for in-flight deployment tasks.
	DeployShutdownTimeout = 10 * time.Second
)

// Background refresh loop.
const (
	// RefreshInterval is the live refresh interval of a server that declares none.
	RefreshInterval = 60 * time.Second

	// RefreshBackoff replaces the normal interval after a cycle fails unexpectedly.
	RefreshBackoff = 30 * time.Second

	// RefreshStopTimeout bounds the join on the running cycle when the loop stops.
	RefreshStopTimeout = 5 * time.Second

	// RefreshConcurrency is the number of servers fetched in parallel during a cycle.
	RefreshConcurrency = 4
)

// Kubernetes timeouts for remote cluster operations.
const (
	// ProviderCallTimeout is the timeout for a single remote cluster API call.
	ProviderCallTimeout = 30 * time.Second

	// NamespaceDeleteTimeout bounds the wait for a namespace to disappear after deletion.
	NamespaceDeleteTimeout = 60 * time.Second

	// NamespaceDeletePoll is the poll interval while waiting for namespace deletion.
	NamespaceDeletePoll = 2 * time.Second

	// ConfigMapWriteTimeout bounds publishing a ledger snapshot to a ConfigMap.
	ConfigMapWriteTimeout = 30 * time.Second

	// KubeClientQPS is the client-side rate limit for remote API calls.
	KubeClientQPS = 30

	// KubeClientBurst is the burst allowance on top of KubeClientQPS.
	KubeClientBurst = 60
)

// Ledger persistence.
const (
	// LedgerPath is the default location of the file-backed ledger.
	LedgerPath = "data/master.json"

	// LedgerSQLiteBusyTimeout is how long a sqlite writer waits on a locked database.
	LedgerSQLiteBusyTimeout = 5 * time.Second

	// LedgerRedisRetries is the number of optimistic transaction attempts before giving up.
	LedgerRedisRetries = 10

	// LedgerRedisKey is the default key holding the ledger document.
	LedgerRedisKey = "fleet:ledger"

	// UIRefreshInterval is the dashboard refresh hint (seconds) written into a new ledger.
	UIRefreshInterval = 5
)

// CLI behavior.
const (
	// WatchInterval is the pause between refreshes of `fleet refresh --watch`.
	WatchInterval = 15 * time.Second

	// WaitTimeout bounds `fleet pod create --wait`.
	WaitTimeout = DeployTimeout + time.Minute
)

// Server timeouts for HTTP server configuration.
const (
	// ServerReadTimeout is the maximum duration for reading request headers.
	ServerReadTimeout = 10 * time.Second

	// ServerReadHeaderTimeout prevents slow header attacks.
	ServerReadHeaderTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration for writing a response.
	ServerWriteTimeout = 30 * time.Second

	// ServerIdleTimeout is the maximum duration to wait for the next request.
	ServerIdleTimeout = 120 * time.Second

	// ServerShutdownTimeout is the maximum duration for graceful shutdown.
	ServerShutdownTimeout = 30 * time.Second
)
