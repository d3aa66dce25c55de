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

// Package defaults provides centralized configuration constants for the fleet control plane.
//
// This package defines poll intervals, timeouts, retry parameters, and other
// defaults used across the codebase so that tuning happens in one place.
//
// # Categories
//
//   - Deployment: status polling of freshly created workloads
//   - Refresh: the background reconciliation loop
//   - Kubernetes: remote cluster API calls
//   - Ledger: persistence backends
//   - Server: HTTP server configuration
//
// # Usage
//
//	import "github.com/NVIDIA/fleet-ledger/pkg/defaults"
//
//	ctx, cancel := context.WithTimeout(ctx, defaults.ProviderCallTimeout)
//	defer cancel()
package defaults
