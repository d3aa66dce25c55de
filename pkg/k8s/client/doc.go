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

// Package client builds Kubernetes clients for the clusters in the ledger.
//
// Each server's connection_coordinates select how its client is built:
//
//	kubeconfig  inline kubeconfig_data, else kubeconfig_path, else discovery
//	token       https://host:port with a bearer token
//	local       the shared process-wide client (GetKubeClient)
//	incluster   the pod's service account
//
// Discovery checks KUBECONFIG, then ~/.kube/config, then the in-cluster
// service account. GetKubeClient caches its result with sync.Once; every
// other constructor returns a fresh client.
//
//	cs, cfg, err := client.BuildFromConnection(server.Connection)
//	if err != nil {
//	    return fmt.Errorf("failed to build client for %s: %w", server.ID, err)
//	}
package client
