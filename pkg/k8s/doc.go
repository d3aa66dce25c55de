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

// Package k8s groups the Kubernetes helpers behind the live provider.
//
// # Sub-packages
//
// client: builds a clientset for a server from its connection_coordinates
// (inline kubeconfig, kubeconfig path, host and bearer token, or in-cluster).
//
//	cs, cfg, err := client.BuildFromConnection(server.Connection)
//
// node: lists nodes with a hard cap and summarizes their role, address,
// readiness and age.
//
//	nodes, err := node.List(ctx, cs, node.ListOptions{})
//
// Tests use k8s.io/client-go/kubernetes/fake through client.Interface.
package k8s
