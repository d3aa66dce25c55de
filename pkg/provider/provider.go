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

	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
)

// Provider is implemented by each cluster backend.
type Provider interface {
	// CreatePod creates the workload described by spec.
	CreatePod(ctx context.Context, spec PodSpec) (Result, error)

	// DeletePod removes the workload referenced by ref.
	DeletePod(ctx context.Context, ref PodRef) (Result, error)

	// AvailableResources returns allocatable capacity minus what pods request.
	AvailableResources(ctx context.Context) (ledger.ResourceMap, error)

	// Nodes lists the cluster nodes.
	Nodes(ctx context.Context) ([]Node, error)

	// Pods lists workload pods, excluding system namespaces.
	Pods(ctx context.Context) ([]ledger.Pod, error)

	// ServersWithPods returns one view per node with the pods scheduled on it.
	ServersWithPods(ctx context.Context) ([]ServerView, error)

	// PodState aggregates the phase of the pods labelled app=<ref.Name>.
	PodState(ctx context.Context, ref PodRef) (PodState, error)
}

// PodSpec is a creation request after defaults have been applied.
type PodSpec struct {
	PodID     string
	Name      string
	Namespace string
	Image     string
	Resources ledger.ResourceMap
	Replicas  int32
	Owner     string
}

// PodRef identifies a workload to delete or observe.
type PodRef struct {
	PodID     string
	Name      string
	Namespace string
}

// ResultStatus is the outcome reported by CreatePod and DeletePod.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Result is what a mutating call reports back.
type Result struct {
	Status  ResultStatus `json:"status" yaml:"status"`
	Message string       `json:"message,omitempty" yaml:"message,omitempty"`
	PodIP   string       `json:"pod_ip,omitempty" yaml:"pod_ip,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == ResultSuccess
}

func success(msg string) Result {
	return Result{Status: ResultSuccess, Message: msg}
}

func failure(msg string) Result {
	return Result{Status: ResultError, Message: msg}
}

// Node is a cluster node with its capacity.
type Node struct {
	Name      string           `json:"name" yaml:"name"`
	Role      string           `json:"role" yaml:"role"`
	IP        string           `json:"ip,omitempty" yaml:"ip,omitempty"`
	Ready     bool             `json:"ready" yaml:"ready"`
	Age       string           `json:"age,omitempty" yaml:"age,omitempty"`
	Resources ledger.Resources `json:"resources" yaml:"resources"`
}

// ServerView is a node as the reconciliation loop sees it.
type ServerView struct {
	ID        string           `json:"id" yaml:"id"`
	Name      string           `json:"name" yaml:"name"`
	IP        string           `json:"ip,omitempty" yaml:"ip,omitempty"`
	Status    string           `json:"status" yaml:"status"`
	Resources ledger.Resources `json:"resources" yaml:"resources"`
	Pods      []ledger.Pod     `json:"pods" yaml:"pods"`
}

// Pod phases as reported by PodState.
const (
	PhasePending = "Pending"
	PhaseRunning = "Running"
	PhaseFailed  = "Failed"
)

// PodState is the aggregated phase of a workload's pods.
type PodState struct {
	Phase string `json:"phase" yaml:"phase"`
	PodIP string `json:"pod_ip,omitempty" yaml:"pod_ip,omitempty"`
	Pods  int    `json:"pods" yaml:"pods"`
}

// AggregatePhase folds pod phases into one: any Failed is Failed, all
// Running is Running, anything else (including no pods) is Pending.
func AggregatePhase(phases []string) string {
	if len(phases) == 0 {
		return PhasePending
	}
	running := 0
	for _, p := range phases {
		switch p {
		case PhaseFailed:
			return PhaseFailed
		case PhaseRunning:
			running++
		}
	}
	if running == len(phases) {
		return PhaseRunning
	}
	return PhasePending
}

// StatusFromPhase maps a Kubernetes pod phase to a ledger status.
func StatusFromPhase(phase string) ledger.PodStatus {
	switch phase {
	case PhaseRunning, "Succeeded":
		return ledger.StatusOnline
	case PhasePending:
		return ledger.StatusPending
	case PhaseFailed:
		return ledger.StatusFailed
	default:
		return ledger.StatusUnknown
	}
}

// Sum totals the resources of views into one cluster-wide Resources.
func Sum(views []ServerView) ledger.Resources {
	out := ledger.Resources{
		Total:       ledger.NewResourceMap(),
		Allocated:   ledger.NewResourceMap(),
		Available:   ledger.NewResourceMap(),
		ActualUsage: ledger.NewResourceMap(),
	}
	for _, v := range views {
		for k, q := range v.Resources.Total {
			out.Total[k] += q
		}
		for k, q := range v.Resources.Allocated {
			out.Allocated[k] += q
		}
		for k, q := range v.Resources.Available {
			out.Available[k] += q
		}
		for k, q := range v.Resources.ActualUsage {
			out.ActualUsage[k] += q
		}
	}
	return out
}
