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

	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// ResourceGPU is the extended resource name of NVIDIA GPUs.
const ResourceGPU corev1.ResourceName = "nvidia.com/gpu"

const bytesPerGB = 1 << 30

// fromResourceList converts Kubernetes quantities to whole ledger units.
// CPU and byte quantities are floored.
func fromResourceList(list corev1.ResourceList) ledger.ResourceMap {
	out := ledger.NewResourceMap()
	if q, ok := list[corev1.ResourceCPU]; ok {
		out[ledger.CPUs] = q.MilliValue() / 1000
	}
	if q, ok := list[corev1.ResourceMemory]; ok {
		out[ledger.RAMGB] = q.Value() / bytesPerGB
	}
	if q, ok := list[corev1.ResourceEphemeralStorage]; ok {
		out[ledger.StorageGB] = q.Value() / bytesPerGB
	}
	if q, ok := list[ResourceGPU]; ok {
		out[ledger.GPUs] = q.Value()
	}
	return out
}

// toResourceList renders ledger units as container requests. Zero
// quantities are omitted.
func toResourceList(m ledger.ResourceMap) corev1.ResourceList {
	out := corev1.ResourceList{}
	if v := m.Get(ledger.CPUs); v > 0 {
		out[corev1.ResourceCPU] = resource.MustParse(fmt.Sprintf("%d", v))
	}
	if v := m.Get(ledger.RAMGB); v > 0 {
		out[corev1.ResourceMemory] = resource.MustParse(fmt.Sprintf("%dGi", v))
	}
	if v := m.Get(ledger.StorageGB); v > 0 {
		out[corev1.ResourceEphemeralStorage] = resource.MustParse(fmt.Sprintf("%dGi", v))
	}
	if v := m.Get(ledger.GPUs); v > 0 {
		out[ResourceGPU] = resource.MustParse(fmt.Sprintf("%d", v))
	}
	return out
}

// containerDemand returns a container's requests, or its limits when it
// declares no requests.
func containerDemand(c corev1.Container) corev1.ResourceList {
	if len(c.Resources.Requests) > 0 {
		return c.Resources.Requests
	}
	return c.Resources.Limits
}

// podRequests sums the demand of every container in pod in ledger units.
func podRequests(pod *corev1.Pod) ledger.ResourceMap {
	out := ledger.NewResourceMap()
	for _, c := range pod.Spec.Containers {
		for k, v := range fromResourceList(containerDemand(c)) {
			out[k] += v
		}
	}
	return out
}

// milliTotals accumulates demand with CPU kept in millicores so fractional
// requests are not lost before the final conversion.
type milliTotals struct {
	cpuMilli int64
	rest     ledger.ResourceMap
}

func newMilliTotals() *milliTotals {
	return &milliTotals{rest: ledger.NewResourceMap()}
}

func (t *milliTotals) add(list corev1.ResourceList) {
	if q, ok := list[corev1.ResourceCPU]; ok {
		t.cpuMilli += q.MilliValue()
	}
	m := fromResourceList(list)
	t.rest[ledger.RAMGB] += m[ledger.RAMGB]
	t.rest[ledger.StorageGB] += m[ledger.StorageGB]
	t.rest[ledger.GPUs] += m[ledger.GPUs]
}

// minus returns t - o per kind, floored at zero.
func (t *milliTotals) minus(o *milliTotals) ledger.ResourceMap {
	out := ledger.NewResourceMap()
	out[ledger.CPUs] = max(0, t.cpuMilli-o.cpuMilli) / 1000
	for _, k := range []ledger.ResourceKind{ledger.RAMGB, ledger.StorageGB, ledger.GPUs} {
		out[k] = max(0, t.rest[k]-o.rest[k])
	}
	return out
}
