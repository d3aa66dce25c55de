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

package accounting

import (
	"fmt"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
)

// Validate checks requested against available. Kinds are visited in
// canonical order followed by any extra kinds sorted by name, and the first
// shortfall is returned as an INSUFFICIENT_RESOURCES error. A kind missing
// from available counts as zero.
func Validate(available, requested ledger.ResourceMap) error {
	for _, kind := range requested.Keys() {
		req := requested[kind]
		if avail := available.Get(kind); req > avail {
			return errors.InsufficientResources(string(kind), req, avail)
		}
	}
	return nil
}

// Reserve moves requested quantities from available to allocated.
func Reserve(r *ledger.Resources, requested ledger.ResourceMap) {
	r.Normalize()
	for kind, qty := range requested {
		r.Allocated[kind] += qty
		r.Available[kind] = max(0, r.Available.Get(kind)-qty)
	}
}

// Release is the inverse of Reserve.
func Release(r *ledger.Resources, requested ledger.ResourceMap) {
	r.Normalize()
	for kind, qty := range requested {
		r.Allocated[kind] = max(0, r.Allocated.Get(kind)-qty)
		r.Available[kind] += qty
	}
}

// Clamp caps available at total for every kind the server declares.
func Clamp(r *ledger.Resources) {
	r.Normalize()
	for kind, total := range r.Total {
		if r.Available.Get(kind) > total {
			r.Available[kind] = total
		}
	}
}

// Sum adds up the requested quantities of pods.
func Sum(pods []ledger.Pod) ledger.ResourceMap {
	out := ledger.NewResourceMap()
	for _, p := range pods {
		for kind, qty := range p.Requested {
			out[kind] += qty
		}
	}
	return out
}

// Issue is one inconsistency found by Consistency.
type Issue struct {
	ServerID string              `json:"server_id" yaml:"server_id"`
	Kind     ledger.ResourceKind `json:"resource" yaml:"resource"`
	Message  string              `json:"message" yaml:"message"`
}

func (i Issue) String() string {
	return i.Message
}

// Consistency reports servers whose available or summed pod requests exceed
// their total.
func Consistency(doc *ledger.Document) []Issue {
	issues := make([]Issue, 0)
	for _, s := range doc.Servers {
		total := s.Resources.Total
		used := Sum(s.Pods)
		for _, kind := range total.Keys() {
			if s.Resources.Available.Get(kind) > total[kind] {
				issues = append(issues, Issue{
					ServerID: s.ID,
					Kind:     kind,
					Message:  fmt.Sprintf("Server %s: available %s > total %s", s.Name, kind, kind),
				})
			}
			if used.Get(kind) > total[kind] {
				issues = append(issues, Issue{
					ServerID: s.ID,
					Kind:     kind,
					Message:  fmt.Sprintf("Server %s: sum of pod %s > total %s", s.Name, kind, kind),
				})
			}
		}
	}
	return issues
}
