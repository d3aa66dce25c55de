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

package reconcile

import (
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
)

// Merge folds the live view of a server into its ledger entry.
//
// Total, available and actual usage are replaced; allocated is derived as
// total minus available. Live pods update the status and address of the
// ledger pod with the same id or name and are appended when unknown. Pods
// only the ledger knows about are kept.
func Merge(s *ledger.Server, views []provider.ServerView, now string) {
	live := provider.Sum(views)

	s.Resources.Total = live.Total
	s.Resources.Available = live.Available
	s.Resources.ActualUsage = live.ActualUsage
	allocated := ledger.NewResourceMap()
	for _, k := range live.Total.Keys() {
		allocated[k] = max(0, live.Total[k]-live.Available.Get(k))
	}
	s.Resources.Allocated = allocated

	for _, v := range views {
		for _, lp := range v.Pods {
			ref := lp.PodID
			if ref == "" {
				ref = lp.Name
			}
			if existing, ok := s.Pod(ref); ok {
				existing.Status = lp.Status
				if lp.PodIP != "" {
					existing.PodIP = lp.PodIP
				}
				continue
			}
			lp.ServerID = s.ID
			if lp.Requested == nil {
				lp.Requested = ledger.NewResourceMap()
			}
			s.Pods = append(s.Pods, lp)
		}
	}

	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata["last_updated"] = now
	s.Metadata["live_data_fresh"] = true
	s.Status = "online"
}
