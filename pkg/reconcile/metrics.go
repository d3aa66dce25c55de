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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_refresh_cycles_total",
			Help: "Total number of reconciliation cycles by result",
		},
		[]string{"result"},
	)

	serverRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_server_refresh_total",
			Help: "Total number of per-server live refreshes by result",
		},
		[]string{"server", "result"},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_refresh_duration_seconds",
			Help:    "Duration of a full refresh of all servers",
			Buckets: prometheus.DefBuckets,
		},
	)
)
