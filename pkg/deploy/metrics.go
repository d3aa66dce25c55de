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

package deploy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded by deploymentsTotal.
const (
	outcomeOnline    = "online"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
	outcomeRejected  = "rejected"
	outcomeCancelled = "cancelled"
)

var (
	deploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_deployments_total",
			Help: "Total number of pod deployments by outcome",
		},
		[]string{"outcome"},
	)

	deploymentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_deployment_duration_seconds",
			Help:    "Time from request acceptance to a terminal status",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	deploymentsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_deployments_in_flight",
			Help: "Current number of deployments being tracked",
		},
	)
)
