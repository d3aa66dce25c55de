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
	"math/rand"
	"testing"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func srv1Resources() ledger.Resources {
	return ledger.Resources{
		Total:     ledger.ResourceMap{ledger.CPUs: 8, ledger.RAMGB: 32, ledger.GPUs: 2},
		Allocated: ledger.ResourceMap{ledger.CPUs: 0, ledger.RAMGB: 0, ledger.GPUs: 0},
		Available: ledger.ResourceMap{ledger.CPUs: 8, ledger.RAMGB: 32, ledger.GPUs: 2},
	}
}

func TestValidate(t *testing.T) {
	available := ledger.ResourceMap{ledger.CPUs: 4, ledger.RAMGB: 16, ledger.GPUs: 1}

	tests := []struct {
		name      string
		requested ledger.ResourceMap
		wantKind  string
		wantReq   int64
		wantAvail int64
	}{
		{name: "fits", requested: ledger.ResourceMap{ledger.CPUs: 4, ledger.RAMGB: 16}},
		{name: "empty request", requested: ledger.ResourceMap{}},
		{name: "zero of missing kind", requested: ledger.ResourceMap{ledger.StorageGB: 0}},
		{name: "gpu shortfall", requested: ledger.ResourceMap{ledger.GPUs: 2}, wantKind: "gpus", wantReq: 2, wantAvail: 1},
		{name: "missing kind in available", requested: ledger.ResourceMap{ledger.StorageGB: 1}, wantKind: "storage_gb", wantReq: 1, wantAvail: 0},
		{
			name:      "first violation in canonical order",
			requested: ledger.ResourceMap{ledger.GPUs: 5, ledger.CPUs: 5, ledger.RAMGB: 99},
			wantKind:  "cpus", wantReq: 5, wantAvail: 4,
		},
		{
			name:      "extra kinds after canonical",
			requested: ledger.ResourceMap{"fpga": 1, ledger.GPUs: 2},
			wantKind:  "gpus", wantReq: 2, wantAvail: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(available, tt.requested)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInsufficientResources))

			var se *errors.StructuredError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantKind, se.Context["resource"])
			assert.Equal(t, tt.wantReq, se.Context["requested"])
			assert.Equal(t, tt.wantAvail, se.Context["available"])
		})
	}
}

func TestValidateIffShortfall(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		available := ledger.ResourceMap{}
		requested := ledger.ResourceMap{}
		short := false
		for _, k := range ledger.Kinds {
			available[k] = rng.Int63n(10)
			requested[k] = rng.Int63n(10)
			if requested[k] > available[k] {
				short = true
			}
		}
		assert.Equal(t, short, Validate(available, requested) != nil)
	}
}

func TestReserveScenario(t *testing.T) {
	r := srv1Resources()
	req := ledger.ResourceMap{ledger.CPUs: 2, ledger.RAMGB: 4, ledger.GPUs: 1}

	require.NoError(t, Validate(r.Available, req))
	Reserve(&r, req)

	assert.Equal(t, ledger.ResourceMap{ledger.CPUs: 6, ledger.RAMGB: 28, ledger.GPUs: 1}, r.Available)
	assert.Equal(t, ledger.ResourceMap{ledger.CPUs: 2, ledger.RAMGB: 4, ledger.GPUs: 1}, r.Allocated)

	err := Validate(r.Available, ledger.ResourceMap{ledger.GPUs: 2})
	require.Error(t, err)
	assert.Equal(t, "[INSUFFICIENT_RESOURCES] Not enough gpus available. Requested: 2, Available: 1", err.Error())
}

func TestReserveFloorsAvailable(t *testing.T) {
	r := srv1Resources()
	Reserve(&r, ledger.ResourceMap{ledger.GPUs: 3})
	assert.Equal(t, int64(0), r.Available[ledger.GPUs])
	assert.Equal(t, int64(3), r.Allocated[ledger.GPUs])
}

func TestReleaseClampsAllocated(t *testing.T) {
	r := srv1Resources()
	Reserve(&r, ledger.ResourceMap{ledger.CPUs: 2})
	Release(&r, ledger.ResourceMap{ledger.CPUs: 5})

	assert.Equal(t, int64(0), r.Allocated[ledger.CPUs])
	// over-release inflates available past total
	assert.Equal(t, int64(11), r.Available[ledger.CPUs])
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		r := ledger.Resources{
			Total:     ledger.ResourceMap{},
			Allocated: ledger.ResourceMap{},
			Available: ledger.ResourceMap{},
		}
		req := ledger.ResourceMap{}
		for _, k := range ledger.Kinds {
			total := rng.Int63n(64)
			alloc := rng.Int63n(total + 1)
			r.Total[k] = total
			r.Allocated[k] = alloc
			r.Available[k] = total - alloc
			req[k] = rng.Int63n(r.Available[k] + 1)
		}
		before := r.Available.Clone()
		beforeAlloc := r.Allocated.Clone()

		Reserve(&r, req)
		for _, k := range ledger.Kinds {
			assert.GreaterOrEqual(t, r.Available[k], int64(0))
			assert.GreaterOrEqual(t, r.Allocated[k], int64(0))
		}
		Release(&r, req)

		assert.Equal(t, before, r.Available)
		assert.Equal(t, beforeAlloc, r.Allocated)
	}
}

func TestReserveNilMaps(t *testing.T) {
	var r ledger.Resources
	Reserve(&r, ledger.ResourceMap{ledger.CPUs: 1})
	assert.Equal(t, int64(1), r.Allocated[ledger.CPUs])
	assert.Equal(t, int64(0), r.Available[ledger.CPUs])
}

func TestConsistency(t *testing.T) {
	doc := ledger.DefaultDocument()
	doc.Servers = []ledger.Server{
		{
			ID:   "ok",
			Name: "Healthy",
			Resources: ledger.Resources{
				Total:     ledger.ResourceMap{ledger.CPUs: 8},
				Available: ledger.ResourceMap{ledger.CPUs: 6},
			},
			Pods: []ledger.Pod{{PodID: "a", Requested: ledger.ResourceMap{ledger.CPUs: 2}}},
		},
		{
			ID:   "bad",
			Name: "Drifted",
			Resources: ledger.Resources{
				Total:     ledger.ResourceMap{ledger.CPUs: 4, ledger.GPUs: 1},
				Available: ledger.ResourceMap{ledger.CPUs: 5, ledger.GPUs: 0},
			},
			Pods: []ledger.Pod{
				{PodID: "a", Requested: ledger.ResourceMap{ledger.GPUs: 1}},
				{PodID: "b", Requested: ledger.ResourceMap{ledger.GPUs: 1}},
			},
		},
	}

	issues := Consistency(doc)
	require.Len(t, issues, 2)
	assert.Equal(t, "Server Drifted: available cpus > total cpus", issues[0].Message)
	assert.Equal(t, "Server Drifted: sum of pod gpus > total gpus", issues[1].Message)
	assert.Equal(t, "bad", issues[1].ServerID)
}

func TestConsistencyEmpty(t *testing.T) {
	issues := Consistency(ledger.DefaultDocument())
	assert.NotNil(t, issues)
	assert.Empty(t, issues)
}

func TestClamp(t *testing.T) {
	r := ledger.Resources{
		Total:     ledger.ResourceMap{ledger.CPUs: 8, ledger.GPUs: 2},
		Available: ledger.ResourceMap{ledger.CPUs: 10, ledger.GPUs: 1, ledger.RAMGB: 4},
	}
	Release(&r, ledger.ResourceMap{ledger.GPUs: 2})
	Clamp(&r)

	assert.Equal(t, int64(8), r.Available[ledger.CPUs])
	assert.Equal(t, int64(2), r.Available[ledger.GPUs])
	assert.Equal(t, int64(4), r.Available[ledger.RAMGB], "kinds without a total are left alone")
	assert.Equal(t, int64(0), r.Allocated[ledger.GPUs])
}
