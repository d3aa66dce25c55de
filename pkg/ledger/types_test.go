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

package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceMapGet(t *testing.T) {
	var nilMap ResourceMap
	assert.Equal(t, int64(0), nilMap.Get(CPUs))

	m := ResourceMap{CPUs: 4}
	assert.Equal(t, int64(4), m.Get(CPUs))
	assert.Equal(t, int64(0), m.Get(GPUs))
}

func TestResourceMapKeys(t *testing.T) {
	m := ResourceMap{GPUs: 1, "fpga": 2, CPUs: 3, "asic": 1}
	assert.Equal(t, []ResourceKind{CPUs, GPUs, "asic", "fpga"}, m.Keys())
}

func TestResourceMapClone(t *testing.T) {
	m := ResourceMap{CPUs: 4}
	c := m.Clone()
	c[CPUs] = 1
	assert.Equal(t, int64(4), m[CPUs])
}

func TestPodStatusTerminal(t *testing.T) {
	tests := []struct {
		status   PodStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusUpdating, false},
		{StatusOnline, true},
		{StatusFailed, true},
		{StatusTimeout, true},
		{StatusError, false},
		{StatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.True(t, tt.status.IsValid())
		})
	}
	assert.False(t, PodStatus("running").IsValid())
}

func TestServerPodLookup(t *testing.T) {
	s := Server{
		ID: "srv-1",
		Pods: []Pod{
			{PodID: "web-20250101-000000", Name: "web"},
			{PodID: "db-20250101-000000", Name: "db-20250101-000000"},
		},
	}

	p, ok := s.Pod("web")
	require.True(t, ok)
	assert.Equal(t, "web-20250101-000000", p.PodID)

	_, ok = s.Pod("")
	assert.False(t, ok)

	removed, ok := s.RemovePod("db-20250101-000000")
	require.True(t, ok)
	assert.Equal(t, "db-20250101-000000", removed.PodID)
	assert.Len(t, s.Pods, 1)

	_, ok = s.RemovePod("missing")
	assert.False(t, ok)
}

func TestServerRefreshInterval(t *testing.T) {
	s := Server{}
	assert.Equal(t, time.Minute, s.RefreshInterval(time.Minute))
	s.LiveRefreshInterval = 15
	assert.Equal(t, 15*time.Second, s.RefreshInterval(time.Minute))
}

func TestDocumentRemoveServer(t *testing.T) {
	doc := DefaultDocument()
	doc.Servers = []Server{{ID: "a"}, {ID: "b"}}
	doc.Config.DefaultServer = "a"

	_, ok := doc.RemoveServer("a")
	require.True(t, ok)
	assert.Equal(t, "b", doc.Config.DefaultServer)

	_, ok = doc.RemoveServer("b")
	require.True(t, ok)
	assert.Empty(t, doc.Config.DefaultServer)

	_, ok = doc.RemoveServer("b")
	assert.False(t, ok)
}

func TestConfigAutoRefresh(t *testing.T) {
	assert.True(t, Config{}.AutoRefresh())
	off := false
	assert.False(t, Config{AutoRefreshEnabled: &off}.AutoRefresh())
}

func TestDecodeOriginalShape(t *testing.T) {
	raw := `{
	  "servers": [{
	    "id": "azure-vm-10-0-0-4",
	    "name": "Azure VM Kubernetes (10.0.0.4)",
	    "type": "kubernetes",
	    "environment": "live",
	    "live_refresh_interval": 60,
	    "connection_coordinates": {"method": "kubeconfig", "host": "10.0.0.4", "port": 16443},
	    "resources": {"total": {"cpus": 8, "ram_gb": 32}, "available": {"cpus": 8}},
	    "pods": null,
	    "metadata": {"location": "Azure VM"}
	  }],
	  "config": {"auto_refresh_enabled": false, "last_live_refresh": null}
	}`

	doc, err := decode([]byte(raw))
	require.NoError(t, err)
	require.Len(t, doc.Servers, 1)

	s := doc.Servers[0]
	assert.Equal(t, "kubeconfig", s.Connection.Method)
	assert.Equal(t, 16443, s.Connection.Port)
	assert.Equal(t, int64(32), s.Resources.Total.Get(RAMGB))
	assert.NotNil(t, s.Resources.Allocated)
	assert.NotNil(t, s.Pods)
	assert.False(t, doc.Config.AutoRefresh())
}

func TestDocumentClone(t *testing.T) {
	doc := DefaultDocument()
	doc.Servers = append(doc.Servers, Server{ID: "srv-1", Resources: Resources{Total: ResourceMap{CPUs: 8}}})

	c, err := doc.Clone()
	require.NoError(t, err)
	c.Servers[0].Resources.Total[CPUs] = 1

	assert.Equal(t, int64(8), doc.Servers[0].Resources.Total[CPUs])

	data, err := encode(c)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestResourcesClone(t *testing.T) {
	r := Resources{
		Total:     ResourceMap{CPUs: 8},
		Available: ResourceMap{CPUs: 6},
	}
	c := r.Clone()
	c.Available[CPUs] = 0

	assert.Equal(t, int64(6), r.Available[CPUs])
	assert.Nil(t, c.Allocated)
}
