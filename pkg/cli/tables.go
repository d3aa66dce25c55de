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

package cli

import (
	"fmt"
	"strconv"

	"github.com/NVIDIA/fleet-ledger/pkg/accounting"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
	"github.com/NVIDIA/fleet-ledger/pkg/serializer"
)

// serverTable renders servers with available/total per resource.
type serverTable []ledger.Server

func (t serverTable) Header() []string {
	return []string{"id", "name", "type", "status", "cpus", "ram_gb", "gpus", "storage_gb", "pods"}
}

func (t serverTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		rows = append(rows, []string{
			s.ID,
			s.Name,
			s.Type,
			serializer.Title(s.Status),
			capacity(s.Resources, ledger.CPUs),
			capacity(s.Resources, ledger.RAMGB),
			capacity(s.Resources, ledger.GPUs),
			capacity(s.Resources, ledger.StorageGB),
			strconv.Itoa(len(s.Pods)),
		})
	}
	return rows
}

func capacity(r ledger.Resources, kind ledger.ResourceKind) string {
	return fmt.Sprintf("%d/%d", r.Available.Get(kind), r.Total.Get(kind))
}

// podTable renders the pods of the given servers.
type podTable []ledger.Server

func (t podTable) Header() []string {
	return []string{"server", "pod_id", "name", "status", "cpus", "ram_gb", "gpus", "pod_ip", "last_updated"}
}

func (t podTable) Rows() [][]string {
	var rows [][]string
	for _, s := range t {
		for _, p := range s.Pods {
			rows = append(rows, []string{
				s.ID,
				p.PodID,
				p.Name,
				serializer.Title(string(p.Status)),
				strconv.FormatInt(p.Requested.Get(ledger.CPUs), 10),
				strconv.FormatInt(p.Requested.Get(ledger.RAMGB), 10),
				strconv.FormatInt(p.Requested.Get(ledger.GPUs), 10),
				p.PodIP,
				p.LastUpdated,
			})
		}
	}
	return rows
}

type permissionTable []provider.PermissionCheck

func (t permissionTable) Header() []string {
	return []string{"group", "resource", "verb", "namespace", "allowed", "reason"}
}

func (t permissionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		rows = append(rows, []string{c.Group, c.Resource, c.Verb, c.Namespace, strconv.FormatBool(c.Allowed), c.Reason})
	}
	return rows
}

type issueTable []accounting.Issue

func (t issueTable) Header() []string {
	return []string{"server", "resource", "message"}
}

func (t issueTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, i := range t {
		rows = append(rows, []string{i.ServerID, string(i.Kind), i.Message})
	}
	return rows
}
