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
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
)

// ResourceKind names a schedulable resource tracked by the ledger.
type ResourceKind string

// Tracked resource kinds.
const (
	CPUs      ResourceKind = "cpus"
	RAMGB     ResourceKind = "ram_gb"
	StorageGB ResourceKind = "storage_gb"
	GPUs      ResourceKind = "gpus"
)

// Kinds lists the tracked resource kinds in canonical order.
var Kinds = []ResourceKind{CPUs, RAMGB, StorageGB, GPUs}

// ResourceMap maps a resource kind to a non-negative integer quantity.
type ResourceMap map[ResourceKind]int64

// NewResourceMap returns a map with every tracked kind set to zero.
func NewResourceMap() ResourceMap {
	m := make(ResourceMap, len(Kinds))
	for _, k := range Kinds {
		m[k] = 0
	}
	return m
}

// Get returns the quantity for kind, treating a missing key as zero.
func (m ResourceMap) Get(kind ResourceKind) int64 {
	if m == nil {
		return 0
	}
	return m[kind]
}

// Clone returns an independent copy.
func (m ResourceMap) Clone() ResourceMap {
	if m == nil {
		return nil
	}
	out := make(ResourceMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the kinds present in m: tracked kinds first in canonical
// order, then any other kinds sorted by name.
func (m ResourceMap) Keys() []ResourceKind {
	keys := make([]ResourceKind, 0, len(m))
	for _, k := range Kinds {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []ResourceKind
	for k := range m {
		if !slices.Contains(Kinds, k) {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(keys, extra...)
}

// Resources is the per-server accounting view.
type Resources struct {
	Total       ResourceMap `json:"total" yaml:"total"`
	Allocated   ResourceMap `json:"allocated" yaml:"allocated"`
	Available   ResourceMap `json:"available" yaml:"available"`
	ActualUsage ResourceMap `json:"actual_usage,omitempty" yaml:"actual_usage,omitempty"`
}

// Clone returns a deep copy.
func (r Resources) Clone() Resources {
	return Resources{
		Total:       r.Total.Clone(),
		Allocated:   r.Allocated.Clone(),
		Available:   r.Available.Clone(),
		ActualUsage: r.ActualUsage.Clone(),
	}
}

// Normalize allocates any nil maps so callers can write into them.
func (r *Resources) Normalize() {
	if r.Total == nil {
		r.Total = NewResourceMap()
	}
	if r.Allocated == nil {
		r.Allocated = NewResourceMap()
	}
	if r.Available == nil {
		r.Available = NewResourceMap()
	}
}

// PodStatus is the lifecycle state of a pod recorded in the ledger.
type PodStatus string

// Pod statuses.
const (
	StatusPending  PodStatus = "pending"
	StatusOnline   PodStatus = "online"
	StatusFailed   PodStatus = "failed"
	StatusError    PodStatus = "error"
	StatusUpdating PodStatus = "updating"
	StatusTimeout  PodStatus = "timeout"
	StatusUnknown  PodStatus = "unknown"
)

// IsTerminal reports whether the deployment workflow stops at this status.
func (s PodStatus) IsTerminal() bool {
	switch s {
	case StatusOnline, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is one of the known statuses.
func (s PodStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusOnline, StatusFailed, StatusError,
		StatusUpdating, StatusTimeout, StatusUnknown:
		return true
	default:
		return false
	}
}

// Pod is a workload recorded on a server.
type Pod struct {
	PodID             string      `json:"pod_id" yaml:"pod_id"`
	Name              string      `json:"name" yaml:"name"`
	Namespace         string      `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	ServerID          string      `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	ImageURL          string      `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Requested         ResourceMap `json:"requested" yaml:"requested"`
	Owner             string      `json:"owner,omitempty" yaml:"owner,omitempty"`
	Status            PodStatus   `json:"status" yaml:"status"`
	Timestamp         string      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	PodIP             string      `json:"pod_ip,omitempty" yaml:"pod_ip,omitempty"`
	Replicas          int32       `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	DeploymentStatus  PodStatus   `json:"deployment_status,omitempty" yaml:"deployment_status,omitempty"`
	DeploymentMessage string      `json:"deployment_message,omitempty" yaml:"deployment_message,omitempty"`
	LastUpdated       string      `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`

	// Released is set once the pod no longer holds a reservation in its
	// server's resources, either because it never got one or because a
	// failed deployment gave it back.
	Released bool `json:"released,omitempty" yaml:"released,omitempty"`
}

// Matches reports whether ref is this pod's id or name.
func (p *Pod) Matches(ref string) bool {
	return ref != "" && (p.PodID == ref || p.Name == ref)
}

// ConnectionInfo describes how to reach a server's cluster API.
type ConnectionInfo struct {
	Method                string         `json:"method,omitempty" yaml:"method,omitempty"`
	Host                  string         `json:"host,omitempty" yaml:"host,omitempty"`
	Port                  int            `json:"port,omitempty" yaml:"port,omitempty"`
	Username              string         `json:"username,omitempty" yaml:"username,omitempty"`
	Token                 string         `json:"token,omitempty" yaml:"token,omitempty"`
	Context               string         `json:"context,omitempty" yaml:"context,omitempty"`
	KubeconfigPath        string         `json:"kubeconfig_path,omitempty" yaml:"kubeconfig_path,omitempty"`
	KubeconfigData        map[string]any `json:"kubeconfig_data,omitempty" yaml:"kubeconfig_data,omitempty"`
	InsecureSkipTLSVerify bool           `json:"insecure_skip_tls_verify,omitempty" yaml:"insecure_skip_tls_verify,omitempty"`
	IsDummy               bool           `json:"is_dummy,omitempty" yaml:"is_dummy,omitempty"`
}

// Server is one managed cluster.
type Server struct {
	ID                  string         `json:"id" yaml:"id"`
	Name                string         `json:"name" yaml:"name"`
	Type                string         `json:"type" yaml:"type"`
	Environment         string         `json:"environment,omitempty" yaml:"environment,omitempty"`
	Connection          ConnectionInfo `json:"connection_coordinates" yaml:"connection_coordinates"`
	Resources           Resources      `json:"resources" yaml:"resources"`
	Pods                []Pod          `json:"pods" yaml:"pods"`
	Status              string         `json:"status,omitempty" yaml:"status,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	LiveRefreshInterval int            `json:"live_refresh_interval,omitempty" yaml:"live_refresh_interval,omitempty"`
}

// Pod returns the pod whose id or name is ref.
func (s *Server) Pod(ref string) (*Pod, bool) {
	for i := range s.Pods {
		if s.Pods[i].Matches(ref) {
			return &s.Pods[i], true
		}
	}
	return nil, false
}

// RemovePod drops every pod whose id or name is ref and returns the first one removed.
func (s *Server) RemovePod(ref string) (Pod, bool) {
	var (
		removed Pod
		found   bool
	)
	kept := s.Pods[:0]
	for _, p := range s.Pods {
		if p.Matches(ref) {
			if !found {
				removed, found = p, true
			}
			continue
		}
		kept = append(kept, p)
	}
	s.Pods = kept
	return removed, found
}

// RefreshInterval returns the configured live refresh interval, or def when unset.
func (s *Server) RefreshInterval(def time.Duration) time.Duration {
	if s.LiveRefreshInterval <= 0 {
		return def
	}
	return time.Duration(s.LiveRefreshInterval) * time.Second
}

// Config is the global section of the ledger.
type Config struct {
	UIRefreshInterval  int    `json:"ui_refresh_interval,omitempty" yaml:"ui_refresh_interval,omitempty"`
	AutoRefreshEnabled *bool  `json:"auto_refresh_enabled,omitempty" yaml:"auto_refresh_enabled,omitempty"`
	LastRefresh        string `json:"last_refresh,omitempty" yaml:"last_refresh,omitempty"`
	LastLiveRefresh    string `json:"last_live_refresh,omitempty" yaml:"last_live_refresh,omitempty"`
	DefaultServer      string `json:"default_server,omitempty" yaml:"default_server,omitempty"`
}

// AutoRefresh reports whether background refresh is enabled. Unset means enabled.
func (c Config) AutoRefresh() bool {
	return c.AutoRefreshEnabled == nil || *c.AutoRefreshEnabled
}

// Document is the whole persisted ledger.
type Document struct {
	Servers []Server `json:"servers" yaml:"servers"`
	Config  Config   `json:"config" yaml:"config"`
}

// DefaultDocument returns an empty ledger.
func DefaultDocument() *Document {
	enabled := true
	return &Document{
		Servers: []Server{},
		Config: Config{
			UIRefreshInterval:  defaults.UIRefreshInterval,
			AutoRefreshEnabled: &enabled,
		},
	}
}

// Server returns the server with the given id.
func (d *Document) Server(id string) (*Server, bool) {
	for i := range d.Servers {
		if d.Servers[i].ID == id {
			return &d.Servers[i], true
		}
	}
	return nil, false
}

// RemoveServer drops the server with the given id. If it was the default
// server, the first remaining server becomes the default.
func (d *Document) RemoveServer(id string) (Server, bool) {
	for i := range d.Servers {
		if d.Servers[i].ID != id {
			continue
		}
		removed := d.Servers[i]
		d.Servers = append(d.Servers[:i], d.Servers[i+1:]...)
		if d.Config.DefaultServer == id {
			d.Config.DefaultServer = ""
			if len(d.Servers) > 0 {
				d.Config.DefaultServer = d.Servers[0].ID
			}
		}
		return removed, true
	}
	return Server{}, false
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() (*Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to copy ledger: %w", err)
	}
	out := &Document{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to copy ledger: %w", err)
	}
	return out, nil
}

// normalize fills nil slices and maps after decoding.
func (d *Document) normalize() {
	if d.Servers == nil {
		d.Servers = []Server{}
	}
	for i := range d.Servers {
		d.Servers[i].Resources.Normalize()
		if d.Servers[i].Pods == nil {
			d.Servers[i].Pods = []Pod{}
		}
	}
}

// Now returns the timestamp format used for ledger fields.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// decode parses a document and normalizes it.
func decode(data []byte) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	doc.normalize()
	return doc, nil
}

// encode renders a document in the on-disk format.
func encode(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
