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
	"fmt"
	"strings"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/provider"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	// DefaultImage is used when a request names no image.
	DefaultImage = "nginx:latest"

	// DefaultOwner is recorded when a request names no owner.
	DefaultOwner = "unknown"

	podIDTimeFormat = "20060102-150405"

	// MaxNameLength keeps the derived pod id and namespace within the
	// 63 character limit of Kubernetes names and label values.
	MaxNameLength = validation.DNS1123LabelMaxLength - len("-"+podIDTimeFormat) - len("-ns")
)

// Request asks for a new pod.
type Request struct {
	Name      string             `json:"name" yaml:"name"`
	Namespace string             `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Image     string             `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Resources ledger.ResourceMap `json:"resources" yaml:"resources"`
	Owner     string             `json:"owner,omitempty" yaml:"owner,omitempty"`
	Replicas  int32              `json:"replicas,omitempty" yaml:"replicas,omitempty"`
}

// Validate rejects requests that could never be deployed.
func (r Request) Validate() error {
	if r.Name == "" {
		return errors.New(errors.ErrCodeInvalidRequest, "pod name is required")
	}
	if errs := validation.IsDNS1123Label(r.Name); len(errs) > 0 {
		return errors.NewWithContext(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("invalid pod name %q: %s", r.Name, strings.Join(errs, "; ")),
			map[string]any{"name": r.Name})
	}
	if len(r.Name) > MaxNameLength {
		return errors.NewWithContext(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("pod name %q is longer than %d characters", r.Name, MaxNameLength),
			map[string]any{"name": r.Name})
	}
	if r.Namespace != "" {
		if errs := validation.IsDNS1123Label(r.Namespace); len(errs) > 0 {
			return errors.NewWithContext(errors.ErrCodeInvalidRequest,
				fmt.Sprintf("invalid namespace %q: %s", r.Namespace, strings.Join(errs, "; ")),
				map[string]any{"namespace": r.Namespace})
		}
	}
	if r.Replicas < 0 {
		return errors.New(errors.ErrCodeInvalidRequest, "replicas must not be negative")
	}
	return validateQuantities(r.Resources)
}

func validateQuantities(m ledger.ResourceMap) error {
	for _, k := range m.Keys() {
		if m[k] < 0 {
			return errors.NewWithContext(errors.ErrCodeInvalidRequest,
				fmt.Sprintf("requested %s must not be negative", k),
				map[string]any{"resource": string(k), "requested": m[k]})
		}
	}
	return nil
}

// PodID returns the id of a pod created from name at t.
func PodID(name string, t time.Time) string {
	return name + "-" + t.UTC().Format(podIDTimeFormat)
}

// DefaultNamespace is the namespace of a pod created without one. Delete
// falls back to the same value when the ledger has no namespace recorded.
func DefaultNamespace(podID string) string {
	return podID + "-ns"
}

// spec applies defaults and returns what the provider is asked to create.
func (r Request) spec(podID string) provider.PodSpec {
	s := provider.PodSpec{
		PodID:     podID,
		Name:      r.Name,
		Namespace: r.Namespace,
		Image:     r.Image,
		Resources: ledger.ResourceMap{},
		Replicas:  r.Replicas,
		Owner:     r.Owner,
	}
	for k, v := range r.Resources {
		if v > 0 {
			s.Resources[k] = v
		}
	}
	if s.Namespace == "" {
		s.Namespace = DefaultNamespace(podID)
	}
	if s.Image == "" {
		s.Image = DefaultImage
	}
	if s.Owner == "" {
		s.Owner = DefaultOwner
	}
	if s.Replicas == 0 {
		s.Replicas = 1
	}
	return s
}

// Accepted is returned by Create once the pod is recorded as pending.
type Accepted struct {
	Status       ledger.PodStatus `json:"status" yaml:"status"`
	PodID        string           `json:"pod_id" yaml:"pod_id"`
	DeploymentID string           `json:"deployment_id" yaml:"deployment_id"`
	Namespace    string           `json:"namespace" yaml:"namespace"`
	Message      string           `json:"message" yaml:"message"`
}

// Report is the deployment status of one pod.
type Report struct {
	ServerID    string             `json:"server_id" yaml:"server_id"`
	PodID       string             `json:"pod_id" yaml:"pod_id"`
	Name        string             `json:"name" yaml:"name"`
	Namespace   string             `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Status      ledger.PodStatus   `json:"status" yaml:"status"`
	Message     string             `json:"message,omitempty" yaml:"message,omitempty"`
	PodIP       string             `json:"pod_ip,omitempty" yaml:"pod_ip,omitempty"`
	Requested   ledger.ResourceMap `json:"requested" yaml:"requested"`
	CreatedAt   string             `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	LastUpdated string             `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	Tracking    bool               `json:"tracking" yaml:"tracking"`
}

func reportOf(serverID string, p *ledger.Pod, tracking bool) Report {
	return Report{
		ServerID:    serverID,
		PodID:       p.PodID,
		Name:        p.Name,
		Namespace:   p.Namespace,
		Status:      p.Status,
		Message:     p.DeploymentMessage,
		PodIP:       p.PodIP,
		Requested:   p.Requested.Clone(),
		CreatedAt:   p.Timestamp,
		LastUpdated: p.LastUpdated,
		Tracking:    tracking,
	}
}
