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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"
)

// ListOptions filters and bounds a node listing.
type ListOptions struct {
	// LabelSelector is a selector to filter nodes based on labels.
	LabelSelector string
	// FieldSelector is a selector to filter nodes based on fields.
	FieldSelector string
	// Limit is the maximum number of nodes to return (0 means the hard cap).
	Limit int64
}

const (
	nodeListPageSizeDefault int64 = 500
	nodeListAbsoluteMax     int64 = 10000
)

// List pages through the cluster's nodes, nodeListPageSizeDefault at a time.
func List(ctx context.Context, client k8s.Interface, opt ListOptions) ([]*v1.Node, error) {
	effectiveLimit := opt.Limit
	if effectiveLimit <= 0 || effectiveLimit > nodeListAbsoluteMax {
		effectiveLimit = nodeListAbsoluteMax
	}
	pageSize := min(nodeListPageSizeDefault, effectiveLimit)

	var (
		all           []*v1.Node
		continueToken string
		fetched       int64
	)
	for {
		limit := min(pageSize, effectiveLimit-fetched)
		list, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{
			LabelSelector: opt.LabelSelector,
			FieldSelector: opt.FieldSelector,
			Limit:         limit,
			Continue:      continueToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get nodes: %w", err)
		}

		for i := range list.Items {
			all = append(all, &list.Items[i])
		}
		fetched += int64(len(list.Items))

		slog.Debug("fetched nodes page",
			slog.Int("pageSize", len(list.Items)),
			slog.Int64("totalFetched", fetched),
			slog.Bool("hasMore", list.Continue != ""))

		continueToken = list.Continue
		if continueToken == "" || fetched >= effectiveLimit {
			break
		}
		if len(list.Items) == 0 {
			slog.Warn("received empty page with continue token, stopping pagination")
			break
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
	})
	return all, nil
}

const (
	NodeRoleLabelPrefix = "node-role.kubernetes.io/"
	NodeRoleLabel       = "nodeRole"
	NodeRoleUndefined   = "undefined"
)

// ParseNodeRole returns the role from a node-role.kubernetes.io/<role> label,
// then from a nodeRole label, else NodeRoleUndefined.
func ParseNodeRole(n *v1.Node) string {
	roles := make([]string, 0, 1)
	for k := range n.Labels {
		if role := strings.TrimPrefix(k, NodeRoleLabelPrefix); role != k && role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) > 0 {
		sort.Strings(roles)
		return roles[0]
	}

	for k, v := range n.Labels {
		if strings.EqualFold(k, NodeRoleLabel) {
			return v
		}
	}
	return NodeRoleUndefined
}

// IsReady reports whether the node's Ready condition is true.
func IsReady(n *v1.Node) bool {
	for _, c := range n.Status.Conditions {
		if c.Type == v1.NodeReady {
			return c.Status == v1.ConditionTrue
		}
	}
	return false
}

// Address returns the node's InternalIP, falling back to the first address.
func Address(n *v1.Node) string {
	for _, addr := range n.Status.Addresses {
		if addr.Type == v1.NodeInternalIP {
			return addr.Address
		}
	}
	if len(n.Status.Addresses) > 0 {
		return n.Status.Addresses[0].Address
	}
	return ""
}

// FormatAge renders the time since createdOn as "<d> days <h> hours",
// "<h> hours <m> minutes" or "<m> minutes". Under a minute is "0m".
func FormatAge(createdOn time.Time) string {
	d := time.Since(createdOn)
	if d < time.Minute {
		return "0m"
	}

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, " ")
}
