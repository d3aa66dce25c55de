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

package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	authv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PermissionCheck is the outcome of one access review.
type PermissionCheck struct {
	Group     string `json:"group,omitempty" yaml:"group,omitempty"`
	Resource  string `json:"resource" yaml:"resource"`
	Verb      string `json:"verb" yaml:"verb"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Allowed   bool   `json:"allowed" yaml:"allowed"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// PermissionChecker is implemented by backends that can verify their
// credentials before use.
type PermissionChecker interface {
	CheckPermissions(ctx context.Context, namespace string) ([]PermissionCheck, error)
}

type requiredPermission struct {
	group     string
	resource  string
	verb      string
	clustered bool
}

var requiredPermissions = []requiredPermission{
	{"", "namespaces", "create", true},
	{"", "namespaces", "delete", true},
	{"", "nodes", "list", true},
	{"", "pods", "list", false},
	{"apps", "deployments", "create", false},
	{"apps", "deployments", "delete", false},
}

// CheckPermissions runs a SelfSubjectAccessReview for every call the
// provider makes. It returns all checks, and an error naming the missing
// ones if any are denied.
func (k *Kube) CheckPermissions(ctx context.Context, namespace string) ([]PermissionCheck, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	checks := make([]PermissionCheck, 0, len(requiredPermissions))
	var missing []string

	for _, req := range requiredPermissions {
		ns := namespace
		if req.clustered {
			ns = ""
		}
		allowed, reason, err := k.checkPermission(ctx, req.group, req.resource, req.verb, ns)
		if err != nil {
			return checks, classify(fmt.Errorf("failed to check permission for %s %s: %w", req.verb, req.resource, err), "access review")
		}
		checks = append(checks, PermissionCheck{
			Group:     req.group,
			Resource:  req.resource,
			Verb:      req.verb,
			Namespace: ns,
			Allowed:   allowed,
			Reason:    reason,
		})
		if !allowed {
			scope := "cluster-scoped"
			if ns != "" {
				scope = fmt.Sprintf("namespace %q", ns)
			}
			missing = append(missing, fmt.Sprintf("%s %s (%s)", req.verb, req.resource, scope))
		}
	}

	if len(missing) > 0 {
		return checks, errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("missing required permissions:\n  - %s", strings.Join(missing, "\n  - ")))
	}
	return checks, nil
}

func (k *Kube) checkPermission(ctx context.Context, group, resource, verb, namespace string) (bool, string, error) {
	review := &authv1.SelfSubjectAccessReview{
		Spec: authv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authv1.ResourceAttributes{
				Group:     group,
				Verb:      verb,
				Resource:  resource,
				Namespace: namespace,
			},
		},
	}
	result, err := k.client.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return false, "", err
	}
	return result.Status.Allowed, result.Status.Reason, nil
}
