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
	"log/slog"
	"strings"
	"time"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/k8s/node"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

const (
	LabelApp       = "app"
	LabelOwner     = "owner"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	managedByValue = "fleet-ledger"

	DefaultNamespace = "default"
)

// systemNamespaces are skipped when listing workload pods.
var systemNamespaces = map[string]bool{
	"kube-system": true,
	"default":     true,
}

// protectedNamespaces are never deleted.
var protectedNamespaces = map[string]bool{
	"default":     true,
	"kube-system": true,
	"kube-public": true,
}

// Kube is the live backend for a Kubernetes cluster.
type Kube struct {
	serverID string
	client   kubernetes.Interface
	metrics  metricsclient.Interface
}

// NewKube returns a live provider. metrics may be nil when the cluster has
// no metrics-server; actual usage is then reported as zero.
func NewKube(serverID string, client kubernetes.Interface, metrics metricsclient.Interface) *Kube {
	return &Kube{serverID: serverID, client: client, metrics: metrics}
}

// CreatePod creates (or finds) the namespace and a Deployment named after
// the pod id, labelled app=<pod id>. It does not wait for readiness.
func (k *Kube) CreatePod(ctx context.Context, spec PodSpec) (Result, error) {
	name := deploymentName(spec.PodID)
	ns := spec.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	if ns != DefaultNamespace {
		if err := k.ensureNamespace(ctx, ns); err != nil {
			return failure(fmt.Sprintf("Failed to create namespace %s: %v", ns, err)), classify(err, "create namespace")
		}
	}

	err := ignoreAlreadyExists(k.ensureDeployment(ctx, ns, name, spec))
	if err != nil {
		return failure(fmt.Sprintf("Kubernetes API error: %v", err)), classify(err, "create deployment")
	}

	slog.Info("deployment created",
		"server", k.serverID,
		"namespace", ns,
		"deployment", name,
		"replicas", replicas(spec.Replicas))

	return success(fmt.Sprintf("Deployment %s created with %d replicas in namespace %s",
		name, replicas(spec.Replicas), ns)), nil
}

// DeletePod removes the pod's namespace and waits for it to disappear.
// Protected namespaces are left in place and only the Deployment is removed.
func (k *Kube) DeletePod(ctx context.Context, ref PodRef) (Result, error) {
	ns := ref.Namespace
	if ns == "" {
		return failure("Namespace is required to delete."), errors.New(errors.ErrCodeInvalidRequest, "namespace is required to delete")
	}

	if protectedNamespaces[ns] {
		name := deploymentName(firstNonEmpty(ref.PodID, ref.Name))
		if err := ignoreNotFound(k.deleteDeployment(ctx, ns, name)); err != nil {
			return failure(fmt.Sprintf("Failed to delete deployment: %v", err)), classify(err, "delete deployment")
		}
		return success(fmt.Sprintf("Deployment %s deleted from protected namespace %s", name, ns)), nil
	}

	if _, err := k.client.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return success(fmt.Sprintf("Namespace %s was already deleted", ns)), nil
		}
		return failure(fmt.Sprintf("Error reading namespace: %v", err)), classify(err, "read namespace")
	}

	if err := ignoreNotFound(k.deleteNamespace(ctx, ns)); err != nil {
		return failure(fmt.Sprintf("Failed to delete namespace: %v", err)), classify(err, "delete namespace")
	}

	if err := k.waitForNamespaceDeletion(ctx, ns); err != nil {
		msg := fmt.Sprintf("Namespace %s deletion did not complete within %s", ns, defaults.NamespaceDeleteTimeout)
		return failure(msg), errors.Wrap(errors.ErrCodeTimeout, msg, err)
	}

	slog.Info("namespace deleted", "server", k.serverID, "namespace", ns)
	return success(fmt.Sprintf("Namespace %s deleted", ns)), nil
}

// AvailableResources sums allocatable capacity over all nodes and subtracts
// the requests (or limits) of every pod, system pods included.
func (k *Kube) AvailableResources(ctx context.Context) (ledger.ResourceMap, error) {
	nodes, err := node.List(ctx, k.client, node.ListOptions{})
	if err != nil {
		return nil, classify(err, "list nodes")
	}
	pods, err := k.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify(err, "list pods")
	}

	alloc := newMilliTotals()
	for _, n := range nodes {
		alloc.add(n.Status.Allocatable)
	}
	used := newMilliTotals()
	for i := range pods.Items {
		for _, c := range pods.Items[i].Spec.Containers {
			used.add(containerDemand(c))
		}
	}
	return alloc.minus(used), nil
}

// Nodes lists nodes with capacity, and allocatable minus pod demand as available.
func (k *Kube) Nodes(ctx context.Context) ([]Node, error) {
	views, nodes, err := k.nodeViews(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(nodes))
	for i, n := range nodes {
		out = append(out, Node{
			Name:      n.Name,
			Role:      node.ParseNodeRole(n),
			IP:        node.Address(n),
			Ready:     node.IsReady(n),
			Age:       node.FormatAge(n.CreationTimestamp.Time),
			Resources: views[i].Resources,
		})
	}
	return out, nil
}

// Pods lists workload pods outside kube-system and default.
func (k *Kube) Pods(ctx context.Context) ([]ledger.Pod, error) {
	list, err := k.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify(err, "list pods")
	}
	out := make([]ledger.Pod, 0, len(list.Items))
	for i := range list.Items {
		if p, ok := k.ledgerPod(&list.Items[i]); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// ServersWithPods returns one view per node. Pods that are not yet
// scheduled are not attached to any node.
func (k *Kube) ServersWithPods(ctx context.Context) ([]ServerView, error) {
	views, _, err := k.nodeViews(ctx)
	return views, err
}

// PodState aggregates the phases of the pods labelled app=<deployment name>.
func (k *Kube) PodState(ctx context.Context, ref PodRef) (PodState, error) {
	ns := ref.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	name := deploymentName(firstNonEmpty(ref.PodID, ref.Name))

	list, err := k.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", LabelApp, name),
	})
	if err != nil {
		return PodState{}, classify(err, "list pods")
	}

	state := PodState{Pods: len(list.Items)}
	phases := make([]string, 0, len(list.Items))
	for i := range list.Items {
		phases = append(phases, string(list.Items[i].Status.Phase))
	}
	state.Phase = AggregatePhase(phases)
	if len(list.Items) > 0 {
		state.PodIP = list.Items[0].Status.PodIP
	}
	return state, nil
}

func (k *Kube) nodeViews(ctx context.Context) ([]ServerView, []*corev1.Node, error) {
	nodes, err := node.List(ctx, k.client, node.ListOptions{})
	if err != nil {
		return nil, nil, classify(err, "list nodes")
	}
	pods, err := k.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, nil, classify(err, "list pods")
	}
	usage := k.nodeUsage(ctx)

	views := make([]ServerView, len(nodes))
	demand := make(map[string]*milliTotals, len(nodes))
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.Name] = i
		demand[n.Name] = newMilliTotals()
		status := "offline"
		if node.IsReady(n) {
			status = "online"
		}
		views[i] = ServerView{
			ID:     n.Name,
			Name:   n.Name,
			IP:     node.Address(n),
			Status: status,
			Pods:   []ledger.Pod{},
		}
	}

	for i := range pods.Items {
		p := &pods.Items[i]
		d, ok := demand[p.Spec.NodeName]
		if !ok {
			continue
		}
		for _, c := range p.Spec.Containers {
			d.add(containerDemand(c))
		}
		if lp, ok := k.ledgerPod(p); ok {
			views[index[p.Spec.NodeName]].Pods = append(views[index[p.Spec.NodeName]].Pods, lp)
		}
	}

	for i, n := range nodes {
		alloc := newMilliTotals()
		alloc.add(n.Status.Allocatable)
		total := fromResourceList(n.Status.Capacity)
		available := alloc.minus(demand[n.Name])
		allocated := ledger.NewResourceMap()
		for _, kind := range ledger.Kinds {
			allocated[kind] = max(0, total[kind]-available[kind])
		}
		actual := usage[n.Name]
		if actual == nil {
			actual = ledger.NewResourceMap()
		}
		views[i].Resources = ledger.Resources{
			Total:       total,
			Allocated:   allocated,
			Available:   available,
			ActualUsage: actual,
		}
	}
	return views, nodes, nil
}

// nodeUsage reads node usage from metrics.k8s.io. Any failure degrades to
// no usage data.
func (k *Kube) nodeUsage(ctx context.Context) map[string]ledger.ResourceMap {
	out := map[string]ledger.ResourceMap{}
	if k.metrics == nil {
		return out
	}
	list, err := k.metrics.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{})
	if err != nil {
		slog.Debug("node metrics unavailable", "server", k.serverID, "error", err)
		return out
	}
	for _, m := range list.Items {
		out[m.Name] = fromResourceList(m.Usage)
	}
	return out
}

func (k *Kube) ledgerPod(p *corev1.Pod) (ledger.Pod, bool) {
	if systemNamespaces[p.Namespace] {
		return ledger.Pod{}, false
	}
	id := p.Name
	if app := p.Labels[LabelApp]; app != "" {
		id = app
	}
	owner := p.Labels[LabelOwner]
	if owner == "" {
		owner = "unknown"
	}
	image := "unknown"
	if len(p.Spec.Containers) > 0 {
		image = p.Spec.Containers[0].Image
	}
	ts := p.CreationTimestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return ledger.Pod{
		PodID:     id,
		Name:      p.Name,
		Namespace: p.Namespace,
		ServerID:  k.serverID,
		ImageURL:  image,
		Requested: podRequests(p),
		Owner:     owner,
		Status:    StatusFromPhase(string(p.Status.Phase)),
		Timestamp: ts.UTC().Format(time.RFC3339),
		PodIP:     p.Status.PodIP,
	}, true
}

// deploymentName is the pod id, or a generated name when there is none.
func deploymentName(podID string) string {
	if podID != "" {
		return podID
	}
	return "deployment-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func replicas(n int32) int32 {
	if n <= 0 {
		return 1
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// classify maps a Kubernetes client error to the control plane taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := "kubernetes " + op + " failed"
	switch {
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return errors.Wrap(errors.ErrCodeUnauthorized, msg, err)
	case apierrors.IsNotFound(err):
		return errors.Wrap(errors.ErrCodeNotFound, msg, err)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return errors.Wrap(errors.ErrCodeDeploymentFailed, msg, err)
	default:
		return errors.Wrap(errors.ErrCodeProviderUnavailable, msg, err)
	}
}
