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

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/ptr"
)

// ensureNamespace creates ns if it does not exist.
func (k *Kube) ensureNamespace(ctx context.Context, ns string) error {
	_, err := k.client.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}
	_, err = k.client.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   ns,
			Labels: map[string]string{LabelManagedBy: managedByValue},
		},
	}, metav1.CreateOptions{})
	return ignoreAlreadyExists(err)
}

func (k *Kube) ensureDeployment(ctx context.Context, ns, name string, spec PodSpec) error {
	_, err := k.client.AppsV1().Deployments(ns).Create(ctx, buildDeployment(ns, name, spec), metav1.CreateOptions{})
	return err
}

func buildDeployment(ns, name string, spec PodSpec) *appsv1.Deployment {
	labels := map[string]string{
		LabelApp:       name,
		LabelManagedBy: managedByValue,
	}
	if spec.Owner != "" {
		labels[LabelOwner] = spec.Owner
	}

	container := corev1.Container{
		Name:  name,
		Image: spec.Image,
	}
	if requests := toResourceList(spec.Resources); len(requests) > 0 {
		container.Resources = corev1.ResourceRequirements{Requests: requests}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: ns,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas(spec.Replicas)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{LabelApp: name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}
}

func (k *Kube) deleteDeployment(ctx context.Context, ns, name string) error {
	return k.client.AppsV1().Deployments(ns).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationForeground),
	})
}

func (k *Kube) deleteNamespace(ctx context.Context, ns string) error {
	return k.client.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationForeground),
	})
}

// waitForNamespaceDeletion polls until ns is gone.
func (k *Kube) waitForNamespaceDeletion(ctx context.Context, ns string) error {
	return wait.PollUntilContextTimeout(ctx, defaults.NamespaceDeletePoll, defaults.NamespaceDeleteTimeout, true,
		func(ctx context.Context) (bool, error) {
			_, err := k.client.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
			if apierrors.IsNotFound(err) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			return false, nil
		},
	)
}

// ignoreAlreadyExists makes creation idempotent.
func ignoreAlreadyExists(err error) error {
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// ignoreNotFound makes deletion idempotent.
func ignoreNotFound(err error) error {
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
