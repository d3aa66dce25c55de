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

package client

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Interface is an alias for kubernetes.Interface so callers can pass
// fake.NewClientset() in tests.
type Interface = kubernetes.Interface

// Connection methods understood by BuildConfig.
const (
	MethodKubeconfig = "kubeconfig"
	MethodToken      = "token"
	MethodLocal      = "local"
	MethodInCluster  = "incluster"
)

const defaultAPIPort = 6443

var (
	clientOnce   sync.Once
	cachedClient *kubernetes.Clientset
	cachedConfig *rest.Config
	clientErr    error
)

// GetKubeClient returns a process-wide client built from automatic
// discovery, creating it on first call. Servers using the local connection
// method share it.
func GetKubeClient() (Interface, *rest.Config, error) {
	clientOnce.Do(func() {
		cachedClient, cachedConfig, clientErr = BuildKubeClient("")
	})
	return cachedClient, cachedConfig, clientErr
}

// BuildKubeClient creates a client from the given kubeconfig file. An empty
// path falls back to KUBECONFIG, then ~/.kube/config, then the in-cluster
// service account.
func BuildKubeClient(kubeconfig string) (*kubernetes.Clientset, *rest.Config, error) {
	config, err := discoverConfig(kubeconfig, "")
	if err != nil {
		return nil, nil, err
	}
	client, err := newClientset(config)
	if err != nil {
		return nil, nil, err
	}
	return client, config, nil
}

// BuildFromConnection creates a client for the cluster described by conn.
func BuildFromConnection(conn ledger.ConnectionInfo) (Interface, *rest.Config, error) {
	if conn.Method == MethodLocal {
		return GetKubeClient()
	}
	config, err := BuildConfig(conn)
	if err != nil {
		return nil, nil, err
	}
	client, err := newClientset(config)
	if err != nil {
		return nil, nil, err
	}
	return client, config, nil
}

// BuildConfig resolves conn into a rest.Config:
//   - kubeconfig: inline kubeconfig_data first, then kubeconfig_path, then discovery
//   - token: https://host:port with a bearer token
//   - incluster: the pod's service account
//
// Client QPS and burst are raised to the control plane defaults.
func BuildConfig(conn ledger.ConnectionInfo) (*rest.Config, error) {
	var (
		config *rest.Config
		err    error
	)

	switch conn.Method {
	case MethodKubeconfig, "":
		switch {
		case len(conn.KubeconfigData) > 0:
			config, err = configFromData(conn.KubeconfigData, conn.Context)
		case conn.KubeconfigPath != "":
			path := expandHome(conn.KubeconfigPath)
			if _, serr := os.Stat(path); serr != nil {
				return nil, fmt.Errorf("kubeconfig file not found: %s", path)
			}
			config, err = discoverConfig(path, conn.Context)
		default:
			config, err = discoverConfig("", conn.Context)
		}
	case MethodToken:
		config, err = configFromToken(conn)
	case MethodInCluster:
		config, err = rest.InClusterConfig()
		if err != nil {
			err = fmt.Errorf("failed to get in-cluster config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported connection method %q", conn.Method)
	}
	if err != nil {
		return nil, err
	}

	if conn.InsecureSkipTLSVerify {
		config.Insecure = true
		config.CAData = nil
		config.CAFile = ""
	}
	config.QPS = defaults.KubeClientQPS
	config.Burst = defaults.KubeClientBurst
	config.Timeout = defaults.ProviderCallTimeout
	return config, nil
}

func discoverConfig(kubeconfig, context string) (*rest.Config, error) {
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")

		if kubeconfig == "" {
			kubeconfig = filepath.Join(homedir.HomeDir(), ".kube", "config")
			if _, err := os.Stat(kubeconfig); os.IsNotExist(err) {
				kubeconfig = ""
			}
		}
	}

	// InClusterConfig directly avoids the "Neither --kubeconfig nor --master" warning.
	if kubeconfig == "" {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
		return config, nil
	}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
		&clientcmd.ConfigOverrides{CurrentContext: context},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build kube config from %s: %w", kubeconfig, err)
	}
	return config, nil
}

// configFromData loads a kubeconfig held as a decoded document. JSON is valid
// kubeconfig input, so the map is re-encoded as JSON and parsed by clientcmd.
func configFromData(data map[string]any, context string) (*rest.Config, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode kubeconfig data: %w", err)
	}
	apiConfig, err := clientcmd.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig data: %w", err)
	}
	config, err := clientcmd.NewDefaultClientConfig(*apiConfig,
		&clientcmd.ConfigOverrides{CurrentContext: context}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build kube config from kubeconfig data: %w", err)
	}
	return config, nil
}

func configFromToken(conn ledger.ConnectionInfo) (*rest.Config, error) {
	if conn.Host == "" || conn.Token == "" {
		return nil, fmt.Errorf("token connection requires host and token")
	}
	port := conn.Port
	if port == 0 {
		port = defaultAPIPort
	}
	return &rest.Config{
		Host:        "https://" + net.JoinHostPort(conn.Host, strconv.Itoa(port)),
		BearerToken: conn.Token,
	}, nil
}

func newClientset(config *rest.Config) (*kubernetes.Clientset, error) {
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}

func expandHome(path string) string {
	if path == "~" {
		return homedir.HomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homedir.HomeDir(), path[2:])
	}
	return path
}
