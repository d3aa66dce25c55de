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
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/fleet-ledger/pkg/fleet"
	"github.com/NVIDIA/fleet-ledger/pkg/k8s/client"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/serializer"
)

func serversCmd() *cli.Command {
	return &cli.Command{
		Name:    "servers",
		Aliases: []string{"server"},
		Usage:   "List and configure the servers in the ledger",
		Commands: []*cli.Command{
			serversListCmd(),
			serversAddCmd(),
			serversRemoveCmd(),
			serversVerifyCmd(),
		},
	}
}

func serversListCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List servers as recorded in the ledger",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "pods",
				Usage: "List the pods of every server instead of the servers",
			},
			outputFlag(),
			formatFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				servers, err := f.ListServers(ctx)
				if err != nil {
					return err
				}
				if cmd.Bool("pods") {
					return writeOutput(ctx, cmd, podTable(servers))
				}
				return writeOutput(ctx, cmd, serverTable(servers))
			})
		},
	}
}

func serversAddCmd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add or replace a server definition",
		Description: `Reads the definition from --file (JSON or YAML, "-" for stdin) or builds it
from flags. Totals given without availability start fully available.

Examples:
  fleet servers add --file gpu-1.yaml
  fleet servers add --id lab --type kubernetes --kubeconfig-path ~/.kube/lab --gpus 8
  fleet servers add --id sim --type mock --cpus 64 --ram 256 --gpus 8`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Server definition file",
			},
			&cli.StringFlag{Name: "id", Usage: "Server id"},
			&cli.StringFlag{Name: "name", Usage: "Display name (defaults to the id)"},
			&cli.StringFlag{Name: "type", Usage: "Backend: kubernetes, mock, demo", Value: "kubernetes"},
			&cli.StringFlag{Name: "environment", Usage: "Free-form environment label"},
			&cli.StringFlag{
				Name:  "method",
				Usage: fmt.Sprintf("Connection method (%s, %s, %s, %s)", client.MethodKubeconfig, client.MethodToken, client.MethodLocal, client.MethodInCluster),
			},
			&cli.StringFlag{Name: "kubeconfig-path", Usage: "Kubeconfig file of the server's cluster"},
			&cli.StringFlag{Name: "context", Usage: "Kubeconfig context"},
			&cli.StringFlag{Name: "host", Usage: "API server host for token auth"},
			&cli.StringFlag{Name: "token", Usage: "Bearer token for token auth"},
			&cli.BoolFlag{Name: "dummy", Usage: "Record the server without connecting to it"},
			outputFlag(),
			formatFlag(),
		}, resourceFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			server, err := serverFromCmd(cmd)
			if err != nil {
				return err
			}
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				if err := f.ConfigureServer(ctx, server); err != nil {
					return err
				}
				configured, err := f.Server(ctx, server.ID)
				if err != nil {
					return err
				}
				return writeOutput(ctx, cmd, serverTable{configured})
			})
		},
	}
}

func serverFromCmd(cmd *cli.Command) (ledger.Server, error) {
	if path := cmd.String("file"); path != "" {
		s, err := serializer.FromFile[ledger.Server](path)
		if err != nil {
			return ledger.Server{}, fmt.Errorf("failed to load server definition from %q: %w", path, err)
		}
		return *s, nil
	}

	if cmd.String("id") == "" {
		return ledger.Server{}, fmt.Errorf("either --file or --id is required")
	}
	return ledger.Server{
		ID:          cmd.String("id"),
		Name:        cmd.String("name"),
		Type:        cmd.String("type"),
		Environment: cmd.String("environment"),
		Connection: ledger.ConnectionInfo{
			Method:         cmd.String("method"),
			KubeconfigPath: cmd.String("kubeconfig-path"),
			Context:        cmd.String("context"),
			Host:           cmd.String("host"),
			Token:          cmd.String("token"),
			IsDummy:        cmd.Bool("dummy"),
		},
		Resources: ledger.Resources{Total: resourcesFromCmd(cmd, nil)},
	}, nil
}

func serversRemoveCmd() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Remove a server and its pods from the ledger",
		ArgsUsage: "<server-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireArg(cmd, "server id")
			if err != nil {
				return err
			}
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				if err := f.DeconfigureServer(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "server %s removed\n", id)
				return nil
			})
		},
	}
}

func serversVerifyCmd() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check that a server's credentials allow every call fleet makes",
		ArgsUsage: "<server-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "namespace",
				Usage: "Namespace to check namespaced permissions in",
				Value: "default",
			},
			outputFlag(),
			formatFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := requireArg(cmd, "server id")
			if err != nil {
				return err
			}
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				checks, err := f.VerifyServer(ctx, id, cmd.String("namespace"))
				if err != nil {
					return err
				}
				if err := writeOutput(ctx, cmd, permissionTable(checks)); err != nil {
					return err
				}
				for _, c := range checks {
					if !c.Allowed {
						return fmt.Errorf("server %s is missing permissions", id)
					}
				}
				return nil
			})
		},
	}
}

func requireArg(cmd *cli.Command, what string) (string, error) {
	v := cmd.Args().First()
	if v == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return v, nil
}
