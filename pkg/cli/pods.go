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

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/deploy"
	"github.com/NVIDIA/fleet-ledger/pkg/fleet"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
)

var resourceFlagKinds = []struct {
	flag  string
	kind  ledger.ResourceKind
	usage string
}{
	{"cpus", ledger.CPUs, "CPU cores"},
	{"ram", ledger.RAMGB, "Memory in GB"},
	{"gpus", ledger.GPUs, "GPUs"},
	{"storage", ledger.StorageGB, "Ephemeral storage in GB"},
}

func resourceFlags() []cli.Flag {
	flags := make([]cli.Flag, 0, len(resourceFlagKinds))
	for _, r := range resourceFlagKinds {
		flags = append(flags, &cli.IntFlag{Name: r.flag, Usage: r.usage})
	}
	return flags
}

// resourcesFromCmd returns base with every resource flag that was set
// applied on top.
func resourcesFromCmd(cmd *cli.Command, base ledger.ResourceMap) ledger.ResourceMap {
	out := base.Clone()
	if out == nil {
		out = ledger.ResourceMap{}
	}
	for _, r := range resourceFlagKinds {
		if cmd.IsSet(r.flag) {
			out[r.kind] = int64(cmd.Int(r.flag))
		}
	}
	return out
}

func serverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "server",
		Aliases:  []string{"s"},
		Usage:    "Server id",
		Required: true,
	}
}

func podCmd() *cli.Command {
	return &cli.Command{
		Name:    "pod",
		Aliases: []string{"pods"},
		Usage:   "Create, inspect, resize and delete pods",
		Commands: []*cli.Command{
			podCreateCmd(),
			podStatusCmd(),
			podUpdateCmd(),
			podDeleteCmd(),
		},
	}
}

func podCreateCmd() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Reserve resources and deploy a pod",
		Description: `Records the pod as pending, reserves its resources and deploys it in the
background. With --wait the command prints the final deployment status;
otherwise it prints the accepted pod id. The command does not exit before
the deployment task ends either way.`,
		Flags: append([]cli.Flag{
			serverFlag(),
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Pod name", Required: true},
			&cli.StringFlag{Name: "image", Usage: "Container image", Value: deploy.DefaultImage},
			&cli.StringFlag{Name: "namespace", Usage: "Namespace (defaults to <pod-id>-ns)"},
			&cli.StringFlag{Name: "owner", Usage: "Owner recorded on the pod", Sources: cli.EnvVars("USER")},
			&cli.IntFlag{Name: "replicas", Usage: "Replica count", Value: 1},
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for a terminal status"},
			&cli.DurationFlag{Name: "timeout", Usage: "How long --wait waits", Value: defaults.WaitTimeout},
			outputFlag(),
			formatFlag(),
		}, resourceFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			req := deploy.Request{
				Name:      cmd.String("name"),
				Namespace: cmd.String("namespace"),
				Image:     cmd.String("image"),
				Owner:     cmd.String("owner"),
				Replicas:  int32(cmd.Int("replicas")),
				Resources: resourcesFromCmd(cmd, nil),
			}
			serverID := cmd.String("server")

			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				accepted, err := f.CreatePod(ctx, serverID, req)
				if err != nil {
					return err
				}
				if !cmd.Bool("wait") {
					return writeOutput(ctx, cmd, accepted)
				}

				waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
				defer cancel()
				report, err := f.WaitForDeployment(waitCtx, serverID, accepted.PodID)
				if err != nil {
					return fmt.Errorf("waiting for pod %s: %w", accepted.PodID, err)
				}
				if err := writeOutput(ctx, cmd, report); err != nil {
					return err
				}
				if report.Status != ledger.StatusOnline {
					return fmt.Errorf("pod %s finished %s: %s", report.PodID, report.Status, report.Message)
				}
				return nil
			})
		},
	}
}

func podStatusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the deployment status of a pod",
		ArgsUsage: "<pod-id>",
		Flags: []cli.Flag{
			serverFlag(),
			outputFlag(),
			formatFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			podID, err := requireArg(cmd, "pod id")
			if err != nil {
				return err
			}
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				report, err := f.DeploymentStatus(ctx, cmd.String("server"), podID)
				if err != nil {
					return err
				}
				return writeOutput(ctx, cmd, report)
			})
		},
	}
}

func podUpdateCmd() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Resize the reservation of a pod",
		ArgsUsage: "<pod-id>",
		Description: `Only the resources named by flags change; the others keep their current
request. The cluster workload is not modified.`,
		Flags: append([]cli.Flag{
			serverFlag(),
			outputFlag(),
			formatFlag(),
		}, resourceFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			podID, err := requireArg(cmd, "pod id")
			if err != nil {
				return err
			}
			serverID := cmd.String("server")
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				current, err := f.DeploymentStatus(ctx, serverID, podID)
				if err != nil {
					return err
				}
				report, err := f.UpdatePod(ctx, serverID, podID, resourcesFromCmd(cmd, current.Requested))
				if err != nil {
					return err
				}
				return writeOutput(ctx, cmd, report)
			})
		},
	}
}

func podDeleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a pod from its cluster and release its resources",
		ArgsUsage: "<pod-name-or-id>",
		Flags: []cli.Flag{
			serverFlag(),
			outputFlag(),
			formatFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pod, err := requireArg(cmd, "pod name")
			if err != nil {
				return err
			}
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				res, err := f.DeletePod(ctx, cmd.String("server"), pod)
				if err != nil {
					return err
				}
				return writeOutput(ctx, cmd, res)
			})
		},
	}
}
