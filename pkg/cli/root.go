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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/fleet-ledger/pkg/logging"
)

const (
	name           = "fleet"
	versionDefault = "dev"
)

var (
	// overridden during build with ldflags
	version = versionDefault
	commit  = "unknown"
	date    = "unknown"
)

// Execute runs the fleet CLI with the process arguments and exits non-zero
// on error. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cli.Command {
	return &cli.Command{
		Name:                  name,
		Version:               fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		EnableShellCompletion: true,
		Usage:                 "Operate a fleet of GPU clusters through its resource ledger",
		Description: `fleet keeps a ledger of servers, their capacity and the pods placed on them.
Every command reads and writes the ledger named by --ledger, so the CLI and a
running fleetd can share one store (sqlite:// or redis:// for concurrent use).

Examples:
  fleet demo
  fleet servers list
  fleet pod create --server demo-gpu-1 --name trainer --cpus 4 --ram 16 --gpus 1 --wait
  fleet refresh --watch
  fleet servers list --format yaml --output cm://fleet-system/ledger`,
		Flags: []cli.Flag{
			ledgerFlag(),
			logLevelFlag(),
			kubeconfigFlag(),
			releaseOnFailureFlag(),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logging.SetDefaultStructuredLoggerWithLevel(name, version, cmd.String("log-level"))
			slog.Debug("starting", "name", name, "version", version, "commit", commit, "date", date)
			return ctx, exportKubeconfig(cmd)
		},
		Commands: []*cli.Command{
			serversCmd(),
			podCmd(),
			refreshCmd(),
			checkCmd(),
			demoCmd(),
		},
	}
}
