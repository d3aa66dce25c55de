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

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/fleet"
	"github.com/NVIDIA/fleet-ledger/pkg/serializer"
)

func ledgerFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "ledger",
		Aliases: []string{"l"},
		Usage:   "Ledger URI: path, file://, sqlite:// or redis://host:port/db?key=name",
		Value:   defaults.LedgerPath,
		Sources: cli.EnvVars("FLEET_LEDGER"),
	}
}

func logLevelFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func kubeconfigFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "kubeconfig",
		Aliases: []string{"k"},
		Usage:   "Path to kubeconfig used for local servers and cm:// output",
		Sources: cli.EnvVars("KUBECONFIG"),
	}
}

func releaseOnFailureFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:    "release-on-failure",
		Usage:   "Give back the reservation of a failed or timed-out deployment",
		Sources: cli.EnvVars("FLEET_RELEASE_ON_FAILURE"),
	}
}

func outputFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output destination: file path, cm://namespace/name, or stdout when empty",
	}
}

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"t"},
		Usage:   fmt.Sprintf("Output format (supported values: %v)", serializer.SupportedFormats()),
		Value:   string(serializer.FormatTable),
		Sources: cli.EnvVars("FLEET_FORMAT"),
	}
}

// parseOutputFormat returns the --format value, rejecting unknown formats.
func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	f := serializer.Format(cmd.String("format"))
	if f.IsUnknown() {
		return "", fmt.Errorf("unknown output format: %q", f)
	}
	return f, nil
}

// writeOutput serializes v to --output, or to the root command's writer
// when no output is set.
func writeOutput(ctx context.Context, cmd *cli.Command, v any) error {
	format, err := parseOutputFormat(cmd)
	if err != nil {
		return err
	}

	var ser serializer.Serializer
	if path := cmd.String("output"); path != "" {
		ser = serializer.NewFileWriterOrStdout(format, path)
	} else {
		ser = serializer.NewWriter(format, cmd.Root().Writer)
	}
	defer func() {
		if err := ser.Close(); err != nil {
			slog.Warn("failed to close serializer", "error", err)
		}
	}()

	return ser.Serialize(ctx, v)
}

// withFleet opens the fleet named by the global flags, runs fn and closes
// the fleet. Close waits for deployments started by fn.
func withFleet(ctx context.Context, cmd *cli.Command, fn func(*fleet.Fleet) error) error {
	f, err := fleet.New(ctx, fleet.Options{
		Ledger:           cmd.String("ledger"),
		ReleaseOnFailure: cmd.Bool("release-on-failure"),
	})
	if err != nil {
		return err
	}

	runErr := fn(f)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaults.WaitTimeout)
	defer cancel()
	if err := f.Close(closeCtx); err != nil {
		slog.Warn("fleet did not close cleanly", "error", err)
	}
	return runErr
}

// exportKubeconfig makes an explicit --kubeconfig visible to client discovery.
func exportKubeconfig(cmd *cli.Command) error {
	path := cmd.String("kubeconfig")
	if path == "" || os.Getenv("KUBECONFIG") == path {
		return nil
	}
	return os.Setenv("KUBECONFIG", path)
}
