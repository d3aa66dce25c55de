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
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"github.com/NVIDIA/fleet-ledger/pkg/fleet"
	"github.com/NVIDIA/fleet-ledger/pkg/poll"
)

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Pull live cluster state into the ledger",
		Description: `Refreshes one server (--server) or all of them. With --watch the refresh
repeats every --interval until interrupted or --count refreshes have run.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "Refresh only this server"},
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Keep refreshing"},
			&cli.DurationFlag{Name: "interval", Usage: "Pause between refreshes with --watch", Value: defaults.WatchInterval},
			&cli.IntFlag{Name: "count", Usage: "Stop --watch after this many refreshes (0 runs until interrupted)"},
			outputFlag(),
			formatFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				once := func(ctx context.Context) error {
					if id := cmd.String("server"); id != "" {
						s, err := f.RefreshServer(ctx, id)
						if err != nil {
							return err
						}
						return writeOutput(ctx, cmd, serverTable{s})
					}
					summary, err := f.RefreshAll(ctx)
					if err != nil {
						return err
					}
					return writeOutput(ctx, cmd, summary)
				}

				if !cmd.Bool("watch") {
					return once(ctx)
				}
				return watch(ctx, clock.RealClock{}, cmd.Duration("interval"), cmd.Int("count"), once)
			})
		},
	}
}

// watch runs fn every interval until ctx ends or count runs have completed.
// Failed runs are logged and retried on the next tick.
func watch(ctx context.Context, clk clock.Clock, interval time.Duration, count int, fn func(context.Context) error) error {
	runs := 0
	err := poll.Every(ctx, clk, func(ctx context.Context) time.Duration {
		if err := fn(ctx); err != nil {
			slog.Error("refresh failed", "error", err)
		}
		runs++
		if count > 0 && runs >= count {
			return 0
		}
		return interval
	})
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Verify that ledger totals, availability and pod requests add up",
		Flags: []cli.Flag{
			outputFlag(),
			formatFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				issues, err := f.ConsistencyCheck(ctx)
				if err != nil {
					return err
				}
				if len(issues) == 0 {
					fmt.Fprintln(cmd.Root().Writer, "all data seems consistent")
					return nil
				}
				if err := writeOutput(ctx, cmd, issueTable(issues)); err != nil {
					return err
				}
				return fmt.Errorf("data inconsistency error: %d issue(s)", len(issues))
			})
		},
	}
}

func demoCmd() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Seed the ledger with in-memory demo servers",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withFleet(ctx, cmd, func(f *fleet.Fleet) error {
				n, err := f.SeedDemo(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "%d demo server(s) added\n", n)
				return nil
			})
		},
	}
}
