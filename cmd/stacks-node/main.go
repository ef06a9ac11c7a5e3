// Copyright 2024 The stacks-blockchain-go Authors
// This file is part of the stacks-blockchain-go library.
//
// The stacks-blockchain-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The stacks-blockchain-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the stacks-blockchain-go library. If not, see <http://www.gnu.org/licenses/>.

// Command stacks-node runs a single-leader anchored-block lifecycle engine:
// staging, appending, mining, and relaying, wired against the devnet
// collaborators in devnet.go. See run.go for the wiring itself.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/blockstack/stacks-blockchain-go/internal/config"
)

var app = &cli.App{
	Name:                 "stacks-node",
	Usage:                "anchored-block lifecycle engine for a single-leader devnet",
	HideVersion:          true,
	Copyright:            "Copyright 2024 The stacks-blockchain-go Authors",
	Flags:                config.Flags,
	Action:               runNode,
	EnableBashCompletion: true,
}

func init() {
	app.Before = func(ctx *cli.Context) error {
		// Container-quota-aware GOMAXPROCS rather than runtime.NumCPU();
		// the host may be cgroup-limited to fewer cores than it reports.
		if _, err := maxprocs.Set(); err != nil {
			return fmt.Errorf("set GOMAXPROCS: %w", err)
		}
		// Anchored-block and microblock replay causes bursty allocation;
		// this keeps the collector from overallocating during a tenure.
		debug.SetGCPercent(20)
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
