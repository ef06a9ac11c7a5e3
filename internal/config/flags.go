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

package config

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to a YAML settings file, merged under any flags given on the command line",
	}
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for staging DB, chunk store, and key material",
	}
	StagingDBPathFlag = &cli.StringFlag{
		Name:  "staging-db",
		Usage: "Path to the staging SQLite database",
	}
	ChunkStoreDirFlag = &cli.StringFlag{
		Name:  "chunk-dir",
		Usage: "Directory holding raw block and microblock chunks",
	}
	BurnFeeFileFlag = &cli.StringFlag{
		Name:  "burn-fee-file",
		Usage: "Path to the operator-maintained burn fee file",
	}
	VRFKeyFileFlag = &cli.StringFlag{
		Name:  "vrf-key-file",
		Usage: "Path to this node's persisted VRF keypair",
	}
	MicroblockFrequencyFlag = &cli.DurationFlag{
		Name:  "microblock-frequency",
		Usage: "Minimum spacing between locally mined microblocks",
	}
	PollTimeoutFlag = &cli.DurationFlag{
		Name:  "poll-timeout",
		Usage: "Upper bound on the peer thread's idle suspension",
	}
	MiningFlag = &cli.BoolFlag{
		Name:  "mine",
		Usage: "Register a VRF key and participate in sortition",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "Listen address for the Prometheus /metrics endpoint (empty disables it)",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level: trace, debug, info, warn, error, crit",
	}
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Also write logs to this rotating file",
	}
	LogJSONFlag = &cli.BoolFlag{
		Name:  "log-json",
		Usage: "Write the log file as JSON lines instead of plain text",
	}
)

// Flags is the full flag set cmd/stacks-node registers on its cli.App.
var Flags = []cli.Flag{
	ConfigFileFlag,
	DataDirFlag,
	StagingDBPathFlag,
	ChunkStoreDirFlag,
	BurnFeeFileFlag,
	VRFKeyFileFlag,
	MicroblockFrequencyFlag,
	PollTimeoutFlag,
	MiningFlag,
	MetricsAddrFlag,
	LogLevelFlag,
	LogFileFlag,
	LogJSONFlag,
}

// FromCLI resolves a Config from a cli.Context: Default() as the base,
// overlaid by an optional --config YAML file, overlaid in turn by any
// flag the caller actually set on the command line.
func FromCLI(ctx *cli.Context) (*Config, error) {
	cfg := Default()

	if path := ctx.String(ConfigFileFlag.Name); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if ctx.IsSet(DataDirFlag.Name) {
		oldDataDir := cfg.DataDir
		cfg.DataDir = ctx.String(DataDirFlag.Name)
		cfg.rebase(oldDataDir)
	}
	if ctx.IsSet(StagingDBPathFlag.Name) {
		cfg.StagingDBPath = ctx.String(StagingDBPathFlag.Name)
	}
	if ctx.IsSet(ChunkStoreDirFlag.Name) {
		cfg.ChunkStoreDir = ctx.String(ChunkStoreDirFlag.Name)
	}
	if ctx.IsSet(BurnFeeFileFlag.Name) {
		cfg.BurnFeeFile = ctx.String(BurnFeeFileFlag.Name)
	}
	if ctx.IsSet(VRFKeyFileFlag.Name) {
		cfg.VRFKeyFile = ctx.String(VRFKeyFileFlag.Name)
	}
	if ctx.IsSet(MicroblockFrequencyFlag.Name) {
		cfg.MicroblockFrequency = ctx.Duration(MicroblockFrequencyFlag.Name)
	}
	if ctx.IsSet(PollTimeoutFlag.Name) {
		cfg.PollTimeout = ctx.Duration(PollTimeoutFlag.Name)
	}
	if ctx.IsSet(MiningFlag.Name) {
		cfg.Mining = ctx.Bool(MiningFlag.Name)
	}
	if ctx.IsSet(MetricsAddrFlag.Name) {
		cfg.MetricsAddr = ctx.String(MetricsAddrFlag.Name)
	}
	if ctx.IsSet(LogLevelFlag.Name) {
		cfg.LogLevel = ctx.String(LogLevelFlag.Name)
	}
	if ctx.IsSet(LogFileFlag.Name) {
		cfg.LogFile = ctx.String(LogFileFlag.Name)
	}
	if ctx.IsSet(LogJSONFlag.Name) {
		cfg.LogJSON = ctx.Bool(LogJSONFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
