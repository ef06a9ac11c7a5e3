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

// Package config collects every knob the node's components take from the
// outside world: on-disk layout, timing, and logging. It is deliberately
// the only package in the tree that knows about both the CLI surface
// (urfave/cli/v2) and an on-disk settings file (YAML via gopkg.in/yaml.v3);
// every other chainstate package keeps taking its Config as a plain
// struct literal built by cmd/stacks-node from the value this package
// produces.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/appender"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/miner"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/pox"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/relay"
)

// Chunk-store sizing defaults. Neither bound is named by spec.md; both are
// this package's own engineering choice, scaled for a single-node testnet
// validator rather than a mainnet archival peer.
const (
	DefaultChunkStoreMaxMessageLen = 2 << 20  // 2 MiB, spec.md's MAX_MESSAGE_LEN headroom
	DefaultChunkStoreCacheBytes    = 64 << 20 // 64 MiB of hot chunk bytes held in RAM
)

// DefaultRelayerQueueCapacity bounds the relayer's directive queue
// (relay.Config.QueueCapacity); spec.md §5 only requires the queue be
// bounded, not a specific depth.
const DefaultRelayerQueueCapacity = 100

// Logging defaults.
const (
	DefaultLogLevel      = "info"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 7
	DefaultLogMaxAgeDays = 28
)

// Config is the fully-resolved configuration for one stacks-node process.
// Every field has a YAML tag so LoadFile can unmarshal a settings file
// directly into it; FromCLI overlays any explicitly-set flag on top.
type Config struct {
	// DataDir is the root directory for all on-disk state. Every other
	// *Path/*Dir field below defaults to somewhere under it.
	DataDir string `yaml:"data_dir"`

	StagingDBPath  string `yaml:"staging_db_path"`
	ChunkStoreDir  string `yaml:"chunk_store_dir"`
	BurnFeeFile    string `yaml:"burn_fee_file"`
	VRFKeyFile     string `yaml:"vrf_key_file"`

	ChunkStoreMaxMessageLen int `yaml:"chunk_store_max_message_len"`
	ChunkStoreCacheBytes    int `yaml:"chunk_store_cache_bytes"`

	RelayerQueueCapacity int `yaml:"relayer_queue_capacity"`

	MicroblockFrequency time.Duration `yaml:"microblock_frequency"`
	PollTimeout         time.Duration `yaml:"poll_timeout"`

	CoinbaseMaturity        uint64 `yaml:"coinbase_maturity"`
	InitialMiningBonusWindow uint64 `yaml:"initial_mining_bonus_window"`

	Mining bool `yaml:"mining"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
	LogJSON       bool   `yaml:"log_json"`
}

// Default returns a Config usable as-is for a single-node devnet: every
// path rooted under ./stacks-node-data, mining disabled, info-level
// logging to the terminal only.
func Default() *Config {
	dataDir := "./stacks-node-data"
	return &Config{
		DataDir:       dataDir,
		StagingDBPath: filepath.Join(dataDir, "staging.sqlite"),
		ChunkStoreDir: filepath.Join(dataDir, "chunks"),
		BurnFeeFile:   filepath.Join(dataDir, "burn-fee.txt"),
		VRFKeyFile:    filepath.Join(dataDir, "vrf.key"),

		ChunkStoreMaxMessageLen: DefaultChunkStoreMaxMessageLen,
		ChunkStoreCacheBytes:    DefaultChunkStoreCacheBytes,

		RelayerQueueCapacity: DefaultRelayerQueueCapacity,

		MicroblockFrequency: miner.DefaultMicroblockFrequency,
		PollTimeout:         miner.DefaultPollTimeout,

		CoinbaseMaturity:         appender.DefaultMaturity,
		InitialMiningBonusWindow: pox.DefaultInitialMiningBonusWindow,

		Mining: false,

		MetricsAddr: ":6060",

		LogLevel:      DefaultLogLevel,
		LogMaxSizeMB:  DefaultLogMaxSizeMB,
		LogMaxBackups: DefaultLogMaxBackups,
		LogMaxAgeDays: DefaultLogMaxAgeDays,
	}
}

// rebase re-derives any path the caller left at its Default() value onto a
// newly-set DataDir, so "--datadir /mnt/stacks" alone relocates the whole
// layout without requiring four more flags.
func (c *Config) rebase(oldDataDir string) {
	if c.StagingDBPath == filepath.Join(oldDataDir, "staging.sqlite") {
		c.StagingDBPath = filepath.Join(c.DataDir, "staging.sqlite")
	}
	if c.ChunkStoreDir == filepath.Join(oldDataDir, "chunks") {
		c.ChunkStoreDir = filepath.Join(c.DataDir, "chunks")
	}
	if c.BurnFeeFile == filepath.Join(oldDataDir, "burn-fee.txt") {
		c.BurnFeeFile = filepath.Join(c.DataDir, "burn-fee.txt")
	}
	if c.VRFKeyFile == filepath.Join(oldDataDir, "vrf.key") {
		c.VRFKeyFile = filepath.Join(c.DataDir, "vrf.key")
	}
}

// Validate rejects a Config that would make the node misbehave rather
// than simply fail a component constructor with a less legible error.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.ChunkStoreMaxMessageLen <= 0 {
		return fmt.Errorf("config: chunk_store_max_message_len must be positive")
	}
	if c.ChunkStoreCacheBytes <= 0 {
		return fmt.Errorf("config: chunk_store_cache_bytes must be positive")
	}
	if c.RelayerQueueCapacity <= 0 {
		return fmt.Errorf("config: relayer_queue_capacity must be positive")
	}
	if c.MicroblockFrequency <= 0 {
		return fmt.Errorf("config: microblock_frequency must be positive")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("config: poll_timeout must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RelayConfig fills in the subset of relay.Config this package owns,
// leaving the collaborator fields (Staging, Chunks, Appender, ...) for
// cmd/stacks-node to wire once it has constructed them.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{QueueCapacity: c.RelayerQueueCapacity}
}
