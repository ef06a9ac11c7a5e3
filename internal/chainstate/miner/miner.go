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

// Package miner implements C8: the opportunistic microblock miner of
// spec.md §4.8. It is colocated with the peer thread in the original
// architecture because it needs exclusive access to the same in-memory
// unconfirmed-state trie the peer's RPC surface reads; this engine treats
// that trie as the external UnconfirmedBuilder collaborator (spec.md §1)
// and only owns the standby/active state machine and staging bookkeeping
// around it.
package miner

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/relay"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/staging"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
	"github.com/blockstack/stacks-blockchain-go/log"
)

// DefaultMicroblockFrequency is the minimum spacing between two locally
// mined microblocks, spec.md §4.8 step 1's "microblock_frequency".
const DefaultMicroblockFrequency = 2500 * time.Millisecond

// DefaultPollTimeout bounds the miner's idle check interval; spec.md §5
// names the peer thread's own poll loop as "min(poll_timeout,
// microblock_frequency)", and this engine reuses that same bound for its
// own standalone ticker since it has no separate network poll loop to
// piggyback on.
const DefaultPollTimeout = 1 * time.Second

// UnconfirmedBuilder mines one microblock on top of the unconfirmed-state
// trie, drawing candidate transactions from the mempool (off-chain-only
// txs, per spec.md §4.8 step 2) and signing the header with signingKey.
// prevMicroblock is nil when this is the first microblock mined against a
// freshly adopted miner tip, in which case the builder sets
// Header.PrevBlock to parentBlockHash and Header.Sequence to 0.
type UnconfirmedBuilder interface {
	BuildMicroblock(parentBlockHash common.BlockHeaderHash, prevMicroblock *types.MicroblockHeader, sequence uint16, signingKey []byte) (types.Microblock, error)
}

// Config wires the miner's collaborators. A miner without MinerTip or
// Builder never mines and degrades to a no-op standby loop rather than
// panicking, since a node that never wins a sortition never needs this
// component armed. Without Staging it mines with no attachable-pending
// check and does not store what it mines; without Relayer it does not
// broadcast.
type Config struct {
	Staging             *staging.Store
	MinerTip            *relay.MinerTipCell
	Relayer             *relay.Relayer
	Builder             UnconfirmedBuilder
	MicroblockFrequency time.Duration
	PollTimeout         time.Duration
	Log                 log.Logger
}

// localState is the miner's in-progress unconfirmed tail for the current
// miner tip. A nil *Miner.state means standby. limiter enforces spec.md
// §4.8 step 1's "at least microblock_frequency ms elapsed since the last
// mined microblock" as a token bucket of burst 1, reset fresh for every
// newly adopted miner tip.
type localState struct {
	tip        relay.MinerTip
	lastHeader *types.MicroblockHeader
	limiter    *rate.Limiter
}

// Miner is C8's standby/active state machine. One Miner instance is meant
// to run in the same goroutine the peer thread's network poll loop would
// occupy; nothing here is safe to share across goroutines, matching
// spec.md §5's "only the peer thread mutates the unconfirmed-state trie"
// discipline.
type Miner struct {
	cfg   Config
	log   log.Logger
	state *localState
}

// New constructs a ready-to-run Miner.
func New(cfg Config) *Miner {
	l := cfg.Log
	if l == nil {
		l = log.New("component", "miner")
	}
	return &Miner{cfg: cfg, log: l}
}

// Run ticks until stop is closed, attempting one mining iteration per
// tick. The tick period is min(PollTimeout, MicroblockFrequency), per
// spec.md §5's suspension-point bound.
func (m *Miner) Run(stop <-chan struct{}) {
	freq := m.cfg.MicroblockFrequency
	if freq <= 0 {
		freq = DefaultMicroblockFrequency
	}
	pollTimeout := m.cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	tick := freq
	if pollTimeout < tick {
		tick = pollTimeout
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.iterate(freq)
		}
	}
}

// iterate runs one standby-check/mine attempt (spec.md §4.8's per-
// iteration algorithm).
func (m *Miner) iterate(freq time.Duration) {
	if m.cfg.MinerTip == nil {
		return
	}
	tip, ok := m.cfg.MinerTip.Get()
	if !ok {
		m.state = nil // no locally-mined anchored tip: stay in standby
		return
	}
	if m.state == nil || m.state.tip.ConsensusHash != tip.ConsensusHash || m.state.tip.BlockHash != tip.BlockHash {
		// Miner tip changed to a different (ch, bhh): discard local state
		// and resume the unconfirmed builder fresh on top of it.
		m.state = &localState{tip: tip, limiter: rate.NewLimiter(rate.Every(freq), 1)}
	}

	if m.cfg.Staging != nil {
		pending, err := m.cfg.Staging.HasAttachablePending()
		if err != nil {
			m.log.Error("check attachable pending failed", "err", err)
			return
		}
		if pending {
			return // don't steal time from block processing
		}
	}

	if !m.state.limiter.Allow() {
		return
	}

	if m.cfg.Builder == nil {
		return
	}
	sequence := uint16(0)
	if m.state.lastHeader != nil {
		sequence = m.state.lastHeader.Sequence + 1
	}
	mb, err := m.cfg.Builder.BuildMicroblock(tip.BlockHash, m.state.lastHeader, sequence, tip.MicroblockPrivateKey)
	if err != nil {
		m.log.Error("build microblock failed", "err", err)
		return
	}

	if m.cfg.Staging != nil {
		row := types.StagingMicroblock{
			ConsensusHash:     tip.ConsensusHash,
			AnchoredBlockHash: tip.BlockHash,
			MicroblockHash:    mb.Hash(),
			ParentHash:        mb.Header.PrevBlock,
			Sequence:          mb.Header.Sequence,
			Bytes:             mb.Bytes(),
		}
		if _, err := m.cfg.Staging.PreprocessMicroblock(row); err != nil {
			m.log.Error("store mined microblock failed", "err", err)
			return
		}
	}

	m.state.lastHeader = &mb.Header

	if m.cfg.Relayer != nil {
		m.cfg.Relayer.Submit(relay.BroadcastMicroblockDirective{
			ConsensusHash: tip.ConsensusHash,
			BlockHash:     tip.BlockHash,
			Microblock:    mb,
		})
	}
}
