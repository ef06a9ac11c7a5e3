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

package types

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
)

// StagingBlock is the staging-store record for one candidate anchored
// block (spec.md §3). Invariants (i)-(iii) are enforced by the staging
// store, not by this type.
type StagingBlock struct {
	ConsensusHash        common.ConsensusHash
	BlockHash            common.BlockHeaderHash
	ParentConsensusHash  common.ConsensusHash
	ParentBlockHash      common.BlockHeaderHash
	ParentMicroblockHash common.BlockHeaderHash
	ParentMicroblockSeq  uint16
	MicroblockPubkeyHash common.PubkeyHash160
	Height               uint64

	Processed bool
	Attachable bool
	Orphaned   bool

	CommitBurn   uint64
	SortitionBurn uint64

	ArrivalTime   time.Time
	ProcessedTime time.Time
	DownloadTime  time.Duration

	Bytes []byte // zero-length means "accepted but invalid, chunk freed"
}

// IndexBlockHash is this record's canonical storage key.
func (b StagingBlock) IndexBlockHash() common.IndexBlockHash {
	return common.MakeIndexBlockHash(b.ConsensusHash, b.BlockHash)
}

// ParentIndexBlockHash is the canonical storage key of this record's
// parent anchored block.
func (b StagingBlock) ParentIndexBlockHash() common.IndexBlockHash {
	return common.MakeIndexBlockHash(b.ParentConsensusHash, b.ParentBlockHash)
}

// IsGenesisParent reports whether this block's declared parent is the
// FIRST_STACKS_BLOCK_HASH sentinel (spec.md §4.2 attachability invariant).
func (b StagingBlock) IsGenesisParent() bool {
	return b.ParentBlockHash == common.FirstStacksBlockHash
}

// StagingMicroblock is the staging-store record for one microblock
// (spec.md §3), keyed by (ParentIndexBlockHash, MicroblockHash).
type StagingMicroblock struct {
	ConsensusHash    common.ConsensusHash
	AnchoredBlockHash common.BlockHeaderHash
	MicroblockHash   common.BlockHeaderHash
	ParentHash       common.BlockHeaderHash
	Sequence         uint16
	Processed        bool
	Orphaned         bool
	Bytes            []byte
}

// ParentIndexBlockHash is the key under which this microblock is filed:
// the anchored block it extends.
func (m StagingMicroblock) ParentIndexBlockHash() common.IndexBlockHash {
	return common.MakeIndexBlockHash(m.ConsensusHash, m.AnchoredBlockHash)
}

// UserBurnSupport grants a share of the winner's coinbase to an address
// that burned in support of the elected sortition (spec.md §3).
type UserBurnSupport struct {
	ConsensusHash    common.ConsensusHash
	AnchoredBlockHash common.BlockHeaderHash
	Address          common.Address
	BurnAmount       uint64
	VtxIndex         uint32
}

// MinerReward is a concrete, matured miner (or user-burn co-miner) credit
// computed by the appender's matured-rewards-discovery step (spec.md §4.4
// step 5).
type MinerReward struct {
	Recipient      common.Address
	CoinbaseAmount *uint256.Int
	TxFeesAnchored *uint256.Int
	TxFeesStreamed *uint256.Int // the 60% share the parent miner receives for confirmed streamed fees
	Height         uint64
	FromBlock      common.IndexBlockHash
}

// Total sums every component of the reward.
func (r MinerReward) Total() *uint256.Int {
	total := new(uint256.Int).Set(r.CoinbaseAmount)
	total.Add(total, r.TxFeesAnchored)
	total.Add(total, r.TxFeesStreamed)
	return total
}

// HeaderRow is the headers-DB record created exclusively by the appender
// on a successful commit (spec.md §3); it is never mutated afterward.
type HeaderRow struct {
	IndexBlockHash       common.IndexBlockHash
	ParentIndexBlockHash common.IndexBlockHash
	Height               uint64
	ConsensusHash        common.ConsensusHash
	Header               AnchoredHeader
	BurnHeaderHash       common.BurnHeaderHash
	BurnHeaderHeight     uint64
	BurnHeaderTimestamp  uint64
	MicroblockTailHash   common.BlockHeaderHash // zero if no confirmed tail
	MicroblockTailSeq    uint16
	ExecutionCostRuntime uint64
	TotalLiquidUstx      *uint256.Int
	BlockSize            uint64
	MaturedAncestor      common.IndexBlockHash // the block whose coinbase matured at this row, zero if none matured yet

	// MinerAddress is this block's coinbase recipient, persisted so a
	// later block's matured-reward step (spec.md §4.4 step 5) can credit
	// it without re-reading chunk-store bytes.
	MinerAddress common.Address
	// AnchoredFeesUstx and StreamedFeesUstx are the tx fees collected by
	// this block's anchored transactions and by the microblock tail it
	// confirmed, respectively; read back at maturity to apply the
	// 40%/60% matured-miner/parent-miner split (spec.md §4.4 steps 5, 10).
	AnchoredFeesUstx *uint256.Int
	StreamedFeesUstx *uint256.Int
}
