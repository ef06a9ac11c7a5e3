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

// Package relay implements C7: the single-threaded relayer/miner-loop state
// machine of spec.md §4.7. It is the exclusive writer of the headers DB and
// chunk store (spec.md §5 "mutation monopoly"), consuming a bounded
// directive queue and driving both block-commit assembly (the mining path)
// and accepted-block bookkeeping (the append path) from one goroutine.
package relay

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// BurnSnapshot is one burnchain block's sortition outcome, the input a
// tenure assembly and key registration are triggered from (spec.md §4.7
// "RunTenure(registered_key, burn_snapshot)").
type BurnSnapshot struct {
	ConsensusHash        common.ConsensusHash
	BurnHeaderHash       common.BurnHeaderHash
	ParentBurnHeaderHash common.BurnHeaderHash
	BurnHeaderHeight     uint64
	BurnHeaderTimestamp  uint64
	SortitionHash        common.Hash // VRF alpha for this sortition (spec.md §4.7 step 3)
	ParentHeight          uint64
	ParentVtxIndex        uint32
}

// RegisteredKey is the VRF keypair and the burn height a LeaderKeyRegister
// op for it was submitted at (spec.md §4.7 "RegisterKey").
type RegisteredKey struct {
	PublicKey        []byte
	RegisteredHeight uint64
}

// InFlightBuild is one assembled-but-not-yet-elected candidate anchored
// block, tracked by burn_hash per spec.md §4.7 step 9 ("store the assembled
// block in the in-flight set keyed by burn_hash"). ID disambiguates
// same-(parent,burn) rebuilds across attempts (spec.md §4.7 step 2).
type InFlightBuild struct {
	ID                   uuid.UUID
	Attempt              uint64
	ParentConsensusHash  common.ConsensusHash
	ParentBlockHash      common.BlockHeaderHash
	Height               uint64
	BurnHeaderHash       common.BurnHeaderHash
	Block                types.AnchoredBlock
	MicroblockPrivateKey []byte
}

// BlockBuilder assembles a candidate anchored block from the mempool
// against a cost budget (spec.md §4.7 step 6). The mempool and the Clarity
// VM it drives are external collaborators (spec.md §1's VM "black box");
// this is the narrow capability the relayer consumes.
type BlockBuilder interface {
	BuildAnchoredBlock(parent types.HeaderRow, tail []types.Microblock, poison *types.PoisonMicroblock, coinbase types.Transaction, costBudget uint64) (types.AnchoredBlock, error)
}

// VRFSigner produces a VRF proof/output pair over alpha with the currently
// registered key (spec.md §4.7 step 3), and generates a fresh VRF keypair
// for RegisterKey.
type VRFSigner interface {
	GenerateKey() (publicKey []byte, err error)
	Prove(publicKey []byte, alpha []byte) (proof []byte, output []byte, err error)
}

// MicroblockKeySigner produces a fresh microblock-signing keypair (spec.md
// §4.7 step 4: "produce a microblock signing keypair").
type MicroblockKeySigner interface {
	GenerateMicroblockKey() (privateKey []byte, publicKeyHash common.PubkeyHash160, err error)
}

// BurnchainCommitter submits the two burnchain-egress op kinds spec.md §6
// names. The burnchain wallet/RPC surface that actually broadcasts them is
// out of scope (spec.md §1 "burnchain watcher... treated as external").
type BurnchainCommitter interface {
	SubmitLeaderKeyRegister(publicKey []byte, consensusHash common.ConsensusHash) error
	SubmitLeaderBlockCommit(commit LeaderBlockCommit) error
}

// LeaderBlockCommit is the payload of a LeaderBlockCommit burnchain op
// (spec.md §6).
type LeaderBlockCommit struct {
	BlockHeaderHash   common.BlockHeaderHash
	BurnFeeUstx       *uint256.Int
	SunsetBurnUstx    *uint256.Int
	KeyBlockHeight    uint64
	KeyVtxIndex       uint32
	ParentBlockHeight uint64
	ParentVtxIndex    uint32
	BurnParentModulus uint8
	NewSeed           common.Hash
	CommitOutputs     []common.Address
}

// Broadcaster pushes accepted blocks and mined microblocks to peers (spec.md
// §4.7 "advertise and broadcast the block" / "BroadcastMicroblock"). The
// peer-to-peer wire protocol itself is out of scope (spec.md §1).
type Broadcaster interface {
	AdvertiseBlock(ch common.ConsensusHash, blockHash common.BlockHeaderHash)
	BroadcastMicroblock(ch common.ConsensusHash, blockHash common.BlockHeaderHash, mb types.Microblock)
}

// MempoolSink admits transactions and attachments carried by a processed
// network result (spec.md §4.7 "HandleNetResult").
type MempoolSink interface {
	AdmitNetworkTx(tx types.Transaction) error
}

// Progress is the coordinator-channel slice the relayer reports append
// outcomes through (spec.md §4.6).
type Progress interface {
	AnnounceNewStacksBlock()
	RecordStacksBlockProcessed()
}

// NetResult is a processed peer network result (spec.md §4.7
// "HandleNetResult"): the p2p decode/validate step itself is out of scope
// (spec.md §1); this is what survives it.
type NetResult struct {
	NewMempoolTxs []types.Transaction
}

// Directive is one unit of work the relayer's single-threaded loop
// processes (spec.md §4.7).
type Directive interface {
	isDirective()
}

// HandleNetResultDirective feeds a processed network result to the
// mempool/event-dispatcher path.
type HandleNetResultDirective struct{ Result NetResult }

func (HandleNetResultDirective) isDirective() {}

// ProcessTenureDirective asks the relayer to check whether the named
// in-flight build matches a just-elected sortition outcome.
type ProcessTenureDirective struct {
	ConsensusHash        common.ConsensusHash
	ParentBurnHeaderHash common.BurnHeaderHash
	BlockHash            common.BlockHeaderHash
	// BurnHeaderHash/Height/Timestamp are the burn block that elected this
	// sortition: not part of spec.md §4.7's informal lookup-key signature,
	// but required by the appender's Append call this directive drives.
	BurnHeaderHash      common.BurnHeaderHash
	BurnHeaderHeight    uint64
	BurnHeaderTimestamp uint64
}

func (ProcessTenureDirective) isDirective() {}

// RunTenureDirective asks the relayer to assemble a new candidate anchored
// block and submit its burnchain commitment.
type RunTenureDirective struct {
	Key      RegisteredKey
	Snapshot BurnSnapshot
}

func (RunTenureDirective) isDirective() {}

// RegisterKeyDirective asks the relayer to rotate and submit a new VRF key
// registration, unless one was already submitted at this burn height.
type RegisterKeyDirective struct{ Snapshot BurnSnapshot }

func (RegisterKeyDirective) isDirective() {}

// BroadcastMicroblockDirective asks the relayer to push a locally-mined
// microblock to peers.
type BroadcastMicroblockDirective struct {
	ConsensusHash common.ConsensusHash
	BlockHash     common.BlockHeaderHash
	Microblock    types.Microblock
}

func (BroadcastMicroblockDirective) isDirective() {}
