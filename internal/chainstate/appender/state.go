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

package appender

import (
	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// Receipt is the outcome of applying one transaction to a StateTx.
type Receipt struct {
	Origin  common.Address
	Nonce   uint64
	FeeUstx *uint256.Int
	Cost    uint64
}

// BurnOpKind discriminates the two burnchain-elected operation kinds
// spec.md §4.4 step 3/8 replay against the PoX boot contract.
type BurnOpKind int

const (
	StackStxOp BurnOpKind = iota
	TransferStxOp
)

// BurnOp is one burnchain-elected StackStx or TransferStx operation,
// recorded on the burnchain block that precedes the appending block's
// electing sortition.
type BurnOp struct {
	Kind      BurnOpKind
	Principal common.Address
	Recipient common.Address // TransferStxOp only
	Amount    *uint256.Int
	VtxIndex  uint32
}

// BurnOpSource loads the burnchain-elected operations a given sortition's
// preceding burnchain block recorded (spec.md §4.4 step 3). The burnchain
// watcher that produces these is an external collaborator (spec.md §1);
// this is the narrow read-only slice the appender consumes.
type BurnOpSource interface {
	BurnOpsFor(consensusHash common.ConsensusHash) ([]BurnOp, error)
}

// Lockup is one STX-unlock-schedule entry maturing at the current burn
// height (spec.md §4.4 step 11).
type Lockup struct {
	Recipient common.Address
	Amount    *uint256.Int
}

// LockupSource reads the PoX "lockups" table at a given burn height
// (spec.md §6 "PoX lockups table").
type LockupSource interface {
	LockupsAt(burnHeight uint64) ([]Lockup, error)
}

// StateTx is one versioned-state write handle opened at a specific parent
// block and either committed to a final (consensus_hash, block_hash) key
// or rolled back (spec.md §4.4 steps 4-14). The MARF trie and Clarity VM
// themselves are external collaborators (spec.md §1 "smart-contract
// virtual machine... treated as a black-box transaction executor exposing
// a cost-tracked read/write handle"); this is the narrow capability
// surface the appender drives, analogous to this repo's other
// consumer-defined collaborator interfaces (mempool.ChainTip,
// staging.SortitionReader).
type StateTx interface {
	// ApplyTx executes tx against the scratch state. A transaction-level
	// failure (e.g. a contract-call error) is reported via err but does
	// not invalidate the rest of the scratch transaction; only step 6's
	// caller (on a microblock tx) and step 9's caller (on an anchored tx)
	// decide whether to abort the whole append on a given failure.
	ApplyTx(tx types.Transaction) (Receipt, error)
	// ApplyBurnOp replays a burnchain-elected operation against the PoX
	// boot contract (spec.md §4.4 step 8).
	ApplyBurnOp(op BurnOp) error
	// Cost returns the cumulative execution cost charged since the last
	// ResetCost.
	Cost() uint64
	// ResetCost sets the cumulative cost counter to baseline (spec.md
	// §4.4 step 4: reset to the parent's cumulative cost; step 7: reset
	// to zero at the microblock/anchored cost boundary).
	ResetCost(baseline uint64)
	// CreditReward applies a matured MinerReward to the scratch state
	// (spec.md §4.4 step 10).
	CreditReward(reward types.MinerReward) error
	// CreditUnlock credits principal with amount at STX-lockup expiry
	// (spec.md §4.4 step 11).
	CreditUnlock(principal common.Address, amount *uint256.Int) error
	// BurntUstx returns the µSTX burnt (removed from total liquid supply)
	// by the transactions applied so far, for spec.md §4.4 step 12's
	// total-liquid-supply identity.
	BurntUstx() *uint256.Int
	// StateRoot computes the MARF root of everything written so far,
	// without committing (spec.md §4.4 step 13).
	StateRoot() common.Hash
	// Commit moves the scratch slot's writes to the final
	// (consensusHash, blockHash) key.
	Commit(consensusHash common.ConsensusHash, blockHash common.BlockHeaderHash) error
	// Rollback discards every write made through this handle. Safe to
	// call after Commit (a no-op then) so callers can unconditionally
	// defer it.
	Rollback()
}

// StateBackend opens a scratch StateTx rooted at a committed parent block
// (spec.md §4.4 step 4's "MINER_CH, MINER_BHH" scratch slot).
type StateBackend interface {
	OpenScratch(parent common.IndexBlockHash, parentCost uint64) (StateTx, error)
}
