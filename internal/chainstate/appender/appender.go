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

// Package appender implements C4: the fourteen-step block-append
// algorithm of spec.md §4.4, turning one attachable staging candidate into
// a committed HeaderRow or a rejected/retried staging record. No non-test
// append-pipeline source survived retrieval from the teacher repo (its
// core/ and miner/ packages only carry *_test.go files in this pack), so
// this file is grounded directly on spec.md §4.4's literal algorithm,
// applying this repo's own established idioms: chainerr sentinel wrapping,
// structured log.Logger, and narrow consumer-defined collaborator
// interfaces (state.go), the same pattern used throughout staging and
// mempool.
package appender

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chunkstore"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/microblock"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/pox"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/staging"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
	"github.com/blockstack/stacks-blockchain-go/log"
)

// DefaultMaturity is the number of blocks a coinbase must wait before it
// matures, per spec.md §4.4 step 5 ("the block mined MATURITY blocks ago")
// and §8 scenario S1.
const DefaultMaturity = 100

// Appender drives the append algorithm against one staging store, chunk
// store, and versioned-state backend. It holds no mutable per-call state;
// a single Appender is safe to reuse across every candidate the relayer
// (C7) or an RPC-driven replay hands it, one at a time (the staging store
// itself is single-writer, per spec.md §4.2).
type Appender struct {
	staging    *staging.Store
	chunks     *chunkstore.Store
	state      StateBackend
	sortitions staging.SortitionReader
	burnOps    BurnOpSource
	lockups    LockupSource
	sigVerify  microblock.SignatureVerifier

	verifyMicroblockSigs bool
	maturity             uint64
	bonusWindow          uint64
	bonusSource          InitialBonusSource
	coinbaseSchedule     func(height uint64) *uint256.Int

	log log.Logger
}

// Config gathers Appender's optional collaborators and tunables. Staging,
// Chunks, State, and Sortitions are required; the rest may be left zero.
type Config struct {
	Staging    *staging.Store
	Chunks     *chunkstore.Store
	State      StateBackend
	Sortitions staging.SortitionReader
	BurnOps    BurnOpSource
	Lockups    LockupSource
	SigVerify  microblock.SignatureVerifier

	// VerifyMicroblockSignatures toggles microblock.Validate's signature
	// filter. Tests that stub microblocks without real secp256k1 keys
	// leave this false.
	VerifyMicroblockSignatures bool
	// Maturity overrides DefaultMaturity.
	Maturity uint64
	// BonusWindow overrides pox.DefaultInitialMiningBonusWindow; zero
	// selects that default whenever BonusSource is set.
	BonusWindow uint64
	// BonusSource supplies the missed-initial-block counts the bonus
	// schedule needs; nil disables the bonus.
	BonusSource InitialBonusSource
	// CoinbaseSchedule overrides pox.DefaultCoinbaseUstx per height; nil
	// uses the flat default.
	CoinbaseSchedule func(height uint64) *uint256.Int
}

// New builds an Appender from cfg.
func New(cfg Config) *Appender {
	maturity := cfg.Maturity
	if maturity == 0 {
		maturity = DefaultMaturity
	}
	bonusWindow := cfg.BonusWindow
	if bonusWindow == 0 && cfg.BonusSource != nil {
		bonusWindow = pox.DefaultInitialMiningBonusWindow
	}
	return &Appender{
		staging:              cfg.Staging,
		chunks:               cfg.Chunks,
		state:                cfg.State,
		sortitions:           cfg.Sortitions,
		burnOps:              cfg.BurnOps,
		lockups:              cfg.Lockups,
		sigVerify:            cfg.SigVerify,
		verifyMicroblockSigs: cfg.VerifyMicroblockSignatures,
		maturity:             maturity,
		bonusWindow:          bonusWindow,
		bonusSource:          cfg.BonusSource,
		coinbaseSchedule:     cfg.CoinbaseSchedule,
		log:                  log.New("component", "appender"),
	}
}

// AppendNext pops one candidate from FindNextAttachable and appends it, the
// shape C7's tenure loop and a coordinator-driven replay both call
// repeatedly. It returns (zero, false, nil) when no attachable candidate
// is currently queued.
func (a *Appender) AppendNext(burnHeaderHash common.BurnHeaderHash, burnHeaderHeight, burnHeaderTimestamp uint64) (types.HeaderRow, bool, error) {
	candidate, ok, err := a.staging.FindNextAttachable(a.sortitions)
	if err != nil || !ok {
		return types.HeaderRow{}, false, err
	}
	idx := common.MakeIndexBlockHash(candidate.ConsensusHash, candidate.BlockHash)
	header, _, err := a.Append(idx, burnHeaderHash, burnHeaderHeight, burnHeaderTimestamp)
	if err != nil {
		return types.HeaderRow{}, false, err
	}
	return header, true, nil
}

// Append runs spec.md §4.4's fourteen-step algorithm against the staging
// candidate named by idx. burnHeaderHash/Height/Timestamp describe the
// burnchain block whose sortition elected this candidate, supplied by the
// caller (the burnchain watcher is out of scope, spec.md §1).
//
// On success it returns the committed HeaderRow and every transaction
// receipt applied, anchored and streamed together in execution order.
// On failure the error wraps chainerr.ErrInvalidStacksBlock (candidate
// orphaned, chunk freed), chainerr.ErrInvalidStacksMicroblock (offending
// microblocks dropped, candidate left pending for retry against a
// different tail), or propagates a bare DB/store error (no mutation of
// the candidate's disposition at all: spec.md §7 "any DB error during
// append rolls back the whole transaction; the offending block is not
// orphaned").
func (a *Appender) Append(idx common.IndexBlockHash, burnHeaderHash common.BurnHeaderHash, burnHeaderHeight, burnHeaderTimestamp uint64) (types.HeaderRow, []Receipt, error) {
	row, found, err := a.staging.GetStagingBlock(idx)
	if err != nil {
		return types.HeaderRow{}, nil, err
	}
	if !found {
		return types.HeaderRow{}, nil, fmt.Errorf("%w: %s", chainerr.ErrNoSuchBlock, idx)
	}

	block, err := types.DecodeAnchoredBlock(row.Bytes)
	if err != nil {
		a.reject(row)
		return types.HeaderRow{}, nil, fmt.Errorf("%w: decode %s: %v", chainerr.ErrInvalidStacksBlock, idx, err)
	}
	if block.Hash() != row.BlockHash {
		a.reject(row)
		return types.HeaderRow{}, nil, chainerr.WithHash(chainerr.ErrInvalidStacksBlock, "header/body mismatch", idx)
	}

	// Step 1: pre-flight linkage check. Attachability already guarantees
	// the parent is genesis or accepted (spec.md §4.2 invariant ii); this
	// re-derives the parent's committed header, which the maturity,
	// microblock-stream, and cost-baseline steps below all need. The
	// header's ParentBlock and TotalWork are not compared against that
	// parent here.
	var parent types.HeaderRow
	var parentCost uint64
	if !row.IsGenesisParent() {
		parent, found, err = a.staging.GetHeaderRow(row.ParentIndexBlockHash())
		if err != nil {
			return types.HeaderRow{}, nil, err
		}
		if !found {
			a.reject(row)
			return types.HeaderRow{}, nil, chainerr.WithHash(chainerr.ErrInvalidStacksBlock, "unresolved parent", idx)
		}
		parentCost = parent.ExecutionCostRuntime
	}

	// Step 2: microblock-pubkey freshness (anti-key-reuse).
	reused, err := a.staging.MicroblockPubkeyHashUsedBelow(block.Header.MicroblockPubkeyHash, row.Height)
	if err != nil {
		return types.HeaderRow{}, nil, err
	}
	if reused {
		a.reject(row)
		return types.HeaderRow{}, nil, chainerr.WithHash(chainerr.ErrInvalidStacksBlock, "microblock pubkey hash reused", idx)
	}

	// Step 3: burnchain-elected operations for this sortition.
	var burnOps []BurnOp
	if a.burnOps != nil {
		burnOps, err = a.burnOps.BurnOpsFor(row.ConsensusHash)
		if err != nil {
			return types.HeaderRow{}, nil, err
		}
	}

	// Step 4: open the scratch versioned-state transaction, cost baseline
	// carried forward from the parent.
	// A genesis-parented block has no committed parent; its scratch opens
	// against the zero key, where the state backend holds genesis state.
	scratchParent := row.ParentIndexBlockHash()
	if row.IsGenesisParent() {
		scratchParent = common.IndexBlockHash{}
	}
	stx, err := a.state.OpenScratch(scratchParent, parentCost)
	if err != nil {
		return types.HeaderRow{}, nil, err
	}
	defer stx.Rollback()
	stx.ResetCost(parentCost)

	// Step 5: matured-rewards discovery.
	rewards, maturedFrom, err := a.maturedRewards(row.Height, row.ParentIndexBlockHash())
	if err != nil {
		return types.HeaderRow{}, nil, err
	}

	// Step 6: microblock tx replay.
	streamedRows, err := a.staging.LoadStreamedMicroblocks(row.ParentIndexBlockHash())
	if err != nil {
		return types.HeaderRow{}, nil, err
	}
	stream := make([]types.Microblock, 0, len(streamedRows))
	for _, smb := range streamedRows {
		mb, err := types.DecodeMicroblock(smb.Bytes)
		if err != nil {
			return types.HeaderRow{}, nil, fmt.Errorf("%w: decode microblock %s: %v", chainerr.ErrDB, smb.MicroblockHash, err)
		}
		stream = append(stream, mb)
	}

	var parentPubkeyHash common.PubkeyHash160
	var parentBlockHash common.BlockHeaderHash
	if !row.IsGenesisParent() {
		parentPubkeyHash = parent.Header.MicroblockPubkeyHash
		parentBlockHash = parent.Header.Hash()
	}
	result := microblock.Validate(a.verifyMicroblockSigs, a.sigVerify, parentBlockHash, parentPubkeyHash, block.Header, stream)
	if result.Outcome == microblock.Reject {
		a.reject(row)
		return types.HeaderRow{}, nil, chainerr.WithHash(chainerr.ErrInvalidStacksBlock, "microblock stream does not connect", idx)
	}
	if result.Poison != nil {
		a.log.Warn("microblock equivocation detected", "parent", row.ParentIndexBlockHash(), "at", result.K)
	}

	var receipts []Receipt
	streamedFees := new(uint256.Int)
	for i := 0; i < result.K; i++ {
		for _, tx := range stream[i].Txs {
			receipt, err := stx.ApplyTx(tx)
			if err != nil {
				if dropErr := a.staging.DropStagingMicroblocks(row.ParentIndexBlockHash(), stream[i].Header.Sequence); dropErr != nil {
					return types.HeaderRow{}, nil, dropErr
				}
				return types.HeaderRow{}, nil, fmt.Errorf("%w: microblock %s tx: %v", chainerr.ErrInvalidStacksMicroblock, stream[i].Hash(), err)
			}
			receipts = append(receipts, receipt)
			streamedFees.Add(streamedFees, receipt.FeeUstx)
		}
	}
	var tailHash common.BlockHeaderHash
	var tailSeq uint16
	if result.K > 0 {
		tailHash = stream[result.K-1].Hash()
		tailSeq = stream[result.K-1].Header.Sequence
		if err := a.staging.MarkMicroblocksProcessed(row.ParentIndexBlockHash(), tailSeq); err != nil {
			return types.HeaderRow{}, nil, err
		}
	}

	// Step 7: cost-meter reset at the microblock/anchored boundary.
	microblockCost := stx.Cost()
	stx.ResetCost(0)

	// Step 8: StackStx/TransferStx replay against the PoX boot contract.
	for _, op := range burnOps {
		if err := stx.ApplyBurnOp(op); err != nil {
			return types.HeaderRow{}, nil, fmt.Errorf("%w: burn op for %s: %v", chainerr.ErrDB, row.ConsensusHash, err)
		}
	}

	// Step 9: anchored tx execution. The first tx must be a coinbase; any
	// anchored-tx failure rejects the whole block but leaves the
	// microblocks it confirmed untouched (they may yet be confirmed by a
	// different, valid anchored block built on the same tail).
	if len(block.Txs) == 0 || !block.Txs[0].IsCoinbase {
		a.reject(row)
		return types.HeaderRow{}, nil, chainerr.WithHash(chainerr.ErrInvalidStacksBlock, "missing coinbase", idx)
	}
	anchoredFees := new(uint256.Int)
	for i, tx := range block.Txs {
		receipt, err := stx.ApplyTx(tx)
		if err != nil {
			a.reject(row)
			return types.HeaderRow{}, nil, fmt.Errorf("%w: anchored tx %d: %v", chainerr.ErrInvalidStacksBlock, i, err)
		}
		receipts = append(receipts, receipt)
		if !tx.IsCoinbase {
			anchoredFees.Add(anchoredFees, receipt.FeeUstx)
		}
	}

	// Step 10: matured-reward grant.
	for _, reward := range rewards {
		if err := stx.CreditReward(reward); err != nil {
			return types.HeaderRow{}, nil, err
		}
	}

	// Step 11: STX-unlock sweep.
	unlocked := new(uint256.Int)
	if a.lockups != nil {
		lockups, err := a.lockups.LockupsAt(burnHeaderHeight)
		if err != nil {
			return types.HeaderRow{}, nil, err
		}
		for _, l := range lockups {
			if err := stx.CreditUnlock(l.Recipient, l.Amount); err != nil {
				return types.HeaderRow{}, nil, err
			}
			unlocked.Add(unlocked, l.Amount)
		}
	}

	// Step 12: total-liquid-supply accounting: parent total plus this
	// block's minting (matured coinbases) and unlocks, minus whatever was
	// burnt, never underflowing.
	parentLiquid := new(uint256.Int)
	if !row.IsGenesisParent() {
		parentLiquid.Set(parent.TotalLiquidUstx)
	}
	minted := new(uint256.Int)
	for _, reward := range rewards {
		minted.Add(minted, reward.CoinbaseAmount)
	}
	totalLiquid := new(uint256.Int).Add(parentLiquid, minted)
	totalLiquid.Add(totalLiquid, unlocked)
	burnt := stx.BurntUstx()
	if totalLiquid.Cmp(burnt) < 0 {
		return types.HeaderRow{}, nil, chainerr.WithHash(chainerr.ErrInvalidStacksBlock, "total liquid supply underflow", idx)
	}
	totalLiquid.Sub(totalLiquid, burnt)

	// Step 13: MARF state-root check.
	if stx.StateRoot() != block.Header.StateIndexRoot {
		a.reject(row)
		return types.HeaderRow{}, nil, chainerr.WithHash(chainerr.ErrInvalidStacksBlock, "state root mismatch", idx)
	}

	// Step 14: commit. The headers-DB write is the only mutation that
	// survives: one-shot, append-only.
	if err := stx.Commit(row.ConsensusHash, row.BlockHash); err != nil {
		return types.HeaderRow{}, nil, err
	}

	headerRow := types.HeaderRow{
		IndexBlockHash:       idx,
		ParentIndexBlockHash: row.ParentIndexBlockHash(),
		Height:               row.Height,
		ConsensusHash:        row.ConsensusHash,
		Header:               block.Header,
		BurnHeaderHash:       burnHeaderHash,
		BurnHeaderHeight:     burnHeaderHeight,
		BurnHeaderTimestamp:  burnHeaderTimestamp,
		MicroblockTailHash:   tailHash,
		MicroblockTailSeq:    tailSeq,
		ExecutionCostRuntime: microblockCost + stx.Cost(),
		TotalLiquidUstx:      totalLiquid,
		BlockSize:            uint64(len(row.Bytes)),
		MaturedAncestor:      maturedFrom,
		MinerAddress:         block.Txs[0].Origin,
		AnchoredFeesUstx:     anchoredFees,
		StreamedFeesUstx:     streamedFees,
	}
	if err := a.staging.InsertHeaderRow(headerRow); err != nil {
		return types.HeaderRow{}, nil, err
	}
	if err := a.staging.MarkProcessed(row.ConsensusHash, row.BlockHash, true, a.sortitions); err != nil {
		return types.HeaderRow{}, nil, err
	}

	a.log.Info("appended block", "idx", idx, "height", row.Height, "txs", len(receipts))
	return headerRow, receipts, nil
}

// reject orphans row's staging record and frees its chunk-store entry.
// Secondary failures here are logged, not returned: the caller already
// has the primary InvalidStacksBlock error to surface, and a reject that
// only half-completes (orphaned but not yet freed, say) is recovered by
// any later GC sweep over orphaned staging rows.
func (a *Appender) reject(row types.StagingBlock) {
	if err := a.staging.MarkProcessed(row.ConsensusHash, row.BlockHash, false, a.sortitions); err != nil {
		a.log.Error("mark rejected block processed", "idx", row.IndexBlockHash(), "err", err)
	}
	if err := a.chunks.Free(row.IndexBlockHash()); err != nil {
		a.log.Error("free rejected chunk", "idx", row.IndexBlockHash(), "err", err)
	}
}
