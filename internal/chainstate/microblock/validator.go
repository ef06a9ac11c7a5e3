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

// Package microblock implements C3: the total-function check of whether an
// ordered, signed microblock stream connects a parent anchored block to a
// child anchored block's declared microblock parent, per spec.md §4.3.
package microblock

import (
	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// Outcome discriminates the four dispositions of spec.md §4.3.
type Outcome int

const (
	// Empty means the child declares no microblock parent and the
	// supplied stream is empty (or truncated to empty).
	Empty Outcome = iota
	// Connects means the first K microblocks form a valid chain ending
	// at the child's declared parent microblock.
	Connects
	// ConnectsWithPoison is Connects, plus a deliberate fork was found at
	// index K: the caller must still accept the prefix but must also
	// surface Poison as evidence of miner equivocation.
	ConnectsWithPoison
	// Reject means the stream is discontiguous, unsigned, or never
	// reaches the child's declared parent; the caller MUST treat the
	// anchored block itself as invalid.
	Reject
)

// Result is the full disposition: the outcome, how many leading
// microblocks connect (K), and poison evidence when applicable.
type Result struct {
	Outcome Outcome
	K       int
	Poison  *types.PoisonMicroblock
}

// SignatureVerifier recovers the signer's hash160 public-key-hash from a
// microblock header's signature, or reports that the signature is invalid.
// Abstracted so tests can supply a deterministic stub instead of minting
// real secp256k1 keys for every fixture.
type SignatureVerifier interface {
	RecoverPubkeyHash160(header types.MicroblockHeader) (common.PubkeyHash160, bool)
}

// Validate runs the six ordered checks of spec.md §4.3 against stream
// (already sorted by sequence ascending). parentPubkeyHash is the parent
// anchored block's committed microblock_pubkey_hash; parentBlockHash is
// the parent anchored block's own header hash, the expected PrevBlock of
// the stream's first microblock.
func Validate(
	verify bool,
	sv SignatureVerifier,
	parentBlockHash common.BlockHeaderHash,
	parentPubkeyHash common.PubkeyHash160,
	child types.AnchoredHeader,
	stream []types.Microblock,
) Result {
	if child.ParentMicroblock.IsZero() && child.ParentMicroblockSequence == 0 {
		return Result{Outcome: Empty}
	}

	kept := stream
	if verify {
		kept = kept[:0:0]
		for _, mb := range stream {
			hash160, ok := sv.RecoverPubkeyHash160(mb.Header)
			if !ok || hash160 != parentPubkeyHash {
				continue
			}
			kept = append(kept, mb)
		}
	}
	if len(kept) == 0 {
		return Result{Outcome: Reject}
	}

	if kept[0].Header.Sequence != 0 || kept[0].Header.PrevBlock != parentBlockHash {
		return Result{Outcome: Reject}
	}

	seenParents := map[common.BlockHeaderHash]types.MicroblockHeader{}
	seenParents[kept[0].Header.PrevBlock] = kept[0].Header

	for i := 1; i < len(kept); i++ {
		prev := kept[i-1].Header
		cur := kept[i].Header

		if cur.Sequence < prev.Sequence || cur.Sequence > prev.Sequence+1 {
			return Result{Outcome: Reject}
		}

		if cur.Sequence == prev.Sequence && cur.Hash() != prev.Hash() {
			return Result{
				Outcome: ConnectsWithPoison,
				K:       i - 1,
				Poison:  &types.PoisonMicroblock{Header1: prev, Header2: cur},
			}
		}

		if priorAtSamePrev, ok := seenParents[cur.PrevBlock]; ok && priorAtSamePrev.Hash() != cur.Hash() {
			return Result{
				Outcome: ConnectsWithPoison,
				K:       i - 1,
				Poison:  &types.PoisonMicroblock{Header1: priorAtSamePrev, Header2: cur},
			}
		}
		seenParents[cur.PrevBlock] = cur
	}

	for i, mb := range kept {
		if mb.Header.Hash() == child.ParentMicroblock {
			if mb.Header.Sequence != child.ParentMicroblockSequence {
				return Result{Outcome: Reject}
			}
			return Result{Outcome: Connects, K: i + 1}
		}
	}
	return Result{Outcome: Reject}
}
