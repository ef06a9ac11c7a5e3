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

// Package inv implements C9: compressed have/have-not bitvectors over a
// window of sortitions, per spec.md §4.9. It is read-only: every bit is
// derived fresh from the chunk store and staging store, never cached
// across calls, so a concurrent writer (the relayer) can never leave the
// reported vectors in a torn state.
package inv

import (
	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// SortitionSlot identifies one position in the requested window: a
// sortition's consensus hash, and the winning anchored block's hash if
// that sortition produced one.
type SortitionSlot struct {
	ConsensusHash common.ConsensusHash
	BlockHash     *common.BlockHeaderHash // nil means no block won this sortition
}

// ChunkPresence reports whether a non-empty block is stored under idx.
type ChunkPresence interface {
	Get(idx common.IndexBlockHash) ([]byte, bool)
}

// MicroblockPresence reports whether a processed microblock with the
// given hash is known.
type MicroblockPresence interface {
	HasProcessedMicroblock(hash common.BlockHeaderHash) (bool, error)
	GetStagingBlock(idx common.IndexBlockHash) (types.StagingBlock, bool, error)
}

// Bitvector is a big-endian-packed bit array, one bit per window slot, MSB
// first within each byte.
type Bitvector []byte

// NewBitvector allocates a zeroed bitvector for n slots.
func NewBitvector(n int) Bitvector {
	return make(Bitvector, (n+7)/8)
}

// Set sets bit i.
func (b Bitvector) Set(i int) { b[i/8] |= 1 << (7 - uint(i%8)) }

// Get reports bit i.
func (b Bitvector) Get(i int) bool { return b[i/8]&(1<<(7-uint(i%8))) != 0 }

// Window holds the two vectors computed for one requested slice.
type Window struct {
	Blocks      Bitvector
	Microblocks Bitvector
}

// Compute builds the have/have-not vectors for slots, per spec.md §4.9:
// blocks[i]=1 iff the chunk store holds a non-empty block for that
// sortition's winning block hash; microblocks[i]=1 iff a processed
// microblock exists whose hash equals that block's declared
// parent_microblock hash.
func Compute(chunks ChunkPresence, staging MicroblockPresence, slots []SortitionSlot) Window {
	w := Window{
		Blocks:      NewBitvector(len(slots)),
		Microblocks: NewBitvector(len(slots)),
	}
	for i, slot := range slots {
		if slot.BlockHash == nil {
			continue
		}
		idx := common.MakeIndexBlockHash(slot.ConsensusHash, *slot.BlockHash)
		if _, ok := chunks.Get(idx); ok {
			w.Blocks.Set(i)
		}

		block, found, err := staging.GetStagingBlock(idx)
		if err != nil || !found {
			continue
		}
		if block.ParentMicroblockHash.IsZero() {
			continue
		}
		has, err := staging.HasProcessedMicroblock(block.ParentMicroblockHash)
		if err == nil && has {
			w.Microblocks.Set(i)
		}
	}
	return w
}
