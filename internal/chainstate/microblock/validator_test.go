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

package microblock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// alwaysValidSigner treats every header as signed by the one pubkey hash
// it was constructed with, so tests can focus on connectivity logic
// without minting real secp256k1 keys.
type alwaysValidSigner struct{ hash common.PubkeyHash160 }

func (s alwaysValidSigner) RecoverPubkeyHash160(types.MicroblockHeader) (common.PubkeyHash160, bool) {
	return s.hash, true
}

func mkHeader(seq uint16, prev common.BlockHeaderHash, root byte) types.MicroblockHeader {
	var merkle common.Hash
	merkle[0] = root
	return types.MicroblockHeader{Version: 1, Sequence: seq, PrevBlock: prev, TxMerkleRoot: merkle}
}

func TestValidate_EmptyStream(t *testing.T) {
	child := types.AnchoredHeader{ParentMicroblock: common.BlockHeaderHash{}, ParentMicroblockSequence: 0}
	res := Validate(true, alwaysValidSigner{}, common.BlockHeaderHash{}, common.PubkeyHash160{}, child, nil)
	require.Equal(t, Empty, res.Outcome)
}

func TestValidate_SimpleChainConnects(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(0, parentHash, 1)
	h1 := mkHeader(1, h0.Hash(), 2)
	h2 := mkHeader(2, h1.Hash(), 3)
	stream := []types.Microblock{{Header: h0}, {Header: h1}, {Header: h2}}

	child := types.AnchoredHeader{ParentMicroblock: h2.Hash(), ParentMicroblockSequence: 2}
	res := Validate(true, alwaysValidSigner{}, parentHash, common.PubkeyHash160{}, child, stream)
	require.Equal(t, Connects, res.Outcome)
	require.Equal(t, 3, res.K)
}

func TestValidate_PartialChainConnectsAtDeclaredParent(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(0, parentHash, 1)
	h1 := mkHeader(1, h0.Hash(), 2)
	h2 := mkHeader(2, h1.Hash(), 3)
	stream := []types.Microblock{{Header: h0}, {Header: h1}, {Header: h2}}

	// child only confirms up through h1.
	child := types.AnchoredHeader{ParentMicroblock: h1.Hash(), ParentMicroblockSequence: 1}
	res := Validate(true, alwaysValidSigner{}, parentHash, common.PubkeyHash160{}, child, stream)
	require.Equal(t, Connects, res.Outcome)
	require.Equal(t, 2, res.K)
}

func TestValidate_WrongFirstSequenceRejects(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(1, parentHash, 1) // should be 0
	stream := []types.Microblock{{Header: h0}}
	child := types.AnchoredHeader{ParentMicroblock: h0.Hash(), ParentMicroblockSequence: 1}
	res := Validate(true, alwaysValidSigner{}, parentHash, common.PubkeyHash160{}, child, stream)
	require.Equal(t, Reject, res.Outcome)
}

func TestValidate_SequenceGapRejects(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(0, parentHash, 1)
	h2 := mkHeader(2, h0.Hash(), 2) // skips sequence 1
	stream := []types.Microblock{{Header: h0}, {Header: h2}}
	child := types.AnchoredHeader{ParentMicroblock: h2.Hash(), ParentMicroblockSequence: 2}
	res := Validate(true, alwaysValidSigner{}, parentHash, common.PubkeyHash160{}, child, stream)
	require.Equal(t, Reject, res.Outcome)
}

// TestValidate_ForkAtSequencePoison is scenario S5: two microblocks at the
// same sequence with different hashes is a deliberate miner fork.
func TestValidate_ForkAtSequencePoison(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(0, parentHash, 1)
	h1a := mkHeader(1, h0.Hash(), 2)
	h1b := mkHeader(1, h0.Hash(), 99) // same sequence, different merkle root -> different hash
	stream := []types.Microblock{{Header: h0}, {Header: h1a}, {Header: h1b}}

	child := types.AnchoredHeader{ParentMicroblock: h1a.Hash(), ParentMicroblockSequence: 1}
	res := Validate(true, alwaysValidSigner{}, parentHash, common.PubkeyHash160{}, child, stream)
	require.Equal(t, ConnectsWithPoison, res.Outcome)
	// spec.md §8 S5: given [..., m_j, m'_j, ...], the result is
	// Connects(j, Some(PoisonMicroblock(m_j, m'_j))) where j is the index of
	// m_j (h1a, here at index 1), not m'_j.
	require.Equal(t, 1, res.K)
	require.NotNil(t, res.Poison)
	require.Equal(t, h1a, res.Poison.Header1)
	require.Equal(t, h1b, res.Poison.Header2)
}

// TestValidate_ForkAtPrevHashPoison covers two microblocks with different
// hashes that both declare the same prev_block.
func TestValidate_ForkAtPrevHashPoison(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(0, parentHash, 1)
	h1 := mkHeader(1, h0.Hash(), 2)
	h2a := mkHeader(2, h1.Hash(), 3)
	h2b := mkHeader(2, h1.Hash(), 55) // same prev_block and sequence as h2a, different hash
	stream := []types.Microblock{{Header: h0}, {Header: h1}, {Header: h2a}, {Header: h2b}}

	child := types.AnchoredHeader{ParentMicroblock: h2a.Hash(), ParentMicroblockSequence: 2}
	res := Validate(true, alwaysValidSigner{}, parentHash, common.PubkeyHash160{}, child, stream)
	require.Equal(t, ConnectsWithPoison, res.Outcome)
	// h2a is kept[2]; the conflicting pair's first element's index is K.
	require.Equal(t, 2, res.K)
	require.NotNil(t, res.Poison)
	require.Equal(t, h2a, res.Poison.Header1)
	require.Equal(t, h2b, res.Poison.Header2)
}

func TestValidate_UnreachedDeclaredParentRejects(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(0, parentHash, 1)
	stream := []types.Microblock{{Header: h0}}
	child := types.AnchoredHeader{ParentMicroblock: common.BlockHeaderHash{0xFF}, ParentMicroblockSequence: 5}
	res := Validate(true, alwaysValidSigner{}, parentHash, common.PubkeyHash160{}, child, stream)
	require.Equal(t, Reject, res.Outcome)
}

func TestValidate_BadSignatureDropsMicroblock(t *testing.T) {
	parentHash := common.BlockHeaderHash{0xAA}
	h0 := mkHeader(0, parentHash, 1)
	stream := []types.Microblock{{Header: h0}}
	child := types.AnchoredHeader{ParentMicroblock: h0.Hash(), ParentMicroblockSequence: 0}

	badSigner := alwaysValidSigner{hash: common.PubkeyHash160{0x01}}
	res := Validate(true, rejectingSigner{}, parentHash, badSigner.hash, child, stream)
	require.Equal(t, Reject, res.Outcome)
}

type rejectingSigner struct{}

func (rejectingSigner) RecoverPubkeyHash160(types.MicroblockHeader) (common.PubkeyHash160, bool) {
	return common.PubkeyHash160{}, false
}
