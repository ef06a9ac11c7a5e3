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

package staging

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// fakeSortitions is a SortitionReader stub: every consensus hash is live
// unless explicitly retired.
type fakeSortitions struct {
	retired map[common.ConsensusHash]bool
	accepted []common.ConsensusHash
}

func newFakeSortitions() *fakeSortitions {
	return &fakeSortitions{retired: map[common.ConsensusHash]bool{}}
}

func (f *fakeSortitions) IsLiveSortition(ch common.ConsensusHash) bool { return !f.retired[ch] }
func (f *fakeSortitions) MarkAccepted(ch common.ConsensusHash, _ common.BlockHeaderHash) {
	f.accepted = append(f.accepted, ch)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func consensusHash(b byte) common.ConsensusHash {
	var ch common.ConsensusHash
	ch[0] = b
	return ch
}

func blockHash(b byte) common.BlockHeaderHash {
	var bh common.BlockHeaderHash
	bh[0] = b
	return bh
}

func genesisChild(ch common.ConsensusHash, bh common.BlockHeaderHash, height uint64) types.StagingBlock {
	return types.StagingBlock{
		ConsensusHash:       ch,
		BlockHash:           bh,
		ParentConsensusHash: common.ConsensusHash{},
		ParentBlockHash:     common.FirstStacksBlockHash,
		Height:              height,
		Bytes:               []byte("block-bytes"),
	}
}

func TestPreprocessAnchoredBlock_GenesisParentIsAttachable(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()

	blk := genesisChild(consensusHash(1), blockHash(1), 1)
	res, err := s.PreprocessAnchoredBlock(blk, sr, nil)
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	got, ok, err := s.GetStagingBlock(blk.IndexBlockHash())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Attachable)
}

func TestPreprocessAnchoredBlock_UnknownParentIsNotAttachable(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()

	child := types.StagingBlock{
		ConsensusHash:       consensusHash(2),
		BlockHash:           blockHash(2),
		ParentConsensusHash: consensusHash(1),
		ParentBlockHash:     blockHash(1),
		Height:              2,
		Bytes:               []byte("block-bytes"),
	}
	res, err := s.PreprocessAnchoredBlock(child, sr, nil)
	require.NoError(t, err)
	require.Equal(t, Accepted, res)

	got, ok, err := s.GetStagingBlock(child.IndexBlockHash())
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, got.Attachable)
}

func TestPreprocessAnchoredBlock_InvalidBurnLinkRejected(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()
	sr.retired[consensusHash(9)] = true

	blk := genesisChild(consensusHash(9), blockHash(9), 1)
	res, err := s.PreprocessAnchoredBlock(blk, sr, nil)
	require.Error(t, err)
	require.Equal(t, InvalidBurnLink, res)
}

func TestPreprocessAnchoredBlock_AlreadyPresent(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()
	blk := genesisChild(consensusHash(1), blockHash(1), 1)
	_, err := s.PreprocessAnchoredBlock(blk, sr, nil)
	require.NoError(t, err)

	res, err := s.PreprocessAnchoredBlock(blk, sr, nil)
	require.NoError(t, err)
	require.Equal(t, AlreadyPresent, res)
}

// TestMarkProcessed_PromotesWaitingChild reproduces the case where a child
// is staged before its parent resolves: staging its parent and accepting it
// must retroactively flip the child's attachable flag.
func TestMarkProcessed_PromotesWaitingChild(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()

	parent := genesisChild(consensusHash(1), blockHash(1), 1)
	_, err := s.PreprocessAnchoredBlock(parent, sr, nil)
	require.NoError(t, err)

	child := types.StagingBlock{
		ConsensusHash:       consensusHash(2),
		BlockHash:           blockHash(2),
		ParentConsensusHash: parent.ConsensusHash,
		ParentBlockHash:     parent.BlockHash,
		Height:              2,
		Bytes:               []byte("child-bytes"),
	}
	_, err = s.PreprocessAnchoredBlock(child, sr, nil)
	require.NoError(t, err)

	got, _, err := s.GetStagingBlock(child.IndexBlockHash())
	require.NoError(t, err)
	require.False(t, got.Attachable, "child must not be attachable before its parent is accepted")

	require.NoError(t, s.MarkProcessed(parent.ConsensusHash, parent.BlockHash, true, sr))

	got, _, err = s.GetStagingBlock(child.IndexBlockHash())
	require.NoError(t, err)
	require.True(t, got.Attachable, "accepting the parent must promote the waiting child")
}

// TestMarkProcessed_RejectCascadesToDescendants is scenario S6: rejecting a
// block must orphan every block and microblock that transitively descends
// from it, even descendants staged after the rejected ancestor.
func TestMarkProcessed_RejectCascadesToDescendants(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()

	root := genesisChild(consensusHash(1), blockHash(1), 1)
	require.NoError(t, mustAccept(s, root, sr))

	mid := types.StagingBlock{
		ConsensusHash:       consensusHash(2),
		BlockHash:           blockHash(2),
		ParentConsensusHash: root.ConsensusHash,
		ParentBlockHash:     root.BlockHash,
		Height:              2,
		Bytes:               []byte("mid-bytes"),
	}
	_, err := s.PreprocessAnchoredBlock(mid, sr, nil)
	require.NoError(t, err)

	leaf := types.StagingBlock{
		ConsensusHash:       consensusHash(3),
		BlockHash:           blockHash(3),
		ParentConsensusHash: mid.ConsensusHash,
		ParentBlockHash:     mid.BlockHash,
		Height:              3,
		Bytes:               []byte("leaf-bytes"),
	}
	_, err = s.PreprocessAnchoredBlock(leaf, sr, nil)
	require.NoError(t, err)

	mb := types.StagingMicroblock{
		ConsensusHash:     leaf.ConsensusHash,
		AnchoredBlockHash: leaf.BlockHash,
		MicroblockHash:    blockHash(30),
		Sequence:          0,
		Bytes:             []byte("mb"),
	}
	_, err = s.PreprocessMicroblock(mb)
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(mid.ConsensusHash, mid.BlockHash, false, sr))

	gotMid, _, err := s.GetStagingBlock(mid.IndexBlockHash())
	require.NoError(t, err)
	require.True(t, gotMid.Orphaned)
	require.True(t, gotMid.Processed)
	require.Nil(t, gotMid.Bytes)

	gotLeaf, _, err := s.GetStagingBlock(leaf.IndexBlockHash())
	require.NoError(t, err)
	require.True(t, gotLeaf.Orphaned, "descendant of a rejected block must be orphaned too")

	streamed, err := s.LoadStreamedMicroblocks(leaf.IndexBlockHash())
	require.NoError(t, err)
	require.Len(t, streamed, 1)
	require.True(t, streamed[0].Orphaned, "microblocks of an orphaned anchored block are orphaned")
}

func TestFindNextAttachable_SkipsProcessedAndOrphaned(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()

	a := genesisChild(consensusHash(1), blockHash(1), 1)
	_, err := s.PreprocessAnchoredBlock(a, sr, nil)
	require.NoError(t, err)

	cand, ok, err := s.FindNextAttachable(sr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.ConsensusHash, cand.ConsensusHash)

	require.NoError(t, s.MarkProcessed(a.ConsensusHash, a.BlockHash, true, sr))

	_, ok, err = s.FindNextAttachable(sr)
	require.NoError(t, err)
	require.False(t, ok, "a processed block is no longer a candidate")
}

func TestFindNextAttachable_OrphansStaleSortitionInline(t *testing.T) {
	s := openTestStore(t)
	sr := newFakeSortitions()

	a := genesisChild(consensusHash(1), blockHash(1), 1)
	_, err := s.PreprocessAnchoredBlock(a, sr, nil)
	require.NoError(t, err)

	sr.retired[a.ConsensusHash] = true

	_, ok, err := s.FindNextAttachable(sr)
	require.NoError(t, err)
	require.False(t, ok)

	got, _, err := s.GetStagingBlock(a.IndexBlockHash())
	require.NoError(t, err)
	require.True(t, got.Orphaned, "a candidate whose sortition died must be orphaned, not just skipped")
}

func mustAccept(s *Store, b types.StagingBlock, sr SortitionReader) error {
	if _, err := s.PreprocessAnchoredBlock(b, sr, nil); err != nil {
		return err
	}
	return s.MarkProcessed(b.ConsensusHash, b.BlockHash, true, sr)
}
