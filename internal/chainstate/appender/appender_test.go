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
	"errors"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chunkstore"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/pox"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/staging"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// fakeSortitions mirrors staging's own test stub: every consensus hash is
// live unless explicitly retired.
type fakeSortitions struct {
	retired map[common.ConsensusHash]bool
}

func newFakeSortitions() *fakeSortitions {
	return &fakeSortitions{retired: map[common.ConsensusHash]bool{}}
}

func (f *fakeSortitions) IsLiveSortition(ch common.ConsensusHash) bool { return !f.retired[ch] }
func (f *fakeSortitions) MarkAccepted(common.ConsensusHash, common.BlockHeaderHash) {}

// fakeStateTx is an in-memory StateTx: each applied tx adds a flat cost and
// reports its fee in the receipt, credited rewards are recorded, and no
// real VM or trie backs it.
type fakeStateTx struct {
	cost     uint64
	burnt    *uint256.Int
	rewards  []types.MinerReward
	root     common.Hash
	failWhen func(types.Transaction) bool
}

func newFakeStateTx(parentCost uint64, root common.Hash, failWhen func(types.Transaction) bool) *fakeStateTx {
	return &fakeStateTx{cost: parentCost, burnt: new(uint256.Int), root: root, failWhen: failWhen}
}

func (tx *fakeStateTx) ApplyTx(t types.Transaction) (Receipt, error) {
	if tx.failWhen != nil && tx.failWhen(t) {
		return Receipt{}, errors.New("simulated VM failure")
	}
	fee := t.Fee
	if fee == nil {
		fee = new(uint256.Int)
	}
	tx.cost += 10
	return Receipt{Origin: t.Origin, Nonce: t.Nonce, FeeUstx: fee, Cost: 10}, nil
}
func (tx *fakeStateTx) ApplyBurnOp(BurnOp) error             { return nil }
func (tx *fakeStateTx) Cost() uint64                         { return tx.cost }
func (tx *fakeStateTx) ResetCost(baseline uint64)            { tx.cost = baseline }
func (tx *fakeStateTx) CreditReward(r types.MinerReward) error {
	tx.rewards = append(tx.rewards, r)
	return nil
}
func (tx *fakeStateTx) CreditUnlock(common.Address, *uint256.Int) error { return nil }
func (tx *fakeStateTx) BurntUstx() *uint256.Int                         { return tx.burnt }
func (tx *fakeStateTx) StateRoot() common.Hash                          { return tx.root }
func (tx *fakeStateTx) Commit(common.ConsensusHash, common.BlockHeaderHash) error {
	return nil
}
func (tx *fakeStateTx) Rollback() {}

// fakeStateBackend gives every scratch it opens wantRoot as its state root
// and routes every ApplyTx failure decision through failWhen.
type fakeStateBackend struct {
	wantRoot common.Hash
	failWhen func(types.Transaction) bool
}

func (b *fakeStateBackend) OpenScratch(_ common.IndexBlockHash, parentCost uint64) (StateTx, error) {
	return newFakeStateTx(parentCost, b.wantRoot, b.failWhen), nil
}

func consensusHash(b byte) common.ConsensusHash {
	var ch common.ConsensusHash
	ch[0] = b
	return ch
}

func addr(b byte) common.Address {
	return common.NewAddress(common.AddressMainnetSingleSig, []byte{b, b, b})
}

var wantRoot = common.Hash{0xAB}

func coinbaseTx(origin common.Address) types.Transaction {
	return types.Transaction{
		Origin:     origin,
		Nonce:      0,
		Fee:        new(uint256.Int),
		IsCoinbase: true,
		Payload:    types.TxPayload{Kind: types.PayloadCoinbase},
	}
}

func transferTx(origin common.Address, nonce uint64, fee uint64) types.Transaction {
	return types.Transaction{
		Origin: origin,
		Nonce:  nonce,
		Fee:    uint256.NewInt(fee),
		Payload: types.TxPayload{
			Kind: types.PayloadTokenTransfer,
		},
	}
}

// buildBlock returns an AnchoredBlock (and its header hash) for the given
// parent linkage; txs[0] must be a coinbase.
func buildBlock(parentBlock common.BlockHeaderHash, pubkeyHash common.PubkeyHash160, txs []types.Transaction) types.AnchoredBlock {
	return types.AnchoredBlock{
		Header: types.AnchoredHeader{
			Version:              1,
			ParentBlock:          parentBlock,
			StateIndexRoot:       wantRoot,
			MicroblockPubkeyHash: pubkeyHash,
		},
		Txs: txs,
	}
}

func stageBlock(t *testing.T, s *staging.Store, sr staging.SortitionReader, block types.AnchoredBlock, ch, parentCH common.ConsensusHash, parentBH common.BlockHeaderHash, height uint64, commitBurn uint64) common.IndexBlockHash {
	t.Helper()
	row := types.StagingBlock{
		ConsensusHash:       ch,
		BlockHash:           block.Hash(),
		ParentConsensusHash: parentCH,
		ParentBlockHash:     parentBH,
		MicroblockPubkeyHash: block.Header.MicroblockPubkeyHash,
		Height:              height,
		CommitBurn:          commitBurn,
		Bytes:               block.Bytes(),
	}
	res, err := s.PreprocessAnchoredBlock(row, sr, nil)
	require.NoError(t, err)
	require.Equal(t, staging.Accepted, res)
	return common.MakeIndexBlockHash(ch, block.Hash())
}

func newTestAppender(t *testing.T, backend StateBackend, maturity uint64) (*Appender, *staging.Store, *chunkstore.Store, *fakeSortitions) {
	t.Helper()
	s, err := staging.Open(":memory:", staging.WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	chunks, err := chunkstore.New(t.TempDir(), 1<<20, 1<<16)
	require.NoError(t, err)

	sr := newFakeSortitions()
	a := New(Config{
		Staging:    s,
		Chunks:     chunks,
		State:      backend,
		Sortitions: sr,
		Maturity:   maturity,
	})
	return a, s, chunks, sr
}

func TestAppend_GenesisBlockCommits(t *testing.T) {
	backend := &fakeStateBackend{wantRoot: wantRoot}
	a, s, _, sr := newTestAppender(t, backend, 100)

	miner := addr(1)
	block := buildBlock(common.FirstStacksBlockHash, common.PubkeyHash160{0x01}, []types.Transaction{
		coinbaseTx(miner),
		transferTx(addr(2), 0, 100),
	})
	idx := stageBlock(t, s, sr, block, consensusHash(1), common.ConsensusHash{}, common.FirstStacksBlockHash, 1, 50)

	header, receipts, err := a.Append(idx, common.BurnHeaderHash{0x01}, 10, 1234)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, miner, header.MinerAddress)
	require.Equal(t, uint64(0), header.TotalLiquidUstx.Uint64())
	require.Equal(t, 0, header.AnchoredFeesUstx.Cmp(uint256.NewInt(100)))

	got, ok, err := s.GetHeaderRow(idx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, header.Height, got.Height)
}

func TestAppend_CoinbaseMaturesAfterWindow(t *testing.T) {
	backend := &fakeStateBackend{wantRoot: wantRoot}
	a, s, _, sr := newTestAppender(t, backend, 2)

	block1 := buildBlock(common.FirstStacksBlockHash, common.PubkeyHash160{0x01}, []types.Transaction{coinbaseTx(addr(1))})
	idx1 := stageBlock(t, s, sr, block1, consensusHash(1), common.ConsensusHash{}, common.FirstStacksBlockHash, 1, 10)
	_, _, err := a.Append(idx1, common.BurnHeaderHash{0x01}, 1, 100)
	require.NoError(t, err)

	block2 := buildBlock(block1.Hash(), common.PubkeyHash160{0x02}, []types.Transaction{coinbaseTx(addr(2))})
	idx2 := stageBlock(t, s, sr, block2, consensusHash(2), consensusHash(1), block1.Hash(), 2, 10)
	header2, _, err := a.Append(idx2, common.BurnHeaderHash{0x02}, 2, 200)
	require.NoError(t, err)
	require.Equal(t, uint64(0), header2.TotalLiquidUstx.Uint64()) // height 2 <= maturity 2: nothing matures yet

	block3 := buildBlock(block2.Hash(), common.PubkeyHash160{0x03}, []types.Transaction{coinbaseTx(addr(3))})
	idx3 := stageBlock(t, s, sr, block3, consensusHash(3), consensusHash(2), block2.Hash(), 3, 10)
	header3, _, err := a.Append(idx3, common.BurnHeaderHash{0x03}, 3, 300)
	require.NoError(t, err)
	require.Equal(t, 0, header3.TotalLiquidUstx.Cmp(pox.DefaultCoinbaseUstx))
	require.Equal(t, idx1, header3.MaturedAncestor)
}

func TestAppend_UnresolvedParentRejected(t *testing.T) {
	backend := &fakeStateBackend{wantRoot: wantRoot}
	a, s, _, sr := newTestAppender(t, backend, 100)

	ghostParent := common.BlockHeaderHash{0xFF}
	block := buildBlock(ghostParent, common.PubkeyHash160{0x01}, []types.Transaction{coinbaseTx(addr(1))})
	idx := stageBlock(t, s, sr, block, consensusHash(1), consensusHash(9), ghostParent, 5, 10)

	_, _, err := a.Append(idx, common.BurnHeaderHash{0x01}, 1, 100)
	require.ErrorIs(t, err, chainerr.ErrInvalidStacksBlock)

	row, ok, err := s.GetStagingBlock(idx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, row.Orphaned)
}

func TestAppend_MicroblockPubkeyReuseRejected(t *testing.T) {
	backend := &fakeStateBackend{wantRoot: wantRoot}
	a, s, _, sr := newTestAppender(t, backend, 100)

	pubkey := common.PubkeyHash160{0x42}
	block1 := buildBlock(common.FirstStacksBlockHash, pubkey, []types.Transaction{coinbaseTx(addr(1))})
	idx1 := stageBlock(t, s, sr, block1, consensusHash(1), common.ConsensusHash{}, common.FirstStacksBlockHash, 1, 10)
	_, _, err := a.Append(idx1, common.BurnHeaderHash{0x01}, 1, 100)
	require.NoError(t, err)

	block2 := buildBlock(common.FirstStacksBlockHash, pubkey, []types.Transaction{coinbaseTx(addr(2))})
	idx2 := stageBlock(t, s, sr, block2, consensusHash(2), common.ConsensusHash{}, common.FirstStacksBlockHash, 2, 10)
	_, _, err = a.Append(idx2, common.BurnHeaderHash{0x02}, 2, 200)
	require.ErrorIs(t, err, chainerr.ErrInvalidStacksBlock)
}

func TestAppend_MicroblockTxFailureDropsStreamLeavesBlockPending(t *testing.T) {
	failingOrigin := addr(9)
	backend := &fakeStateBackend{
		wantRoot: wantRoot,
		failWhen: func(tx types.Transaction) bool { return tx.Origin == failingOrigin },
	}
	a, s, _, sr := newTestAppender(t, backend, 100)

	pubkey := common.PubkeyHash160{0x01}
	block1 := buildBlock(common.FirstStacksBlockHash, pubkey, []types.Transaction{coinbaseTx(addr(1))})
	idx1 := stageBlock(t, s, sr, block1, consensusHash(1), common.ConsensusHash{}, common.FirstStacksBlockHash, 1, 10)
	_, _, err := a.Append(idx1, common.BurnHeaderHash{0x01}, 1, 100)
	require.NoError(t, err)

	mb0 := types.Microblock{
		Header: types.MicroblockHeader{Sequence: 0, PrevBlock: block1.Hash()},
		Txs:    []types.Transaction{transferTx(failingOrigin, 0, 5)},
	}
	parentIdx := idx1
	require.NoError(t, s.PreprocessMicroblock(types.StagingMicroblock{
		ConsensusHash:     consensusHash(1),
		AnchoredBlockHash: block1.Hash(),
		MicroblockHash:    mb0.Hash(),
		ParentHash:        block1.Hash(),
		Sequence:          0,
		Bytes:             mb0.Bytes(),
	}))

	block2 := buildBlock(common.FirstStacksBlockHash, common.PubkeyHash160{0x02}, []types.Transaction{coinbaseTx(addr(2))})
	block2.Header.ParentBlock = block1.Hash()
	block2.Header.ParentMicroblock = mb0.Hash()
	block2.Header.ParentMicroblockSequence = 0
	idx2 := stageBlock(t, s, sr, block2, consensusHash(2), consensusHash(1), block1.Hash(), 2, 10)

	_, _, err = a.Append(idx2, common.BurnHeaderHash{0x02}, 2, 200)
	require.ErrorIs(t, err, chainerr.ErrInvalidStacksMicroblock)

	row, ok, err := s.GetStagingBlock(idx2)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, row.Processed) // left pending for a retry against a different tail

	mbs, err := s.LoadStreamedMicroblocks(parentIdx)
	require.NoError(t, err)
	require.Len(t, mbs, 1)
	require.True(t, mbs[0].Orphaned)
}

func TestAppend_AnchoredTxFailureRejectsBlockOnly(t *testing.T) {
	failingOrigin := addr(9)
	backend := &fakeStateBackend{
		wantRoot: wantRoot,
		failWhen: func(tx types.Transaction) bool { return tx.Origin == failingOrigin },
	}
	a, s, _, sr := newTestAppender(t, backend, 100)

	block := buildBlock(common.FirstStacksBlockHash, common.PubkeyHash160{0x01}, []types.Transaction{
		coinbaseTx(addr(1)),
		transferTx(failingOrigin, 0, 5),
	})
	idx := stageBlock(t, s, sr, block, consensusHash(1), common.ConsensusHash{}, common.FirstStacksBlockHash, 1, 10)

	_, _, err := a.Append(idx, common.BurnHeaderHash{0x01}, 1, 100)
	require.ErrorIs(t, err, chainerr.ErrInvalidStacksBlock)

	row, ok, err := s.GetStagingBlock(idx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, row.Orphaned)
}

func TestAppend_StateRootMismatchRejected(t *testing.T) {
	backend := &fakeStateBackend{wantRoot: common.Hash{0x99}} // never matches block headers' wantRoot
	a, s, _, sr := newTestAppender(t, backend, 100)

	block := buildBlock(common.FirstStacksBlockHash, common.PubkeyHash160{0x01}, []types.Transaction{coinbaseTx(addr(1))})
	idx := stageBlock(t, s, sr, block, consensusHash(1), common.ConsensusHash{}, common.FirstStacksBlockHash, 1, 10)

	_, _, err := a.Append(idx, common.BurnHeaderHash{0x01}, 1, 100)
	require.ErrorIs(t, err, chainerr.ErrInvalidStacksBlock)

	row, ok, err := s.GetStagingBlock(idx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, row.Orphaned)
}
