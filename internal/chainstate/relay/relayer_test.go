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

package relay

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/appender"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chunkstore"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/staging"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// fakeSortitions mirrors the appender/staging test stub: every consensus
// hash is live unless explicitly retired.
type fakeSortitions struct{ retired map[common.ConsensusHash]bool }

func newFakeSortitions() *fakeSortitions { return &fakeSortitions{retired: map[common.ConsensusHash]bool{}} }
func (f *fakeSortitions) IsLiveSortition(ch common.ConsensusHash) bool { return !f.retired[ch] }
func (f *fakeSortitions) MarkAccepted(common.ConsensusHash, common.BlockHeaderHash) {}

// fakeStateBackend always reports the configured root and applies every tx
// for a flat cost, mirroring appender_test.go's stub.
type fakeStateBackend struct{ root common.Hash }

func (b *fakeStateBackend) OpenScratch(_ common.IndexBlockHash, parentCost uint64) (appender.StateTx, error) {
	return &fakeStateTx{cost: parentCost, root: b.root, burnt: new(uint256.Int)}, nil
}

type fakeStateTx struct {
	cost  uint64
	root  common.Hash
	burnt *uint256.Int
}

func (tx *fakeStateTx) ApplyTx(t types.Transaction) (appender.Receipt, error) {
	fee := t.Fee
	if fee == nil {
		fee = new(uint256.Int)
	}
	tx.cost += 10
	return appender.Receipt{Origin: t.Origin, Nonce: t.Nonce, FeeUstx: fee, Cost: 10}, nil
}
func (tx *fakeStateTx) ApplyBurnOp(appender.BurnOp) error          { return nil }
func (tx *fakeStateTx) Cost() uint64                               { return tx.cost }
func (tx *fakeStateTx) ResetCost(baseline uint64)                   { tx.cost = baseline }
func (tx *fakeStateTx) CreditReward(types.MinerReward) error        { return nil }
func (tx *fakeStateTx) CreditUnlock(common.Address, *uint256.Int) error { return nil }
func (tx *fakeStateTx) BurntUstx() *uint256.Int                     { return tx.burnt }
func (tx *fakeStateTx) StateRoot() common.Hash                      { return tx.root }
func (tx *fakeStateTx) Commit(common.ConsensusHash, common.BlockHeaderHash) error { return nil }
func (tx *fakeStateTx) Rollback()                                   {}

// fakeBuilder returns a fixed candidate block, stamping the parent linkage
// the test expects the relayer to have resolved.
type fakeBuilder struct {
	root   common.Hash
	pubkey common.PubkeyHash160
	fail   error
}

func (b *fakeBuilder) BuildAnchoredBlock(parent types.HeaderRow, tail []types.Microblock, poison *types.PoisonMicroblock, coinbase types.Transaction, costBudget uint64) (types.AnchoredBlock, error) {
	if b.fail != nil {
		return types.AnchoredBlock{}, b.fail
	}
	return types.AnchoredBlock{
		Header: types.AnchoredHeader{
			Version:        1,
			StateIndexRoot: b.root,
		},
		Txs: []types.Transaction{coinbase},
	}, nil
}

type fakeVRF struct{ key []byte }

func (f *fakeVRF) GenerateKey() ([]byte, error) { return []byte{0x01, 0x02}, nil }
func (f *fakeVRF) Prove(publicKey, alpha []byte) ([]byte, []byte, error) {
	return []byte("proof"), []byte("output-bytes-0000000000000000000"), nil
}

type fakeMBKeys struct{ n int }

func (f *fakeMBKeys) GenerateMicroblockKey() ([]byte, common.PubkeyHash160, error) {
	f.n++
	var h common.PubkeyHash160
	h[0] = byte(f.n)
	return []byte{byte(f.n)}, h, nil
}

type fakeCommitter struct {
	keyRegs []common.ConsensusHash
	commits []LeaderBlockCommit
	failErr error
}

func (f *fakeCommitter) SubmitLeaderKeyRegister(publicKey []byte, ch common.ConsensusHash) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.keyRegs = append(f.keyRegs, ch)
	return nil
}
func (f *fakeCommitter) SubmitLeaderBlockCommit(commit LeaderBlockCommit) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.commits = append(f.commits, commit)
	return nil
}

type fakeBroadcaster struct {
	advertised []common.BlockHeaderHash
}

func (f *fakeBroadcaster) AdvertiseBlock(ch common.ConsensusHash, blockHash common.BlockHeaderHash) {
	f.advertised = append(f.advertised, blockHash)
}
func (f *fakeBroadcaster) BroadcastMicroblock(common.ConsensusHash, common.BlockHeaderHash, types.Microblock) {
}

type fakeProgress struct{ announced, recorded int }

func (f *fakeProgress) AnnounceNewStacksBlock()    { f.announced++ }
func (f *fakeProgress) RecordStacksBlockProcessed() { f.recorded++ }

func newTestRig(t *testing.T) (*staging.Store, *chunkstore.Store, *fakeSortitions, *appender.Appender) {
	t.Helper()
	s, err := staging.Open(":memory:", staging.WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	chunks, err := chunkstore.New(t.TempDir(), 1<<20, 1<<16)
	require.NoError(t, err)

	sr := newFakeSortitions()
	a := appender.New(appender.Config{
		Staging:    s,
		Chunks:     chunks,
		State:      &fakeStateBackend{root: common.Hash{0xAB}},
		Sortitions: sr,
		Maturity:   100,
	})
	return s, chunks, sr, a
}

func TestRunTenure_GenesisParentSubmitsCommit(t *testing.T) {
	s, chunks, sr, a := newTestRig(t)
	committer := &fakeCommitter{}
	builder := &fakeBuilder{root: common.Hash{0xAB}}
	vrf := &fakeVRF{}
	mbKeys := &fakeMBKeys{}

	r := New(Config{
		Staging:    s,
		Chunks:     chunks,
		Appender:   a,
		Sortitions: sr,
		Builder:    builder,
		VRF:        vrf,
		MBKeys:     mbKeys,
		Committer:  committer,
		MinerTip:   &MinerTipCell{},
	})

	var ch common.ConsensusHash
	ch[0] = 0x01
	var burnHash common.BurnHeaderHash
	burnHash[0] = 0x01

	r.runTenure(RunTenureDirective{
		Key: RegisteredKey{PublicKey: []byte{0x01}, RegisteredHeight: 5},
		Snapshot: BurnSnapshot{
			ConsensusHash:    ch,
			BurnHeaderHash:   burnHash,
			BurnHeaderHeight: 10,
			SortitionHash:    common.Hash{0x02},
		},
	})

	require.Len(t, committer.commits, 1)
	r.mu.Lock()
	builds := r.inFlight[burnHash]
	r.mu.Unlock()
	require.Len(t, builds, 1)
	require.Equal(t, common.FirstStacksBlockHash, builds[0].ParentBlockHash)
	require.Equal(t, uint64(1), builds[0].Height)
}

func TestProcessTenure_MatchingBuildAppendsAndSetsTip(t *testing.T) {
	s, chunks, sr, a := newTestRig(t)
	committer := &fakeCommitter{}
	broadcaster := &fakeBroadcaster{}
	progress := &fakeProgress{}
	builder := &fakeBuilder{root: common.Hash{0xAB}}
	vrf := &fakeVRF{}
	mbKeys := &fakeMBKeys{}
	tip := &MinerTipCell{}

	r := New(Config{
		Staging:     s,
		Chunks:      chunks,
		Appender:    a,
		Sortitions:  sr,
		Builder:     builder,
		VRF:         vrf,
		MBKeys:      mbKeys,
		Committer:   committer,
		Broadcaster: broadcaster,
		Progress:    progress,
		MinerTip:    tip,
	})

	var ch common.ConsensusHash
	ch[0] = 0x01
	var burnHash common.BurnHeaderHash
	burnHash[0] = 0x01

	r.runTenure(RunTenureDirective{
		Key: RegisteredKey{PublicKey: []byte{0x01}, RegisteredHeight: 5},
		Snapshot: BurnSnapshot{
			ConsensusHash:    ch,
			BurnHeaderHash:   burnHash,
			BurnHeaderHeight: 10,
			SortitionHash:    common.Hash{0x02},
		},
	})
	require.Len(t, committer.commits, 1)

	r.mu.Lock()
	build := r.inFlight[burnHash][0]
	r.mu.Unlock()

	r.processTenure(ProcessTenureDirective{
		ConsensusHash:        ch,
		ParentBurnHeaderHash: burnHash,
		BlockHash:            build.Block.Hash(),
		BurnHeaderHash:       burnHash,
		BurnHeaderHeight:     10,
		BurnHeaderTimestamp:  100,
	})

	require.Len(t, broadcaster.advertised, 1)
	require.Equal(t, 1, progress.announced)
	require.Equal(t, 1, progress.recorded)
	gotTip, ok := tip.Get()
	require.True(t, ok)
	require.Equal(t, ch, gotTip.ConsensusHash)
}

func TestProcessTenure_NoMatchingBuildClearsTip(t *testing.T) {
	s, chunks, sr, a := newTestRig(t)
	tip := &MinerTipCell{}
	tip.Set(MinerTip{ConsensusHash: common.ConsensusHash{0x09}})

	r := New(Config{
		Staging:    s,
		Chunks:     chunks,
		Appender:   a,
		Sortitions: sr,
		MinerTip:   tip,
	})

	r.processTenure(ProcessTenureDirective{
		ConsensusHash:        common.ConsensusHash{0x01},
		ParentBurnHeaderHash: common.BurnHeaderHash{0x01},
		BlockHash:            common.BlockHeaderHash{0x02},
	})

	_, ok := tip.Get()
	require.False(t, ok)
}

func TestRegisterKey_DoesNotDoubleRegisterAtSameHeight(t *testing.T) {
	s, chunks, sr, a := newTestRig(t)
	committer := &fakeCommitter{}
	vrf := &fakeVRF{}

	r := New(Config{
		Staging:    s,
		Chunks:     chunks,
		Appender:   a,
		Sortitions: sr,
		VRF:        vrf,
		Committer:  committer,
	})

	snap := BurnSnapshot{ConsensusHash: common.ConsensusHash{0x01}, BurnHeaderHeight: 10}
	r.registerKey(RegisterKeyDirective{Snapshot: snap})
	r.registerKey(RegisterKeyDirective{Snapshot: snap})

	require.Len(t, committer.keyRegs, 1)
}

func TestSubmit_BackpressureWhenQueueFull(t *testing.T) {
	r := New(Config{QueueCapacity: 1})

	require.True(t, r.Submit(HandleNetResultDirective{}))
	require.False(t, r.Submit(HandleNetResultDirective{}))
}

func TestSubmit_DrainsAfterRun(t *testing.T) {
	r := New(Config{QueueCapacity: 1})
	stop := make(chan struct{})
	defer close(stop)
	go r.Run(stop)

	for i := 0; i < 5; i++ {
		if r.Submit(HandleNetResultDirective{}) {
			return
		}
	}
	t.Fatal("queue never drained once Run started consuming")
}
