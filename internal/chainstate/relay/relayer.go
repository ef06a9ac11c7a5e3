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
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/burnfee"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/appender"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chunkstore"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/microblock"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/staging"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
	"github.com/blockstack/stacks-blockchain-go/log"
)

// DefaultQueueCapacity is the directive queue's bound, per spec.md §5
// "the peer->relayer directive queue is bounded (≈100)".
const DefaultQueueCapacity = 100

// BurnBlockMinedAtModulus matches spec.md §4.7 step 8's "current burn
// height mod BURN_BLOCK_MINED_AT_MODULUS".
const BurnBlockMinedAtModulus = 5

// Config wires every collaborator a relayer needs. Fields left nil disable
// the directives that need them (e.g. a relayer with no VRFSigner can still
// process ProcessTenure/HandleNetResult, and only logs an error if asked to
// RunTenure).
type Config struct {
	Staging     *staging.Store
	Chunks      *chunkstore.Store
	Appender    *appender.Appender
	Sortitions  staging.SortitionReader
	Progress    Progress
	BurnFee     burnfee.Oracle
	Builder     BlockBuilder
	VRF         VRFSigner
	MBKeys      MicroblockKeySigner
	Committer   BurnchainCommitter
	Broadcaster Broadcaster
	Mempool     MempoolSink
	MinerTip    *MinerTipCell

	QueueCapacity int
	Log           log.Logger
}

// Relayer is the C7 state machine: single consumer of a bounded directive
// queue, exclusive writer of the headers DB and chunk store (spec.md §5).
type Relayer struct {
	cfg   Config
	queue chan Directive
	log   log.Logger

	mu              sync.Mutex
	inFlight        map[common.BurnHeaderHash][]InFlightBuild
	attempts        map[string]uint64
	registeredUpTo  map[uint64]bool
	lastMicroblockKey []byte
}

// New constructs a ready-to-run Relayer.
func New(cfg Config) *Relayer {
	cap := cfg.QueueCapacity
	if cap <= 0 {
		cap = DefaultQueueCapacity
	}
	l := cfg.Log
	if l == nil {
		l = log.New("component", "relay")
	}
	return &Relayer{
		cfg:            cfg,
		queue:          make(chan Directive, cap),
		log:            l,
		inFlight:       make(map[common.BurnHeaderHash][]InFlightBuild),
		attempts:       make(map[string]uint64),
		registeredUpTo: make(map[uint64]bool),
	}
}

// Submit enqueues a directive without blocking, reporting false if the
// queue is full (spec.md §5 backpressure: "try_send failures cause the
// peer thread to retain the directive... and stop consuming new network
// data"). Retaining the directive and throttling the peer thread is the
// caller's responsibility, not this component's.
func (r *Relayer) Submit(d Directive) bool {
	select {
	case r.queue <- d:
		return true
	default:
		return false
	}
}

// Run consumes directives until stop is closed. recv() on the queue is the
// relayer's only blocking call (spec.md §5); every directive's DB/chunk
// operations complete synchronously within this one call.
func (r *Relayer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case d := <-r.queue:
			r.dispatch(d)
		}
	}
}

func (r *Relayer) dispatch(d Directive) {
	switch v := d.(type) {
	case HandleNetResultDirective:
		r.handleNetResult(v)
	case ProcessTenureDirective:
		r.processTenure(v)
	case RunTenureDirective:
		r.runTenure(v)
	case RegisterKeyDirective:
		r.registerKey(v)
	case BroadcastMicroblockDirective:
		if r.cfg.Broadcaster != nil {
			r.cfg.Broadcaster.BroadcastMicroblock(v.ConsensusHash, v.BlockHash, v.Microblock)
		}
	default:
		r.log.Error("unknown directive", "type", fmt.Sprintf("%T", d))
	}
}

func (r *Relayer) handleNetResult(v HandleNetResultDirective) {
	if r.cfg.Mempool == nil {
		return
	}
	for _, tx := range v.Result.NewMempoolTxs {
		if err := r.cfg.Mempool.AdmitNetworkTx(tx); err != nil {
			r.log.Debug("mempool rejected network tx", "err", err)
		}
	}
}

// registerKey implements spec.md §4.7 "RegisterKey(burn_snapshot)": rotate
// a VRF keypair and submit a key-registration burnchain tx, unless one was
// already submitted at this burn height.
func (r *Relayer) registerKey(v RegisterKeyDirective) {
	r.mu.Lock()
	already := r.registeredUpTo[v.Snapshot.BurnHeaderHeight]
	r.mu.Unlock()
	if already {
		return
	}
	if r.cfg.VRF == nil || r.cfg.Committer == nil {
		r.log.Error("register key requested with no VRF signer or committer configured")
		return
	}
	pub, err := r.cfg.VRF.GenerateKey()
	if err != nil {
		r.log.Error("generate vrf keypair failed", "err", err)
		return
	}
	if err := r.cfg.Committer.SubmitLeaderKeyRegister(pub, v.Snapshot.ConsensusHash); err != nil {
		r.log.Error("submit leader key register failed", "err", err)
		return
	}
	r.mu.Lock()
	r.registeredUpTo[v.Snapshot.BurnHeaderHeight] = true
	r.mu.Unlock()
}

// ProcessTenure implements spec.md §4.7: look up our in-flight assembly
// keyed by parent_burn matching (ch, block_hash); on a match, stage the
// assembled block, call the appender, and on success advertise/broadcast
// it and publish the miner-tip cell. Otherwise clear the miner-tip cell.
func (r *Relayer) processTenure(v ProcessTenureDirective) {
	build, ok := r.takeMatchingBuild(v.ParentBurnHeaderHash, v.ConsensusHash, v.BlockHash)
	if !ok {
		if r.cfg.MinerTip != nil {
			r.cfg.MinerTip.Clear()
		}
		return
	}

	idx := common.MakeIndexBlockHash(v.ConsensusHash, v.BlockHash)
	if r.cfg.Chunks != nil {
		if err := r.cfg.Chunks.Put(idx, build.Block.Bytes()); err != nil {
			r.log.Error("store assembled block bytes failed", "idx", idx, "err", err)
			return
		}
	}
	if r.cfg.Staging != nil {
		row := types.StagingBlock{
			ConsensusHash:        v.ConsensusHash,
			BlockHash:            v.BlockHash,
			ParentConsensusHash:  build.ParentConsensusHash,
			ParentBlockHash:      build.ParentBlockHash,
			MicroblockPubkeyHash: build.Block.Header.MicroblockPubkeyHash,
			Height:               build.Height,
			Bytes:                build.Block.Bytes(),
		}
		result, err := r.cfg.Staging.PreprocessAnchoredBlock(row, r.cfg.Sortitions, nil)
		switch {
		case err != nil && errors.Is(err, chainerr.ErrInvalidBurnchainLink):
			// The sortition this directive names is no longer live on the
			// canonical PoX fork; nothing to append.
			if r.cfg.MinerTip != nil {
				r.cfg.MinerTip.Clear()
			}
			return
		case err != nil:
			r.log.Error("stage assembled block failed", "idx", idx, "err", err)
			return
		case result != staging.Accepted && result != staging.AlreadyPresent:
			r.log.Error("unexpected stage result for assembled block", "idx", idx, "result", result)
			return
		}
	}

	if r.cfg.Appender == nil {
		return
	}
	headerRow, _, err := r.cfg.Appender.Append(idx, v.BurnHeaderHash, v.BurnHeaderHeight, v.BurnHeaderTimestamp)
	if err != nil {
		switch {
		case errors.Is(err, chainerr.ErrInvalidStacksBlock), errors.Is(err, chainerr.ErrInvalidStacksMicroblock):
			r.log.Info("assembled block rejected on append", "idx", idx, "err", err)
		default:
			r.log.Error("append failed, will retry on next matching directive", "idx", idx, "err", err)
		}
		if r.cfg.MinerTip != nil {
			r.cfg.MinerTip.Clear()
		}
		return
	}

	if r.cfg.Broadcaster != nil {
		r.cfg.Broadcaster.AdvertiseBlock(v.ConsensusHash, v.BlockHash)
	}
	if r.cfg.Progress != nil {
		r.cfg.Progress.RecordStacksBlockProcessed()
		r.cfg.Progress.AnnounceNewStacksBlock()
	}
	if r.cfg.MinerTip != nil {
		r.cfg.MinerTip.Set(MinerTip{
			ConsensusHash:        v.ConsensusHash,
			BlockHash:            v.BlockHash,
			MicroblockPrivateKey: build.MicroblockPrivateKey,
		})
	}
	_ = headerRow
}

func (r *Relayer) takeMatchingBuild(parentBurn common.BurnHeaderHash, ch common.ConsensusHash, blockHash common.BlockHeaderHash) (InFlightBuild, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	builds := r.inFlight[parentBurn]
	for i, b := range builds {
		if b.Block.Hash() == blockHash {
			r.inFlight[parentBurn] = append(builds[:i:i], builds[i+1:]...)
			return b, true
		}
	}
	return InFlightBuild{}, false
}

// runTenure implements spec.md §4.7's tenure-assembly algorithm (steps
// 1-9).
func (r *Relayer) runTenure(v RunTenureDirective) {
	if r.cfg.Builder == nil || r.cfg.VRF == nil || r.cfg.Committer == nil || r.cfg.Staging == nil {
		r.log.Error("run tenure requested with incomplete configuration")
		return
	}

	// Step 1: determine parent tip.
	parent, hasParent, err := r.cfg.Staging.CanonicalTip()
	if err != nil {
		r.log.Error("load canonical tip failed", "err", err)
		return
	}
	if !hasParent {
		parent = types.HeaderRow{} // genesis sentinel: zero ParentBlockHash == common.FirstStacksBlockHash
	}

	// Step 2: determine attempt. A repeat build against this exact
	// (parent, burn) pair is skipped only when the parent has no
	// microblock tail; with a non-empty tail it is rebuilt every time,
	// whether or not the tail has grown since the last build.
	attemptKey := fmt.Sprintf("%x|%x|%x", parent.ConsensusHash, parent.Header.Hash(), v.Snapshot.BurnHeaderHash)
	tail, err := r.loadConnectingTail(parent, hasParent)
	if err != nil {
		r.log.Error("load microblock tail failed", "err", err)
		return
	}
	r.mu.Lock()
	prevAttempt, attempted := r.attempts[attemptKey]
	r.mu.Unlock()
	if attempted && len(tail.microblocks) == 0 {
		return // no microblock tail, no new parent tip: don't waste a burn commit
	}
	attempt := prevAttempt + 1

	// Step 3: VRF proof over the sortition hash.
	proof, vrfOutput, err := r.cfg.VRF.Prove(v.Key.PublicKey, v.Snapshot.SortitionHash[:])
	if err != nil {
		r.log.Error("vrf prove failed", "err", err)
		return
	}

	// Step 4: microblock signing keypair; reuse on attempt>1 of the same
	// burn block, else rotate.
	mbKey := r.lastMicroblockKey
	var mbPubkeyHash common.PubkeyHash160
	if attempt == 1 || mbKey == nil {
		if r.cfg.MBKeys == nil {
			r.log.Error("no microblock key signer configured")
			return
		}
		var perr error
		mbKey, mbPubkeyHash, perr = r.cfg.MBKeys.GenerateMicroblockKey()
		if perr != nil {
			r.log.Error("generate microblock key failed", "err", perr)
			return
		}
	}

	// Step 5 already loaded into tail above (longest connecting stream
	// plus any detected poison).

	// Step 6: build the candidate block.
	coinbaseTx := types.Transaction{IsCoinbase: true, Payload: types.TxPayload{Kind: types.PayloadCoinbase}}
	const costBudget = 1 << 20
	block, err := r.cfg.Builder.BuildAnchoredBlock(parent, tail.microblocks, tail.poison, coinbaseTx, costBudget)
	if err != nil {
		r.log.Error("build anchored block failed", "err", err)
		return
	}
	block.Header.Proof = proof
	block.Header.MicroblockPubkeyHash = mbPubkeyHash
	var nextHeight uint64 = 1
	if hasParent {
		block.Header.ParentBlock = parent.Header.Hash()
		nextHeight = parent.Height + 1
	} else {
		block.Header.ParentBlock = common.BlockHeaderHash{} // genesis sentinel, common.FirstStacksBlockHash
	}

	// Step 7/8: PoX recipients are out of scope here (spec.md §4.7 step 7
	// "out of scope"); submit the commit with the burn-fee oracle's
	// current cap and a zero sunset burn.
	var burnFee *uint256.Int
	if r.cfg.BurnFee != nil {
		burnFee = r.cfg.BurnFee.Current()
	} else {
		burnFee = new(uint256.Int)
	}
	commit := LeaderBlockCommit{
		BlockHeaderHash:   block.Hash(),
		BurnFeeUstx:       burnFee,
		SunsetBurnUstx:    new(uint256.Int),
		KeyBlockHeight:    v.Key.RegisteredHeight,
		ParentBlockHeight: parent.Height,
		ParentVtxIndex:    v.Snapshot.ParentVtxIndex,
		BurnParentModulus: uint8(v.Snapshot.BurnHeaderHeight % BurnBlockMinedAtModulus),
		NewSeed:           vrfSeed(vrfOutput),
	}
	if err := r.cfg.Committer.SubmitLeaderBlockCommit(commit); err != nil {
		r.log.Error("submit leader block commit failed", "err", err)
		return
	}

	// Step 9: track the in-flight build.
	r.mu.Lock()
	r.attempts[attemptKey] = attempt
	r.lastMicroblockKey = mbKey
	r.inFlight[v.Snapshot.BurnHeaderHash] = append(r.inFlight[v.Snapshot.BurnHeaderHash], InFlightBuild{
		ID:                   uuid.New(),
		Attempt:              attempt,
		ParentConsensusHash:  parent.ConsensusHash,
		ParentBlockHash:      block.Header.ParentBlock,
		Height:               nextHeight,
		BurnHeaderHash:       v.Snapshot.BurnHeaderHash,
		Block:                block,
		MicroblockPrivateKey: mbKey,
	})
	r.mu.Unlock()
}

type connectingTail struct {
	microblocks []types.Microblock
	poison      *types.PoisonMicroblock
}

// loadConnectingTail loads parent's confirmed microblock stream and finds
// its longest connecting prefix (and any poison found within it), per
// spec.md §4.7 step 5. It is expressed as a call into the microblock
// validator (C3) with a synthetic child declaring the stream's own tail as
// its parent microblock, which forces Validate to walk and check the
// entire chain exactly as it would for a real child block confirming it.
// A hasParent==false (genesis) tip has no tail to load.
func (r *Relayer) loadConnectingTail(parent types.HeaderRow, hasParent bool) (connectingTail, error) {
	if !hasParent {
		return connectingTail{}, nil
	}
	parentIdx := common.MakeIndexBlockHash(parent.ConsensusHash, parent.Header.Hash())
	staged, err := r.cfg.Staging.LoadStreamedMicroblocks(parentIdx)
	if err != nil {
		return connectingTail{}, err
	}
	if len(staged) == 0 {
		return connectingTail{}, nil
	}
	stream := make([]types.Microblock, 0, len(staged))
	for _, s := range staged {
		mb, err := types.DecodeMicroblock(s.Bytes)
		if err != nil {
			return connectingTail{}, fmt.Errorf("decode staged microblock: %w", err)
		}
		stream = append(stream, mb)
	}
	tailHeader := stream[len(stream)-1].Header
	syntheticChild := types.AnchoredHeader{
		ParentMicroblock:         tailHeader.Hash(),
		ParentMicroblockSequence: tailHeader.Sequence,
	}
	result := microblock.Validate(false, nil, parent.Header.Hash(), parent.Header.MicroblockPubkeyHash, syntheticChild, stream)
	out := connectingTail{}
	switch result.Outcome {
	case microblock.Connects, microblock.ConnectsWithPoison:
		out.microblocks = stream[:result.K]
		if result.Outcome == microblock.ConnectsWithPoison {
			out.poison = result.Poison
		}
	}
	return out, nil
}

// vrfSeed derives the fixed-width burnchain commit seed from a VRF output
// (spec.md §4.7 step 8 "new seed, VRF seed derived from the proof").
func vrfSeed(vrfOutput []byte) common.Hash {
	var h common.Hash
	copy(h[:], vrfOutput)
	return h
}
