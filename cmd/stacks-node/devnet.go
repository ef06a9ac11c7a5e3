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

// spec.md §1 draws a hard line around this engine: the burnchain watcher,
// the Clarity VM, and the P2P wire surface are external collaborators,
// specified only by the narrow interfaces the core consumes (state.go's
// StateBackend/StateTx, relay/types.go's VRFSigner/BurnchainCommitter/
// Broadcaster/BlockBuilder, staging's SortitionReader, mempool's
// ChainTip). A real node plugs a Bitcoin RPC client, a Clarity
// interpreter, and a libp2p-style gossip stack in behind those
// interfaces. This file plugs in-memory devnet stand-ins instead, so that
// `stacks-node` is a runnable single-leader devnet out of the box: every
// sortition is live, every burn commit wins its own tenure, and account
// state is a plain balance table rather than a MARF-backed Clarity store.
package main

import (
	"crypto/sha512"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/appender"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/mempool"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/microblock"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/relay"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
	"github.com/blockstack/stacks-blockchain-go/internal/vrfkey"
	"github.com/blockstack/stacks-blockchain-go/log"
)

// devLedger is the devnet StateBackend: one scratch slot's writes are a
// copy-on-write overlay of the most recent committed snapshot named by
// its parent IndexBlockHash, keyed by the (consensus_hash, block_hash)
// it was opened against. This stands in for the MARF-backed Clarity
// state spec.md §1 and §9 treat as a black box.
type devLedger struct {
	mu        sync.Mutex
	committed map[common.IndexBlockHash]devSnapshot
	log       log.Logger
}

type devSnapshot struct {
	balances map[common.Address]*uint256.Int
	nonces   map[common.Address]uint64
}

func newDevLedger(l log.Logger) *devLedger {
	return &devLedger{committed: make(map[common.IndexBlockHash]devSnapshot), log: l}
}

// faucet seeds the genesis snapshot (keyed by the zero IndexBlockHash,
// the parent key a genesis-parented StagingBlock's Append call opens its
// scratch against) with a starting balance, the devnet analogue of
// spec.md §8 S1's "4 keys each credited at genesis".
func (d *devLedger) faucet(addr common.Address, amount *uint256.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := d.committed[common.Hash{}]
	if snap.balances == nil {
		snap = devSnapshot{balances: make(map[common.Address]*uint256.Int), nonces: make(map[common.Address]uint64)}
	}
	snap.balances[addr] = new(uint256.Int).Set(amount)
	d.committed[common.Hash{}] = snap
}

func (d *devLedger) snapshotAt(parent common.IndexBlockHash) devSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.committed[parent]
	if !ok {
		return devSnapshot{balances: make(map[common.Address]*uint256.Int), nonces: make(map[common.Address]uint64)}
	}
	out := devSnapshot{balances: make(map[common.Address]*uint256.Int, len(snap.balances)), nonces: make(map[common.Address]uint64, len(snap.nonces))}
	for k, v := range snap.balances {
		out.balances[k] = new(uint256.Int).Set(v)
	}
	for k, v := range snap.nonces {
		out.nonces[k] = v
	}
	return out
}

// OpenScratch implements appender.StateBackend.
func (d *devLedger) OpenScratch(parent common.IndexBlockHash, parentCost uint64) (appender.StateTx, error) {
	return &devStateTx{ledger: d, snap: d.snapshotAt(parent), cost: parentCost, burnt: new(uint256.Int)}, nil
}

// devStateTx implements appender.StateTx over a devLedger snapshot.
type devStateTx struct {
	ledger *devLedger
	snap   devSnapshot
	cost   uint64
	burnt  *uint256.Int
}

func (tx *devStateTx) balance(a common.Address) *uint256.Int {
	if b, ok := tx.snap.balances[a]; ok {
		return b
	}
	return new(uint256.Int)
}

func (tx *devStateTx) ApplyTx(t types.Transaction) (appender.Receipt, error) {
	const perTxCost = 100
	tx.cost += perTxCost
	nonce := tx.snap.nonces[t.Origin]
	tx.snap.nonces[t.Origin] = nonce + 1

	fee := t.Fee
	if fee == nil {
		fee = new(uint256.Int)
	}
	payer := tx.balance(t.Origin)
	if payer.Cmp(fee) < 0 {
		return appender.Receipt{}, fmt.Errorf("devnet state: %s: insufficient balance for fee", t.Origin)
	}
	payer = new(uint256.Int).Sub(payer, fee)
	tx.burnt = new(uint256.Int).Add(tx.burnt, fee)

	if t.Payload.Kind == types.PayloadTokenTransfer && t.Payload.Amount != nil {
		if payer.Cmp(t.Payload.Amount) < 0 {
			return appender.Receipt{}, fmt.Errorf("devnet state: %s: insufficient balance for transfer", t.Origin)
		}
		payer = new(uint256.Int).Sub(payer, t.Payload.Amount)
		recipient := tx.balance(t.Payload.Recipient)
		tx.snap.balances[t.Payload.Recipient] = new(uint256.Int).Add(recipient, t.Payload.Amount)
	}
	tx.snap.balances[t.Origin] = payer

	return appender.Receipt{Origin: t.Origin, Nonce: nonce, FeeUstx: fee, Cost: perTxCost}, nil
}

func (tx *devStateTx) ApplyBurnOp(op appender.BurnOp) error {
	switch op.Kind {
	case appender.TransferStxOp:
		from := tx.balance(op.Principal)
		if from.Cmp(op.Amount) < 0 {
			return fmt.Errorf("devnet state: transfer-stx op: insufficient balance")
		}
		tx.snap.balances[op.Principal] = new(uint256.Int).Sub(from, op.Amount)
		to := tx.balance(op.Recipient)
		tx.snap.balances[op.Recipient] = new(uint256.Int).Add(to, op.Amount)
	case appender.StackStxOp:
		// Locking accounting is owned by the PoX boot contract (spec.md
		// §9 "do not attempt to mirror the contract's state"); the devnet
		// ledger only tracks spendable balance, so a StackStx op is a
		// no-op debit-free bookkeeping entry here.
	}
	return nil
}

func (tx *devStateTx) Cost() uint64              { return tx.cost }
func (tx *devStateTx) ResetCost(baseline uint64) { tx.cost = baseline }

func (tx *devStateTx) CreditReward(r types.MinerReward) error {
	total := r.Total()
	cur := tx.balance(r.Recipient)
	tx.snap.balances[r.Recipient] = new(uint256.Int).Add(cur, total)
	return nil
}

func (tx *devStateTx) CreditUnlock(principal common.Address, amount *uint256.Int) error {
	cur := tx.balance(principal)
	tx.snap.balances[principal] = new(uint256.Int).Add(cur, amount)
	return nil
}

func (tx *devStateTx) BurntUstx() *uint256.Int { return tx.burnt }

// StateRoot hashes the scratch snapshot's entire (sorted) contents. This
// is a content digest, not a Merkle-authenticated trie root; spec.md §9
// explicitly forbids mirroring the real contract/trie state and names
// this whole surface a black box, so a deterministic digest is all the
// devnet stand-in needs to satisfy the appender's equality check.
func (tx *devStateTx) StateRoot() common.Hash {
	addrs := make([]common.Address, 0, len(tx.snap.balances))
	for a := range tx.snap.balances {
		addrs = append(addrs, a)
	}
	sortAddresses(addrs)
	h := sha512.New512_256()
	for _, a := range addrs {
		h.Write(a.Bytes())
		b := tx.snap.balances[a].Bytes32()
		h.Write(b[:])
	}
	return common.Hash(h.Sum(nil))
}

func (tx *devStateTx) Commit(consensusHash common.ConsensusHash, blockHash common.BlockHeaderHash) error {
	idx := common.MakeIndexBlockHash(consensusHash, blockHash)
	tx.ledger.mu.Lock()
	tx.ledger.committed[idx] = tx.snap
	tx.ledger.mu.Unlock()
	return nil
}

func (tx *devStateTx) Rollback() {}

func sortAddresses(a []common.Address) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && lessAddress(a[j], a[j-1]); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

func lessAddress(a, b common.Address) bool {
	ab, bb := a.Bytes(), b.Bytes()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return false
}

// devSortitions is the devnet SortitionReader: a single-leader devnet has
// no burnchain reorg to track, so every consensus hash this process ever
// minted is live and every acceptance is a no-op log line (the real
// sortition DB update is the burnchain watcher's job, spec.md §1).
type devSortitions struct {
	log log.Logger
	mu  sync.Mutex
	ch  map[common.ConsensusHash]bool
}

func newDevSortitions(l log.Logger) *devSortitions {
	return &devSortitions{log: l, ch: make(map[common.ConsensusHash]bool)}
}

func (d *devSortitions) observe(ch common.ConsensusHash) {
	d.mu.Lock()
	d.ch[ch] = true
	d.mu.Unlock()
}

func (d *devSortitions) IsLiveSortition(ch common.ConsensusHash) bool {
	if ch.IsZero() {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch[ch]
}

func (d *devSortitions) MarkAccepted(ch common.ConsensusHash, blockHash common.BlockHeaderHash) {
	d.log.Debug("sortition accepted", "consensus_hash", ch, "block_hash", blockHash)
}

// devBurnOps and devLockups stand in for the burnchain watcher's
// StackStx/TransferStx feed and the PoX lockups table (spec.md §4.4 steps
// 3, 8, 11). A single-leader devnet with no stacking activity has none of
// either.
type devBurnOps struct{}

func (devBurnOps) BurnOpsFor(common.ConsensusHash) ([]appender.BurnOp, error) { return nil, nil }

type devLockups struct{}

func (devLockups) LockupsAt(uint64) ([]appender.Lockup, error) { return nil, nil }

// devVRF implements relay.VRFSigner over a single rotating secp256k1
// keypair. GenerateKey mints a fresh keypair and remembers it by its
// compressed-public-key encoding so a later Prove call naming that same
// public key finds it again, matching how a real leader would keep its
// currently-registered key resident.
type devVRF struct {
	mu   sync.Mutex
	keys map[string]*vrfkey.KeyPair
}

func newDevVRF() *devVRF { return &devVRF{keys: make(map[string]*vrfkey.KeyPair)} }

func (v *devVRF) GenerateKey() ([]byte, error) {
	kp, err := vrfkey.Generate()
	if err != nil {
		return nil, err
	}
	pub := kp.PublicKeyBytes()
	v.mu.Lock()
	v.keys[string(pub)] = kp
	v.mu.Unlock()
	return pub, nil
}

func (v *devVRF) Prove(publicKey []byte, alpha []byte) ([]byte, []byte, error) {
	v.mu.Lock()
	kp, ok := v.keys[string(publicKey)]
	v.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("devnet vrf: unknown public key")
	}
	return kp.Prove(alpha)
}

// devMicroblockKeys implements relay.MicroblockKeySigner with a
// freshly-generated secp256k1 keypair per call; the miner (C8) is handed
// the resulting private key directly and never looks it up again.
type devMicroblockKeys struct{}

func (devMicroblockKeys) GenerateMicroblockKey() ([]byte, common.PubkeyHash160, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, common.PubkeyHash160{}, err
	}
	pub := priv.PubKey().SerializeCompressed()
	return priv.Serialize(), common.Hash160FromPubkey(pub), nil
}

// devCommitter implements relay.BurnchainCommitter by logging every op
// and, for LeaderBlockCommit, publishing it on a channel so the devnet
// burnchain simulator (run.go) can immediately "elect" the block it just
// committed to without a real burnchain round trip.
type devCommitter struct {
	log       log.Logger
	commitCh  chan relay.LeaderBlockCommit
}

func newDevCommitter(l log.Logger) *devCommitter {
	return &devCommitter{log: l, commitCh: make(chan relay.LeaderBlockCommit, 1)}
}

func (c *devCommitter) SubmitLeaderKeyRegister(publicKey []byte, consensusHash common.ConsensusHash) error {
	c.log.Info("submitted LeaderKeyRegister", "consensus_hash", consensusHash)
	return nil
}

func (c *devCommitter) SubmitLeaderBlockCommit(commit relay.LeaderBlockCommit) error {
	c.log.Info("submitted LeaderBlockCommit", "block_hash", commit.BlockHeaderHash, "burn_fee", commit.BurnFeeUstx)
	select {
	case c.commitCh <- commit:
	default:
	}
	return nil
}

// devBroadcaster implements relay.Broadcaster by logging; there is no peer
// set to fan out to (spec.md §1 "P2P wire codec and neighbor gossip... out
// of scope").
type devBroadcaster struct{ log log.Logger }

func (b devBroadcaster) AdvertiseBlock(ch common.ConsensusHash, blockHash common.BlockHeaderHash) {
	b.log.Info("advertised block", "consensus_hash", ch, "block_hash", blockHash)
}

func (b devBroadcaster) BroadcastMicroblock(ch common.ConsensusHash, blockHash common.BlockHeaderHash, mb types.Microblock) {
	b.log.Info("broadcast microblock", "consensus_hash", ch, "block_hash", blockHash, "sequence", mb.Header.Sequence)
}

// devChainTip implements mempool.ChainTip directly over a devLedger
// snapshot, so the mempool admission gate (C10) has something real to
// check nonces and balances against.
type devChainTip struct {
	snap devSnapshot
}

func (t devChainTip) Nonce(principal common.Address) uint64 { return t.snap.nonces[principal] }
func (t devChainTip) Balance(principal common.Address) *uint256.Int {
	if b, ok := t.snap.balances[principal]; ok {
		return b
	}
	return new(uint256.Int)
}
func (devChainTip) ContractExists(string) bool            { return false }
func (devChainTip) PublicFunctionExists(string, string) bool { return false }
func (devChainTip) KnownMicroblockPubkeyHash(common.PubkeyHash160) bool { return true }

type devStaticValidator struct{}

func (devStaticValidator) Validate(types.Transaction) error { return nil }

// devMempool is the devnet MempoolSink: an admitted transaction is
// gate-checked against the current committed tip (C10, spec.md §4.10)
// and, if it passes, held in a plain slice a BlockBuilder can drain from.
type devMempool struct {
	ledger *devLedger
	tip    func() common.IndexBlockHash
	log    log.Logger

	mu  sync.Mutex
	txs []types.Transaction
}

func newDevMempool(ledger *devLedger, tip func() common.IndexBlockHash, l log.Logger) *devMempool {
	return &devMempool{ledger: ledger, tip: tip, log: l}
}

func (m *devMempool) AdmitNetworkTx(t types.Transaction) error {
	snap := m.ledger.snapshotAt(m.tip())
	if err := mempool.Admit(devStaticValidator{}, devChainTip{snap: snap}, nil, t); err != nil {
		return err
	}
	m.mu.Lock()
	m.txs = append(m.txs, t)
	m.mu.Unlock()
	return nil
}

// drain removes and returns up to n pending mempool transactions, the
// devnet analogue of the mempool-driven, budget-capped block builder call
// of spec.md §4.7 step 6.
func (m *devMempool) drain(n int) []types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.txs) {
		n = len(m.txs)
	}
	out := m.txs[:n]
	m.txs = m.txs[n:]
	return out
}

// devBuilder implements relay.BlockBuilder: assemble a coinbase plus
// whatever mempool transactions fit, predicting the resulting state root
// by actually running the candidate against the same devLedger the
// appender will replay it through. A real Clarity-VM-backed builder does
// the analogous speculative execution; this is the narrow, honest devnet
// version of it (spec.md §1 names the VM itself as the black box, not the
// act of speculatively running one).
type devBuilder struct {
	ledger  *devLedger
	mempool *devMempool
}

func (b *devBuilder) BuildAnchoredBlock(parent types.HeaderRow, tail []types.Microblock, poison *types.PoisonMicroblock, coinbase types.Transaction, costBudget uint64) (types.AnchoredBlock, error) {
	const maxTxsPerBlock = 50
	txs := append([]types.Transaction{coinbase}, b.mempool.drain(maxTxsPerBlock)...)
	if poison != nil {
		txs = append(txs, types.Transaction{Payload: types.TxPayload{Kind: types.PayloadPoisonMicroblock, Poison: poison}})
	}

	var parentKey common.IndexBlockHash
	if !parent.ConsensusHash.IsZero() || !parent.Header.Hash().IsZero() {
		parentKey = common.MakeIndexBlockHash(parent.ConsensusHash, parent.Header.Hash())
	}

	stx, err := b.ledger.OpenScratch(parentKey, parent.ExecutionCostRuntime)
	if err != nil {
		return types.AnchoredBlock{}, err
	}
	defer stx.Rollback()
	for _, mb := range tail {
		for _, t := range mb.Txs {
			if _, err := stx.ApplyTx(t); err != nil {
				return types.AnchoredBlock{}, fmt.Errorf("devnet builder: replay streamed tx: %w", err)
			}
		}
	}
	stx.ResetCost(0)
	for _, t := range txs {
		if t.IsCoinbase {
			continue
		}
		if _, err := stx.ApplyTx(t); err != nil {
			return types.AnchoredBlock{}, fmt.Errorf("devnet builder: apply tx: %w", err)
		}
	}

	var totalWork types.TotalWork
	if parent.Height > 0 || !parent.ConsensusHash.IsZero() {
		totalWork = types.TotalWork{Burn: 1, Work: parent.Header.TotalWork.Work + 1}
	} else {
		totalWork = types.TotalWork{Burn: 1, Work: 1}
	}

	block := types.AnchoredBlock{
		Header: types.AnchoredHeader{
			Version:          1,
			TotalWork:        totalWork,
			TxMerkleRoot:     txMerkleRoot(txs),
			StateIndexRoot:   stx.StateRoot(),
		},
		Txs: txs,
	}
	if len(tail) > 0 {
		last := tail[len(tail)-1]
		block.Header.ParentMicroblock = last.Hash()
		block.Header.ParentMicroblockSequence = last.Header.Sequence
	}
	return block, nil
}

func txMerkleRoot(txs []types.Transaction) common.Hash {
	h := sha512.New512_256()
	for _, t := range txs {
		h.Write(types.Encode(t))
	}
	return common.Hash(h.Sum(nil))
}

// devUnconfirmedBuilder implements miner.UnconfirmedBuilder (C8, spec.md
// §4.8): one microblock per call, drawing off-chain-only transactions
// from the same mempool pool the tenure builder drains, signed with the
// miner's current microblock signing key.
type devUnconfirmedBuilder struct {
	mempool *devMempool
}

func (b *devUnconfirmedBuilder) BuildMicroblock(parentBlockHash common.BlockHeaderHash, prevMicroblock *types.MicroblockHeader, sequence uint16, signingKey []byte) (types.Microblock, error) {
	const maxTxsPerMicroblock = 25
	prevBlock := parentBlockHash
	if prevMicroblock != nil {
		prevBlock = prevMicroblock.Hash()
	}
	txs := b.mempool.drain(maxTxsPerMicroblock)

	header := types.MicroblockHeader{
		Version:      1,
		Sequence:     sequence,
		PrevBlock:    prevBlock,
		TxMerkleRoot: txMerkleRoot(txs),
	}
	priv, _ := btcec.PrivKeyFromBytes(signingKey)
	header.Signature = microblock.SignCompact(priv, header.SigningDigest())

	return types.Microblock{Header: header, Txs: txs}, nil
}
