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

// Package types defines the consensus data model of the anchored-block
// lifecycle engine (spec.md §3): AnchoredBlock, Microblock, the staging
// records the engine persists, and the header row the appender produces
// on a successful commit.
package types

import (
	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
)

// TotalWork is the cumulative burnchain burn and Stacks height carried by
// an anchored block header.
type TotalWork struct {
	Burn uint64
	Work uint64
}

// AnchoredHeader is the consensus-critical header of a Stacks anchored
// block (spec.md §3).
type AnchoredHeader struct {
	Version                  uint8
	TotalWork                TotalWork
	Proof                    []byte // VRF proof over the elector's sortition hash
	ParentBlock              common.BlockHeaderHash
	ParentMicroblock         common.BlockHeaderHash
	ParentMicroblockSequence uint16
	TxMerkleRoot             common.Hash
	StateIndexRoot           common.Hash
	MicroblockPubkeyHash     common.PubkeyHash160
}

// Hash returns the block-header hash. The concrete preimage (RLP-style
// concatenation of the header fields) is irrelevant to this engine's
// acceptance logic, which only ever compares hashes for equality; we use
// a domain-separated digest of the fixed-width fields.
func (h AnchoredHeader) Hash() common.BlockHeaderHash {
	var seq [2]byte
	seq[0] = byte(h.ParentMicroblockSequence >> 8)
	seq[1] = byte(h.ParentMicroblockSequence)
	return hashHeaderFields(h.Version, h.TotalWork.Burn, h.TotalWork.Work, h.Proof,
		h.ParentBlock[:], h.ParentMicroblock[:], seq[:],
		h.TxMerkleRoot[:], h.StateIndexRoot[:], h.MicroblockPubkeyHash[:])
}

// Transaction is an opaque, already-decoded Stacks transaction. The VM
// that executes it is an external collaborator (spec.md §1); this engine
// only needs to know whether a transaction is a coinbase and its
// orderable (origin, nonce) for mempool/appender bookkeeping.
type Transaction struct {
	Origin    common.Address
	Nonce     uint64
	Fee       *uint256.Int
	IsCoinbase bool
	Payload   TxPayload
	Raw       []byte
}

// TxPayloadKind discriminates the payload-specific admission checks of
// spec.md §4.10 item 6.
type TxPayloadKind uint8

const (
	PayloadTokenTransfer TxPayloadKind = iota
	PayloadContractCall
	PayloadSmartContract
	PayloadPoisonMicroblock
	PayloadCoinbase
)

// TxPayload is the minimal shape of a transaction's payload this engine's
// mempool gate and appender need to inspect; the VM owns the full
// encoding.
type TxPayload struct {
	Kind             TxPayloadKind
	RecipientVersion common.AddressVersion
	Recipient        common.Address
	Amount           *uint256.Int
	ContractID       string
	FunctionName     string
	Poison           *PoisonMicroblock
}

// AnchoredBlock is a full anchored block: header plus body. The body's
// first transaction MUST be a coinbase; this is checked by the appender
// (spec.md §4.4) rather than the type itself, matching the teacher's
// practice of keeping validation out of plain data types.
type AnchoredBlock struct {
	Header AnchoredHeader
	Txs    []Transaction
}

// Hash returns the block's header hash.
func (b AnchoredBlock) Hash() common.BlockHeaderHash { return b.Header.Hash() }

// Bytes is the wire-serialized form this engine persists into the chunk
// store. Serialization itself is delegated to Encode/Decode.
func (b AnchoredBlock) Bytes() []byte { return Encode(b) }
