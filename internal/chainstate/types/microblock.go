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

package types

import (
	"github.com/blockstack/stacks-blockchain-go/common"
)

// MicroblockHeader is the signed header of one microblock in an
// unanchored tail (spec.md §3).
type MicroblockHeader struct {
	Version      uint8
	Sequence     uint16
	PrevBlock    common.BlockHeaderHash // parent microblock hash, or anchored block hash if Sequence==0
	TxMerkleRoot common.Hash
	Signature    []byte // recoverable signature over the header minus Signature
}

// SigningDigest returns the bytes the Signature is computed over: the
// header fields excluding Signature itself.
func (h MicroblockHeader) SigningDigest() common.Hash {
	var seq [2]byte
	seq[0] = byte(h.Sequence >> 8)
	seq[1] = byte(h.Sequence)
	return hashHeaderFields(h.Version, 0, 0, nil, seq[:], h.PrevBlock[:], h.TxMerkleRoot[:])
}

// Hash returns the microblock header hash (including the signature, since
// the signature is part of the header once attached).
func (h MicroblockHeader) Hash() common.BlockHeaderHash {
	var seq [2]byte
	seq[0] = byte(h.Sequence >> 8)
	seq[1] = byte(h.Sequence)
	return hashHeaderFields(h.Version, 0, 0, h.Signature, seq[:], h.PrevBlock[:], h.TxMerkleRoot[:])
}

// Microblock is a signed header plus a body of non-coinbase transactions.
type Microblock struct {
	Header MicroblockHeader
	Txs    []Transaction
}

// Hash returns the microblock's header hash.
func (m Microblock) Hash() common.BlockHeaderHash { return m.Header.Hash() }

// Bytes is this engine's chunk-store-independent persistence encoding
// (staging_microblocks_data stores these, keyed by MicroblockHash).
func (m Microblock) Bytes() []byte { return Encode(m) }

// PoisonMicroblock names two conflicting microblock headers produced by
// the same signing key at the same point in a stream: deliberate proof of
// miner equivocation (spec.md §4.3, GLOSSARY "Fork junction").
type PoisonMicroblock struct {
	Header1 MicroblockHeader
	Header2 MicroblockHeader
}
