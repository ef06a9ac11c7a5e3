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

// Package common holds the consensus identifier types shared across the
// anchored-block lifecycle engine: 32-byte hashes, the 20-byte consensus
// hash, and the index-block-hash derivation that keys every table in the
// staging store and headers DB.
package common

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
)

// HashLength is the size in bytes of a BurnHeaderHash, BlockHeaderHash or
// IndexBlockHash.
const HashLength = 32

// ConsensusHashLength is the size in bytes of a ConsensusHash.
const ConsensusHashLength = 20

// Hash is a 32-byte consensus identifier: a BurnHeaderHash, a
// BlockHeaderHash (anchored block or microblock header hash), or an
// IndexBlockHash.
type Hash [HashLength]byte

// BurnHeaderHash identifies a burnchain block.
type BurnHeaderHash = Hash

// BlockHeaderHash identifies a Stacks anchored block or microblock header.
type BlockHeaderHash = Hash

// IndexBlockHash is H(ConsensusHash || BlockHeaderHash); it is the
// canonical key for the staging store, headers DB and chunk store.
type IndexBlockHash = Hash

// Hash160 is a 20-byte hash160 value: the underlying representation of
// both a ConsensusHash and a microblock public-key hash.
type Hash160 [ConsensusHashLength]byte

// ConsensusHash is the 20-byte PoX-history hash of the sortition that
// elected a Stacks block. It uniquely names a fork on the burnchain.
type ConsensusHash = Hash160

// PubkeyHash160 is the hash160 of a microblock signing public key,
// committed to by an anchored block header's microblock_pubkey_hash
// field.
type PubkeyHash160 = Hash160

var (
	// ZeroHash is the all-zero sentinel used as the parent hash of the
	// first-ever microblock in a tail and as a "no parent" placeholder.
	ZeroHash = Hash{}

	// FirstStacksBlockHash is the sentinel parent_block value of the
	// genesis anchored block: a StagingBlock whose parent equals this
	// hash is attachable unconditionally.
	FirstStacksBlockHash = Hash{}
)

// BytesToHash keeps the last HashLength bytes of b (dropping any leading
// excess) or zero-left-pads b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// BytesToHash160 keeps the last ConsensusHashLength bytes of b (dropping
// any leading excess) or zero-left-pads b into a Hash160.
func BytesToHash160(b []byte) Hash160 {
	var h Hash160
	if len(b) > ConsensusHashLength {
		b = b[len(b)-ConsensusHashLength:]
	}
	copy(h[ConsensusHashLength-len(b):], b)
	return h
}

// BytesToConsensusHash is an alias of BytesToHash160 kept for call-site
// readability at ConsensusHash construction sites.
func BytesToConsensusHash(b []byte) ConsensusHash { return BytesToHash160(b) }

// Bytes returns a freshly allocated copy of h's bytes.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x-prefixed lowercase hex encoding of h.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	b, err := decodeHexPrefixed(text, HashLength)
	if err != nil {
		return err
	}
	copy(h[:], b)
	return nil
}

// Bytes returns a freshly allocated copy of h's bytes.
func (h Hash160) Bytes() []byte { return h[:] }

// IsZero reports whether h is the all-zero sentinel.
func (h Hash160) IsZero() bool { return h == Hash160{} }

// Hex returns the 0x-prefixed lowercase hex encoding of h.
func (h Hash160) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash160) String() string { return h.Hex() }

func decodeHexPrefixed(text []byte, want int) ([]byte, error) {
	s := string(text)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != want {
		return nil, errors.New("common: hex value has wrong length")
	}
	return b, nil
}

// MakeIndexBlockHash computes the canonical storage key for an anchored
// block: Sha512Trunc256(consensusHash || blockHash). Truncated SHA-512 is
// used rather than SHA-256 to match the domain-separated digest the rest
// of the consensus hashing in this engine is built on.
func MakeIndexBlockHash(consensusHash ConsensusHash, blockHash BlockHeaderHash) IndexBlockHash {
	buf := make([]byte, 0, ConsensusHashLength+HashLength)
	buf = append(buf, consensusHash[:]...)
	buf = append(buf, blockHash[:]...)
	return Hash(sha512.Sum512_256(buf))
}
