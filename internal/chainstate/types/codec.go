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
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/gob"
)

// Encode/Decode are this engine's own chunk-store persistence format. The
// peer-to-peer wire codec that produces the bytes preprocess_anchored_block
// is handed is an external collaborator (spec.md §1 "P2P wire codec... out
// of scope"); nothing outside this process needs to parse what Encode
// produces, so a self-describing stdlib gob stream is used rather than
// hand-rolling a consensus-style wire format this engine does not define.
func Encode(v interface{}) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic("types: encode: " + err.Error())
	}
	return buf.Bytes()
}

// DecodeInto gob-decodes b into dst, a pointer to any type Encode can
// produce. Used for store columns that hold an embedded Encode'd value
// alongside other scalar columns, where a dedicated Decode* wrapper would
// be a one-line rename of this.
func DecodeInto(b []byte, dst interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(dst)
}

// DecodeAnchoredBlock decodes bytes produced by AnchoredBlock.Bytes.
func DecodeAnchoredBlock(b []byte) (AnchoredBlock, error) {
	var blk AnchoredBlock
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&blk)
	return blk, err
}

// DecodeMicroblock decodes bytes produced by Microblock.Bytes.
func DecodeMicroblock(b []byte) (Microblock, error) {
	var mb Microblock
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&mb)
	return mb, err
}

// hashHeaderFields computes a domain-separated digest over a header's
// fixed fields, used for both AnchoredHeader.Hash and MicroblockHeader.Hash.
// Truncated SHA-512 is used throughout this package for every
// consensus-identifier digest (see common.MakeIndexBlockHash).
func hashHeaderFields(version uint8, a, b uint64, variable []byte, fixed ...[]byte) [32]byte {
	h := sha512.New512_256()
	h.Write([]byte{version})
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], a)
	h.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], b)
	h.Write(u64[:])
	lenPrefixWrite(h, variable)
	for _, f := range fixed {
		lenPrefixWrite(h, f)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func lenPrefixWrite(h hashWriter, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}
