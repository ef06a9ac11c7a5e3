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

package common

import (
	"bytes"
	"encoding/hex"
)

// AddressLength is the size in bytes of the hash160 payload of a Stacks
// address, independent of its version byte.
const AddressLength = 20

// AddressVersion identifies network (mainnet/testnet) and signature scheme
// (singlesig/multisig) of an Address, per spec.md §4.10 item 4.
type AddressVersion byte

const (
	AddressMainnetSingleSig AddressVersion = 22
	AddressMainnetMultiSig  AddressVersion = 20
	AddressTestnetSingleSig AddressVersion = 26
	AddressTestnetMultiSig  AddressVersion = 21
)

// Address is a versioned hash160 principal: a PoX reward address, a
// stacker, a mempool tx's origin/payer, or a coinbase recipient.
type Address struct {
	Version AddressVersion
	Hash160 [AddressLength]byte
}

// NewAddress builds an Address from a version byte and a hash160 payload.
func NewAddress(version AddressVersion, hash160 []byte) Address {
	var a Address
	a.Version = version
	copy(a.Hash160[AddressLength-len(hash160):], hash160)
	return a
}

// Bytes returns version||hash160, the encoding used for byte-ascending
// sort in PoX reward-set construction (spec.md §4.5 step 1).
func (a Address) Bytes() []byte {
	b := make([]byte, 0, 1+AddressLength)
	b = append(b, byte(a.Version))
	return append(b, a.Hash160[:]...)
}

// Equal reports whether a and o name the same principal.
func (a Address) Equal(o Address) bool {
	return a.Version == o.Version && a.Hash160 == o.Hash160
}

// Compare orders addresses byte-ascending over Bytes(), the order required
// by PoX reward-set construction.
func Compare(a, o Address) int {
	return bytes.Compare(a.Bytes(), o.Bytes())
}

// String returns a version:hex debug rendering; it is not the c32check
// textual address format (that encoder is part of the out-of-scope RPC
// surface).
func (a Address) String() string {
	return hex.EncodeToString([]byte{byte(a.Version)}) + ":" + hex.EncodeToString(a.Hash160[:])
}

// IsMainnet reports whether the address version names the mainnet network.
func (a Address) IsMainnet() bool {
	return a.Version == AddressMainnetSingleSig || a.Version == AddressMainnetMultiSig
}

// IsMultiSig reports whether the address version names a multisig scheme.
func (a Address) IsMultiSig() bool {
	return a.Version == AddressMainnetMultiSig || a.Version == AddressTestnetMultiSig
}
