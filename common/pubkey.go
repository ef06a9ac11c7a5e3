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
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is sha256+ripemd160 by definition, not a choice
)

// Hash160FromPubkey computes hash160(pubkeyBytes) = ripemd160(sha256(pubkeyBytes)),
// the same construction Bitcoin-derived address schemes use for a public
// key hash. A microblock signing key commits to the anchored block header
// as exactly this digest (spec.md §3 "microblock_pubkey_hash").
func Hash160FromPubkey(pubkeyBytes []byte) PubkeyHash160 {
	sh := sha256.Sum256(pubkeyBytes)
	r := ripemd160.New()
	r.Write(sh[:])
	return BytesToHash160(r.Sum(nil))
}
