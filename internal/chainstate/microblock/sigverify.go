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

package microblock

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// RecoverableSignatureVerifier recovers the signer's compressed public key
// from a 65-byte [recovery-id || r || s] signature over a microblock
// header's signing digest, the same recoverable-ECDSA shape geth's go.mod
// stack carries btcec for.
type RecoverableSignatureVerifier struct{}

// RecoverPubkeyHash160 implements SignatureVerifier.
func (RecoverableSignatureVerifier) RecoverPubkeyHash160(header types.MicroblockHeader) (common.PubkeyHash160, bool) {
	if len(header.Signature) != 65 {
		return common.PubkeyHash160{}, false
	}
	digest := header.SigningDigest()

	// ecdsa.RecoverCompact expects [recovery-id || r || s], matching the
	// Bitcoin "signmessage" convention btcec implements.
	pub, _, err := ecdsa.RecoverCompact(header.Signature, digest[:])
	if err != nil {
		return common.PubkeyHash160{}, false
	}
	compressed := pub.SerializeCompressed()
	return common.Hash160FromPubkey(compressed), true
}

// SignCompact signs digest with priv and returns the 65-byte recoverable
// signature RecoverPubkeyHash160 expects. Used by the miner (C8) and by
// tests that need a real signature rather than a stub.
func SignCompact(priv *btcec.PrivateKey, digest common.Hash) []byte {
	return ecdsa.SignCompact(priv, digest[:], true)
}
