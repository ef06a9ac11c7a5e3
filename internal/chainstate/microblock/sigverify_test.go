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
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

func TestRecoverPubkeyHash160_RoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	header := types.MicroblockHeader{Version: 1, Sequence: 0, PrevBlock: common.BlockHeaderHash{0x11}}
	digest := header.SigningDigest()
	header.Signature = SignCompact(priv, digest)

	wantHash := common.Hash160FromPubkey(priv.PubKey().SerializeCompressed())

	got, ok := RecoverableSignatureVerifier{}.RecoverPubkeyHash160(header)
	require.True(t, ok)
	require.Equal(t, wantHash, got)
}

func TestRecoverPubkeyHash160_WrongLengthSignatureFails(t *testing.T) {
	header := types.MicroblockHeader{Signature: []byte{1, 2, 3}}
	_, ok := RecoverableSignatureVerifier{}.RecoverPubkeyHash160(header)
	require.False(t, ok)
}
