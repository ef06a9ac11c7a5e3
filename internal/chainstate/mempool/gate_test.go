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

package mempool

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

type acceptAllValidator struct{}

func (acceptAllValidator) Validate(types.Transaction) error { return nil }

type fakeTip struct {
	nonces    map[common.Address]uint64
	balances  map[common.Address]*uint256.Int
	contracts map[string]bool
	functions map[string]bool
}

func newFakeTip() *fakeTip {
	return &fakeTip{
		nonces:    map[common.Address]uint64{},
		balances:  map[common.Address]*uint256.Int{},
		contracts: map[string]bool{},
		functions: map[string]bool{},
	}
}

func (f *fakeTip) Nonce(p common.Address) uint64 { return f.nonces[p] }
func (f *fakeTip) Balance(p common.Address) *uint256.Int {
	if v, ok := f.balances[p]; ok {
		return v
	}
	return new(uint256.Int)
}
func (f *fakeTip) ContractExists(id string) bool             { return f.contracts[id] }
func (f *fakeTip) PublicFunctionExists(id, fn string) bool    { return f.functions[id+"."+fn] }
func (f *fakeTip) KnownMicroblockPubkeyHash(common.PubkeyHash160) bool { return true }

func addr(b byte) common.Address {
	h := make([]byte, 20)
	h[0] = b
	return common.NewAddress(common.AddressMainnetSingleSig, h)
}

func baseTx(origin common.Address) types.Transaction {
	return types.Transaction{
		Origin: origin,
		Nonce:  0,
		Fee:    uint256.NewInt(10),
		Raw:    make([]byte, 10),
		Payload: types.TxPayload{
			Kind:      types.PayloadTokenTransfer,
			Recipient: addr(2),
			Amount:    uint256.NewInt(5),
		},
	}
}

func TestAdmit_CoinbaseAlwaysRejected(t *testing.T) {
	tip := newFakeTip()
	tx := baseTx(addr(1))
	tx.IsCoinbase = true
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrNoCoinbaseViaMempool)
}

func TestAdmit_FeeBelowMinimumRejected(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tx := baseTx(origin)
	tx.Fee = uint256.NewInt(0)
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrFeeTooLow)
}

func TestAdmit_NonceBelowExpectedRejected(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.nonces[origin] = 5
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tx := baseTx(origin)
	tx.Nonce = 3
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrBadNonce)
}

func TestAdmit_NonceTooFarAheadRejected(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tx := baseTx(origin)
	tx.Nonce = MaximumMempoolTxChaining + 1
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrTooMuchChaining)
}

func TestAdmit_NonceRejectionRetriesAgainstUnconfirmedTip(t *testing.T) {
	confirmed := newFakeTip()
	origin := addr(1)
	confirmed.nonces[origin] = 0
	confirmed.balances[origin] = uint256.NewInt(1_000_000)

	unconfirmed := newFakeTip()
	unconfirmed.nonces[origin] = 7
	unconfirmed.balances[origin] = uint256.NewInt(1_000_000)

	tx := baseTx(origin)
	// Too far ahead of the confirmed nonce (0), within range of the
	// unconfirmed nonce (7).
	tx.Nonce = MaximumMempoolTxChaining + 7

	err := Admit(acceptAllValidator{}, confirmed, unconfirmed, tx)
	require.NoError(t, err)
}

func TestAdmit_InsufficientBalanceForFeeRejected(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(1)
	tx := baseTx(origin)
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrNotEnoughFunds)
}

func TestAdmit_TokenTransferInsufficientForFeePlusAmount(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(12) // covers fee (10) but not +amount (5)
	tx := baseTx(origin)
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrNotEnoughFunds)
}

func TestAdmit_TokenTransferSucceeds(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tx := baseTx(origin)
	require.NoError(t, Admit(acceptAllValidator{}, tip, nil, tx))
}

func TestAdmit_ContractCallMissingContractRejected(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tx := baseTx(origin)
	tx.Payload = types.TxPayload{Kind: types.PayloadContractCall, ContractID: "SP000.foo", FunctionName: "bar"}
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrNoSuchContract)
}

func TestAdmit_ContractCallMissingFunctionRejected(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tip.contracts["SP000.foo"] = true
	tx := baseTx(origin)
	tx.Payload = types.TxPayload{Kind: types.PayloadContractCall, ContractID: "SP000.foo", FunctionName: "bar"}
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrNoSuchPublicFunction)
}

func TestAdmit_SmartContractAlreadyDeployedRejected(t *testing.T) {
	tip := newFakeTip()
	origin := addr(1)
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tip.contracts["SP000.foo"] = true
	tx := baseTx(origin)
	tx.Payload = types.TxPayload{Kind: types.PayloadSmartContract, ContractID: "SP000.foo"}
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrContractAlreadyExists)
}

func TestAdmit_BadAddressVersionByteRejected(t *testing.T) {
	tip := newFakeTip()
	origin := common.NewAddress(common.AddressVersion(99), make([]byte, 20))
	tip.balances[origin] = uint256.NewInt(1_000_000)
	tx := baseTx(origin)
	err := Admit(acceptAllValidator{}, tip, nil, tx)
	require.ErrorIs(t, err, chainerr.ErrBadAddressVersionByte)
}
