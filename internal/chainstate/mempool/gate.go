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

// Package mempool implements C10: the read-only admission gate a
// transaction must pass before the relayer accepts it into the pending
// pool, per spec.md §4.10. The ledger state it consults (nonces,
// balances, contract existence, known microblock pubkey hashes) is an
// external collaborator; this package only encodes the check sequence and
// its ordering.
package mempool

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// MaximumMempoolTxChaining bounds how far a transaction's nonce may lead
// the ledger nonce before it is rejected as unminable chaining.
const MaximumMempoolTxChaining = 25

// MinTxFee is the absolute minimum fee (µSTX) any transaction must pay.
const MinTxFee = 1

// MinFeeRatePerByte is the minimum fee-per-byte (µSTX) any transaction
// must pay.
const MinFeeRatePerByte = 1

// ChainTip is the read-only ledger view the gate consults. Two handles may
// be offered per spec.md item 3: the confirmed tip and, if present, an
// unconfirmed microblock tip the gate retries against exactly once on a
// nonce rejection.
type ChainTip interface {
	// Nonce returns the expected next nonce for principal.
	Nonce(principal common.Address) uint64
	// Balance returns principal's spendable µSTX balance at this tip,
	// honoring PoX lockups.
	Balance(principal common.Address) *uint256.Int
	// ContractExists reports whether contractID is deployed at this tip.
	ContractExists(contractID string) bool
	// PublicFunctionExists reports whether contractID exposes a public
	// function named fn.
	PublicFunctionExists(contractID, fn string) bool
	// KnownMicroblockPubkeyHash reports whether h names a microblock
	// signing key committed by some anchored block at or above the tip
	// height (required for poison-microblock admission).
	KnownMicroblockPubkeyHash(h common.PubkeyHash160) bool
}

// StaticValidator performs the transaction-shape checks that precede the
// ledger-state checks (spec.md §4.10 item 1): signature well-formedness,
// post-condition shape, and the like. The concrete transaction codec is
// out of scope; callers supply one.
type StaticValidator interface {
	Validate(tx types.Transaction) error
}

// Admit runs the full admission sequence. unconfirmed may be nil; when
// non-nil, a nonce rejection against confirmed is retried once against it
// per spec.md item 3.
func Admit(sv StaticValidator, confirmed, unconfirmed ChainTip, tx types.Transaction) error {
	if tx.IsCoinbase {
		return chainerr.ErrNoCoinbaseViaMempool
	}
	if err := sv.Validate(tx); err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrInvalidStacksBlock, err)
	}
	if tx.Fee.LtUint64(MinTxFee) {
		return chainerr.ErrFeeTooLow
	}
	if len(tx.Raw) > 0 {
		rate := new(uint256.Int).Div(tx.Fee, uint256.NewInt(uint64(len(tx.Raw))))
		if rate.LtUint64(MinFeeRatePerByte) {
			return chainerr.ErrFeeTooLow
		}
	}

	tip := confirmed
	if err := checkNonce(tip, tx); err != nil {
		if unconfirmed == nil {
			return err
		}
		tip = unconfirmed
		if err := checkNonce(tip, tx); err != nil {
			return err
		}
	}

	if err := checkAddressVersion(tx.Origin); err != nil {
		return err
	}

	if tip.Balance(tx.Origin).Lt(tx.Fee) {
		return chainerr.ErrNotEnoughFunds
	}

	return checkPayload(tip, tx)
}

func checkNonce(tip ChainTip, tx types.Transaction) error {
	expected := tip.Nonce(tx.Origin)
	if tx.Nonce < expected {
		return chainerr.ErrBadNonce
	}
	if tx.Nonce > expected+MaximumMempoolTxChaining {
		return chainerr.ErrTooMuchChaining
	}
	return nil
}

func checkAddressVersion(addr common.Address) error {
	switch addr.Version {
	case common.AddressMainnetSingleSig, common.AddressMainnetMultiSig,
		common.AddressTestnetSingleSig, common.AddressTestnetMultiSig:
		return nil
	default:
		return chainerr.ErrBadAddressVersionByte
	}
}

func checkPayload(tip ChainTip, tx types.Transaction) error {
	p := tx.Payload
	switch p.Kind {
	case types.PayloadTokenTransfer:
		if err := checkAddressVersion(p.Recipient); err != nil {
			return err
		}
		total := new(uint256.Int).Add(tx.Fee, p.Amount)
		if tip.Balance(tx.Origin).Lt(total) {
			return chainerr.ErrNotEnoughFunds
		}
		return nil

	case types.PayloadContractCall:
		if !tip.ContractExists(p.ContractID) {
			return chainerr.ErrNoSuchContract
		}
		if !tip.PublicFunctionExists(p.ContractID, p.FunctionName) {
			return chainerr.ErrNoSuchPublicFunction
		}
		return nil

	case types.PayloadSmartContract:
		if tip.ContractExists(p.ContractID) {
			return chainerr.ErrContractAlreadyExists
		}
		return nil

	case types.PayloadPoisonMicroblock:
		if p.Poison == nil {
			return chainerr.ErrInvalidMicroblocks
		}
		h1, h2 := p.Poison.Header1, p.Poison.Header2
		conflicts := (h1.Sequence == h2.Sequence && h1.Hash() != h2.Hash()) ||
			(h1.PrevBlock == h2.PrevBlock && h1.Hash() != h2.Hash())
		if !conflicts {
			return chainerr.ErrPoisonMicroblocksNoConflict
		}
		hash160, ok := recoverShared(h1, h2)
		if !ok {
			return chainerr.ErrInvalidMicroblocks
		}
		if !tip.KnownMicroblockPubkeyHash(hash160) {
			return chainerr.ErrNoAnchorBlockWithPubkeyHash
		}
		return nil

	case types.PayloadCoinbase:
		return chainerr.ErrNoCoinbaseViaMempool

	default:
		return chainerr.ErrBadFunctionArgument
	}
}

// SignatureRecoverer recovers a microblock header's signing pubkey hash;
// satisfied by microblock.RecoverableSignatureVerifier. Kept as a
// narrow interface here to avoid an import cycle with the microblock
// package (which itself has no mempool dependency, but this keeps the
// dependency direction explicit).
type SignatureRecoverer interface {
	RecoverPubkeyHash160(header types.MicroblockHeader) (common.PubkeyHash160, bool)
}

var sharedSigVerifier SignatureRecoverer

// SetSignatureRecoverer installs the signature-recovery implementation
// used to check that both conflicting poison-microblock headers share a
// signer, wired once at startup.
func SetSignatureRecoverer(sv SignatureRecoverer) { sharedSigVerifier = sv }

func recoverShared(h1, h2 types.MicroblockHeader) (common.PubkeyHash160, bool) {
	if sharedSigVerifier == nil {
		return common.PubkeyHash160{}, false
	}
	a, ok := sharedSigVerifier.RecoverPubkeyHash160(h1)
	if !ok {
		return common.PubkeyHash160{}, false
	}
	b, ok := sharedSigVerifier.RecoverPubkeyHash160(h2)
	if !ok || a != b {
		return common.PubkeyHash160{}, false
	}
	return a, true
}
