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

// Package chainerr collects the kind-tagged sentinel errors shared across
// the chainstate components, per spec.md §7's error taxonomy. Each kind is
// a distinct sentinel so callers can use errors.Is; call sites wrap it
// with fmt.Errorf("...: %w", Err...) to attach the offending hash.
package chainerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStacksBlock is a consensus-rule violation in an anchored
	// block. Never fatal: the staging record is orphaned and its chunk
	// freed.
	ErrInvalidStacksBlock = errors.New("chainstate: invalid stacks block")

	// ErrInvalidStacksMicroblock triggers drop_staging_microblocks at
	// the offending microblock.
	ErrInvalidStacksMicroblock = errors.New("chainstate: invalid stacks microblock")

	// ErrInvalidBurnchainLink means the block does not correspond to any
	// sortition outcome on the current PoX fork.
	ErrInvalidBurnchainLink = errors.New("chainstate: block does not correspond to a live sortition")

	// ErrDB wraps an underlying store error. Any DB error during append
	// rolls back the whole transaction; the offending block is not
	// orphaned (it is retried).
	ErrDB = errors.New("chainstate: store error")

	// ErrIO is a file-operation failure in the chunk store.
	ErrIO = errors.New("chainstate: io error")

	// ErrNotFound distinguishes "no such record/file" from other IO
	// failures; semantically meaningful for the chunk-store tombstone
	// check.
	ErrNotFound = errors.New("chainstate: not found")

	// ErrTooBig means the payload exceeds MAX_MESSAGE_LEN.
	ErrTooBig = errors.New("chainstate: payload exceeds maximum message length")

	// ErrNetSerialization means incoming data was malformed; the caller
	// rejects one item and continues.
	ErrNetSerialization = errors.New("chainstate: malformed incoming data")

	// ErrCoordinatorClosed means stop was requested on the coordinator
	// channel.
	ErrCoordinatorClosed = errors.New("chainstate: coordinator closed")

	// ErrNoSuchBlock is returned when mark_microblocks_processed walks
	// off the end of a microblock chain without reaching the anchored
	// parent.
	ErrNoSuchBlock = errors.New("chainstate: no such block")

	// ErrParentUnknown means the parent anchored block's microblock
	// pubkey hash is not known from either staging or the headers DB.
	ErrParentUnknown = errors.New("chainstate: parent unknown")

	// Mempool admission kinds (spec.md §7).
	ErrFeeTooLow                  = errors.New("mempool: fee too low")
	ErrBadNonce                   = errors.New("mempool: bad nonce")
	ErrTooMuchChaining            = errors.New("mempool: too much chaining")
	ErrNotEnoughFunds              = errors.New("mempool: not enough funds")
	ErrBadAddressVersionByte       = errors.New("mempool: bad address version byte")
	ErrNoSuchContract              = errors.New("mempool: no such contract")
	ErrNoSuchPublicFunction        = errors.New("mempool: no such public function")
	ErrBadFunctionArgument         = errors.New("mempool: bad function argument")
	ErrContractAlreadyExists       = errors.New("mempool: contract already exists")
	ErrPoisonMicroblocksNoConflict = errors.New("mempool: poison microblocks do not conflict")
	ErrNoAnchorBlockWithPubkeyHash = errors.New("mempool: no anchor block with pubkey hash")
	ErrInvalidMicroblocks          = errors.New("mempool: invalid microblocks")
	ErrNoCoinbaseViaMempool        = errors.New("mempool: coinbase rejected via mempool")
	ErrNoSuchChainTip              = errors.New("mempool: no such chain tip")
	ErrConflictingNonceInMempool   = errors.New("mempool: conflicting nonce in mempool")
)

// WithHash wraps a sentinel error with the offending hash for logging,
// preserving errors.Is compatibility.
func WithHash(kind error, label string, hash fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s", kind, label, hash.String())
}
