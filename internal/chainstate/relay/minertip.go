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

package relay

import (
	"sync"

	"github.com/blockstack/stacks-blockchain-go/common"
)

// MinerTip identifies the locally-mined anchored tip the microblock miner
// (C8) should be extending, plus the signing key it extends with.
type MinerTip struct {
	ConsensusHash        common.ConsensusHash
	BlockHash            common.BlockHeaderHash
	MicroblockPrivateKey []byte
}

// MinerTipCell is the single-slot cell spec.md §5 names: readable by the
// peer thread, writable only by the relayer. It is not a sync.Map or
// atomic.Value because writes here are a plain mutex-protected replace, not
// a lock-free CAS loop; a panicking writer therefore propagates out of
// Set/Clear uncaught, which is intentional — spec.md §5 requires a
// poisoned cell to abort the node, and an unrecovered panic in Go does
// exactly that.
type MinerTipCell struct {
	mu  sync.Mutex
	tip *MinerTip
}

// Set publishes a new miner tip, replacing whatever was there.
func (c *MinerTipCell) Set(tip MinerTip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := tip
	c.tip = &t
}

// Clear empties the cell, returning the microblock miner to standby.
func (c *MinerTipCell) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = nil
}

// Get returns the current tip, or ok=false if the cell is empty.
func (c *MinerTipCell) Get() (MinerTip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tip == nil {
		return MinerTip{}, false
	}
	return *c.tip, true
}
