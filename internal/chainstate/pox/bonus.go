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

package pox

import "github.com/holiman/uint256"

// DefaultCoinbaseUstx is the flat per-block coinbase reward, matching
// spec.md §8 scenario S1's literal "1000 x 10^6 µSTX coinbase" constant.
// The original implementation's halving schedule is out of scope here
// (spec.md §8 does not exercise it); a caller with a different emission
// schedule supplies its own coinbase amount per height instead of this
// default.
var DefaultCoinbaseUstx = new(uint256.Int).Mul(uint256.NewInt(1000), uint256.NewInt(1_000_000))

// DefaultInitialMiningBonusWindow is the number of blocks (W) the
// bootstrap bonus schedule spreads across, per spec.md §8 scenario S1 and
// the original implementation's neon_node.rs initial-mining-bonus window.
// A node that starts mining after genesis (or misses blocks during
// bootstrap) spreads the coinbase those missed blocks would have minted
// evenly across the remaining window rather than losing it.
const DefaultInitialMiningBonusWindow = 10_000

// InitialMiningBonus computes the extra µSTX a matured block mined at
// height earns on top of its own coinbase, for the first window blocks
// after genesis: coinbase/window per block that was "missed" (i.e. not
// mined) during the bootstrap period (supplemented feature, SPEC_FULL.md
// §3, grounded on neon_node.rs; spec.md §8 S1 states the resulting
// per-block accounting identity this must satisfy).
//
// height is the height of the block being matured; missedInitialBlocks is
// the number of bootstrap-window blocks (height < window) that were never
// mined at all (skipped burnchain blocks with no winning sortition).
// Outside the bootstrap window, the bonus is always zero.
func InitialMiningBonus(height uint64, missedInitialBlocks uint64, coinbase *uint256.Int, window uint64) *uint256.Int {
	if window == 0 || height >= window || missedInitialBlocks == 0 {
		return new(uint256.Int)
	}
	perBlock := new(uint256.Int).Div(coinbase, uint256.NewInt(window))
	return perBlock.Mul(perBlock, uint256.NewInt(missedInitialBlocks))
}
