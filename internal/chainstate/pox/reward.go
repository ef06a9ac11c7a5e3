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

// Package pox implements C5: the PoX reward-threshold computation and
// reward-set construction, per spec.md §4.5. Both are pure functions of
// their inputs; the Clarity boot-contract state they would read from in a
// real node is abstracted away as a caller-supplied slice (spec.md §9
// "Cyclic reward-set reference" — re-derive, never mirror).
package pox

import (
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
)

// MaximalScaling is the floor divisor applied to liquid supply: the
// participation denominator never drops below liquid/MaximalScaling
// (spec.md §4.5, "floor at 25% liquid").
const MaximalScaling = 4

// ThresholdStep is the rounding granularity for the reward threshold:
// 10 000 STX expressed in µSTX.
var ThresholdStep = new(uint256.Int).Mul(uint256.NewInt(10_000), uint256.NewInt(1_000_000))

// StackerEntry is one (address, amount stacked) pair read from the boot
// contract's reward-cycle index.
type StackerEntry struct {
	Address common.Address
	Stacked *uint256.Int
}

// ErrCorrupt signals an invariant violation in the input data (e.g.
// participation exceeding liquid supply, or an overflow while merging
// duplicate addresses) that cannot be a product of correct contract state.
var ErrCorrupt = errors.New("pox: corrupt reward-set input")

// GetRewardThresholdAndParticipation computes the minimum per-slot stacked
// amount and total participation, per spec.md §4.5.
func GetRewardThresholdAndParticipation(rewardSlots uint64, entries []StackerEntry, liquidUstx *uint256.Int) (threshold, participation *uint256.Int, err error) {
	participation = new(uint256.Int)
	for _, e := range entries {
		if participation.Add(participation, e.Stacked).Lt(e.Stacked) {
			return nil, nil, ErrCorrupt
		}
	}
	if participation.Gt(liquidUstx) {
		return nil, nil, ErrCorrupt
	}

	floor := new(uint256.Int).Div(liquidUstx, uint256.NewInt(MaximalScaling))
	scaleBy := participation
	if floor.Gt(participation) {
		scaleBy = floor
	}

	if rewardSlots == 0 {
		return nil, nil, ErrCorrupt
	}
	thresholdPrecise := new(uint256.Int).Div(scaleBy, uint256.NewInt(rewardSlots))
	threshold = roundUpToStep(thresholdPrecise, ThresholdStep)
	return threshold, participation, nil
}

// roundUpToStep rounds v up to the nearest multiple of step (step > 0).
func roundUpToStep(v, step *uint256.Int) *uint256.Int {
	rem := new(uint256.Int).Mod(v, step)
	if rem.IsZero() {
		return new(uint256.Int).Set(v)
	}
	out := new(uint256.Int).Sub(step, rem)
	return out.Add(out, v)
}

// MakeRewardSet implements spec.md §4.5's reward-set construction:
// sort by address ascending, merge trailing duplicates by summed stake,
// and emit floor(stake/threshold) copies in pop (reverse-sorted) order.
func MakeRewardSet(threshold *uint256.Int, entries []StackerEntry) ([]common.Address, error) {
	if threshold == nil || threshold.IsZero() {
		return nil, ErrCorrupt
	}
	sorted := make([]StackerEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return common.Compare(sorted[i].Address, sorted[j].Address) < 0
	})

	var out []common.Address
	for len(sorted) > 0 {
		last := len(sorted) - 1
		addr := sorted[last].Address
		stake := new(uint256.Int).Set(sorted[last].Stacked)
		sorted = sorted[:last]

		for len(sorted) > 0 && sorted[len(sorted)-1].Address.Equal(addr) {
			next := sorted[len(sorted)-1]
			sorted = sorted[:len(sorted)-1]
			if stake.Add(stake, next.Stacked).Lt(next.Stacked) {
				return nil, ErrCorrupt
			}
		}

		slots := new(uint256.Int).Div(stake, threshold)
		if !slots.IsUint64() || slots.Uint64() > uint64(^uint32(0)) {
			return nil, ErrCorrupt
		}
		for i := uint64(0); i < slots.Uint64(); i++ {
			out = append(out, addr)
		}
	}
	return out, nil
}
