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

package appender

import (
	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/pox"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// microblockFeeMaturedSharePercent/ParentSharePercent implement spec.md
// §4.4 step 5's "40%/60% split between the matured miner and its parent
// for microblock fees (the parent receives confirmed streamed fees)": the
// matured block's own miner keeps 40% of the fees its confirmed
// microblock tail collected, and the miner of the matured block's parent
// (who actually produced that microblock tail during its own tenure)
// receives the other 60%.
const (
	microblockFeeMaturedSharePercent = 40
	microblockFeeParentSharePercent  = 60
)

// InitialBonusSource reports how many bootstrap-window blocks were never
// mined at all as of a given height, feeding pox.InitialMiningBonus
// (SPEC_FULL.md §3 supplemented feature). Optional: a nil source means no
// bonus is ever applied.
type InitialBonusSource interface {
	MissedBlocksAt(height uint64) uint64
}

// maturedRewards computes every MinerReward that matures when appending a
// block at candidateHeight atop parentIdx, per spec.md §4.4 step 5. It
// returns nil, zero-value if nothing has matured yet (candidateHeight <=
// maturity) or if the matured ancestor was never accepted (its header was
// never written, e.g. it was orphaned before maturing).
func (a *Appender) maturedRewards(candidateHeight uint64, parentIdx common.IndexBlockHash) ([]types.MinerReward, common.IndexBlockHash, error) {
	if candidateHeight <= a.maturity {
		return nil, common.IndexBlockHash{}, nil
	}
	maturedHeight := candidateHeight - a.maturity
	ancestor, ok, err := a.staging.AncestorAtHeight(parentIdx, maturedHeight)
	if err != nil {
		return nil, common.IndexBlockHash{}, err
	}
	if !ok {
		return nil, common.IndexBlockHash{}, nil
	}

	coinbase := new(uint256.Int).Set(a.coinbase(ancestor.Height))
	if a.bonusSource != nil {
		missed := a.bonusSource.MissedBlocksAt(ancestor.Height)
		bonus := pox.InitialMiningBonus(ancestor.Height, missed, coinbase, a.bonusWindow)
		coinbase.Add(coinbase, bonus)
	}

	stagingRow, found, err := a.staging.GetStagingBlock(ancestor.IndexBlockHash)
	if err != nil {
		return nil, common.IndexBlockHash{}, err
	}
	var minerBurn uint64
	if found {
		minerBurn = stagingRow.CommitBurn
	}
	userBurns, err := a.staging.GetUserBurnSupports(ancestor.ConsensusHash, ancestor.Header.Hash())
	if err != nil {
		return nil, common.IndexBlockHash{}, err
	}
	totalBurn := minerBurn
	for _, ub := range userBurns {
		totalBurn += ub.BurnAmount
	}
	if totalBurn == 0 {
		totalBurn = 1 // miner takes the whole coinbase when no burn weight is on record
		minerBurn = 1
	}

	rewards := []types.MinerReward{{
		Recipient:      ancestor.MinerAddress,
		CoinbaseAmount: scaleByWeight(coinbase, minerBurn, totalBurn),
		TxFeesAnchored: new(uint256.Int).Set(ancestor.AnchoredFeesUstx),
		TxFeesStreamed: percentOf(ancestor.StreamedFeesUstx, microblockFeeMaturedSharePercent),
		Height:         ancestor.Height,
		FromBlock:      ancestor.IndexBlockHash,
	}}

	for _, ub := range userBurns {
		rewards = append(rewards, types.MinerReward{
			Recipient:      ub.Address,
			CoinbaseAmount: scaleByWeight(coinbase, ub.BurnAmount, totalBurn),
			TxFeesAnchored: new(uint256.Int),
			TxFeesStreamed: new(uint256.Int),
			Height:         ancestor.Height,
			FromBlock:      ancestor.IndexBlockHash,
		})
	}

	if !ancestor.ParentIndexBlockHash.IsZero() {
		parentOfAncestor, ok, err := a.staging.GetHeaderRow(ancestor.ParentIndexBlockHash)
		if err != nil {
			return nil, common.IndexBlockHash{}, err
		}
		if ok {
			rewards = append(rewards, types.MinerReward{
				Recipient:      parentOfAncestor.MinerAddress,
				CoinbaseAmount: new(uint256.Int),
				TxFeesAnchored: new(uint256.Int),
				TxFeesStreamed: percentOf(ancestor.StreamedFeesUstx, microblockFeeParentSharePercent),
				Height:         ancestor.Height,
				FromBlock:      ancestor.IndexBlockHash,
			})
		}
	}

	return rewards, ancestor.IndexBlockHash, nil
}

func (a *Appender) coinbase(height uint64) *uint256.Int {
	if a.coinbaseSchedule != nil {
		return a.coinbaseSchedule(height)
	}
	return pox.DefaultCoinbaseUstx
}

// percentOf returns floor(v * pct / 100); nil v is treated as zero.
func percentOf(v *uint256.Int, pct uint64) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	out := new(uint256.Int).Mul(v, uint256.NewInt(pct))
	return out.Div(out, uint256.NewInt(100))
}

// scaleByWeight returns floor(v * weight / total); total must be > 0.
func scaleByWeight(v *uint256.Int, weight, total uint64) *uint256.Int {
	out := new(uint256.Int).Mul(v, uint256.NewInt(weight))
	return out.Div(out, uint256.NewInt(total))
}
