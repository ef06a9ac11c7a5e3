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

package staging

import (
	"fmt"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// GetUserBurnSupports returns every user-burn-support record filed against
// (ch, blockHash), the elected sortition's co-burners the appender's
// matured-reward step (spec.md §4.4 step 5) credits a coinbase share.
func (s *Store) GetUserBurnSupports(ch common.ConsensusHash, blockHash common.BlockHeaderHash) ([]types.UserBurnSupport, error) {
	rows, err := s.db.Query(`
		SELECT address_version, address_hash160, burn_amount, vtx_index
		FROM staging_user_burn_support
		WHERE consensus_hash = ? AND anchored_block_hash = ?
		ORDER BY vtx_index ASC`, ch[:], blockHash[:])
	if err != nil {
		return nil, fmt.Errorf("%w: query user burn supports: %v", chainerr.ErrDB, err)
	}
	defer rows.Close()

	var out []types.UserBurnSupport
	for rows.Next() {
		var version byte
		var hash160 []byte
		var ub types.UserBurnSupport
		if err := rows.Scan(&version, &hash160, &ub.BurnAmount, &ub.VtxIndex); err != nil {
			return nil, fmt.Errorf("%w: scan user burn support: %v", chainerr.ErrDB, err)
		}
		ub.ConsensusHash = ch
		ub.AnchoredBlockHash = blockHash
		ub.Address = common.NewAddress(common.AddressVersion(version), hash160)
		out = append(out, ub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate user burn supports: %v", chainerr.ErrDB, err)
	}
	return out, nil
}
