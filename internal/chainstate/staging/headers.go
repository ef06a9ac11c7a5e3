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
	"database/sql"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// InsertHeaderRow records a newly-appended block's header. Called exactly
// once per accepted anchored block, by the appender on commit (spec.md §3:
// "never mutated afterward").
func (s *Store) InsertHeaderRow(row types.HeaderRow) error {
	var tail []byte
	if row.MicroblockTailHash != (common.BlockHeaderHash{}) {
		tail = row.MicroblockTailHash[:]
	}
	var matured []byte
	if row.MaturedAncestor != (common.IndexBlockHash{}) {
		matured = row.MaturedAncestor[:]
	}
	var minerHash160 []byte
	if row.MinerAddress.Hash160 != ([common.AddressLength]byte{}) {
		minerHash160 = row.MinerAddress.Hash160[:]
	}
	anchoredFees := uint256ToBytes(row.AnchoredFeesUstx)
	streamedFees := uint256ToBytes(row.StreamedFeesUstx)
	_, err := s.db.Exec(`
		INSERT INTO headers (
			index_block_hash, parent_index_block_hash, height, consensus_hash,
			header_bytes, burn_header_hash, burn_header_height, burn_header_timestamp,
			microblock_tail_hash, microblock_tail_seq, execution_cost_runtime,
			total_liquid_ustx, block_size, matured_ancestor,
			miner_address_version, miner_address_hash160, anchored_fees_ustx, streamed_fees_ustx
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.IndexBlockHash[:], row.ParentIndexBlockHash[:], row.Height, row.ConsensusHash[:],
		types.Encode(row.Header), row.BurnHeaderHash[:], row.BurnHeaderHeight, row.BurnHeaderTimestamp,
		tail, row.MicroblockTailSeq, row.ExecutionCostRuntime,
		row.TotalLiquidUstx.Bytes(), row.BlockSize, matured,
		byte(row.MinerAddress.Version), minerHash160, anchoredFees, streamedFees,
	)
	if err != nil {
		return fmt.Errorf("%w: insert header %s: %v", chainerr.ErrDB, row.IndexBlockHash, err)
	}
	return nil
}

// uint256ToBytes returns v's big-endian encoding, or nil for a nil v (the
// matured-reward fee totals are unset until the appender fills them in).
func uint256ToBytes(v *uint256.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

// GetHeaderRow looks up a header by its index block hash.
func (s *Store) GetHeaderRow(idx common.IndexBlockHash) (types.HeaderRow, bool, error) {
	return s.scanHeaderRow(s.db.QueryRow(headerSelect+` WHERE index_block_hash = ?`, idx[:]))
}

// GetHeaderRowByConsensus looks up a header by (consensus_hash, block_hash),
// the pair find_next_attachable's caller typically has on hand.
func (s *Store) GetHeaderRowByConsensus(ch common.ConsensusHash, blockHash common.BlockHeaderHash) (types.HeaderRow, bool, error) {
	idx := common.MakeIndexBlockHash(ch, blockHash)
	return s.GetHeaderRow(idx)
}

// HasHeaderRow reports whether idx has a committed header, without paying
// for a full row decode. The attachability check calls this far more often
// than it calls GetHeaderRow.
func (s *Store) HasHeaderRow(idx common.IndexBlockHash) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT 1 FROM headers WHERE index_block_hash = ?`, idx[:]).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has header %s: %v", chainerr.ErrDB, idx, err)
	}
	return true, nil
}

// ChainTipHeight returns the height of the highest committed header, or
// (0, false) if the headers table is empty (no anchored block committed
// since genesis).
func (s *Store) ChainTipHeight() (uint64, bool, error) {
	var h sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(height) FROM headers`).Scan(&h); err != nil {
		return 0, false, fmt.Errorf("%w: chain tip height: %v", chainerr.ErrDB, err)
	}
	if !h.Valid {
		return 0, false, nil
	}
	return uint64(h.Int64), true, nil
}

// CanonicalTip returns the committed header row at the greatest height, the
// relayer's notion of "the canonical Stacks tip" when assembling a new
// tenure (spec.md §4.7 step 1). ok=false means no anchored block has ever
// been committed, so the caller should assemble atop the genesis sentinel.
func (s *Store) CanonicalTip() (types.HeaderRow, bool, error) {
	return s.scanHeaderRow(s.db.QueryRow(headerSelect + ` ORDER BY height DESC LIMIT 1`))
}

// MicroblockPubkeyHashUsedBelow reports whether hash was already committed
// as some ancestor header's microblock_pubkey_hash at a height at or below
// maxHeight, per spec.md §4.4 step 2 ("the block's microblock_pubkey_hash
// MUST NOT have appeared in any ancestor HeaderRow at height <= current",
// preventing miner-key reuse). The appender is the only caller; it is
// responsible for having already established that the candidate block's
// parent chain is the one being walked (this is a flat height/hash scan
// across the whole headers table, which is sound because a pubkey hash
// reused on an abandoned fork can never become an ancestor of the new
// block once that fork's blocks fail to gain further headers).
func (s *Store) MicroblockPubkeyHashUsedBelow(hash common.PubkeyHash160, maxHeight uint64) (bool, error) {
	var header []byte
	rows, err := s.db.Query(`SELECT header_bytes FROM headers WHERE height <= ?`, maxHeight)
	if err != nil {
		return false, fmt.Errorf("%w: scan pubkey hash reuse: %v", chainerr.ErrDB, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := rows.Scan(&header); err != nil {
			return false, fmt.Errorf("%w: scan pubkey hash reuse row: %v", chainerr.ErrDB, err)
		}
		var hdr types.AnchoredHeader
		if err := types.DecodeInto(header, &hdr); err != nil {
			return false, fmt.Errorf("%w: decode pubkey hash reuse header: %v", chainerr.ErrDB, err)
		}
		if hdr.MicroblockPubkeyHash == hash {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("%w: iterate pubkey hash reuse: %v", chainerr.ErrDB, err)
	}
	return false, nil
}

// AncestorAtHeight walks parent_index_block_hash pointers backward from
// fromIdx until it reaches targetHeight, for the matured-reward schedule
// lookup of spec.md §4.4 step 5 ("the block mined MATURITY blocks ago").
// fromIdx's own height must be >= targetHeight.
func (s *Store) AncestorAtHeight(fromIdx common.IndexBlockHash, targetHeight uint64) (types.HeaderRow, bool, error) {
	cur, ok, err := s.GetHeaderRow(fromIdx)
	if err != nil || !ok {
		return types.HeaderRow{}, false, err
	}
	if cur.Height < targetHeight {
		return types.HeaderRow{}, false, nil
	}
	for cur.Height > targetHeight {
		if cur.ParentIndexBlockHash.IsZero() {
			return types.HeaderRow{}, false, nil
		}
		cur, ok, err = s.GetHeaderRow(cur.ParentIndexBlockHash)
		if err != nil || !ok {
			return types.HeaderRow{}, false, err
		}
	}
	return cur, true, nil
}

const headerSelect = `
	SELECT index_block_hash, parent_index_block_hash, height, consensus_hash,
	       header_bytes, burn_header_hash, burn_header_height, burn_header_timestamp,
	       microblock_tail_hash, microblock_tail_seq, execution_cost_runtime,
	       total_liquid_ustx, block_size, matured_ancestor,
	       miner_address_version, miner_address_hash160, anchored_fees_ustx, streamed_fees_ustx
	FROM headers`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanHeaderRow(row rowScanner) (types.HeaderRow, bool, error) {
	var (
		idx, parentIdx, ch                   []byte
		height, burnHeight, burnTS, execCost uint64
		headerBytes, burnHash, totalLiquid   []byte
		tail                                  []byte
		tailSeq                               uint16
		blockSize                             uint64
		matured                               []byte
		minerVersion                          byte
		minerHash160, anchoredFees, streamedFees []byte
	)
	err := row.Scan(&idx, &parentIdx, &height, &ch, &headerBytes, &burnHash, &burnHeight, &burnTS,
		&tail, &tailSeq, &execCost, &totalLiquid, &blockSize, &matured,
		&minerVersion, &minerHash160, &anchoredFees, &streamedFees)
	if errors.Is(err, sql.ErrNoRows) {
		return types.HeaderRow{}, false, nil
	}
	if err != nil {
		return types.HeaderRow{}, false, fmt.Errorf("%w: scan header: %v", chainerr.ErrDB, err)
	}

	var hdr types.AnchoredHeader
	if derr := types.DecodeInto(headerBytes, &hdr); derr != nil {
		return types.HeaderRow{}, false, fmt.Errorf("%w: decode header: %v", chainerr.ErrDB, derr)
	}

	out := types.HeaderRow{
		Height:               height,
		Header:               hdr,
		BurnHeaderHeight:     burnHeight,
		BurnHeaderTimestamp:  burnTS,
		MicroblockTailSeq:    tailSeq,
		ExecutionCostRuntime: execCost,
		TotalLiquidUstx:      new(uint256.Int).SetBytes(totalLiquid),
		BlockSize:            blockSize,
		MinerAddress:         common.NewAddress(common.AddressVersion(minerVersion), minerHash160),
		AnchoredFeesUstx:     new(uint256.Int).SetBytes(anchoredFees),
		StreamedFeesUstx:     new(uint256.Int).SetBytes(streamedFees),
	}
	copy(out.IndexBlockHash[:], idx)
	copy(out.ParentIndexBlockHash[:], parentIdx)
	copy(out.ConsensusHash[:], ch)
	copy(out.BurnHeaderHash[:], burnHash)
	if len(tail) > 0 {
		copy(out.MicroblockTailHash[:], tail)
	}
	if len(matured) > 0 {
		copy(out.MaturedAncestor[:], matured)
	}
	return out, true, nil
}
