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

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// PreprocessMicroblock records one microblock in a streamed tenure. Unlike
// anchored blocks, microblocks are not staged speculatively against an
// attachability flag: they're kept in sequence order under their parent
// anchored block's index hash and validated for connectivity by C3 at
// confirmation time, per spec.md §4.3.
func (s *Store) PreprocessMicroblock(mb types.StagingMicroblock) (PreprocessResult, error) {
	parentIdx := mb.ParentIndexBlockHash()

	var n int
	err := s.db.QueryRow(`
		SELECT 1 FROM staging_microblocks
		WHERE parent_index_block_hash = ? AND microblock_hash = ?`, parentIdx[:], mb.MicroblockHash[:],
	).Scan(&n)
	if err == nil {
		return AlreadyPresent, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return StaticRulesFailed, fmt.Errorf("%w: check staging microblock: %v", chainerr.ErrDB, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return StaticRulesFailed, fmt.Errorf("%w: begin preprocess microblock: %v", chainerr.ErrDB, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO staging_microblocks (
			parent_index_block_hash, consensus_hash, anchored_block_hash,
			microblock_hash, parent_hash, sequence, processed, orphaned
		) VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		parentIdx[:], mb.ConsensusHash[:], mb.AnchoredBlockHash[:], mb.MicroblockHash[:],
		mb.ParentHash[:], mb.Sequence,
	); err != nil {
		return StaticRulesFailed, fmt.Errorf("%w: insert staging microblock %s: %v", chainerr.ErrDB, mb.MicroblockHash, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO staging_microblocks_data (microblock_hash, bytes) VALUES (?, ?)`,
		mb.MicroblockHash[:], mb.Bytes,
	); err != nil {
		return StaticRulesFailed, fmt.Errorf("%w: insert microblock data %s: %v", chainerr.ErrDB, mb.MicroblockHash, err)
	}
	if err := tx.Commit(); err != nil {
		return StaticRulesFailed, fmt.Errorf("%w: commit preprocess microblock: %v", chainerr.ErrDB, err)
	}
	return Accepted, nil
}

// LoadStreamedMicroblocks returns every microblock staged against parentIdx,
// ordered by sequence, for the validator (C3) to walk.
func (s *Store) LoadStreamedMicroblocks(parentIdx common.IndexBlockHash) ([]types.StagingMicroblock, error) {
	rows, err := s.db.Query(`
		SELECT m.consensus_hash, m.anchored_block_hash, m.microblock_hash, m.parent_hash,
		       m.sequence, m.processed, m.orphaned, d.bytes
		FROM staging_microblocks m
		JOIN staging_microblocks_data d ON d.microblock_hash = m.microblock_hash
		WHERE m.parent_index_block_hash = ?
		ORDER BY m.sequence ASC`, parentIdx[:])
	if err != nil {
		return nil, fmt.Errorf("%w: load streamed microblocks %s: %v", chainerr.ErrDB, parentIdx, err)
	}
	defer rows.Close()

	var out []types.StagingMicroblock
	for rows.Next() {
		var mb types.StagingMicroblock
		var chb, abhb, mhb, phb []byte
		var processed, orphaned int64
		if err := rows.Scan(&chb, &abhb, &mhb, &phb, &mb.Sequence, &processed, &orphaned, &mb.Bytes); err != nil {
			return nil, fmt.Errorf("%w: scan streamed microblock: %v", chainerr.ErrDB, err)
		}
		copy(mb.ConsensusHash[:], chb)
		copy(mb.AnchoredBlockHash[:], abhb)
		copy(mb.MicroblockHash[:], mhb)
		copy(mb.ParentHash[:], phb)
		mb.Processed = intToBool(processed)
		mb.Orphaned = intToBool(orphaned)
		out = append(out, mb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate streamed microblocks: %v", chainerr.ErrDB, err)
	}
	return out, nil
}

// HasProcessedMicroblock reports whether some non-orphaned, processed
// microblock with this hash is known, regardless of which anchored
// block it is staged under. The inventory service (C9) uses this to
// answer "has a microblock confirmed by this block been processed" by
// querying for the block's declared parent_microblock hash.
func (s *Store) HasProcessedMicroblock(hash common.BlockHeaderHash) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT 1 FROM staging_microblocks
		WHERE microblock_hash = ? AND processed = 1 AND orphaned = 0
		LIMIT 1`, hash[:],
	).Scan(&n)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("%w: check processed microblock %s: %v", chainerr.ErrDB, hash, err)
}

// MarkMicroblocksProcessed flips processed=1 on every microblock staged
// under parentIdx up to and including throughSeq, the sequence number the
// validator (C3) confirmed connects cleanly to the anchored block.
func (s *Store) MarkMicroblocksProcessed(parentIdx common.IndexBlockHash, throughSeq uint16) error {
	_, err := s.db.Exec(`
		UPDATE staging_microblocks SET processed = 1
		WHERE parent_index_block_hash = ? AND sequence <= ? AND orphaned = 0`,
		parentIdx[:], throughSeq,
	)
	if err != nil {
		return fmt.Errorf("%w: mark microblocks processed %s: %v", chainerr.ErrDB, parentIdx, err)
	}
	return nil
}

// DropStagingMicroblocks orphans every microblock staged under parentIdx at
// or after fromSeq: spec.md §4.3's response to the validator finding a
// fork-at-sequence or fork-at-prev-hash break, or a poison-eligible
// divergence, at fromSeq. The anchored block itself and any microblocks
// strictly before fromSeq are untouched.
func (s *Store) DropStagingMicroblocks(parentIdx common.IndexBlockHash, fromSeq uint16) error {
	_, err := s.db.Exec(`
		UPDATE staging_microblocks SET orphaned = 1, processed = 1
		WHERE parent_index_block_hash = ? AND sequence >= ?`,
		parentIdx[:], fromSeq,
	)
	if err != nil {
		return fmt.Errorf("%w: drop staging microblocks %s from %d: %v", chainerr.ErrDB, parentIdx, fromSeq, err)
	}
	return nil
}
