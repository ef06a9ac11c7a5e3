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
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/types"
)

// PreprocessAnchoredBlock records a newly-downloaded candidate anchored
// block. The block's bytes are assumed already committed to the chunk
// store by the caller; this only manages the staging row (spec.md §4.2).
//
// Attachability is computed inline at insert time: a record starts
// attachable if and only if its parent is either the genesis sentinel or a
// staging record that is itself processed, accepted, and not orphaned (or
// already has a committed header). Children staged earlier are left
// unattachable here; MarkProcessed promotes them once this record is
// accepted.
func (s *Store) PreprocessAnchoredBlock(
	block types.StagingBlock,
	sr SortitionReader,
	userBurns []types.UserBurnSupport,
) (PreprocessResult, error) {
	if !sr.IsLiveSortition(block.ConsensusHash) {
		return InvalidBurnLink, chainerr.WithHash(chainerr.ErrInvalidBurnchainLink, "consensus_hash", block.ConsensusHash)
	}

	idx := block.IndexBlockHash()
	exists, err := s.hasStagingBlock(idx)
	if err != nil {
		return StaticRulesFailed, err
	}
	if exists {
		return AlreadyPresent, nil
	}

	attachable, err := s.parentIsReady(block)
	if err != nil {
		return StaticRulesFailed, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return StaticRulesFailed, fmt.Errorf("%w: begin preprocess: %v", chainerr.ErrDB, err)
	}
	defer tx.Rollback()

	block.ArrivalTime = time.Now()
	block.Attachable = attachable
	if _, err := tx.Exec(`
		INSERT INTO staging_blocks (
			index_block_hash, consensus_hash, block_hash, parent_consensus_hash,
			parent_block_hash, parent_microblock_hash, parent_microblock_seq,
			microblock_pubkey_hash, height, processed, attachable, orphaned,
			commit_burn, sortition_burn, arrival_time, download_time_ms, block_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?, ?, ?)`,
		idx[:], block.ConsensusHash[:], block.BlockHash[:], block.ParentConsensusHash[:],
		block.ParentBlockHash[:], block.ParentMicroblockHash[:], block.ParentMicroblockSeq,
		block.MicroblockPubkeyHash[:], block.Height, boolToInt(attachable),
		block.CommitBurn, block.SortitionBurn, block.ArrivalTime.Unix(), block.DownloadTime.Milliseconds(),
		block.Bytes,
	); err != nil {
		return StaticRulesFailed, fmt.Errorf("%w: insert staging block %s: %v", chainerr.ErrDB, idx, err)
	}

	for _, ub := range userBurns {
		if _, err := tx.Exec(`
			INSERT INTO staging_user_burn_support (
				consensus_hash, anchored_block_hash, address_version, address_hash160, burn_amount, vtx_index
			) VALUES (?, ?, ?, ?, ?, ?)`,
			ub.ConsensusHash[:], ub.AnchoredBlockHash[:], byte(ub.Address.Version), ub.Address.Hash160[:],
			ub.BurnAmount, ub.VtxIndex,
		); err != nil {
			return StaticRulesFailed, fmt.Errorf("%w: insert user burn support: %v", chainerr.ErrDB, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return StaticRulesFailed, fmt.Errorf("%w: commit preprocess: %v", chainerr.ErrDB, err)
	}
	return Accepted, nil
}

// parentIsReady reports whether block's declared parent already satisfies
// the attachability invariant: genesis, or a processed+accepted+unorphaned
// staging row, or a committed header (the parent may have aged out of
// staging already).
func (s *Store) parentIsReady(block types.StagingBlock) (bool, error) {
	if block.IsGenesisParent() {
		return true, nil
	}
	parentIdx := block.ParentIndexBlockHash()

	if has, err := s.HasHeaderRow(parentIdx); err != nil {
		return false, err
	} else if has {
		return true, nil
	}

	var processed, orphaned int64
	err := s.db.QueryRow(`
		SELECT processed, orphaned FROM staging_blocks WHERE index_block_hash = ?`,
		parentIdx[:],
	).Scan(&processed, &orphaned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: parent readiness %s: %v", chainerr.ErrDB, parentIdx, err)
	}
	return intToBool(processed) && !intToBool(orphaned), nil
}

func (s *Store) hasStagingBlock(idx common.IndexBlockHash) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT 1 FROM staging_blocks WHERE index_block_hash = ?`, idx[:]).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has staging block %s: %v", chainerr.ErrDB, idx, err)
	}
	return true, nil
}

// promoteChildren marks attachable=1 on every unprocessed, unorphaned
// staging row whose declared parent is parentIdx. Called by MarkProcessed
// once parentIdx has been accepted.
func promoteChildren(tx *sql.Tx, parentIdx common.IndexBlockHash) error {
	rows, err := tx.Query(`
		SELECT consensus_hash, block_hash FROM staging_blocks
		WHERE attachable = 0 AND orphaned = 0`)
	if err != nil {
		return fmt.Errorf("%w: scan children: %v", chainerr.ErrDB, err)
	}
	type key struct {
		ch common.ConsensusHash
		bh common.BlockHeaderHash
	}
	var toPromote []key
	for rows.Next() {
		var chb, bhb []byte
		if err := rows.Scan(&chb, &bhb); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan child row: %v", chainerr.ErrDB, err)
		}
		var ch common.ConsensusHash
		var bh common.BlockHeaderHash
		copy(ch[:], chb)
		copy(bh[:], bhb)
		toPromote = append(toPromote, key{ch, bh})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("%w: iterate children: %v", chainerr.ErrDB, err)
	}
	rows.Close()

	for _, k := range toPromote {
		var pcb, pbb []byte
		err := tx.QueryRow(`
			SELECT parent_consensus_hash, parent_block_hash FROM staging_blocks
			WHERE consensus_hash = ? AND block_hash = ?`, k.ch[:], k.bh[:],
		).Scan(&pcb, &pbb)
		if err != nil {
			return fmt.Errorf("%w: lookup child parent: %v", chainerr.ErrDB, err)
		}
		var pch common.ConsensusHash
		var pbh common.BlockHeaderHash
		copy(pch[:], pcb)
		copy(pbh[:], pbb)
		if common.MakeIndexBlockHash(pch, pbh) != parentIdx {
			continue
		}
		if _, err := tx.Exec(`
			UPDATE staging_blocks SET attachable = 1
			WHERE consensus_hash = ? AND block_hash = ?`, k.ch[:], k.bh[:],
		); err != nil {
			return fmt.Errorf("%w: promote child: %v", chainerr.ErrDB, err)
		}
	}
	return nil
}

// AttachableCandidate is the row find_next_attachable hands its caller:
// enough to fetch the block's bytes from the chunk store and its
// confirmed microblock stream from staging_microblocks.
type AttachableCandidate struct {
	ConsensusHash common.ConsensusHash
	BlockHash     common.BlockHeaderHash
	ParentIndex   common.IndexBlockHash
}

// HasAttachablePending reports whether any staging row is waiting to be
// appended, without the stale-sortition orphan sweep FindNextAttachable
// performs. The microblock miner (C8) uses this as a cheap, side-effect-
// free check for spec.md §4.8 step 1's "no attachable staging blocks are
// pending" guard, so it never contends with the relayer's append path
// over the staging store's write lock.
func (s *Store) HasAttachablePending() (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT 1 FROM staging_blocks
		WHERE processed = 0 AND attachable = 1 AND orphaned = 0 LIMIT 1`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has attachable pending: %v", chainerr.ErrDB, err)
	}
	return true, nil
}

// FindNextAttachable selects one staging row with processed=0,
// attachable=1, orphaned=0, uniformly at random among ties (spec.md §4.2),
// using Store's configured random source (see WithRand). Rows whose
// consensus hash no longer names a live sortition are orphaned in-line
// and excluded, rather than ever being handed to a caller.
func (s *Store) FindNextAttachable(sr SortitionReader) (AttachableCandidate, bool, error) {
	for {
		rows, err := s.db.Query(`
			SELECT consensus_hash, block_hash, parent_consensus_hash, parent_block_hash
			FROM staging_blocks
			WHERE processed = 0 AND attachable = 1 AND orphaned = 0`)
		if err != nil {
			return AttachableCandidate{}, false, fmt.Errorf("%w: query candidates: %v", chainerr.ErrDB, err)
		}
		var candidates []AttachableCandidate
		var stale []common.ConsensusHash
		for rows.Next() {
			var chb, bhb, pchb, pbhb []byte
			if err := rows.Scan(&chb, &bhb, &pchb, &pbhb); err != nil {
				rows.Close()
				return AttachableCandidate{}, false, fmt.Errorf("%w: scan candidate: %v", chainerr.ErrDB, err)
			}
			var c AttachableCandidate
			copy(c.ConsensusHash[:], chb)
			copy(c.BlockHash[:], bhb)
			var pch common.ConsensusHash
			var pbh common.BlockHeaderHash
			copy(pch[:], pchb)
			copy(pbh[:], pbhb)
			c.ParentIndex = common.MakeIndexBlockHash(pch, pbh)

			if sr.IsLiveSortition(c.ConsensusHash) {
				candidates = append(candidates, c)
			} else {
				stale = append(stale, c.ConsensusHash)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return AttachableCandidate{}, false, fmt.Errorf("%w: iterate candidates: %v", chainerr.ErrDB, err)
		}
		rows.Close()

		if len(stale) == 0 {
			if len(candidates) == 0 {
				return AttachableCandidate{}, false, nil
			}
			pick := candidates[s.rng.Intn(len(candidates))]
			return pick, true, nil
		}
		for _, ch := range stale {
			if err := s.orphanByConsensusHash(ch); err != nil {
				return AttachableCandidate{}, false, err
			}
		}
		// Re-query: orphaning may have cascaded onto descendants too.
	}
}

func (s *Store) orphanByConsensusHash(ch common.ConsensusHash) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin orphan: %v", chainerr.ErrDB, err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT block_hash FROM staging_blocks WHERE consensus_hash = ? AND orphaned = 0`, ch[:])
	if err != nil {
		return fmt.Errorf("%w: query orphan targets: %v", chainerr.ErrDB, err)
	}
	var blockHashes [][]byte
	for rows.Next() {
		var bh []byte
		if err := rows.Scan(&bh); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan orphan target: %v", chainerr.ErrDB, err)
		}
		blockHashes = append(blockHashes, bh)
	}
	rows.Close()

	for _, bh := range blockHashes {
		var bhArr common.BlockHeaderHash
		copy(bhArr[:], bh)
		idx := common.MakeIndexBlockHash(ch, bhArr)
		if err := cascadeOrphan(tx, idx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkProcessed finalizes a staging block's disposition. On accept, its
// committed header has already been written by the caller (the appender);
// MarkProcessed flips processed=1 and promotes any children that were
// waiting on this block's attachability. On reject, the block and every
// descendant reachable through parent links are orphaned and their staged
// bytes cleared, matching spec.md §3 invariant (iii). The chunk store is
// not touched here: the appender frees only the rejected block's own
// chunk, and the descendants' chunk-store entries are left in place.
func (s *Store) MarkProcessed(ch common.ConsensusHash, blockHash common.BlockHeaderHash, accept bool, sr SortitionReader) error {
	idx := common.MakeIndexBlockHash(ch, blockHash)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin mark_processed: %v", chainerr.ErrDB, err)
	}
	defer tx.Rollback()

	if accept {
		if _, err := tx.Exec(`
			UPDATE staging_blocks SET processed = 1, processed_time = ?
			WHERE index_block_hash = ?`, time.Now().Unix(), idx[:],
		); err != nil {
			return fmt.Errorf("%w: mark processed %s: %v", chainerr.ErrDB, idx, err)
		}
		if err := promoteChildren(tx, idx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit mark_processed: %v", chainerr.ErrDB, err)
		}
		if sr != nil {
			sr.MarkAccepted(ch, blockHash)
		}
		return nil
	}

	if err := cascadeOrphan(tx, idx); err != nil {
		return err
	}
	return tx.Commit()
}

// cascadeOrphan marks idx and every staging block (transitively) declaring
// it as parent as orphaned=1, processed=1, and clears their chunk-store
// bytes column so a subsequent chunk-store Free call has nothing left to
// reclaim from this row. It does not itself touch the chunk store; the
// appender frees the chunk-store entry once it observes Orphaned.
func cascadeOrphan(tx *sql.Tx, idx common.IndexBlockHash) error {
	var chb, bhb []byte
	err := tx.QueryRow(`SELECT consensus_hash, block_hash FROM staging_blocks WHERE index_block_hash = ?`, idx[:]).Scan(&chb, &bhb)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: lookup orphan root %s: %v", chainerr.ErrDB, idx, err)
	}
	var ch common.ConsensusHash
	var bh common.BlockHeaderHash
	copy(ch[:], chb)
	copy(bh[:], bhb)
	return cascadeOrphanByKey(tx, ch, bh)
}

type blockKey struct {
	ch common.ConsensusHash
	bh common.BlockHeaderHash
}

func cascadeOrphanByKey(tx *sql.Tx, rootCH common.ConsensusHash, rootBH common.BlockHeaderHash) error {
	queue := []blockKey{{rootCH, rootBH}}
	seen := mapset.NewThreadUnsafeSet[blockKey]()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen.Contains(cur) {
			continue
		}
		seen.Add(cur)
		idx := common.MakeIndexBlockHash(cur.ch, cur.bh)

		if _, err := tx.Exec(`
			UPDATE staging_blocks SET orphaned = 1, processed = 1, block_bytes = NULL
			WHERE consensus_hash = ? AND block_hash = ?`, cur.ch[:], cur.bh[:],
		); err != nil {
			return fmt.Errorf("%w: orphan %s: %v", chainerr.ErrDB, idx, err)
		}
		if _, err := tx.Exec(`
			UPDATE staging_microblocks SET orphaned = 1, processed = 1
			WHERE parent_index_block_hash = ?`, idx[:],
		); err != nil {
			return fmt.Errorf("%w: orphan microblocks of %s: %v", chainerr.ErrDB, idx, err)
		}

		rows, err := tx.Query(`
			SELECT consensus_hash, block_hash FROM staging_blocks
			WHERE parent_consensus_hash = ? AND parent_block_hash = ?`, cur.ch[:], cur.bh[:])
		if err != nil {
			return fmt.Errorf("%w: query children of %s: %v", chainerr.ErrDB, idx, err)
		}
		for rows.Next() {
			var cchb, cbhb []byte
			if err := rows.Scan(&cchb, &cbhb); err != nil {
				rows.Close()
				return fmt.Errorf("%w: scan child of %s: %v", chainerr.ErrDB, idx, err)
			}
			var cch common.ConsensusHash
			var cbh common.BlockHeaderHash
			copy(cch[:], cchb)
			copy(cbh[:], cbhb)
			queue = append(queue, blockKey{cch, cbh})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("%w: iterate children of %s: %v", chainerr.ErrDB, idx, err)
		}
		rows.Close()
	}
	return nil
}

// GetStagingBlock loads a full staging row including its bytes, for the
// caller that just won FindNextAttachable.
func (s *Store) GetStagingBlock(idx common.IndexBlockHash) (types.StagingBlock, bool, error) {
	var b types.StagingBlock
	var chb, bhb, pchb, pbhb, pmhb, mpkh []byte
	var processed, attachable, orphaned int64
	var arrival, processedTime, downloadMS int64
	err := s.db.QueryRow(`
		SELECT consensus_hash, block_hash, parent_consensus_hash, parent_block_hash,
		       parent_microblock_hash, parent_microblock_seq, microblock_pubkey_hash,
		       height, processed, attachable, orphaned, commit_burn, sortition_burn,
		       arrival_time, processed_time, download_time_ms, block_bytes
		FROM staging_blocks WHERE index_block_hash = ?`, idx[:],
	).Scan(&chb, &bhb, &pchb, &pbhb, &pmhb, &b.ParentMicroblockSeq, &mpkh,
		&b.Height, &processed, &attachable, &orphaned, &b.CommitBurn, &b.SortitionBurn,
		&arrival, &processedTime, &downloadMS, &b.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StagingBlock{}, false, nil
	}
	if err != nil {
		return types.StagingBlock{}, false, fmt.Errorf("%w: get staging block %s: %v", chainerr.ErrDB, idx, err)
	}
	copy(b.ConsensusHash[:], chb)
	copy(b.BlockHash[:], bhb)
	copy(b.ParentConsensusHash[:], pchb)
	copy(b.ParentBlockHash[:], pbhb)
	copy(b.ParentMicroblockHash[:], pmhb)
	copy(b.MicroblockPubkeyHash[:], mpkh)
	b.Processed = intToBool(processed)
	b.Attachable = intToBool(attachable)
	b.Orphaned = intToBool(orphaned)
	b.ArrivalTime = time.Unix(arrival, 0)
	if processedTime > 0 {
		b.ProcessedTime = time.Unix(processedTime, 0)
	}
	b.DownloadTime = time.Duration(downloadMS) * time.Millisecond
	return b, true, nil
}
