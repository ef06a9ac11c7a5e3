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

const schema = `
CREATE TABLE IF NOT EXISTS staging_blocks (
	index_block_hash        BLOB PRIMARY KEY,
	consensus_hash          BLOB NOT NULL,
	block_hash              BLOB NOT NULL,
	parent_consensus_hash   BLOB NOT NULL,
	parent_block_hash       BLOB NOT NULL,
	parent_microblock_hash  BLOB NOT NULL,
	parent_microblock_seq   INTEGER NOT NULL,
	microblock_pubkey_hash  BLOB NOT NULL,
	height                  INTEGER NOT NULL,
	processed               INTEGER NOT NULL DEFAULT 0,
	attachable              INTEGER NOT NULL DEFAULT 0,
	orphaned                INTEGER NOT NULL DEFAULT 0,
	commit_burn             INTEGER NOT NULL DEFAULT 0,
	sortition_burn          INTEGER NOT NULL DEFAULT 0,
	arrival_time            INTEGER NOT NULL,
	processed_time          INTEGER NOT NULL DEFAULT 0,
	download_time_ms        INTEGER NOT NULL DEFAULT 0,
	block_bytes             BLOB
);
CREATE INDEX IF NOT EXISTS idx_staging_blocks_parent
	ON staging_blocks(parent_consensus_hash, parent_block_hash);
CREATE INDEX IF NOT EXISTS idx_staging_blocks_candidates
	ON staging_blocks(processed, attachable, orphaned);

CREATE TABLE IF NOT EXISTS staging_microblocks (
	parent_index_block_hash BLOB NOT NULL,
	consensus_hash          BLOB NOT NULL,
	anchored_block_hash     BLOB NOT NULL,
	microblock_hash         BLOB NOT NULL,
	parent_hash             BLOB NOT NULL,
	sequence                INTEGER NOT NULL,
	processed               INTEGER NOT NULL DEFAULT 0,
	orphaned                INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (parent_index_block_hash, microblock_hash)
);
CREATE INDEX IF NOT EXISTS idx_staging_microblocks_seq
	ON staging_microblocks(parent_index_block_hash, sequence);

CREATE TABLE IF NOT EXISTS staging_microblocks_data (
	microblock_hash BLOB PRIMARY KEY,
	bytes           BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS staging_user_burn_support (
	consensus_hash      BLOB NOT NULL,
	anchored_block_hash BLOB NOT NULL,
	address_version     INTEGER NOT NULL,
	address_hash160     BLOB NOT NULL,
	burn_amount         INTEGER NOT NULL,
	vtx_index           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_burn_support_block
	ON staging_user_burn_support(consensus_hash, anchored_block_hash);

CREATE TABLE IF NOT EXISTS headers (
	index_block_hash        BLOB PRIMARY KEY,
	parent_index_block_hash BLOB NOT NULL,
	height                  INTEGER NOT NULL,
	consensus_hash          BLOB NOT NULL,
	header_bytes            BLOB NOT NULL,
	burn_header_hash        BLOB NOT NULL,
	burn_header_height      INTEGER NOT NULL,
	burn_header_timestamp   INTEGER NOT NULL,
	microblock_tail_hash    BLOB,
	microblock_tail_seq     INTEGER NOT NULL DEFAULT 0,
	execution_cost_runtime  INTEGER NOT NULL DEFAULT 0,
	total_liquid_ustx       BLOB NOT NULL,
	block_size              INTEGER NOT NULL DEFAULT 0,
	matured_ancestor        BLOB,
	miner_address_version   INTEGER NOT NULL DEFAULT 0,
	miner_address_hash160   BLOB,
	anchored_fees_ustx      BLOB,
	streamed_fees_ustx      BLOB
);
CREATE INDEX IF NOT EXISTS idx_headers_height ON headers(height);
CREATE INDEX IF NOT EXISTS idx_headers_parent ON headers(parent_index_block_hash);
`
