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

import "github.com/blockstack/stacks-blockchain-go/common"

// SortitionReader is the burnchain-sortition-DB collaborator find_next_attachable
// consults to discover whether a staging candidate's consensus hash still
// names a sortition on the node's current valid PoX fork (spec.md §4.2).
// The burnchain watcher that produces sortition snapshots is out of scope
// (spec.md §1); this is the narrow read-only slice this engine consumes.
type SortitionReader interface {
	// IsLiveSortition reports whether ch names a sortition still on the
	// canonical PoX fork.
	IsLiveSortition(ch common.ConsensusHash) bool

	// MarkAccepted tells the sortition DB that the block elected by ch
	// was accepted, per spec.md §4.2 mark_processed(accept=true).
	MarkAccepted(ch common.ConsensusHash, blockHash common.BlockHeaderHash)
}
