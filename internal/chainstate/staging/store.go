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

// Package staging implements C2: the transactional index of pending
// anchored blocks, microblocks, and burn-supports (spec.md §4.2), plus the
// headers DB the appender (C4) writes into. Both are modeled as tables of
// one embedded relational store, matching "single-writer embedded
// relational store" in spec.md §4.2 literally via database/sql over
// mattn/go-sqlite3.
//
// Open question resolved (spec.md §9): find_next_attachable's "uniform
// random among candidates" is made reproducible by taking an *rand.Rand
// from the caller (WithRand) rather than reading math/rand's global
// source, so tests can assert a specific candidate is chosen while
// production callers seed from crypto/rand once at startup.
package staging

import (
	"database/sql"
	"fmt"
	"math/rand"

	_ "github.com/mattn/go-sqlite3"

	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/log"
)

// Store is the staging store plus headers DB.
type Store struct {
	db  *sql.DB
	rng *rand.Rand
	log log.Logger
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithRand overrides the source of randomness find_next_attachable uses to
// pick among equally-valid candidates. Defaults to a source seeded from
// crypto/rand at Open time.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.rng = r }
}

// Open opens (creating and migrating if necessary) a staging store at
// path. Use ":memory:" for an ephemeral store in tests.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=0")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", chainerr.ErrDB, path, err)
	}
	// The staging store is single-writer by design (spec.md §5); cap the
	// pool so sqlite3's own locking never has to arbitrate writers itself.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate schema: %v", chainerr.ErrDB, err)
	}
	s := &Store{
		db:  db,
		rng: rand.New(rand.NewSource(cryptoSeed())),
		log: log.New("component", "staging"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int64) bool { return i != 0 }
