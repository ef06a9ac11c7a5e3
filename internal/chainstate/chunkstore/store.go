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

// Package chunkstore implements C1: the content-addressed, on-disk store
// of accepted anchored block bytes (spec.md §4.1). Bytes may be written
// here before a block is appended (the relayer stores a block it
// assembled before staging it); the staging store's record is the source
// of truth for a block's disposition.
package chunkstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/gofrs/flock"

	"github.com/blockstack/stacks-blockchain-go/common"
	"github.com/blockstack/stacks-blockchain-go/internal/chainstate/chainerr"
	"github.com/blockstack/stacks-blockchain-go/log"
)

// Store is the filesystem tree described in spec.md §4.1: sharded two
// bytes / two bytes / full hex, one file per IndexBlockHash.
type Store struct {
	root          string
	maxMessageLen int
	cache         *fastcache.Cache
	log           log.Logger
}

// New opens (creating if absent) a chunk store rooted at dir. cacheBytes
// sizes an in-memory fastcache fronting repeated Get calls for recently
// written chunks (the hot path the relayer/RPC layer exercises when
// serving the same just-accepted block to several peers).
func New(dir string, maxMessageLen, cacheBytes int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir chunk store root: %v", chainerr.ErrIO, err)
	}
	return &Store{
		root:          dir,
		maxMessageLen: maxMessageLen,
		cache:         fastcache.New(cacheBytes),
		log:           log.New("component", "chunkstore"),
	}, nil
}

func (s *Store) path(idx common.IndexBlockHash) string {
	h := hex.EncodeToString(idx[:])
	return filepath.Join(s.root, h[0:2], h[2:4], h)
}

func (s *Store) lockPath(idx common.IndexBlockHash) string {
	return s.path(idx) + ".lock"
}

// Put writes bytes for idx via write-tmp/fsync/rename, the atomic-publish
// discipline that makes concurrent readers safe without their own locks.
// A length over MAX_MESSAGE_LEN is rejected with ErrTooBig. Put serializes
// concurrent writers to the same idx with a flock so a racing re-download
// of the same block can't interleave partial writes.
func (s *Store) Put(idx common.IndexBlockHash, data []byte) error {
	if len(data) > s.maxMessageLen {
		return fmt.Errorf("%w: %d bytes", chainerr.ErrTooBig, len(data))
	}
	dir := filepath.Dir(s.path(idx))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", chainerr.ErrIO, dir, err)
	}

	fl := flock.New(s.lockPath(idx))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("%w: lock %s: %v", chainerr.ErrIO, idx, err)
	}
	defer fl.Unlock()

	final := s.path(idx)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", chainerr.ErrIO, tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", chainerr.ErrIO, tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: fsync %s: %v", chainerr.ErrIO, tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %v", chainerr.ErrIO, tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: rename %s: %v", chainerr.ErrIO, idx, err)
	}
	s.cache.Set(idx[:], data)
	s.log.Debug("chunk stored", "idx", idx, "bytes", len(data))
	return nil
}

// Get returns the stored bytes for idx. A zero-length file means "known,
// rejected" and is reported as not-found, same as a file that was never
// written — callers that must distinguish the two use Has.
func (s *Store) Get(idx common.IndexBlockHash) ([]byte, bool) {
	if cached, ok := s.cache.HasGet(nil, idx[:]); ok {
		if len(cached) == 0 {
			return nil, false
		}
		return cached, true
	}
	data, err := os.ReadFile(s.path(idx))
	if err != nil {
		return nil, false
	}
	if len(data) == 0 || len(data) > s.maxMessageLen {
		return nil, false
	}
	s.cache.Set(idx[:], data)
	return data, true
}

// Has reports whether idx is known to the store at all, including
// zero-length tombstones.
func (s *Store) Has(idx common.IndexBlockHash) bool {
	_, err := os.Stat(s.path(idx))
	return err == nil
}

// Free truncates idx's file to zero length, retaining the tombstone so
// duplicate re-submissions of a rejected block are recognized without
// re-validating them.
func (s *Store) Free(idx common.IndexBlockHash) error {
	f, err := os.OpenFile(s.path(idx), os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing was ever written; create the tombstone directly.
			return s.Put(idx, nil)
		}
		return fmt.Errorf("%w: truncate %s: %v", chainerr.ErrIO, idx, err)
	}
	defer f.Close()
	s.cache.Set(idx[:], nil)
	s.log.Debug("chunk freed", "idx", idx)
	return nil
}
