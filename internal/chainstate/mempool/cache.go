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

package mempool

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/shirou/gopsutil/mem"

	"github.com/blockstack/stacks-blockchain-go/common"
)

// defaultBalanceCacheEntries is used when host memory sampling fails.
const defaultBalanceCacheEntries = 4096

// bytesPerCacheEntry is a conservative estimate of one cached balance
// lookup's footprint (address key, uint256 value, LRU bookkeeping).
const bytesPerCacheEntry = 256

// balanceCacheBudgetFraction is the share of available system memory the
// payer-balance cache is allowed to claim.
const balanceCacheBudgetFraction = 0.01

// BalanceCache memoizes ChainTip.Balance lookups so repeated admission
// checks against the same principal within a relay burst do not re-walk
// the ledger. Sized from host memory via gopsutil, degrading to a fixed
// entry count if sampling fails.
type BalanceCache struct {
	lru *lru.Cache
}

// NewBalanceCache constructs a cache sized from available host memory.
func NewBalanceCache() (*BalanceCache, error) {
	n := defaultBalanceCacheEntries
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available > 0 {
		budget := float64(vm.Available) * balanceCacheBudgetFraction
		if sized := int(budget / bytesPerCacheEntry); sized > 0 {
			n = sized
		}
	}
	c, err := lru.New(n)
	if err != nil {
		return nil, err
	}
	return &BalanceCache{lru: c}, nil
}

// Get returns the cached balance for addr, if present.
func (b *BalanceCache) Get(addr common.Address) (*uint256.Int, bool) {
	v, ok := b.lru.Get(addr)
	if !ok {
		return nil, false
	}
	return v.(*uint256.Int), true
}

// Put caches balance for addr, evicting the least-recently-used entry if
// the cache is full.
func (b *BalanceCache) Put(addr common.Address, balance *uint256.Int) {
	b.lru.Add(addr, balance)
}

// Len reports the number of entries currently cached.
func (b *BalanceCache) Len() int { return b.lru.Len() }

// Purge evicts every entry, used whenever the chain tip advances and
// cached balances go stale.
func (b *BalanceCache) Purge() { b.lru.Purge() }

// CachedChainTip wraps a ChainTip, memoizing its Balance lookups in a
// BalanceCache.
type CachedChainTip struct {
	ChainTip
	cache *BalanceCache
}

// NewCachedChainTip wraps tip with cache.
func NewCachedChainTip(tip ChainTip, cache *BalanceCache) *CachedChainTip {
	return &CachedChainTip{ChainTip: tip, cache: cache}
}

// Balance returns the cached balance if present, otherwise delegates to
// the wrapped tip and caches the result.
func (c *CachedChainTip) Balance(principal common.Address) *uint256.Int {
	if v, ok := c.cache.Get(principal); ok {
		return v
	}
	v := c.ChainTip.Balance(principal)
	c.cache.Put(principal, v)
	return v
}
