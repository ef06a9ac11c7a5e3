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

// Package coordinator implements C6: the single condvar-gated signal bus
// between the burnchain watcher / relayer threads and the one coordinator
// thread, per spec.md §4.6. Three booleans collapse bursts of identical
// signals into one pending event; two sequential-consistency atomic
// counters let any thread poll processing progress without touching the
// mutex at all.
package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockstack/stacks-blockchain-go/event"
	"github.com/blockstack/stacks-blockchain-go/metrics"
)

// Event is the coordinator's next unit of work, in the fixed priority
// order STOP > NEW_BURN_BLOCK > NEW_STACKS_BLOCK.
type Event int

const (
	// Timeout is the zero Event. Next never returns it: Next has no
	// deadline and keeps waiting until a flag is set.
	Timeout Event = iota
	NewStacksBlock
	NewBurnBlock
	Stop
)

// Channel is the coordinator signal bus. Zero value is not usable; use
// New.
type Channel struct {
	mu   sync.Mutex
	cond *sync.Cond

	newStacksBlock bool
	newBurnBlock   bool
	stop           bool

	stacksBlocksProcessed atomic.Uint64
	sortitionsProcessed   atomic.Uint64

	progress event.Feed // emits Event values whenever a progress counter advances
}

// New constructs a ready-to-use Channel.
func New() *Channel {
	c := &Channel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// AnnounceNewStacksBlock signals that a new anchored block has been
// accepted into staging and is ready for the coordinator to consider.
func (c *Channel) AnnounceNewStacksBlock() {
	c.mu.Lock()
	if c.stop {
		c.mu.Unlock()
		return
	}
	c.newStacksBlock = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// AnnounceNewBurnBlock signals that a new burnchain block has been
// observed.
func (c *Channel) AnnounceNewBurnBlock() {
	c.mu.Lock()
	if c.stop {
		c.mu.Unlock()
		return
	}
	c.newBurnBlock = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// AnnounceStop is absorbing: once set, it is never cleared, and the other
// two Announce* methods become no-ops.
func (c *Channel) AnnounceStop() {
	c.mu.Lock()
	c.stop = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Next blocks until any flag is set, then returns exactly one event in
// priority order STOP > NEW_BURN_BLOCK > NEW_STACKS_BLOCK, clearing only
// the flag it reports. Once Stop is returned, it is returned on every
// subsequent call without blocking.
func (c *Channel) Next() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.stop && !c.newBurnBlock && !c.newStacksBlock {
		c.cond.Wait()
	}
	switch {
	case c.stop:
		return Stop
	case c.newBurnBlock:
		c.newBurnBlock = false
		return NewBurnBlock
	default:
		c.newStacksBlock = false
		return NewStacksBlock
	}
}

// RecordStacksBlockProcessed advances the stacks_blocks_processed counter
// by one and publishes the new value to metrics and any subscribers.
func (c *Channel) RecordStacksBlockProcessed() {
	v := c.stacksBlocksProcessed.Add(1)
	metrics.StacksBlocksProcessed.Inc()
	c.progress.Send(v)
}

// RecordSortitionProcessed advances the sortitions_processed counter by
// one.
func (c *Channel) RecordSortitionProcessed() {
	v := c.sortitionsProcessed.Add(1)
	metrics.SortitionsProcessed.Inc()
	c.progress.Send(v)
}

// StacksBlocksProcessed returns the current value of the counter.
func (c *Channel) StacksBlocksProcessed() uint64 { return c.stacksBlocksProcessed.Load() }

// SortitionsProcessed returns the current value of the counter.
func (c *Channel) SortitionsProcessed() uint64 { return c.sortitionsProcessed.Load() }

// WaitForStacksBlocksProcessed polls until the counter exceeds baseline or
// deadline elapses, per spec.md §4.6.
func (c *Channel) WaitForStacksBlocksProcessed(baseline uint64, deadline time.Duration) bool {
	return pollUntil(deadline, func() bool { return c.stacksBlocksProcessed.Load() > baseline })
}

// WaitForSortitionsProcessed polls until the counter exceeds baseline or
// deadline elapses.
func (c *Channel) WaitForSortitionsProcessed(baseline uint64, deadline time.Duration) bool {
	return pollUntil(deadline, func() bool { return c.sortitionsProcessed.Load() > baseline })
}

func pollUntil(deadline time.Duration, done func() bool) bool {
	const tick = time.Millisecond
	end := time.Now().Add(deadline)
	for {
		if done() {
			return true
		}
		if time.Now().After(end) {
			return done()
		}
		time.Sleep(tick)
	}
}
