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

package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNext_PriorityOrder(t *testing.T) {
	c := New()
	c.AnnounceNewStacksBlock()
	c.AnnounceNewBurnBlock()
	c.AnnounceStop()

	require.Equal(t, Stop, c.Next())
	// Stop is absorbing: every subsequent call reports Stop again,
	// regardless of the other flags still being set.
	require.Equal(t, Stop, c.Next())
}

func TestNext_BurnBeforeStacks(t *testing.T) {
	c := New()
	c.AnnounceNewStacksBlock()
	c.AnnounceNewBurnBlock()

	require.Equal(t, NewBurnBlock, c.Next())
	require.Equal(t, NewStacksBlock, c.Next())
}

func TestNext_BlocksUntilSignaled(t *testing.T) {
	c := New()
	done := make(chan Event, 1)
	go func() { done <- c.Next() }()

	select {
	case <-done:
		t.Fatal("Next returned before any flag was set")
	case <-time.After(20 * time.Millisecond):
	}

	c.AnnounceNewBurnBlock()
	require.Equal(t, NewBurnBlock, <-done)
}

func TestAnnounceAfterStopIsNoop(t *testing.T) {
	c := New()
	c.AnnounceStop()
	c.AnnounceNewBurnBlock()
	require.Equal(t, Stop, c.Next())
}

func TestWaitForStacksBlocksProcessed(t *testing.T) {
	c := New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.RecordStacksBlockProcessed()
	}()
	require.True(t, c.WaitForStacksBlocksProcessed(0, 200*time.Millisecond))
}

func TestWaitForStacksBlocksProcessed_Timeout(t *testing.T) {
	c := New()
	require.False(t, c.WaitForStacksBlocksProcessed(0, 10*time.Millisecond))
}
