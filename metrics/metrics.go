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

// Package metrics exports the engine's two progress counters
// (stacks_blocks_processed, sortitions_processed, spec.md §6) plus a
// handful of gauges, as Prometheus collectors, the way geth nodes expose
// their /debug/metrics surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the collector registry this engine registers into. A
// dedicated registry (rather than prometheus.DefaultRegisterer) lets
// embedding applications mount it under their own namespace without
// colliding with unrelated metrics.
var Registry = prometheus.NewRegistry()

var (
	// StacksBlocksProcessed mirrors the coordinator's monotonic
	// stacks_blocks_processed counter (spec.md §6).
	StacksBlocksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stacks",
		Subsystem: "chainstate",
		Name:      "blocks_processed_total",
		Help:      "Count of anchored blocks committed by the appender since startup.",
	})

	// SortitionsProcessed mirrors the coordinator's monotonic
	// sortitions_processed counter (spec.md §6).
	SortitionsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stacks",
		Subsystem: "chainstate",
		Name:      "sortitions_processed_total",
		Help:      "Count of burnchain blocks the coordinator has reacted to since startup.",
	})

	// StagingBacklog gauges the number of unprocessed, non-orphaned
	// staging blocks, a proxy for how far the node is behind its peers.
	StagingBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stacks",
		Subsystem: "chainstate",
		Name:      "staging_backlog",
		Help:      "Unprocessed, non-orphaned staging blocks.",
	})

	// DirectiveQueueDepth gauges the relayer's directive queue
	// occupancy, the backpressure signal described in spec.md §5.
	DirectiveQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stacks",
		Subsystem: "relay",
		Name:      "directive_queue_depth",
		Help:      "Pending directives in the relayer's bounded queue.",
	})
)

func init() {
	Registry.MustRegister(StacksBlocksProcessed, SortitionsProcessed, StagingBacklog, DirectiveQueueDepth)
}
