// Package sched implements the per-CPU process/thread scheduler: runqueues,
// the Fair/RealTime/Deadline scheduling classes, cross-CPU load balancing
// with heterogeneous (P/E) and NUMA-aware placement, and the tick-driven
// preemption loop.
//
// The package never sleeps and never performs I/O; everything that could
// block (the monotonic clock, one-shot timers, inter-CPU signaling, the
// context-switch primitive, and task/affinity lookups) is a collaborator
// interface supplied by the embedder, so the scheduler can be driven
// deterministically in tests with a simulated clock.
package sched
