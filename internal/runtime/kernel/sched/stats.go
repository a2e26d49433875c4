package sched

import "sync/atomic"

// CPUStats is one CPU's scheduler counters. Fields are padded to their own
// cache line (mirroring the padding in the teacher's
// internal/runtime/concurrency/lfqueue.go MPMCQueue) so that counters for
// different CPUs never false-share a cache line under concurrent
// snapshotting.
type CPUStats struct {
	ContextSwitches uint64
	_pad0           [64 - 8]byte
	Migrations      uint64
	_pad1           [64 - 8]byte
	FairEnqueues    uint64
	_pad2           [64 - 8]byte
	RTPreemptions   uint64
	_pad3           [64 - 8]byte
	DeadlineMisses  uint64
	_pad4           [64 - 8]byte
	BalancerRuns    uint64
	_pad5           [64 - 8]byte
}

// StatsBlock is the atomically-updated per-CPU counter block. Every field
// here is written with atomic.Add*/Store*; readers call Snapshot rather
// than reading fields directly.
type StatsBlock struct {
	contextSwitches atomic.Uint64
	_pad0           [64 - 8]byte
	migrations      atomic.Uint64
	_pad1           [64 - 8]byte
	fairEnqueues    atomic.Uint64
	_pad2           [64 - 8]byte
	rtPreemptions   atomic.Uint64
	_pad3           [64 - 8]byte
	deadlineMisses  atomic.Uint64
	_pad4           [64 - 8]byte
	balancerRuns    atomic.Uint64
	_pad5           [64 - 8]byte
}

func (s *StatsBlock) IncContextSwitch() { s.contextSwitches.Add(1) }
func (s *StatsBlock) IncMigration()     { s.migrations.Add(1) }
func (s *StatsBlock) IncFairEnqueue()   { s.fairEnqueues.Add(1) }
func (s *StatsBlock) IncRTPreemption()  { s.rtPreemptions.Add(1) }
func (s *StatsBlock) IncDeadlineMiss()  { s.deadlineMisses.Add(1) }
func (s *StatsBlock) IncBalancerRun()   { s.balancerRuns.Add(1) }

// Snapshot copies the current counter values into a plain CPUStats value,
// safe to hand to a caller without aliasing the live atomics (spec: stats
// introspection must never hand out pointers into live scheduler state).
func (s *StatsBlock) Snapshot() CPUStats {
	return CPUStats{
		ContextSwitches: s.contextSwitches.Load(),
		Migrations:      s.migrations.Load(),
		FairEnqueues:    s.fairEnqueues.Load(),
		RTPreemptions:   s.rtPreemptions.Load(),
		DeadlineMisses:  s.deadlineMisses.Load(),
		BalancerRuns:    s.balancerRuns.Load(),
	}
}

// StatsRegistry owns one StatsBlock per CPU.
type StatsRegistry struct {
	blocks []*StatsBlock
}

// NewStatsRegistry allocates ncpu cache-line-padded stat blocks.
func NewStatsRegistry(ncpu int) *StatsRegistry {
	r := &StatsRegistry{blocks: make([]*StatsBlock, ncpu)}
	for i := range r.blocks {
		r.blocks[i] = &StatsBlock{}
	}
	return r
}

// For returns the stats block for a CPU id.
func (r *StatsRegistry) For(cpu int) *StatsBlock {
	if cpu < 0 || cpu >= len(r.blocks) {
		return &StatsBlock{}
	}
	return r.blocks[cpu]
}

// SnapshotAll returns a Snapshot of every CPU's counters, indexed by CPU
// id.
func (r *StatsRegistry) SnapshotAll() []CPUStats {
	out := make([]CPUStats, len(r.blocks))
	for i, b := range r.blocks {
		out[i] = b.Snapshot()
	}
	return out
}
