package sched

import "sync"

// RQGuard is returned by Runqueue.LockIRQ and releases both the runqueue
// spinlock and the simulated IRQ-disable on Release: the saved IRQ state is
// restored first, while the lock is still held, and the lock is dropped
// last. Callers use it with a single defer, mirroring the
// teacher's lock/unlock pairing in AdvancedScheduler but making the
// nesting discipline a value instead of a pair of free functions that
// could be mismatched.
type RQGuard struct {
	rq *Runqueue
}

// Release unlocks the runqueue and restores the IRQ state that was live
// before the matching LockIRQ call. Safe to call at most once per guard.
func (g RQGuard) Release() {
	g.rq.irqDisabled = g.rq.irqSavedStack[len(g.rq.irqSavedStack)-1]
	g.rq.irqSavedStack = g.rq.irqSavedStack[:len(g.rq.irqSavedStack)-1]
	g.rq.mu.Unlock()
}

// Runqueue holds the per-CPU scheduling state: one instance of each
// scheduling class, the currently running task, and the bookkeeping the
// dispatcher/tick/balancer operate on under its lock (spec §3 Runqueue
// type). The class structures and Current hold *Task pointers; Task itself
// carries no intrusive list links.
type Runqueue struct {
	CPU int

	mu            sync.Mutex
	irqDisabled   bool
	irqSavedStack []bool

	Fair     *FairClass
	RT       *RTClass
	Deadline *DeadlineClass

	Current  *Task // nil means idle
	Idle     *Task // the per-CPU idle placeholder, never enqueued in a class

	lastUpdateNs  uint64
	nextBalanceNs uint64

	pool *TaskPool
}

// NewRunqueue constructs an empty runqueue for cpu, with idle as its idle
// placeholder task (PID 0, always runnable, never migrated).
func NewRunqueue(cpu int, pool *TaskPool, idle *Task) *Runqueue {
	idle.CPUOf = cpu
	return &Runqueue{
		CPU:      cpu,
		Fair:     NewFairClass(),
		RT:       NewRTClass(),
		Deadline: NewDeadlineClass(),
		Idle:     idle,
		pool:     pool,
	}
}

// LockIRQ disables the simulated IRQ path and takes the runqueue lock,
// returning a guard whose Release restores both. This is the only way
// code in this package touches a Runqueue's class structures or Current,
// matching the "always IRQ-disabled while holding rq->lock" discipline
// real schedulers rely on to avoid a tick interrupt re-entering schedule()
// mid-update.
func (rq *Runqueue) LockIRQ() RQGuard {
	rq.irqSavedStack = append(rq.irqSavedStack, rq.irqDisabled)
	rq.irqDisabled = true
	rq.mu.Lock()
	return RQGuard{rq: rq}
}

// NRRunning returns the total number of runnable tasks across every class,
// including Current but excluding Idle.
func (rq *Runqueue) NRRunning() int {
	n := rq.Fair.Len() + rq.RT.Len() + rq.Deadline.Len()
	if rq.Current != nil && !rq.Current.IsIdle() {
		n++
	}
	return n
}

// UpdateClock advances lastUpdateNs to nowNs and accounts the elapsed time
// against whichever task/class is currently running, returning that delta
// so callers needing it for their own accounting (e.g. the tick handler's
// RT bandwidth check) don't have to recompute it. Must be called with the
// runqueue locked, at the top of every schedule()/tick entry (spec
// "update_clock, update_curr" step).
func (rq *Runqueue) UpdateClock(nowNs uint64) uint64 {
	if rq.lastUpdateNs == 0 {
		rq.lastUpdateNs = nowNs
		return 0
	}
	if nowNs <= rq.lastUpdateNs {
		return 0
	}
	delta := nowNs - rq.lastUpdateNs
	rq.lastUpdateNs = nowNs
	rq.updateCurr(delta)
	return delta
}

func (rq *Runqueue) updateCurr(deltaExecNs uint64) {
	curr := rq.Current
	if curr == nil || curr.IsIdle() {
		return
	}
	switch curr.Class {
	case ClassFair:
		rq.Fair.UpdateCurr(curr, deltaExecNs)
	case ClassRealTime:
		curr.RTPolicy.accountSlice(curr, deltaExecNs)
	case ClassDeadline:
		rq.Deadline.Tick(curr, deltaExecNs)
		curr.SumExecRuntime += deltaExecNs
	}
}

// accountSlice decrements a round-robin task's remaining slice; FIFO tasks
// have no slice to account (they run until blocked, preempted, or
// descheduled by bandwidth throttling).
func (p RTPolicy) accountSlice(t *Task, deltaExecNs uint64) {
	t.SumExecRuntime += deltaExecNs
	if p == RTRoundRobin {
		if deltaExecNs >= t.RRSliceRemaining {
			t.RRSliceRemaining = 0
		} else {
			t.RRSliceRemaining -= deltaExecNs
		}
	}
}
