package sched

import (
	"context"
	"sync"
)

// Scheduler is the top-level handle embedders construct: it owns one
// Runqueue/Dispatcher/TickHandler per discovered CPU, the task arena, the
// placement and balancing logic, and the live tunable configuration (spec
// §4, all components wired together).
type Scheduler struct {
	Topo  *Topology
	Pool  *TaskPool
	Stats *StatsRegistry
	Cfg   *LiveConfig
	Log   *Logger

	collab Collaborators

	mu          sync.RWMutex
	rqs         []*Runqueue
	dispatchers []*Dispatcher
	tickHandlers []*TickHandler
	placer      *Placer
	balancer    *Balancer

	powerSave []bool // per-CPU hint from ReportPowerHint
}

// New builds a Scheduler over the given topology and collaborators, with
// one idle task per CPU. From profile it applies the RT bandwidth, the
// imbalance threshold and the tick rate; the fair class uses its package
// constants for latency and granularity, and later changes made through
// Cfg are not applied to the running Scheduler.
func New(topo *Topology, collab Collaborators, profile TunableProfile) *Scheduler {
	pool := NewTaskPool()
	ncpu := topo.NumCPU()

	s := &Scheduler{
		Topo:      topo,
		Pool:      pool,
		Stats:     NewStatsRegistry(ncpu),
		Cfg:       NewLiveConfig(profile),
		Log:       NewLogger(),
		collab:    collab,
		powerSave: make([]bool, ncpu),
	}

	s.rqs = make([]*Runqueue, ncpu)
	s.dispatchers = make([]*Dispatcher, ncpu)
	for cpu := 0; cpu < ncpu; cpu++ {
		idle, _ := pool.Alloc(0, NewFullBitSet(ncpu))
		idle.State = TaskRunnable
		rq := NewRunqueue(cpu, pool, idle)
		rq.RT.SetBandwidth(profile.RTRuntimeNs, profile.RTPeriodNs)
		s.rqs[cpu] = rq
		s.dispatchers[cpu] = NewDispatcher(rq, collab.Clock, collab.Switcher, s.Stats.For(cpu))
	}

	s.placer = NewPlacer(topo, collab.Affinity, s.rqs)
	s.balancer = NewBalancer(topo, s.rqs, s.Stats)
	s.balancer.ImbalancePct = profile.ImbalancePct

	s.tickHandlers = make([]*TickHandler, ncpu)
	for cpu := 0; cpu < ncpu; cpu++ {
		s.tickHandlers[cpu] = NewTickHandler(s.dispatchers[cpu], s.balancer, collab.Signal, s.Stats.For(cpu))
	}

	if collab.Timer != nil {
		collab.Timer.SetTickFrequency(profile.TickHz)
	}

	return s
}

// NumCPU returns the number of CPUs this scheduler was built over.
func (s *Scheduler) NumCPU() int { return s.Topo.NumCPU() }

func (s *Scheduler) rq(cpu int) *Runqueue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cpu < 0 || cpu >= len(s.rqs) {
		return nil
	}
	return s.rqs[cpu]
}

// ActivateTask admits a new task into the scheduler under the given
// policy and affinity, places it onto a CPU, and enqueues it runnable
// (spec §6 "activate_task"). affinityCPUs == nil means "all CPUs".
func (s *Scheduler) ActivateTask(pid uint64, policy Policy, affinityCPUs []int) (*Task, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}

	affinity := NewFullBitSet(s.NumCPU())
	if affinityCPUs != nil {
		affinity = NewBitSet(s.NumCPU())
		for _, c := range affinityCPUs {
			affinity.Set(c)
		}
	}
	if affinity.Empty() {
		return nil, errAffinityEmpty()
	}

	t, _ := s.Pool.Alloc(pid, affinity)
	s.applyPolicy(t, policy)
	t.State = TaskRunnable

	if policy.Class == ClassDeadline {
		cpu := s.placer.SelectCPU(t, -1)
		rq := s.rq(cpu)
		g := rq.LockIRQ()
		var running []*Task
		if c := rq.Current; c != nil && !c.IsIdle() && c.Class == ClassDeadline {
			running = append(running, c)
		}
		util := rq.Deadline.Utilization(running...)
		err := rq.Deadline.Admit(t, s.collab.Clock.MonotonicNanos(), util)
		if err != nil {
			g.Release()
			s.Pool.Free(t.handle)
			return nil, err
		}
		t.CPUOf = cpu
		rq.Deadline.Enqueue(t)
		g.Release()
		return t, nil
	}

	cpu := s.placer.SelectCPU(t, -1)
	t.CPUOf = cpu
	s.enqueueOn(cpu, t, false)
	return t, nil
}

func (s *Scheduler) applyPolicy(t *Task, p Policy) {
	t.Class = p.Class
	switch p.Class {
	case ClassFair:
		SetNice(t, p.Nice)
	case ClassRealTime:
		t.RTPolicy = p.RTPolicy
		t.RTPriority = p.RTPriority
		t.RRSliceRemaining = p.RRSliceNs
		if t.RTPolicy == RTRoundRobin && t.RRSliceRemaining == 0 {
			t.RRSliceRemaining = defaultRRSliceNs
		}
	case ClassDeadline:
		t.DLRuntime = p.DLRuntimeNs
		t.DLPeriod = p.DLPeriodNs
	}
}

func (s *Scheduler) enqueueOn(cpu int, t *Task, waking bool) {
	rq := s.rq(cpu)
	g := rq.LockIRQ()
	defer g.Release()

	switch t.Class {
	case ClassFair:
		rq.Fair.Enqueue(t, waking)
		s.Stats.For(cpu).IncFairEnqueue()
	case ClassRealTime:
		rq.RT.Enqueue(t, false)
	case ClassDeadline:
		rq.Deadline.Enqueue(t)
	}
}

// DeactivateTask removes a task from the scheduler entirely: it is pulled
// out of its runqueue (if enqueued) or discarded if currently running on
// some CPU, marked zombie, and its arena slot freed (spec §6
// "deactivate_task").
func (s *Scheduler) DeactivateTask(pid uint64) error {
	t := s.Pool.ByPID(pid)
	if t == nil {
		return errNoSuchTask(pid)
	}

	rq := s.rq(t.CPUOf)
	if rq != nil {
		g := rq.LockIRQ()
		if rq.Current == t {
			rq.Current = nil
		} else {
			switch t.Class {
			case ClassFair:
				rq.Fair.Dequeue(t)
			case ClassRealTime:
				rq.RT.Dequeue(t)
			case ClassDeadline:
				rq.Deadline.Dequeue(t)
			}
		}
		g.Release()
	}

	t.State = TaskZombie
	s.Pool.Free(t.handle)
	return nil
}

// SetPolicy changes pid's scheduling class/parameters in place. If the
// task is currently enqueued, it is dequeued under the old class and
// re-enqueued under the new one (spec §6 "set_policy").
func (s *Scheduler) SetPolicy(pid uint64, policy Policy) error {
	if err := policy.validate(); err != nil {
		return err
	}
	t := s.Pool.ByPID(pid)
	if t == nil {
		return errNoSuchTask(pid)
	}

	rq := s.rq(t.CPUOf)
	g := rq.LockIRQ()
	wasCurrent := rq.Current == t
	enqueued := !wasCurrent && t.State == TaskRunnable
	if enqueued {
		s.dequeueLocked(rq, t)
	}

	s.applyPolicy(t, policy)

	if enqueued {
		s.enqueueLocked(rq, t, false)
	}
	g.Release()
	return nil
}

func (s *Scheduler) dequeueLocked(rq *Runqueue, t *Task) {
	switch t.Class {
	case ClassFair:
		rq.Fair.Dequeue(t)
	case ClassRealTime:
		rq.RT.Dequeue(t)
	case ClassDeadline:
		rq.Deadline.Dequeue(t)
	}
}

func (s *Scheduler) enqueueLocked(rq *Runqueue, t *Task, waking bool) {
	switch t.Class {
	case ClassFair:
		rq.Fair.Enqueue(t, waking)
	case ClassRealTime:
		rq.RT.Enqueue(t, false)
	case ClassDeadline:
		rq.Deadline.Enqueue(t)
	}
}

// SetPriority adjusts pid's within-class priority: nice for Fair tasks,
// rt_priority for RealTime tasks. It is a no-op for Deadline tasks, whose
// priority is implicit in (runtime, deadline, period) (spec §6
// "set_priority").
func (s *Scheduler) SetPriority(pid uint64, value int8) error {
	t := s.Pool.ByPID(pid)
	if t == nil {
		return errNoSuchTask(pid)
	}
	switch t.Class {
	case ClassFair:
		rq := s.rq(t.CPUOf)
		g := rq.LockIRQ()
		enqueued := rq.Current != t && t.State == TaskRunnable
		if enqueued {
			rq.Fair.Dequeue(t)
		}
		SetNice(t, value)
		if enqueued {
			rq.Fair.Enqueue(t, false)
		}
		g.Release()
	case ClassRealTime:
		if value < 0 || value >= MaxRTPriority {
			return errInvalidPolicy("rt priority out of [0, MAX_RT_PRIO)")
		}
		rq := s.rq(t.CPUOf)
		g := rq.LockIRQ()
		enqueued := rq.Current != t && t.State == TaskRunnable
		if enqueued {
			rq.RT.Dequeue(t)
		}
		t.RTPriority = uint8(value)
		if enqueued {
			rq.RT.Enqueue(t, false)
		}
		g.Release()
	}
	return nil
}

// SetAffinity narrows or widens pid's allowed-CPU set. If the task's
// current CPU is no longer allowed, it is migrated immediately (spec §6
// "set_affinity").
func (s *Scheduler) SetAffinity(pid uint64, cpus []int) error {
	t := s.Pool.ByPID(pid)
	if t == nil {
		return errNoSuchTask(pid)
	}
	newAffinity := NewBitSet(s.NumCPU())
	for _, c := range cpus {
		newAffinity.Set(c)
	}
	if newAffinity.Empty() {
		return errAffinityEmpty()
	}

	oldCPU := t.CPUOf
	t.Affinity = newAffinity
	if newAffinity.Test(oldCPU) {
		return nil
	}

	rq := s.rq(oldCPU)
	g := rq.LockIRQ()
	wasCurrent := rq.Current == t
	enqueued := !wasCurrent && t.State == TaskRunnable
	if enqueued {
		s.dequeueLocked(rq, t)
	}
	g.Release()

	newCPU := s.placer.SelectCPU(t, oldCPU)
	t.CPUOf = newCPU
	s.Stats.For(newCPU).IncMigration()

	if wasCurrent {
		// Current-task migration takes effect on the next voluntary
		// schedule/tick on oldCPU; here we only relocate its queued
		// bookkeeping once it stops running there.
		return nil
	}
	if enqueued {
		s.enqueueOn(newCPU, t, false)
	}
	return nil
}

// YieldCurrent voluntarily gives up the CPU: the running task is requeued
// behind its peers at the same vruntime/priority rather than preempted
// (spec §6 "yield_current").
func (s *Scheduler) YieldCurrent(cpu int) {
	s.dispatchers[cpu].Schedule(true)
}

// Schedule runs the dispatcher's pick/switch ladder on cpu (spec §4/§6
// "schedule").
func (s *Scheduler) Schedule(cpu int) {
	s.dispatchers[cpu].Schedule(false)
}

// TickOnCurrentCPU runs the periodic tick for cpu at the given monotonic
// time (spec §6 "tick_on_current_cpu").
func (s *Scheduler) TickOnCurrentCPU(cpu int, nowNs uint64) {
	s.tickHandlers[cpu].Tick(context.Background(), nowNs)
}

// TryToWakeUp transitions a Blocked task back to Runnable, places it on a
// CPU via the full placement ladder, and enqueues it there, signaling the
// target CPU if it differs from the one the caller is running on (spec §5
// "Wakeup & Placement", §6 "try_to_wake_up").
func (s *Scheduler) TryToWakeUp(pid uint64, callerCPU int) error {
	t := s.Pool.ByPID(pid)
	if t == nil {
		return errNoSuchTask(pid)
	}
	if t.State != TaskBlocked {
		return errWrongState(pid, t.State)
	}

	t.State = TaskRunnable
	cpu := s.placer.SelectCPU(t, t.CPUOf)
	t.CPUOf = cpu
	s.enqueueOn(cpu, t, true)

	if cpu != callerCPU && s.collab.Signal != nil {
		s.collab.Signal.Reschedule(cpu)
	}
	return nil
}

// BlockCurrent transitions the running task on cpu to Blocked and
// immediately reschedules, the counterpart woken later by TryToWakeUp. A
// fair-class task's vruntime is rebased relative to this runqueue's
// min_vruntime while it sleeps (FairClass.OnSleep), so TryToWakeUp's
// waking enqueue can correctly restore it against whichever runqueue it
// lands on.
func (s *Scheduler) BlockCurrent(cpu int) {
	rq := s.rq(cpu)
	g := rq.LockIRQ()
	if rq.Current != nil {
		rq.Current.State = TaskBlocked
		if rq.Current.Class == ClassFair {
			rq.Fair.OnSleep(rq.Current)
		}
	}
	g.Release()
	s.Schedule(cpu)
}

// ReportPowerHint records whether cpu is thermally/power constrained. The
// hint is only stored: neither the placer nor the balancer reads it, so a
// constrained CPU is ranked and balanced like any other of its Kind.
func (s *Scheduler) ReportPowerHint(cpu int, powerConstrained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cpu < 0 || cpu >= len(s.powerSave) {
		return
	}
	s.powerSave[cpu] = powerConstrained
}

// SnapshotStats returns a point-in-time copy of every CPU's counters (spec
// §6 "snapshot_stats").
func (s *Scheduler) SnapshotStats() []CPUStats {
	return s.Stats.SnapshotAll()
}
