package sched

// debugAssert is set to assertInvariants by invariants.go's init when
// built with the schedassert tag, and left nil (a no-op) otherwise so
// production builds pay nothing for the checks.
var debugAssert func(*Runqueue)

// Dispatcher ties one Runqueue to the clock and context-switch
// collaborators schedule() needs; a Scheduler owns one Dispatcher
// per CPU (spec §4 "Dispatcher" component).
type Dispatcher struct {
	RQ       *Runqueue
	Clock    Clock
	Switcher ContextSwitcher
	Stats    *StatsBlock
}

// NewDispatcher binds a runqueue to the collaborators it needs to run
// schedule(). stats may be nil, in which case context switches simply go
// uncounted (used by callers that do not care about introspection, such
// as unit tests exercising the dispatch ladder directly).
func NewDispatcher(rq *Runqueue, clock Clock, switcher ContextSwitcher, stats *StatsBlock) *Dispatcher {
	return &Dispatcher{RQ: rq, Clock: clock, Switcher: switcher, Stats: stats}
}

// Schedule runs the core dispatch ladder (spec §4): lock, bring the clock
// and curr's accounting up to date, decide whether curr must be
// deactivated, pick the next task by class priority (Deadline > RealTime >
// Fair > idle), and switch to it. voluntary is true for an explicit yield:
// curr is requeued into its class as a pick candidate even if it is no
// longer marked running, and an RT curr goes to the back of its priority
// level rather than the front (see requeue).
func (d *Dispatcher) Schedule(voluntary bool) {
	g := d.RQ.LockIRQ()
	defer g.Release()

	now := d.Clock.MonotonicNanos()
	d.RQ.UpdateClock(now)

	prev := d.RQ.Current
	next := d.pickNextLocked(prev, voluntary, now)

	if next == prev {
		return
	}

	if prev != nil && !prev.IsIdle() {
		prev.ExecStart = now
	}
	if next != nil && !next.IsIdle() {
		next.ExecStart = now
		next.State = TaskRunning
		next.PrevSumExecRuntime = next.SumExecRuntime
	}
	d.RQ.Current = next

	if d.Stats != nil {
		d.Stats.IncContextSwitch()
	}

	d.Switcher.SwitchTo(prev, next)

	if debugAssert != nil {
		debugAssert(d.RQ)
	}
}

// pickNextLocked must be called with the runqueue already locked. It
// reinserts prev into its class when prev is still runnable or the call is
// a voluntary yield (a prev the caller marked blocked or exited is not
// reinserted otherwise), then asks each class
// in priority order for its next pick, falling back to idle.
func (d *Dispatcher) pickNextLocked(prev *Task, voluntary bool, now uint64) *Task {
	if prev != nil && !prev.IsIdle() {
		if voluntary || prevStillRunnable(prev) {
			d.requeue(prev, voluntary, now)
		}
	}

	if t := d.RQ.Deadline.PickNext(); t != nil {
		d.RQ.Deadline.Dequeue(t)
		return t
	}
	if !d.RQ.RT.Throttled() {
		if t := d.RQ.RT.PickNext(); t != nil {
			d.RQ.RT.Dequeue(t)
			return t
		}
	}
	if t := d.RQ.Fair.PickNext(); t != nil {
		d.RQ.Fair.Dequeue(t)
		return t
	}
	return d.RQ.Idle
}

func prevStillRunnable(t *Task) bool {
	return t.State == TaskRunning || t.State == TaskRunnable
}

// requeue places a preempted-but-still-runnable prev back into its class's
// runqueue, without treating it as a fresh wakeup (no vruntime clamp for
// the fair class). For the RT class, a task that was cut off before using
// up its own turn (preempted by a strictly higher-priority arrival, or an
// explicit voluntary yield aside) resumes at the front of its priority
// level rather than the back; only a round-robin task whose own slice ran
// out goes to the back with a fresh slice.
func (d *Dispatcher) requeue(t *Task, voluntary bool, now uint64) {
	t.State = TaskRunnable
	switch t.Class {
	case ClassFair:
		d.RQ.Fair.Enqueue(t, false)
	case ClassRealTime:
		ownSliceExhausted := t.RTPolicy == RTRoundRobin && t.RRSliceRemaining == 0
		if ownSliceExhausted {
			t.RRSliceRemaining = defaultRRSliceNs
		}
		d.RQ.RT.Enqueue(t, !voluntary && !ownSliceExhausted)
	case ClassDeadline:
		d.RQ.Deadline.RolloverIfDue(t, now)
		d.RQ.Deadline.Enqueue(t)
	}
}

const defaultRRSliceNs = 4_000_000 // 4ms, the teacher's RTScheduler.timeQuantum equivalent
