package sched

// RT bandwidth defaults (spec §3 RealTime type): RT tasks may consume at
// most rtRuntimeNs out of every rtPeriodNs of wall-clock time per CPU,
// leaving the remainder for the fair class so a runaway RT task cannot
// starve it completely.
const (
	DefaultRTPeriodNs  = 1_000_000_000 // 1s
	DefaultRTRuntimeNs = 950_000_000   // 95% of each period
)

// rtPrioQueue is a single priority level's FIFO of runnable tasks.
type rtPrioQueue struct {
	tasks []*Task
}

func (q *rtPrioQueue) pushBack(t *Task)  { q.tasks = append(q.tasks, t) }
func (q *rtPrioQueue) pushFront(t *Task) { q.tasks = append([]*Task{t}, q.tasks...) }

func (q *rtPrioQueue) remove(t *Task) bool {
	for i, x := range q.tasks {
		if x == t {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (q *rtPrioQueue) front() *Task {
	if len(q.tasks) == 0 {
		return nil
	}
	return q.tasks[0]
}

// RTClass implements the fixed-priority FIFO/round-robin scheduling class:
// MaxRTPriority FIFOs plus a bitmap giving O(1) highest-priority lookup
// (spec §3 RealTime type).
type RTClass struct {
	queues  [MaxRTPriority]rtPrioQueue
	present BitSet // present.Test(p) iff queues[p] is non-empty
	nrRunning int

	runtimeRemainingNs uint64
	periodStartNs      uint64
	periodNs           uint64
	runtimeNs          uint64
	throttled          bool
}

// NewRTClass returns an empty RT runqueue with the default bandwidth cap.
func NewRTClass() *RTClass {
	r := &RTClass{
		present:   *NewBitSet(MaxRTPriority),
		periodNs:  DefaultRTPeriodNs,
		runtimeNs: DefaultRTRuntimeNs,
	}
	r.runtimeRemainingNs = r.runtimeNs
	return r
}

// SetBandwidth changes the RT bandwidth cap; periodNs == 0 disables
// throttling entirely (runtimeNs is ignored).
func (r *RTClass) SetBandwidth(runtimeNs, periodNs uint64) {
	r.runtimeNs = runtimeNs
	r.periodNs = periodNs
}

func (r *RTClass) Len() int { return r.nrRunning }

// Enqueue places t at the back of its priority level's FIFO (or, for a
// task that was preempted mid-slice rather than newly arriving, the front
// — callers pass requeueFront=true in that case so it resumes ahead of the
// tasks already queued at its level).
func (r *RTClass) Enqueue(t *Task, requeueFront bool) {
	q := &r.queues[t.RTPriority]
	if requeueFront {
		q.pushFront(t)
	} else {
		q.pushBack(t)
	}
	r.present.Set(int(t.RTPriority))
	r.nrRunning++
}

func (r *RTClass) Dequeue(t *Task) {
	q := &r.queues[t.RTPriority]
	if q.remove(t) {
		r.nrRunning--
		if len(q.tasks) == 0 {
			r.present.Clear(int(t.RTPriority))
		}
	}
}

// PickNext returns the front of the highest (numerically lowest) non-empty
// priority level, or nil if the class is empty or throttled.
func (r *RTClass) PickNext() *Task {
	if r.throttled {
		return nil
	}
	best := -1
	r.present.Each(func(p int) {
		if best == -1 {
			best = p
		}
	})
	if best == -1 {
		return nil
	}
	return r.queues[best].front()
}

// ReconcilePeriod rolls the bandwidth window over once nowNs has reached the
// next period boundary, independent of which class is currently running on
// the CPU. This must not be folded into Tick's curr-gated accounting: once
// the class throttles, the fair class takes over as curr and Tick would
// never be called again (curr.Class != ClassRealTime), leaving throttled
// stuck true forever instead of lifting at the next period.
func (r *RTClass) ReconcilePeriod(nowNs uint64) {
	if r.periodNs == 0 {
		return
	}
	if nowNs >= r.periodStartNs+r.periodNs {
		r.periodStartNs = nowNs - (nowNs-r.periodStartNs)%r.periodNs
		r.runtimeRemainingNs = r.runtimeNs
		r.throttled = false
	}
}

// Tick accounts deltaExecNs of RT runtime against the bandwidth cap for the
// period starting at periodStartNs, after first giving ReconcilePeriod a
// chance to roll the window over. Returns true if curr should be preempted
// this instant because the bandwidth cap was just exhausted.
func (r *RTClass) Tick(curr *Task, nowNs, deltaExecNs uint64) (preemptNow bool) {
	r.ReconcilePeriod(nowNs)
	if r.periodNs == 0 || curr == nil {
		return false
	}
	if r.runtimeRemainingNs <= deltaExecNs {
		r.runtimeRemainingNs = 0
		r.throttled = true
		return true
	}
	r.runtimeRemainingNs -= deltaExecNs
	return false
}

// Throttled reports whether the RT class is currently bandwidth-throttled
// and must yield the CPU to the fair class.
func (r *RTClass) Throttled() bool { return r.throttled }

// CheckPreempt reports whether a just-enqueued or priority-raised task t
// should preempt curr: strictly higher priority (lower number), or equal
// priority under round-robin once curr's slice is exhausted.
func (r *RTClass) CheckPreempt(curr, t *Task) bool {
	if curr == nil {
		return true
	}
	if t.RTPriority < curr.RTPriority {
		return true
	}
	if t.RTPriority == curr.RTPriority && curr.RTPolicy == RTRoundRobin && curr.RRSliceRemaining == 0 {
		return true
	}
	return false
}
