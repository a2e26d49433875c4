package sched

// DeadlineClass implements earliest-deadline-first scheduling (spec §3
// Deadline type): an ordered tree keyed by absolute deadline, reusing the
// same treap machinery as the fair class's tree (generalized by giving it
// a deadline-specific vruntime-equivalent key: DLAbsoluteDeadline) rather
// than a second bespoke data structure.
type DeadlineClass struct {
	tree       *fairTree
	nrRunning  int
	nextSeq    uint64
}

// NewDeadlineClass returns an empty EDF runqueue.
func NewDeadlineClass() *DeadlineClass {
	return &DeadlineClass{tree: newFairTree()}
}

func (d *DeadlineClass) Len() int { return d.nrRunning }

// edfKey borrows Task.VRuntime/InsertSeq as the treap's sort key so
// fairTree's insert/remove/leftmost can be reused verbatim: for deadline
// tasks VRuntime always mirrors DLAbsoluteDeadline.
func edfKey(t *Task) {
	t.VRuntime = t.DLAbsoluteDeadline
}

// Admit runs the deadline admission test (spec invariant: total utilization
// of admitted deadline tasks must not exceed 1.0 per CPU) and, if it
// passes, arms the task's runtime/deadline bookkeeping for its first
// period starting at nowNs.
func (d *DeadlineClass) Admit(t *Task, nowNs uint64, existingUtilization float64) error {
	util := float64(t.DLRuntime) / float64(t.DLPeriod)
	if existingUtilization+util > 1.0 {
		return errAdmissionDenied("deadline admission would exceed CPU utilization bound of 1.0")
	}
	t.DLBandwidth = util
	t.DLRuntimeRemaining = t.DLRuntime
	t.DLAbsoluteDeadline = nowNs + t.DLPeriod
	t.DLThrottled = false
	return nil
}

// Utilization sums DLBandwidth across every deadline task enqueued in this
// class's tree plus any extra tasks passed in, for the admission test on
// new arrivals. A running task has been dequeued by the dispatcher, so it
// is only counted when passed as extra.
func (d *DeadlineClass) Utilization(extra ...*Task) float64 {
	total := 0.0
	for t := range d.tree.index {
		total += t.DLBandwidth
	}
	for _, t := range extra {
		total += t.DLBandwidth
	}
	return total
}

func (d *DeadlineClass) Enqueue(t *Task) {
	edfKey(t)
	t.InsertSeq = d.nextSeq
	d.nextSeq++
	d.tree.insert(t)
	d.nrRunning++
}

func (d *DeadlineClass) Dequeue(t *Task) {
	if d.tree.remove(t) {
		d.nrRunning--
	}
}

// PickNext returns the task with the earliest absolute deadline.
func (d *DeadlineClass) PickNext() *Task {
	return d.tree.leftmost()
}

// Tick accounts deltaExecNs against t's remaining runtime budget for the
// current period. When the budget is exhausted before the period elapses,
// t is marked DLThrottled until RolloverIfDue clears the flag at the next
// period rollover. PickNext does not consult DLThrottled, and the tick
// handler preempts a deadline task only when its period rolls over, so a
// running throttled task keeps the CPU until its absolute deadline passes.
func (d *DeadlineClass) Tick(t *Task, deltaExecNs uint64) {
	if deltaExecNs >= t.DLRuntimeRemaining {
		t.DLRuntimeRemaining = 0
		t.DLThrottled = true
		return
	}
	t.DLRuntimeRemaining -= deltaExecNs
}

// RolloverIfDue starts a fresh period for t once nowNs has reached its
// absolute deadline, replenishing DLRuntimeRemaining and pushing the
// deadline forward by one period, clearing any throttle. If t is currently
// enqueued, the caller must dequeue/re-enqueue around this call since the
// tree key changes.
func (d *DeadlineClass) RolloverIfDue(t *Task, nowNs uint64) bool {
	if nowNs < t.DLAbsoluteDeadline {
		return false
	}
	periods := (nowNs-t.DLAbsoluteDeadline)/t.DLPeriod + 1
	t.DLAbsoluteDeadline += periods * t.DLPeriod
	t.DLRuntimeRemaining = t.DLRuntime
	t.DLThrottled = false
	return true
}
