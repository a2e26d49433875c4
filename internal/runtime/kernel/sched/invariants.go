//go:build schedassert

package sched

import "fmt"

func init() {
	debugAssert = assertInvariants
}

// assertInvariants is compiled only under the schedassert build tag (go
// test -tags schedassert, or a debug build of cmd/schedsim); production
// builds never pay for these checks. A violation panics with enough of
// the runqueue's state to diagnose it, since by definition something
// above this layer already broke the scheduler's data-structure
// invariants and continuing would only corrupt further.
func assertInvariants(rq *Runqueue) {
	if rq.Fair.Len() != rq.Fair.tree.len() {
		panic(fmt.Sprintf("cpu %d: fair class nrRunning=%d but tree holds %d", rq.CPU, rq.Fair.Len(), rq.Fair.tree.len()))
	}

	if left := rq.Fair.tree.leftmost(); left != nil {
		if _, ok := rq.Fair.tree.index[left]; !ok {
			panic(fmt.Sprintf("cpu %d: fair leftmost task not present in tree index", rq.CPU))
		}
	}

	seen := make(map[*Task]bool)
	for t := range rq.Fair.tree.index {
		if seen[t] {
			panic(fmt.Sprintf("cpu %d: task %d enqueued twice in fair tree", rq.CPU, t.PID))
		}
		seen[t] = true
		if t.CPUOf != rq.CPU {
			panic(fmt.Sprintf("cpu %d: enqueued task %d claims CPUOf=%d", rq.CPU, t.PID, t.CPUOf))
		}
		if !t.Affinity.Test(rq.CPU) {
			panic(fmt.Sprintf("cpu %d: enqueued task %d violates its own affinity mask", rq.CPU, t.PID))
		}
	}

	if rq.Current != nil && !rq.Current.IsIdle() {
		if _, ok := rq.Fair.tree.index[rq.Current]; ok {
			panic(fmt.Sprintf("cpu %d: current task %d is also enqueued in the fair tree", rq.CPU, rq.Current.PID))
		}
	}

	if rq.Deadline.Len() != len(rq.Deadline.tree.index) {
		panic(fmt.Sprintf("cpu %d: deadline class nrRunning=%d but tree holds %d", rq.CPU, rq.Deadline.Len(), len(rq.Deadline.tree.index)))
	}

	rtCount := 0
	for p := 0; p < MaxRTPriority; p++ {
		n := len(rq.RT.queues[p].tasks)
		rtCount += n
		if n > 0 && !rq.RT.present.Test(p) {
			panic(fmt.Sprintf("cpu %d: rt priority %d has tasks but present bitmap is clear", rq.CPU, p))
		}
		if n == 0 && rq.RT.present.Test(p) {
			panic(fmt.Sprintf("cpu %d: rt priority %d present bit set with empty queue", rq.CPU, p))
		}
	}
	if rtCount != rq.RT.Len() {
		panic(fmt.Sprintf("cpu %d: rt class nrRunning=%d but queues hold %d", rq.CPU, rq.RT.Len(), rtCount))
	}
}
