package sched

import "testing"

// newDLTask builds a deadline task; deadlineNs is accepted to keep call
// sites self-documenting about the (runtime, deadline, period) triple but
// is not itself stored on Task — only DLRuntime/DLPeriod and the absolute
// deadline Admit computes are.
func newDLTask(pid uint64, runtimeNs, deadlineNs, periodNs uint64) *Task {
	_ = deadlineNs
	return &Task{
		PID:       pid,
		Class:     ClassDeadline,
		State:     TaskRunnable,
		DLRuntime: runtimeNs,
		DLPeriod:  periodNs,
	}
}

func TestDeadlineClassAdmitWithinBound(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 200_000_000, 500_000_000, 1_000_000_000) // util 0.2
	if err := d.Admit(a, 0, 0); err != nil {
		t.Fatalf("expected admission to succeed, got %v", err)
	}
	if a.DLAbsoluteDeadline != a.DLPeriod {
		t.Fatalf("expected absolute deadline = now(0)+period, got %d", a.DLAbsoluteDeadline)
	}
	if a.DLRuntimeRemaining != a.DLRuntime {
		t.Fatalf("expected runtime remaining armed to DLRuntime, got %d", a.DLRuntimeRemaining)
	}
}

func TestDeadlineClassAdmitRejectsOverUtilization(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 800_000_000, 900_000_000, 1_000_000_000) // util 0.8
	b := newDLTask(2, 500_000_000, 900_000_000, 1_000_000_000) // util 0.5, pushes total to 1.3

	if err := d.Admit(a, 0, 0); err != nil {
		t.Fatalf("first admission should succeed: %v", err)
	}
	d.Enqueue(a)
	if err := d.Admit(b, 0, d.Utilization()); !IsKind(err, AdmissionDenied) {
		t.Fatalf("expected ADMISSION_DENIED when exceeding utilization bound of 1.0, got %v", err)
	}
}

func TestDeadlineClassEnqueuePicksEarliestDeadline(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 100, 1000, 1000)
	b := newDLTask(2, 100, 1000, 1000)
	d.Admit(a, 0, 0)
	d.Admit(b, 0, a.DLBandwidth)
	// a's absolute deadline (1000) should equal b's — re-arm a sooner to break the tie.
	a.DLAbsoluteDeadline = 500

	d.Enqueue(a)
	d.Enqueue(b)

	if got := d.PickNext(); got != a {
		t.Fatalf("expected earlier deadline task picked, got pid %d", got.PID)
	}
	if d.Len() != 2 {
		t.Fatalf("expected 2 runnable, got %d", d.Len())
	}
}

func TestDeadlineClassDequeue(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 100, 1000, 1000)
	d.Admit(a, 0, 0)
	d.Enqueue(a)
	d.Dequeue(a)
	if d.Len() != 0 {
		t.Fatalf("expected 0 runnable after dequeue, got %d", d.Len())
	}
	if d.PickNext() != nil {
		t.Fatalf("empty class must pick nil")
	}
}

func TestDeadlineClassTickThrottlesOnBudgetExhaustion(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 100, 1000, 1000)
	d.Admit(a, 0, 0)

	d.Tick(a, 50)
	if a.DLThrottled {
		t.Fatalf("did not expect throttle before budget exhausted")
	}
	d.Tick(a, 60)
	if !a.DLThrottled {
		t.Fatalf("expected throttle once runtime budget is exhausted")
	}
	if a.DLRuntimeRemaining != 0 {
		t.Fatalf("expected remaining runtime clamped to 0, got %d", a.DLRuntimeRemaining)
	}
}

func TestDeadlineClassRolloverIfDue(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 100, 1000, 1000)
	d.Admit(a, 0, 0) // absolute deadline = 1000

	if d.RolloverIfDue(a, 500) {
		t.Fatalf("rollover should not fire before the deadline is reached")
	}

	if !d.RolloverIfDue(a, 1000) {
		t.Fatalf("rollover should fire once nowNs reaches the absolute deadline")
	}
	if a.DLAbsoluteDeadline != 2000 {
		t.Fatalf("expected absolute deadline advanced by one period to 2000, got %d", a.DLAbsoluteDeadline)
	}
	if a.DLRuntimeRemaining != a.DLRuntime {
		t.Fatalf("expected runtime replenished on rollover")
	}
	if a.DLThrottled {
		t.Fatalf("expected throttle cleared on rollover")
	}
}

func TestDeadlineClassRolloverSkipsMultipleMissedPeriods(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 100, 1000, 1000)
	d.Admit(a, 0, 0) // absolute deadline = 1000

	// nowNs is 2 periods past the original deadline.
	if !d.RolloverIfDue(a, 3000) {
		t.Fatalf("expected rollover to fire")
	}
	if a.DLAbsoluteDeadline != 4000 {
		t.Fatalf("expected deadline advanced to the next period boundary strictly after now, got %d", a.DLAbsoluteDeadline)
	}
}

func TestDeadlineClassUtilizationSumsBandwidth(t *testing.T) {
	d := NewDeadlineClass()
	a := newDLTask(1, 250_000_000, 500_000_000, 1_000_000_000)
	d.Admit(a, 0, 0)
	d.Enqueue(a)

	if got := d.Utilization(); got != 0.25 {
		t.Fatalf("expected utilization 0.25, got %f", got)
	}

	extra := newDLTask(2, 250_000_000, 500_000_000, 1_000_000_000)
	extra.DLBandwidth = 0.25
	if got := d.Utilization(extra); got != 0.5 {
		t.Fatalf("expected utilization 0.5 including extra, got %f", got)
	}
}
