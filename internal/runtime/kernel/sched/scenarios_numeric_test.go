package sched

import (
	"context"
	"testing"
)

// These mirror spec.md §8's numbered scenarios (S1, S2, S4, S6) with the
// literal tolerances it specifies, rather than just exercising the
// mechanism qualitatively the way scenarios_test.go does.

func TestScenarioS1EqualWeightFairness(t *testing.T) {
	h := newTestHarness(t, 4)
	tasks := make([]*Task, 4)
	for i := range tasks {
		task, err := h.sched.ActivateTask(uint64(i+1), FairPolicy(0), []int{0})
		if err != nil {
			t.Fatalf("activate task %d: %v", i, err)
		}
		tasks[i] = task
	}

	h.advance(1000) // 1s simulated

	const lowNs, highNs = 230_000_000, 270_000_000
	for _, task := range tasks {
		if task.SumExecRuntime < lowNs || task.SumExecRuntime > highNs {
			t.Errorf("pid %d: expected sum_exec_runtime in [%d,%d]ns, got %d", task.PID, lowNs, highNs, task.SumExecRuntime)
		}
	}

	if switches := h.sched.SnapshotStats()[0].ContextSwitches; switches < 160 {
		t.Errorf("expected at least 160 context switches on cpu0 over the window, got %d", switches)
	}
}

func TestScenarioS2NiceRatio(t *testing.T) {
	h := newTestHarness(t, 1)
	nice0, err := h.sched.ActivateTask(1, FairPolicy(0), nil)
	if err != nil {
		t.Fatalf("activate nice-0 task: %v", err)
	}
	nice5, err := h.sched.ActivateTask(2, FairPolicy(5), nil)
	if err != nil {
		t.Fatalf("activate nice+5 task: %v", err)
	}

	h.advance(1000)

	if nice5.SumExecRuntime == 0 {
		t.Fatalf("nice+5 task never ran")
	}
	ratio := float64(nice0.SumExecRuntime) / float64(nice5.SumExecRuntime)
	if ratio < 2.9 || ratio > 3.2 {
		t.Fatalf("expected nice-0/nice+5 runtime ratio in [2.9,3.2], got %.3f (nice0=%d nice5=%d)",
			ratio, nice0.SumExecRuntime, nice5.SumExecRuntime)
	}
}

func TestScenarioS4RTBandwidthCapPerPeriod(t *testing.T) {
	h := newTestHarness(t, 1)
	rt, err := h.sched.ActivateTask(1, RTFIFOPolicy(0), nil)
	if err != nil {
		t.Fatalf("activate rt task: %v", err)
	}

	h.advance(1000) // first period: warm-up
	before := rt.SumExecRuntime

	h.advance(1000) // second full period, post warm-up
	ran := rt.SumExecRuntime - before

	const target, tolerance = 950_000_000, 20_000_000
	if ran < target-tolerance || ran > target+tolerance {
		t.Fatalf("expected the RT task to run %d+-%dns in a post-warm-up window, got %d", target, tolerance, ran)
	}
}

func TestScenarioS6LoadBalanceConvergesWithinTolerance(t *testing.T) {
	topo, rqs := newBalancerTestSetup(t)
	stats := NewStatsRegistry(topo.NumCPU())
	b := NewBalancer(topo, rqs, stats)

	for pid := uint64(1); pid <= 6; pid++ {
		task := newFairTask(pid, 0)
		task.Affinity = NewFullBitSet(topo.NumCPU())
		rqs[0].Fair.Enqueue(task, false)
	}

	nextBalanceAt := make([]uint64, len(topo.Domains()))
	if err := b.RunDue(context.Background(), 0, nextBalanceAt, func(DomainLevel) uint64 { return 1_000_000 }); err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}

	got := rqs[1].Fair.Len()
	if got < 2 || got > 4 {
		t.Fatalf("expected cpu1's fair_nr within [2,4] after the first balance pass, got %d (cpu0 has %d)",
			got, rqs[0].Fair.Len())
	}
}
