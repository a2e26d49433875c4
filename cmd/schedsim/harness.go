package main

import (
	"fmt"

	"github.com/LimitlessOS-official/Limitless-sub009/internal/runtime/kernel/sched"
)

// harness drives a Scheduler over a simulated clock/timer, standing in for
// the real tick interrupt and context-switch machinery a live kernel would
// provide.
type harness struct {
	clock  *sched.SimClock
	timer  *sched.SimTimer
	signal *sched.SimSignal
	switcher *sched.SimSwitcher
	topo   *sched.Topology
	sched  *sched.Scheduler
}

func newHarness(ncpu int) *harness {
	topo, err := sched.BuildTopology(sched.SyntheticSource{Packages: 1, CoresPerPackage: ncpu, SMTPerCore: 1, NUMANodes: 1})
	if err != nil {
		panic(err)
	}

	clock := sched.NewSimulatedClock(0)
	timer := sched.NewSimulatedTimer(clock)
	signal := sched.NewSimulatedSignal()
	switcher := sched.NewSimulatedSwitcher()

	collab := sched.Collaborators{
		Clock:    clock,
		Timer:    timer,
		Signal:   signal,
		Switcher: switcher,
		Affinity: sched.StaticAffinity{},
	}

	s := sched.New(topo, collab, sched.DefaultProfile())

	return &harness{clock: clock, timer: timer, signal: signal, switcher: switcher, topo: topo, sched: s}
}

// advance runs n 1ms ticks across every CPU, advancing the simulated clock
// between each.
func (h *harness) advance(n int) {
	const tickNs = 1_000_000
	for i := 0; i < n; i++ {
		now := h.clock.Advance(tickNs)
		for cpu := 0; cpu < h.sched.NumCPU(); cpu++ {
			h.sched.TickOnCurrentCPU(cpu, now)
		}
		h.timer.Fire()
	}
}

func scenarioRTPreemptsFair() error {
	h := newHarness(1)
	if _, err := h.sched.ActivateTask(1, sched.FairPolicy(0), nil); err != nil {
		return err
	}
	h.advance(10)
	if _, err := h.sched.ActivateTask(2, sched.RTFIFOPolicy(5), nil); err != nil {
		return err
	}
	h.sched.Schedule(0)
	h.advance(5)

	stats := h.sched.SnapshotStats()[0]
	fmt.Printf("rt-preempts-fair: context_switches=%d rt_preemptions=%d\n", stats.ContextSwitches, stats.RTPreemptions)
	return nil
}

func scenarioDeadlineAdmission() error {
	h := newHarness(1)
	if _, err := h.sched.ActivateTask(10, sched.DeadlinePolicy(2_000_000, 10_000_000, 10_000_000), nil); err != nil {
		return err
	}
	if _, err := h.sched.ActivateTask(11, sched.DeadlinePolicy(2_000_000, 10_000_000, 10_000_000), nil); err != nil {
		return err
	}
	_, err := h.sched.ActivateTask(12, sched.DeadlinePolicy(7_000_000, 10_000_000, 10_000_000), nil)
	if err == nil {
		return fmt.Errorf("expected admission to be denied for a utilization-exceeding deadline task")
	}
	fmt.Printf("deadline-admission: correctly rejected oversubscribed task (%v)\n", err)
	return nil
}

func scenarioWakeupAffinity() error {
	h := newHarness(4)
	t, err := h.sched.ActivateTask(20, sched.FairPolicy(0), []int{2})
	if err != nil {
		return err
	}
	if t.CPUOf != 2 {
		return fmt.Errorf("expected single-CPU affinity to place task on cpu 2, got cpu %d", t.CPUOf)
	}
	fmt.Printf("wakeup-affinity: task %d pinned to cpu %d as expected\n", t.PID, t.CPUOf)
	return nil
}
