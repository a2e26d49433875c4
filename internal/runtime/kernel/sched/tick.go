package sched

import "context"

// TickHandler drives the periodic scheduler tick for one CPU: refreshing
// accounting, asking the current task's class whether it should be
// preempted, and triggering the load balancer when a domain's balance
// period has elapsed (spec §4 "Tick Handler" component).
type TickHandler struct {
	Disp     *Dispatcher
	Balancer *Balancer
	Signal   InterCPUSignal
	Stats    *StatsBlock

	nextBalanceAt  []uint64
	periodForLevel func(DomainLevel) uint64
}

// NewTickHandler binds a dispatcher to the balancer it triggers. signal is
// kept in Signal; Tick itself sends no inter-CPU signal. stats may be nil.
func NewTickHandler(disp *Dispatcher, bal *Balancer, signal InterCPUSignal, stats *StatsBlock) *TickHandler {
	n := 0
	if bal != nil {
		n = len(bal.Topo.Domains())
	}
	return &TickHandler{
		Disp:          disp,
		Balancer:      bal,
		Signal:        signal,
		Stats:         stats,
		nextBalanceAt: make([]uint64, n),
		periodForLevel: func(l DomainLevel) uint64 {
			switch l {
			case DomainSMT:
				return 1_000_000
			case DomainCore:
				return 4_000_000
			case DomainPackage:
				return 16_000_000
			case DomainNUMA:
				return 64_000_000
			default:
				return 256_000_000
			}
		},
	}
}

// Tick runs one tick on the dispatcher's CPU: update accounting, account
// RT bandwidth, check for a required preemption, and run the load balancer
// over every domain whose balance period has elapsed, whether or not the
// domain contains this CPU.
func (h *TickHandler) Tick(ctx context.Context, nowNs uint64) {
	rq := h.Disp.RQ
	g := rq.LockIRQ()

	deltaExecNs := rq.UpdateClock(nowNs)
	rq.RT.ReconcilePeriod(nowNs)

	curr := rq.Current
	preempt := false
	if curr != nil && !curr.IsIdle() {
		switch curr.Class {
		case ClassFair:
			preempt = rq.Fair.CheckPreempt(curr)
		case ClassRealTime:
			if rq.RT.Tick(curr, nowNs, deltaExecNs) {
				preempt = true
				if h.Stats != nil {
					h.Stats.IncRTPreemption()
				}
			}
			if curr.RTPolicy == RTRoundRobin && curr.RRSliceRemaining == 0 {
				preempt = true
				if h.Stats != nil {
					h.Stats.IncRTPreemption()
				}
			}
		case ClassDeadline:
			wasThrottled := curr.DLThrottled
			preempt = rq.Deadline.RolloverIfDue(curr, nowNs)
			if preempt && wasThrottled && h.Stats != nil {
				h.Stats.IncDeadlineMiss()
			}
		}
	} else if rq.Fair.Len() > 0 || rq.RT.Len() > 0 || rq.Deadline.Len() > 0 {
		preempt = true
	}

	// RT outranks Fair on the pick ladder, so a Fair (or idle) curr must be
	// reconsidered the instant RT has unthrottled runnable work again —
	// otherwise a runqueue whose RT class just rolled over into a fresh
	// bandwidth period would sit on the fair task until it gives up the CPU
	// on its own, stalling the RT task for up to a whole extra period.
	if !preempt && (curr == nil || curr.IsIdle() || curr.Class != ClassRealTime) {
		if rq.RT.Len() > 0 && !rq.RT.Throttled() {
			preempt = true
		}
	}

	g.Release()

	if preempt {
		h.Disp.Schedule(false)
	}

	if h.Balancer != nil {
		_ = h.Balancer.RunDue(ctx, nowNs, h.nextBalanceAt, h.periodForLevel)
	}
}
