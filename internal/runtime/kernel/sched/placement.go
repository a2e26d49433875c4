package sched

// HighUtilThreshold is the UtilAvg (out of 1024) above which a fair task
// is considered to prefer a performance core over an efficiency one, when
// both are idle-sibling candidates (spec §5 energy-aware placement).
const HighUtilThreshold uint32 = 747 // ~0.73 * 1024

// Placer selects a target CPU for a task at wakeup or creation time,
// layering affinity, NUMA preference, energy-awareness, and idle-sibling
// search before falling back to the task's previous CPU (spec §5 "Wakeup &
// Placement").
type Placer struct {
	Topo     *Topology
	Affinity AffinityProvider
	RQs      []*Runqueue // indexed by CPU id
}

// NewPlacer binds a topology, affinity provider, and the set of runqueues
// it picks among.
func NewPlacer(topo *Topology, affinity AffinityProvider, rqs []*Runqueue) *Placer {
	return &Placer{Topo: topo, Affinity: affinity, RQs: rqs}
}

// SelectCPU runs the full placement ladder for t, which was last running
// on prevCPU (or -1 if it has never run). It never returns a CPU outside
// t's affinity mask, and callers must treat an empty mask as an error
// before calling this (errAffinityEmpty).
func (p *Placer) SelectCPU(t *Task, prevCPU int) int {
	allowed := p.Affinity.AffinityOf(t)

	// Layer 1: affine short-circuit. A task pinned to exactly one CPU has
	// nothing left to decide.
	if allowed.Count() == 1 {
		return allowed.Slice()[0]
	}

	switch t.Class {
	case ClassRealTime, ClassDeadline:
		return p.selectLatencyCritical(allowed, prevCPU)
	default:
		return p.selectFair(t, allowed, prevCPU)
	}
}

// selectLatencyCritical picks the least-loaded allowed CPU for RT/Deadline
// tasks: bandwidth guarantees matter more than cache locality or energy
// for these classes, so this skips the NUMA/energy layers entirely.
func (p *Placer) selectLatencyCritical(allowed *BitSet, prevCPU int) int {
	best, bestLoad := -1, -1
	allowed.Each(func(cpu int) {
		if cpu >= len(p.RQs) || p.RQs[cpu] == nil {
			return
		}
		load := p.RQs[cpu].RT.Len() + p.RQs[cpu].Deadline.Len()
		if best == -1 || load < bestLoad {
			best, bestLoad = cpu, load
		}
	})
	if best == -1 {
		return p.fallback(allowed, prevCPU)
	}
	return best
}

// selectFair runs the layered wakeup path for the fair class (spec §5):
// NUMA preference, then energy-aware P/E matching among idle siblings,
// then any idle CPU, then the previous CPU as a last resort.
func (p *Placer) selectFair(t *Task, allowed *BitSet, prevCPU int) int {
	if node, ok := p.Affinity.PreferredNUMAOf(t); ok {
		if cpu := p.idleInNUMA(t, allowed, node); cpu != -1 {
			return cpu
		}
	}

	if cpu := p.idleSibling(t, allowed, prevCPU); cpu != -1 {
		return cpu
	}

	if cpu := p.anyIdle(allowed); cpu != -1 {
		return cpu
	}

	return p.fallback(allowed, prevCPU)
}

func (p *Placer) idleInNUMA(t *Task, allowed *BitSet, node int) int {
	if node < 0 || node >= len(p.Topo.NUMAs) {
		return -1
	}
	best := -1
	for _, cpu := range p.Topo.NUMAs[node].CPUs {
		if !allowed.Test(cpu) || cpu >= len(p.RQs) || p.RQs[cpu] == nil {
			continue
		}
		if p.RQs[cpu].Current == nil || p.RQs[cpu].Current.IsIdle() {
			if best == -1 || p.energyRank(t, cpu) < p.energyRank(t, best) {
				best = cpu
			}
		}
	}
	return best
}

// idleSibling searches SMT siblings of prevCPU first (free cache
// locality), widening to core/package/NUMA domains only if no sibling is
// idle, preferring performance cores for high-utilization tasks and
// efficiency cores otherwise.
func (p *Placer) idleSibling(t *Task, allowed *BitSet, prevCPU int) int {
	if prevCPU < 0 || prevCPU >= len(p.Topo.CPUs) {
		return -1
	}
	for _, dom := range p.Topo.Domains() {
		if !domainContains(dom, prevCPU) {
			continue
		}
		best := -1
		for _, cpu := range dom.CPUs {
			if !allowed.Test(cpu) || cpu >= len(p.RQs) || p.RQs[cpu] == nil {
				continue
			}
			if p.RQs[cpu].Current != nil && !p.RQs[cpu].Current.IsIdle() {
				continue
			}
			if best == -1 || p.energyRank(t, cpu) < p.energyRank(t, best) {
				best = cpu
			}
		}
		if best != -1 {
			return best
		}
		if dom.Level == DomainNUMA {
			// Beyond the local NUMA node, idle-sibling search stops
			// mattering more than just finding any idle CPU at all.
			break
		}
	}
	return -1
}

func domainContains(d Domain, cpu int) bool {
	for _, c := range d.CPUs {
		if c == cpu {
			return true
		}
	}
	return false
}

// energyRank scores a candidate CPU for t: lower is better. High-UtilAvg
// tasks rank performance cores ahead of efficiency ones; low-UtilAvg tasks
// rank the other way, so bursty background work prefers the efficiency
// cores and leaves performance cores free.
func (p *Placer) energyRank(t *Task, cpu int) int {
	kind := p.Topo.CPU(cpu).Kind
	wantsPerformance := t.UtilAvg > HighUtilThreshold
	if wantsPerformance == (kind == CPUPerformance) {
		return 0
	}
	return 1
}

func (p *Placer) anyIdle(allowed *BitSet) int {
	best := -1
	allowed.Each(func(cpu int) {
		if best != -1 || cpu >= len(p.RQs) || p.RQs[cpu] == nil {
			return
		}
		if p.RQs[cpu].Current == nil || p.RQs[cpu].Current.IsIdle() {
			best = cpu
		}
	})
	return best
}

func (p *Placer) fallback(allowed *BitSet, prevCPU int) int {
	if prevCPU >= 0 && allowed.Test(prevCPU) {
		return prevCPU
	}
	if s := allowed.Slice(); len(s) > 0 {
		return s[0]
	}
	return -1
}
