package sched

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Balancer periodically looks for load imbalance within each domain of the
// topology and migrates fair-class tasks from the busiest CPU to the
// idlest one (spec §5 "Load Balancer" component). Domains are walked
// narrowest (SMT) to widest (all), each domain independently and
// concurrently via errgroup, since domains at the same level never share
// a CPU and so never contend for the same runqueue lock pair.
type Balancer struct {
	Topo  *Topology
	RQs   []*Runqueue
	Stats *StatsRegistry

	// ImbalancePct is the minimum percentage difference in load between
	// the busiest and idlest CPU in a domain that triggers a migration.
	ImbalancePct int
	// CacheHotNs is the cache-hot window. NewBalancer sets it, but
	// migrateOne does not consult it: no candidate is skipped for having
	// run recently on its source CPU.
	CacheHotNs uint64
}

// NewBalancer returns a Balancer with the conventional 25% imbalance
// threshold and a 2ms cache-hot window. stats may be nil.
func NewBalancer(topo *Topology, rqs []*Runqueue, stats *StatsRegistry) *Balancer {
	return &Balancer{Topo: topo, RQs: rqs, Stats: stats, ImbalancePct: 25, CacheHotNs: 2_000_000}
}

// RunDue walks every domain whose next_balance_at has elapsed as of nowNs,
// widest domains last, and migrates at most one task per imbalanced
// domain this pass (spec design notes: a single pass per tick keeps
// balance() itself bounded work, relying on the next tick to continue
// converging rather than fully rebalancing in one shot).
func (b *Balancer) RunDue(ctx context.Context, nowNs uint64, nextBalanceAt []uint64, periodForLevel func(DomainLevel) uint64) error {
	g, _ := errgroup.WithContext(ctx)

	for i, dom := range b.Topo.Domains() {
		if i >= len(nextBalanceAt) || nowNs < nextBalanceAt[i] {
			continue
		}
		nextBalanceAt[i] = nowNs + periodForLevel(dom.Level)

		dom := dom
		g.Go(func() error {
			return b.balanceDomain(dom)
		})
	}

	return g.Wait()
}

// balanceDomain finds the busiest and idlest runqueue within dom (locking
// them in ascending CPU-id order to avoid AB-BA deadlock against a
// concurrent balance of an overlapping wider domain) and migrates at most
// one fair task (chosen by migrateOne) if the imbalance reaches ImbalancePct.
func (b *Balancer) balanceDomain(dom Domain) error {
	if len(dom.CPUs) < 2 {
		return nil
	}

	type load struct {
		cpu  int
		rq   *Runqueue
		nr   int
	}
	loads := make([]load, 0, len(dom.CPUs))
	for _, cpu := range dom.CPUs {
		if cpu >= len(b.RQs) || b.RQs[cpu] == nil {
			continue
		}
		loads = append(loads, load{cpu: cpu, rq: b.RQs[cpu], nr: b.RQs[cpu].Fair.Len()})
	}
	if len(loads) < 2 {
		return nil
	}

	sort.Slice(loads, func(i, j int) bool { return loads[i].nr > loads[j].nr })
	busiest, idlest := loads[0], loads[len(loads)-1]
	if busiest.nr == idlest.nr {
		return nil
	}

	imbalance := (busiest.nr - idlest.nr) * 100 / max1(busiest.nr)
	if imbalance < b.ImbalancePct {
		return nil
	}

	first, second := busiest.rq, idlest.rq
	if second.CPU < first.CPU {
		first, second = second, first
	}
	g1 := first.LockIRQ()
	defer g1.Release()
	g2 := second.LockIRQ()
	defer g2.Release()

	migrated, err := b.migrateOne(busiest.rq, idlest.rq)
	if migrated && b.Stats != nil {
		b.Stats.For(busiest.cpu).IncBalancerRun()
		b.Stats.For(idlest.cpu).IncMigration()
	}
	return err
}

// migrateOne moves src's leftmost fair task (smallest vruntime, ties broken
// by insertion order) to dst. If that task is src.Current or its affinity
// excludes dst, nothing moves and no other candidate is tried; ExecStart
// and CacheHotNs play no part in the choice. The task's vruntime is rebased out of src's min_vruntime frame and into
// dst's (rebaseVRuntime) so it lands neither starved nor advantaged by the
// two runqueues' independently-drifting min_vruntime values.
func (b *Balancer) migrateOne(src, dst *Runqueue) (migrated bool, err error) {
	victim := src.Fair.tree.leftmost()
	if victim == nil || victim == src.Current {
		return false, nil
	}
	if !victim.Affinity.Test(dst.CPU) {
		return false, nil
	}
	src.Fair.Dequeue(victim)
	victim.VRuntime = rebaseVRuntime(victim.VRuntime, src.Fair.minVRuntime, dst.Fair.minVRuntime)
	victim.CPUOf = dst.CPU
	dst.Fair.Enqueue(victim, false)
	return true, nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
