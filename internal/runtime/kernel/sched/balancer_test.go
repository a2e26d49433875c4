package sched

import (
	"context"
	"testing"
)

func newBalancerTestSetup(t *testing.T) (*Topology, []*Runqueue) {
	t.Helper()
	topo, err := BuildTopology(SyntheticSource{Packages: 1, CoresPerPackage: 2, SMTPerCore: 1, NUMANodes: 1})
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}
	rqs := newPlacementRQs(topo)
	return topo, rqs
}

func TestBalancerMigratesFromBusiestToIdlest(t *testing.T) {
	topo, rqs := newBalancerTestSetup(t)
	stats := NewStatsRegistry(topo.NumCPU())
	b := NewBalancer(topo, rqs, stats)
	b.ImbalancePct = 10

	a := newFairTask(1, 0)
	a.Affinity = NewFullBitSet(topo.NumCPU())
	b2 := newFairTask(2, 0)
	b2.Affinity = NewFullBitSet(topo.NumCPU())
	b2.VRuntime = 1000
	rqs[0].Fair.Enqueue(a, false)
	rqs[0].Fair.Enqueue(b2, false)

	for _, dom := range topo.Domains() {
		if len(dom.CPUs) < 2 {
			continue
		}
		if err := b.balanceDomain(dom); err != nil {
			t.Fatalf("balanceDomain failed: %v", err)
		}
	}

	if rqs[0].Fair.Len() != 1 {
		t.Fatalf("expected cpu0 to have migrated one task away, got %d remaining", rqs[0].Fair.Len())
	}
	if rqs[1].Fair.Len() != 1 {
		t.Fatalf("expected cpu1 to have received the migrated task, got %d", rqs[1].Fair.Len())
	}
}

func TestBalancerDoesNotMigrateCurrent(t *testing.T) {
	topo, rqs := newBalancerTestSetup(t)
	stats := NewStatsRegistry(topo.NumCPU())
	b := NewBalancer(topo, rqs, stats)
	b.ImbalancePct = 10

	a := newFairTask(1, 0)
	a.Affinity = NewFullBitSet(topo.NumCPU())
	rqs[0].Fair.tree.insert(a) // the only candidate is also the leftmost
	rqs[0].Current = a

	migrated, err := b.migrateOne(rqs[0], rqs[1])
	if err != nil {
		t.Fatalf("migrateOne failed: %v", err)
	}
	if migrated {
		t.Fatalf("must not migrate the currently-running task")
	}
}

func TestBalancerDoesNotMigrateAcrossAffinity(t *testing.T) {
	topo, rqs := newBalancerTestSetup(t)
	stats := NewStatsRegistry(topo.NumCPU())
	b := NewBalancer(topo, rqs, stats)

	a := newFairTask(1, 0)
	a.Affinity = NewBitSet(topo.NumCPU())
	a.Affinity.Set(0) // pinned to cpu0 only
	rqs[0].Fair.Enqueue(a, false)

	migrated, err := b.migrateOne(rqs[0], rqs[1])
	if err != nil {
		t.Fatalf("migrateOne failed: %v", err)
	}
	if migrated {
		t.Fatalf("must not migrate a task outside its affinity mask")
	}
	if rqs[0].Fair.Len() != 1 {
		t.Fatalf("task should remain on cpu0")
	}
}

func TestBalancerNoOpBelowImbalanceThreshold(t *testing.T) {
	topo, rqs := newBalancerTestSetup(t)
	stats := NewStatsRegistry(topo.NumCPU())
	b := NewBalancer(topo, rqs, stats)
	b.ImbalancePct = 90 // require a near-total imbalance

	a := newFairTask(1, 0)
	a.Affinity = NewFullBitSet(topo.NumCPU())
	b2 := newFairTask(2, 0)
	b2.Affinity = NewFullBitSet(topo.NumCPU())
	rqs[0].Fair.Enqueue(a, false)
	rqs[1].Fair.Enqueue(b2, false)

	for _, dom := range topo.Domains() {
		if err := b.balanceDomain(dom); err != nil {
			t.Fatalf("balanceDomain failed: %v", err)
		}
	}
	if rqs[0].Fair.Len() != 1 || rqs[1].Fair.Len() != 1 {
		t.Fatalf("expected no migration with an even 1/1 split, got %d/%d", rqs[0].Fair.Len(), rqs[1].Fair.Len())
	}
}

func TestBalancerRunDueIncrementsStats(t *testing.T) {
	topo, rqs := newBalancerTestSetup(t)
	stats := NewStatsRegistry(topo.NumCPU())
	b := NewBalancer(topo, rqs, stats)
	b.ImbalancePct = 10

	a := newFairTask(1, 0)
	a.Affinity = NewFullBitSet(topo.NumCPU())
	c := newFairTask(2, 0)
	c.Affinity = NewFullBitSet(topo.NumCPU())
	c.VRuntime = 1000
	rqs[0].Fair.Enqueue(a, false)
	rqs[0].Fair.Enqueue(c, false)

	nextBalanceAt := make([]uint64, len(topo.Domains()))
	err := b.RunDue(context.Background(), 0, nextBalanceAt, func(DomainLevel) uint64 { return 1_000_000 })
	if err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}

	total := uint64(0)
	for _, s := range stats.SnapshotAll() {
		total += s.Migrations + s.BalancerRuns
	}
	if total == 0 {
		t.Fatalf("expected at least one balancer/migration counter incremented")
	}
}
