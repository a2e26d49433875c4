package sched

// CPUKind distinguishes performance from efficiency cores on a
// heterogeneous package (spec §5, energy-aware placement).
type CPUKind uint8

const (
	CPUPerformance CPUKind = iota
	CPUEfficiency
)

// CPUInfo describes one logical CPU's position in the SMT/core/package/NUMA
// hierarchy, as discovered by a TopologySource.
type CPUInfo struct {
	ID      int
	SMTID   int // hyperthread/sibling id within Core
	Core    int // physical core id, unique within Package
	Package int // socket id
	NUMA    int // NUMA node id
	Kind    CPUKind
}

// Topology is the static (post-discovery) description of every online CPU
// and NUMA node, plus the domain hierarchy the load balancer walks.
type Topology struct {
	CPUs  []CPUInfo
	NUMAs []NUMANode

	// distance[i][j] is the relative memory-access cost from NUMA node i to
	// node j; distance[i][i] is always the baseline (10, matching the Linux
	// convention the teacher's NUMAOptimizer used).
	distance [][]int

	// domains groups CPU ids at each balancing level, narrowest first:
	// SMT siblings, then core-mates (the same CPU groups as the SMT level,
	// since both are keyed by package and core), then package, then NUMA
	// node, then "all".
	domains []Domain
}

// NUMANode describes one NUMA node's member CPUs.
type NUMANode struct {
	ID   int
	CPUs []int
}

// DomainLevel names a load-balancing sweep granularity (spec §5).
type DomainLevel uint8

const (
	DomainSMT DomainLevel = iota
	DomainCore
	DomainPackage
	DomainNUMA
	DomainAll
)

func (d DomainLevel) String() string {
	switch d {
	case DomainSMT:
		return "smt"
	case DomainCore:
		return "core"
	case DomainPackage:
		return "package"
	case DomainNUMA:
		return "numa"
	case DomainAll:
		return "all"
	default:
		return "unknown"
	}
}

// Domain is one balancing group: a set of CPUs considered for rebalancing
// against each other at a given level.
type Domain struct {
	Level DomainLevel
	CPUs  []int
}

// TopologySource discovers the CPU/NUMA layout of the host. Production
// builds use an OS-backed source (topology_linux.go); tests and
// cmd/schedsim use SyntheticSource for reproducible layouts.
type TopologySource interface {
	Discover() (*Topology, error)
}

// BuildTopology runs src.Discover and then derives the domain hierarchy and
// NUMA distance matrix, so callers never have to do that bookkeeping by
// hand.
func BuildTopology(src TopologySource) (*Topology, error) {
	t, err := src.Discover()
	if err != nil {
		return nil, err
	}
	t.deriveDomains()
	if t.distance == nil {
		t.deriveUniformDistance()
	}
	return t, nil
}

func (t *Topology) deriveDomains() {
	group := func(level DomainLevel, key func(CPUInfo) int) []Domain {
		buckets := make(map[int][]int)
		var order []int
		for _, c := range t.CPUs {
			k := key(c)
			if _, ok := buckets[k]; !ok {
				order = append(order, k)
			}
			buckets[k] = append(buckets[k], c.ID)
		}
		doms := make([]Domain, 0, len(order))
		for _, k := range order {
			doms = append(doms, Domain{Level: level, CPUs: buckets[k]})
		}
		return doms
	}

	var domains []Domain
	domains = append(domains, group(DomainSMT, func(c CPUInfo) int { return c.Package*1000 + c.Core })...)
	domains = append(domains, group(DomainCore, func(c CPUInfo) int { return c.Package*1000 + c.Core })...)
	domains = append(domains, group(DomainPackage, func(c CPUInfo) int { return c.Package })...)
	domains = append(domains, group(DomainNUMA, func(c CPUInfo) int { return c.NUMA })...)

	all := make([]int, len(t.CPUs))
	for i, c := range t.CPUs {
		all[i] = c.ID
	}
	domains = append(domains, Domain{Level: DomainAll, CPUs: all})

	t.domains = domains
}

func (t *Topology) deriveUniformDistance() {
	n := len(t.NUMAs)
	t.distance = make([][]int, n)
	for i := range t.distance {
		t.distance[i] = make([]int, n)
		for j := range t.distance[i] {
			if i == j {
				t.distance[i][j] = 10
			} else {
				t.distance[i][j] = 20
			}
		}
	}
}

// Distance returns the relative access cost from NUMA node a to node b.
func (t *Topology) Distance(a, b int) int {
	if a < 0 || b < 0 || a >= len(t.distance) || b >= len(t.distance) {
		return 0
	}
	return t.distance[a][b]
}

// Domains returns every balancing domain, narrowest first.
func (t *Topology) Domains() []Domain { return t.domains }

// NumCPU returns the number of discovered logical CPUs.
func (t *Topology) NumCPU() int { return len(t.CPUs) }

// CPU returns the descriptor for a CPU id, or the zero value if unknown.
func (t *Topology) CPU(id int) CPUInfo {
	for _, c := range t.CPUs {
		if c.ID == id {
			return c
		}
	}
	return CPUInfo{}
}

// SyntheticSource builds a regular, synthetic topology: packages sockets,
// each with coresPerPackage cores, each with smtPerCore siblings, evenly
// distributed across numaNodes. Used by tests, cmd/schedsim, and as the
// fallback source on platforms topology_linux.go does not cover.
type SyntheticSource struct {
	Packages        int
	CoresPerPackage int
	SMTPerCore      int
	NUMANodes       int
	// EfficiencyCoresPerPackage marks the last N cores of each package as
	// CPUEfficiency, modeling a P/E heterogeneous package.
	EfficiencyCoresPerPackage int
}

// DefaultSyntheticSource returns a plain 1-package, 4-core, no-SMT,
// single-NUMA-node layout suitable as a safe fallback.
func DefaultSyntheticSource() SyntheticSource {
	return SyntheticSource{Packages: 1, CoresPerPackage: 4, SMTPerCore: 1, NUMANodes: 1}
}

func (s SyntheticSource) Discover() (*Topology, error) {
	packages := s.Packages
	if packages <= 0 {
		packages = 1
	}
	cores := s.CoresPerPackage
	if cores <= 0 {
		cores = 1
	}
	smt := s.SMTPerCore
	if smt <= 0 {
		smt = 1
	}
	numaNodes := s.NUMANodes
	if numaNodes <= 0 {
		numaNodes = 1
	}

	t := &Topology{}
	numaOf := make(map[int][]int)
	id := 0
	for pkg := 0; pkg < packages; pkg++ {
		for core := 0; core < cores; core++ {
			kind := CPUPerformance
			if core >= cores-s.EfficiencyCoresPerPackage {
				kind = CPUEfficiency
			}
			numa := (pkg*cores + core) % numaNodes
			for sibling := 0; sibling < smt; sibling++ {
				t.CPUs = append(t.CPUs, CPUInfo{
					ID:      id,
					SMTID:   sibling,
					Core:    core,
					Package: pkg,
					NUMA:    numa,
					Kind:    kind,
				})
				numaOf[numa] = append(numaOf[numa], id)
				id++
			}
		}
	}
	for n := 0; n < numaNodes; n++ {
		t.NUMAs = append(t.NUMAs, NUMANode{ID: n, CPUs: numaOf[n]})
	}
	return t, nil
}
