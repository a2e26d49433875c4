//go:build linux

package sched

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// LinuxSource discovers CPU/NUMA topology from sysfs, restricted to the
// CPUs in the affinity mask returned by SchedGetaffinity. It falls back to
// a single-package synthetic layout sized from that mask when sysfs is
// unavailable (containers, restricted mounts) or lists no CPU in the mask,
// and to DefaultSyntheticSource when SchedGetaffinity itself fails.
type LinuxSource struct {
	SysfsRoot string // overridable for tests; defaults to "/sys"
}

func (s LinuxSource) root() string {
	if s.SysfsRoot != "" {
		return s.SysfsRoot
	}
	return "/sys"
}

func (s LinuxSource) Discover() (*Topology, error) {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return DefaultSyntheticSource().Discover()
	}

	cpuDir := filepath.Join(s.root(), "devices", "system", "cpu")
	entries, err := os.ReadDir(cpuDir)
	if err != nil {
		return s.fallback(&mask)
	}

	var ids []int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "cpu%d", &n); err == nil && mask.Count() > 0 && cpuAllowed(&mask, n) {
			ids = append(ids, n)
		}
	}
	if len(ids) == 0 {
		return s.fallback(&mask)
	}
	sort.Ints(ids)

	t := &Topology{}
	numaOf := make(map[int][]int)
	for _, id := range ids {
		core := readIntFile(filepath.Join(cpuDir, fmt.Sprintf("cpu%d", id), "topology", "core_id"), id)
		pkg := readIntFile(filepath.Join(cpuDir, fmt.Sprintf("cpu%d", id), "topology", "physical_package_id"), 0)
		numa := nodeOfCPU(s.root(), id)
		siblings := siblingIndex(cpuDir, id, core, pkg)

		t.CPUs = append(t.CPUs, CPUInfo{
			ID:      id,
			SMTID:   siblings,
			Core:    core,
			Package: pkg,
			NUMA:    numa,
			Kind:    CPUPerformance,
		})
		numaOf[numa] = append(numaOf[numa], id)
	}

	var numaIDs []int
	for n := range numaOf {
		numaIDs = append(numaIDs, n)
	}
	sort.Ints(numaIDs)
	for _, n := range numaIDs {
		t.NUMAs = append(t.NUMAs, NUMANode{ID: n, CPUs: numaOf[n]})
	}
	if len(t.NUMAs) == 0 {
		t.NUMAs = []NUMANode{{ID: 0, CPUs: ids}}
	}

	return t, nil
}

func (s LinuxSource) fallback(mask *unix.CPUSet) (*Topology, error) {
	n := mask.Count()
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return SyntheticSource{Packages: 1, CoresPerPackage: n, SMTPerCore: 1, NUMANodes: 1}.Discover()
}

func cpuAllowed(mask *unix.CPUSet, cpu int) bool {
	// ids outside the representable range count as not allowed.
	if cpu < 0 || cpu >= unix.CPU_SETSIZE {
		return false
	}
	return mask.IsSet(cpu)
}

func readIntFile(path string, def int) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return def
	}
	return v
}

func nodeOfCPU(sysfsRoot string, cpu int) int {
	nodeBase := filepath.Join(sysfsRoot, "devices", "system", "node")
	entries, err := os.ReadDir(nodeBase)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "node%d", &n); err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(nodeBase, e.Name(), fmt.Sprintf("cpu%d", cpu))); err == nil {
			return n
		}
	}
	return 0
}

// siblingIndex returns this cpu's position among the thread siblings that
// share (pkg, core), ordered by cpu id; a stand-in for parsing
// thread_siblings_list that needs no bitmask parsing.
func siblingIndex(cpuDir string, cpu, core, pkg int) int {
	entries, err := os.ReadDir(cpuDir)
	if err != nil {
		return 0
	}
	idx := 0
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "cpu%d", &n); err != nil {
			continue
		}
		if n == cpu {
			continue
		}
		sameCore := readIntFile(filepath.Join(cpuDir, e.Name(), "topology", "core_id"), -1) == core
		samePkg := readIntFile(filepath.Join(cpuDir, e.Name(), "topology", "physical_package_id"), -1) == pkg
		if sameCore && samePkg && n < cpu {
			idx++
		}
	}
	return idx
}
