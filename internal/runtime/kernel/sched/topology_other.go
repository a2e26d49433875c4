//go:build !linux

package sched

import "runtime"

// LinuxSource is unavailable off Linux; it degrades to a synthetic
// single-package layout sized from runtime.NumCPU so the rest of the
// scheduler still has a usable topology to build against.
type LinuxSource struct {
	SysfsRoot string
}

func (s LinuxSource) Discover() (*Topology, error) {
	n := runtime.NumCPU()
	if n <= 0 {
		n = 1
	}
	return SyntheticSource{Packages: 1, CoresPerPackage: n, SMTPerCore: 1, NUMANodes: 1}.Discover()
}
