// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a logical CPU. The caller must
// hold runtime.LockOSThread. Unsupported platforms return an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUFor spreads index over the available CPUs round-robin.
func CPUFor(index int) int {
	n := runtime.NumCPU()
	if n <= 0 || index < 0 {
		return 0
	}
	return index % n
}
