//go:build linux

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-transport/affinity"
)

func TestSetAffinity(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var before unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &before))
	defer func() { _ = unix.SchedSetaffinity(0, &before) }()

	cpu := -1
	for i := 0; i < runtime.NumCPU(); i++ {
		if before.IsSet(i) {
			cpu = i
			break
		}
	}
	if cpu < 0 {
		t.Skip("no usable CPU in the current mask")
	}
	require.NoError(t, affinity.SetAffinity(cpu))

	var after unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &after))
	assert.Equal(t, 1, after.Count())
	assert.True(t, after.IsSet(cpu))
}

func TestCPUFor(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, 0, affinity.CPUFor(0))
	assert.Equal(t, 0, affinity.CPUFor(n))
	assert.Equal(t, 0, affinity.CPUFor(-3))
	if n > 1 {
		assert.Equal(t, 1, affinity.CPUFor(n+1))
	}
}
