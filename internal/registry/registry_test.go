package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddGetDelete(t *testing.T) {
	r := New[int](3)
	require.Len(t, r.shards, 4)

	assert.True(t, r.Add("a", 1))
	assert.False(t, r.Add("a", 2))
	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	r.Delete("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRangeAllowsDelete(t *testing.T) {
	r := New[string](4)
	for i := 0; i < 50; i++ {
		r.Add(fmt.Sprint(i), "v")
	}
	seen := 0
	r.Range(func(id string, _ string) {
		seen++
		r.Delete(id)
	})
	assert.Equal(t, 50, seen)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrent(t *testing.T) {
	r := New[int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("%d-%d", g, i)
				r.Add(id, i)
				r.Get(id)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 800, r.Len())
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, uint32(1), nextPowerOfTwo(1))
	assert.Equal(t, uint32(16), nextPowerOfTwo(9))
	assert.Equal(t, uint32(64), nextPowerOfTwo(64))
}
