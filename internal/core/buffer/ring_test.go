package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsLastCapacity(t *testing.T) {

	assert := assert.New(t)

	r := NewRing[int](5)
	_, ok := r.Latest()
	assert.False(ok)
	assert.Empty(r.Snapshot(3))

	for i := 1; i <= 5+3; i++ {
		r.Push(i)
	}

	assert.Equal(5, r.Len())
	assert.Equal(5, r.Cap())
	assert.Equal([]int{4, 5, 6, 7, 8}, r.Snapshot(0))
	assert.Equal([]int{6, 7, 8}, r.Snapshot(3))
	assert.Equal([]int{4, 5, 6, 7, 8}, r.Snapshot(50))

	latest, ok := r.Latest()
	assert.True(ok)
	assert.Equal(8, latest)
}

func TestRingSnapshotIsCopy(t *testing.T) {

	r := NewRing[int](3)
	r.Push(1)
	r.Push(2)

	snap := r.Snapshot(0)
	snap[0] = 100
	assert.Equal(t, []int{1, 2}, r.Snapshot(0))
}

func TestRingConcurrentReaders(t *testing.T) {

	r := NewRing[int](10)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				snap := r.Snapshot(0)
				for k := 1; k < len(snap); k++ {
					if snap[k] != snap[k-1]+1 {
						t.Errorf("snapshot out of order: %v", snap)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 2000; i++ {
		r.Push(i)
	}
	wg.Wait()
	assert.Equal(t, 10, r.Len())
}

func TestLatestAndBoard(t *testing.T) {

	assert := assert.New(t)

	var l Latest[string]
	_, ok := l.Get()
	assert.False(ok)
	l.Set("a")
	v, ok := l.Get()
	assert.True(ok)
	assert.Equal("a", v)

	b := NewBoard(DEFAULT_TELEMETRY_CAPACITY, DEFAULT_VOLTAGE_CAPACITY)
	assert.True(b.AutoControl())
	b.SetAutoControl(false)
	assert.False(b.AutoControl())
	assert.Equal(300, b.Telemetry.Cap())
	assert.Equal(30, b.Voltage.Cap())
}
