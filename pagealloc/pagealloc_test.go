package pagealloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocReturnsDistinctPoisonedPages(t *testing.T) {
	a := New(4*64, 64, 2)

	addr1, ok := a.Alloc(0)
	require.True(t, ok)
	addr2, ok := a.Alloc(0)
	require.True(t, ok)
	require.NotEqual(t, addr1, addr2)

	idx1, ok := a.indexOf(addr1)
	require.True(t, ok)
	b := a.pageBytes(idx1)
	for _, by := range b {
		require.Equal(t, AllocPoison, by)
	}
}

func TestFreeThenAllocReturnsSamePage(t *testing.T) {
	a := New(2*64, 64, 1)

	addr, ok := a.Alloc(0)
	require.True(t, ok)
	a.Free(0, addr)

	idx, ok := a.indexOf(addr)
	require.True(t, ok)
	for _, by := range a.pageBytes(idx) {
		require.Equal(t, FreePoison, by)
	}

	addr2, ok := a.Alloc(0)
	require.True(t, ok)
	require.Equal(t, addr, addr2)
}

// TestBorrowWhenLocalFreelistEmpty is spec.md §8's allocator-borrow
// scenario: CPUS = 2, CPU-0 seeded with 1 page, CPU-1 with 0. On CPU-1,
// Alloc must return CPU-0's page; the next Alloc on either CPU must
// fail.
func TestBorrowWhenLocalFreelistEmpty(t *testing.T) {
	a := New(2*64, 64, 2)

	// Drain CPU-1's freelist so it starts empty, leaving CPU-0 with its
	// one remaining page.
	_, ok := a.Alloc(1)
	require.True(t, ok)

	addr, ok := a.Alloc(1)
	require.True(t, ok, "CPU-1 must borrow CPU-0's page")

	idx, _ := a.indexOf(addr)
	require.Equal(t, 0, idx, "the borrowed page must be CPU-0's original page")

	_, ok = a.Alloc(0)
	require.False(t, ok, "arena is exhausted")
	_, ok = a.Alloc(1)
	require.False(t, ok, "arena is exhausted")
}

func TestAllocExhaustionReturnsFalse(t *testing.T) {
	a := New(2*64, 64, 2)

	_, ok := a.Alloc(0)
	require.True(t, ok)
	_, ok = a.Alloc(1)
	require.True(t, ok)

	_, ok = a.Alloc(0)
	require.False(t, ok)
}

// TestFreeMisalignedAddressPanics is spec.md §8's double-free/corruption
// scenario: page_free(address+1) must halt with a fatal error rather
// than silently corrupt the freelist.
func TestFreeMisalignedAddressPanics(t *testing.T) {
	a := New(2*64, 64, 1)

	addr, ok := a.Alloc(0)
	require.True(t, ok)

	require.Panics(t, func() {
		a.Free(0, addr+1)
	})
}

func TestFreeOutOfRangeAddressPanics(t *testing.T) {
	a := New(2*64, 64, 1)

	require.Panics(t, func() {
		a.Free(0, a.base+uintptr(a.NumPages()*a.PGSize()))
	})
}

// TestAllocFreeRoundTripRestoresCapacity is the round-trip idempotence
// law: allocating every page and freeing it all back on the same CPU
// must restore the allocator to full capacity.
func TestAllocFreeRoundTripRestoresCapacity(t *testing.T) {
	a := New(8*64, 64, 2)

	var addrs []uintptr
	for {
		addr, ok := a.Alloc(0)
		if !ok {
			break
		}
		addrs = append(addrs, addr)
	}
	require.Equal(t, a.NumPages(), len(addrs))

	for _, addr := range addrs {
		a.Free(0, addr)
	}

	var after []uintptr
	for {
		addr, ok := a.Alloc(0)
		if !ok {
			break
		}
		after = append(after, addr)
	}
	require.Equal(t, a.NumPages(), len(after))
}

func TestNewRejectsArenaSmallerThanNCPU(t *testing.T) {
	require.Panics(t, func() {
		New(64, 64, 2)
	})
}

func TestNewRejectsNonPositiveArgs(t *testing.T) {
	require.Panics(t, func() {
		New(0, 64, 1)
	})
	require.Panics(t, func() {
		New(64, 0, 1)
	})
	require.Panics(t, func() {
		New(64, 64, 0)
	})
}

func TestConcurrentAllocFreeAcrossCPUsStaysConsistent(t *testing.T) {
	const ncpu = 4
	a := New(256*64, 64, ncpu)

	var wg sync.WaitGroup
	for c := 0; c < ncpu; c++ {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			var held []uintptr
			for i := 0; i < 50; i++ {
				if addr, ok := a.Alloc(cpu); ok {
					held = append(held, addr)
				}
			}
			for _, addr := range held {
				a.Free(cpu, addr)
			}
		}(c)
	}
	wg.Wait()

	var total int
	for {
		if _, ok := a.Alloc(0); !ok {
			break
		}
		total++
	}
	require.Equal(t, a.NumPages(), total)
}
