// Package pagealloc implements the physical page allocator: a fixed
// arena sliced into PGSize-byte pages, one freelist per CPU shard, a
// per-freelist spin-lock, and a global borrow-mutex gate for the
// cross-CPU steal path.
//
// A real kernel hands out raw physical addresses and overlays the
// free-list's next-pointer on the page's own first bytes. Go has no
// portable, safe way to alias a []byte as a pointer-containing struct,
// so the free-list "run" here is realized as spec.md §9 recommends for
// languages without unrestricted pointer punning: an owning pool of
// page descriptors, addressed by slot index, with the arena bytes
// poisoned but never read back as a pointer.
package pagealloc

import (
	"fmt"

	"corekit/spinlock"
)

// DefaultPGSize is the default page size in bytes. It is a constructor
// parameter rather than a compile-time constant so tests can exercise
// small arenas without allocating real 4096-byte pages.
const DefaultPGSize = 4096

// FreePoison and AllocPoison are the byte patterns a parked and a
// freshly handed-out page are filled with, respectively — carried
// verbatim from the fill values the original kernel uses (1 for a
// page going onto a freelist, 5 for a page coming off one) so that
// accidental differences between the port and the source are easy to
// spot in a debugger.
const (
	FreePoison  byte = 1
	AllocPoison byte = 5
)

type page struct {
	idx  int
	next *page
}

type freelist struct {
	lock *spinlock.Lock
	head *page
}

// Allocator is the physical page allocator described by spec.md §3/§4.2.
type Allocator struct {
	arena    []byte
	pgSize   int
	base     uintptr
	pages    []page
	lists    []freelist
	borrowMu *spinlock.Lock
}

// New creates an allocator over a freshly allocated arena of size
// bytes, split into pgSize-byte pages and partitioned across ncpu
// freelists: each CPU gets npages/ncpu pages, and the whole remainder
// is folded into the last CPU's range, matching kinit's PGROUNDDOWN
// partitioning. Every page
// starts out free, poisoned with FreePoison.
func New(size, pgSize, ncpu int) *Allocator {
	if pgSize <= 0 || size < pgSize || ncpu <= 0 {
		panic("pagealloc: invalid size/pgSize/ncpu")
	}
	npages := size / pgSize
	if npages < ncpu {
		panic("pagealloc: arena too small for ncpu freelists")
	}

	a := &Allocator{
		arena:    make([]byte, npages*pgSize),
		pgSize:   pgSize,
		pages:    make([]page, npages),
		lists:    make([]freelist, ncpu),
		borrowMu: spinlock.New("kmem.borrow"),
	}
	a.base = uintptr(0)
	for i := range a.pages {
		a.pages[i].idx = i
	}

	base := npages / ncpu
	next := 0
	for c := 0; c < ncpu; c++ {
		a.lists[c].lock = spinlock.New(fmt.Sprintf("kmem.freelist[%d]", c))
		count := base
		if c == ncpu-1 {
			count = npages - next // fold any remainder into the last CPU's range
		}
		for i := 0; i < count; i++ {
			a.freeLocked(c, next)
			next++
		}
	}
	return a
}

func (a *Allocator) pageBytes(idx int) []byte {
	return a.arena[idx*a.pgSize : (idx+1)*a.pgSize]
}

func (a *Allocator) addrOf(idx int) uintptr {
	return a.base + uintptr(idx*a.pgSize)
}

func (a *Allocator) indexOf(addr uintptr) (int, bool) {
	if addr < a.base {
		return 0, false
	}
	off := addr - a.base
	if int(off)%a.pgSize != 0 {
		return 0, false
	}
	idx := int(off) / a.pgSize
	if idx < 0 || idx >= len(a.pages) {
		return 0, false
	}
	return idx, true
}

// freeLocked pushes page idx onto cpu's freelist, poisoning it first.
// Used both by New (initial population) and by Free.
func (a *Allocator) freeLocked(cpu, idx int) {
	b := a.pageBytes(idx)
	for i := range b {
		b[i] = FreePoison
	}

	fl := &a.lists[cpu]
	fl.lock.Acquire()
	p := &a.pages[idx]
	p.next = fl.head
	fl.head = p
	fl.lock.Release()
}

func (a *Allocator) pageIndex(p *page) int {
	return p.idx
}

// Alloc returns a page-aligned address in the allocator's arena, or
// ok==false if no page is available anywhere. The page is removed from
// cpu's freelist on the fast path, or borrowed from another CPU's
// freelist under the global gate if cpu's own list is empty. cpu must
// be a stable shard index for the duration of the call — the
// Go-idiomatic stand-in for "do not migrate CPUs between the
// current-CPU read and the freelist access" (spec.md §5).
func (a *Allocator) Alloc(cpu int) (uintptr, bool) {
	fl := &a.lists[cpu]
	fl.lock.Acquire()
	p := fl.head
	if p != nil {
		fl.head = p.next
	}
	fl.lock.Release()

	if p == nil {
		p = a.borrowPage(cpu)
	}
	if p == nil {
		return 0, false
	}

	idx := a.pageIndex(p)
	b := a.pageBytes(idx)
	for i := range b {
		b[i] = AllocPoison
	}
	return a.addrOf(idx), true
}

// borrowPage implements spec.md §4.2's borrow path under the global
// gate, trying every other CPU's freelist in index order.
func (a *Allocator) borrowPage(cpu int) *page {
	a.borrowMu.Acquire()
	defer a.borrowMu.Release()

	for j := 0; j < len(a.lists); j++ {
		if j == cpu {
			continue
		}
		peer := &a.lists[j]
		peer.lock.Acquire()
		p := peer.head
		if p != nil {
			peer.head = p.next
		}
		peer.lock.Release()
		if p != nil {
			return p
		}
	}
	return nil
}

// Free validates addr, poisons the page, and pushes it onto cpu's
// freelist. It panics on a misaligned or out-of-range address — the
// "kfree" fault named in spec.md §6 — since such a call can only
// result from a programmer error (double-free, corrupted pointer).
func (a *Allocator) Free(cpu int, addr uintptr) {
	idx, ok := a.indexOf(addr)
	if !ok {
		panic(fmt.Sprintf("kfree: invalid address %#x", addr))
	}
	a.freeLocked(cpu, idx)
}

// PGSize returns the page size this allocator was constructed with.
func (a *Allocator) PGSize() int { return a.pgSize }

// NumPages returns the total number of pages in the arena, free or
// allocated.
func (a *Allocator) NumPages() int { return len(a.pages) }
