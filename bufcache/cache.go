// Package bufcache implements the sharded block buffer cache: a fixed
// pool of buffers distributed across hash buckets on blockNumber mod
// nbucket, a per-bucket spin-lock, a per-buffer sleep-lock, and a
// global borrow-mutex gate for the cross-bucket steal path.
//
// Two callers reading the same (device, block) serialize on that
// buffer's sleep-lock; two callers reading different blocks that land
// in the same bucket serialize only briefly, during lookup/allocation,
// on the bucket's spin-lock.
package bufcache

import (
	"fmt"

	"corekit/diskio"
	"corekit/spinlock"
)

type bucket struct {
	lock *spinlock.Lock
	head buffer // sentinel: never holds a real block, always self-linked at minimum
}

// Cache is the buffer cache described by spec.md §3/§4.1.
type Cache struct {
	disk     diskio.Disk
	nbucket  int
	bufs     []buffer
	buckets  []bucket
	borrowMu *spinlock.Lock
}

// New builds a cache of nbuf buffers sharded across nbucket buckets.
// Buffers are distributed as evenly as possible: ceil(nbuf/nbucket) in
// the first (nbuf mod nbucket) buckets, floor(nbuf/nbucket) elsewhere,
// matching spec.md §4.1's buffer_init.
func New(disk diskio.Disk, nbuf, nbucket int) *Cache {
	if nbuf <= 0 || nbucket <= 0 {
		panic("bufcache: nbuf and nbucket must be positive")
	}

	c := &Cache{
		disk:    disk,
		nbucket: nbucket,
		bufs:    make([]buffer, nbuf),
		buckets: make([]bucket, nbucket),
	}

	c.borrowMu = spinlock.New("bcache.borrow")

	base := nbuf / nbucket
	rem := nbuf % nbucket
	next := 0
	for i := 0; i < nbucket; i++ {
		c.buckets[i].lock = spinlock.New(fmt.Sprintf("bcache.bucket[%d]", i))
		head := &c.buckets[i].head
		head.next = head
		head.prev = head

		count := base
		if i < rem {
			count++
		}
		for j := 0; j < count; j++ {
			b := &c.bufs[next]
			next++
			b.lock = newSleepLock(i, j)
			insertAtHead(head, b)
		}
	}
	return c
}

// Read returns a handle whose payload is valid and whose per-buffer
// sleep-lock is held by the caller, blocking until both are true. It
// realizes spec.md's bread: bget followed by a disk read when the
// recycled or newly-hit buffer is not yet valid.
func (c *Cache) Read(key diskio.BlockKey) *Handle {
	idx := key.Bucket(c.nbucket)
	b, ticket := c.bget(key, idx)

	if !b.valid {
		if err := c.disk.ReadWrite(key, b.payload[:], false); err != nil {
			panic(fmt.Sprintf("bread: disk read failed for %s: %v", key, err))
		}
		b.valid = true
	}
	return &Handle{buf: b, ticket: ticket}
}

// bget implements spec.md §4.1's three-phase lookup/allocation: a hit
// path, a local-miss LRU-reclaim path, and a cross-bucket borrow path
// serialized by borrowMu with a non-blocking skip on contended peers.
func (c *Cache) bget(key diskio.BlockKey, idx int) (*buffer, uint64) {
	bk := &c.buckets[idx]
	bk.lock.Acquire()

	// Hit path: the block is already resident in this bucket.
	for cur := bk.head.next; cur != &bk.head; cur = cur.next {
		if cur.key == key {
			cur.refcount++
			bk.lock.Release()
			ticket := cur.lock.Acquire()
			return cur, ticket
		}
	}

	// Local-miss LRU path: reclaim the first idle buffer scanning from
	// the tail (least recently released) toward the head.
	for cur := bk.head.prev; cur != &bk.head; cur = cur.prev {
		if cur.refcount == 0 {
			cur.key = key
			cur.valid = false
			cur.refcount = 1
			bk.lock.Release()
			ticket := cur.lock.Acquire()
			return cur, ticket
		}
	}

	// Borrow path: nothing idle in this bucket. Acquire the global gate
	// before touching any peer bucket, and never block on a peer that
	// is itself contended.
	c.borrowMu.Acquire()
	for j := 0; j < c.nbucket; j++ {
		if j == idx {
			continue
		}
		peer := &c.buckets[j]
		if !peer.lock.TryAcquire() {
			continue
		}
		for cur := peer.head.prev; cur != &peer.head; cur = cur.prev {
			if cur.refcount == 0 {
				unlink(cur)
				cur.key = key
				cur.valid = false
				cur.refcount = 1
				insertAtHead(&bk.head, cur)

				peer.lock.Release()
				c.borrowMu.Release()
				bk.lock.Release()
				ticket := cur.lock.Acquire()
				return cur, ticket
			}
		}
		peer.lock.Release()
	}
	c.borrowMu.Release()
	bk.lock.Release()
	panic("bget: no buffers")
}

// Write writes a handle's payload to disk. The caller must hold the
// handle's sleep-lock, i.e. must not have already called Release.
func (c *Cache) Write(h *Handle) error {
	if !h.buf.lock.Holding(h.ticket) {
		panic("bwrite: called without holding the buffer's sleep-lock")
	}
	return c.disk.ReadWrite(h.buf.key, h.buf.payload[:], true)
}

// Release releases the handle's sleep-lock and decrements its
// refcount. If the refcount reaches zero the buffer moves to the head
// (MRU position) of its current bucket's list.
func (c *Cache) Release(h *Handle) {
	if !h.buf.lock.Holding(h.ticket) {
		panic("brelse: called without holding the buffer's sleep-lock")
	}
	h.buf.lock.Release(h.ticket)

	idx := h.buf.key.Bucket(c.nbucket)
	bk := &c.buckets[idx]
	bk.lock.Acquire()
	h.buf.refcount--
	if h.buf.refcount == 0 {
		unlink(h.buf)
		insertAtHead(&bk.head, h.buf)
	}
	bk.lock.Release()
}

// Pin increments a handle's refcount without touching its sleep-lock,
// keeping the buffer resident even if the caller later releases its
// own hold on it. Used by higher layers (e.g. a log/commit layer, out
// of scope here) that need a dirty buffer to survive past a Release.
func (c *Cache) Pin(h *Handle) {
	idx := h.buf.key.Bucket(c.nbucket)
	bk := &c.buckets[idx]
	bk.lock.Acquire()
	h.buf.refcount++
	bk.lock.Release()
}

// Unpin is Pin's inverse.
func (c *Cache) Unpin(h *Handle) {
	idx := h.buf.key.Bucket(c.nbucket)
	bk := &c.buckets[idx]
	bk.lock.Acquire()
	h.buf.refcount--
	bk.lock.Release()
}
