package bufcache

import (
	"fmt"

	"corekit/diskio"
	"corekit/sleeplock"
)

// BSize is the fixed payload size of one cached block: one
// file-system block, as spec.md §6 names it.
const BSize = 1024

// buffer is one cached copy of a disk block. It is never heap-allocated
// individually: the Cache owns a fixed array of these, and a buffer
// migrates between bucket lists by relinking, never by copying.
type buffer struct {
	key      diskio.BlockKey
	valid    bool
	refcount int
	payload  [BSize]byte
	lock     *sleeplock.Lock

	// prev/next form one bucket's circular doubly-linked list. A
	// buffer belongs to exactly one bucket's list at a time; borrowing
	// relinks it into a different bucket's list rather than moving it
	// between slices.
	prev, next *buffer
}

// Handle is what Cache.Read hands back: a pinned, sleep-locked buffer.
// The sleep-lock is held by whichever goroutine holds the Handle,
// identified by ticket, until it calls Release.
type Handle struct {
	buf    *buffer
	ticket uint64
}

// Key returns the device/block identity this handle's buffer currently
// holds.
func (h *Handle) Key() diskio.BlockKey { return h.buf.key }

// Valid reports whether the payload reflects the disk as of the last
// Read.
func (h *Handle) Valid() bool { return h.buf.valid }

// Payload exposes the buffer's 1024-byte contents for the caller to
// read or modify in place. The slice aliases the buffer's backing
// array; it is only safe to use while the Handle's sleep-lock is held.
func (h *Handle) Payload() []byte { return h.buf.payload[:] }

func newSleepLock(bucketIdx, slotIdx int) *sleeplock.Lock {
	return sleeplock.New(fmt.Sprintf("bcache.buf[%d][%d]", bucketIdx, slotIdx))
}

func unlink(b *buffer) {
	b.prev.next = b.next
	b.next.prev = b.prev
}

// insertAtHead links b as the new most-recently-used member of the
// list rooted at head (head is the bucket's sentinel, never a real
// buffer).
func insertAtHead(head *buffer, b *buffer) {
	b.next = head.next
	b.prev = head
	head.next.prev = b
	head.next = b
}
