package bufcache

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"corekit/diskio"
)

// reachableFromHead reports whether b is reachable from head by
// following next pointers — i.e. b is a genuine member of this
// bucket's list, not a node lost by list-surgery.
func reachableFromHead(head, b *buffer) bool {
	for cur := head.next; cur != head; cur = cur.next {
		if cur == b {
			return true
		}
	}
	return false
}

// TestEveryBufferReachableFromExactlyOneBucket is spec.md §8 Invariant
// 1: every buffer is a member of exactly one bucket list at all times,
// under random read/release traffic.
func TestEveryBufferReachableFromExactlyOneBucket(t *testing.T) {
	disk := diskio.NewMemDisk(BSize)
	nbuf, nbucket := 6, 4
	c := New(disk, nbuf, nbucket)

	rng := rand.New(rand.NewSource(1))
	var held []*Handle
	for i := 0; i < 500; i++ {
		if len(held) > 0 && (rng.Intn(2) == 0 || len(held) >= nbuf) {
			idx := rng.Intn(len(held))
			c.Release(held[idx])
			held = append(held[:idx], held[idx+1:]...)
			continue
		}
		block := uint64(rng.Intn(nbucket * 3))
		// Reading a block this goroutine already holds would block
		// forever on that buffer's sleep-lock, so such draws are skipped.
		alreadyHeld := false
		for _, h := range held {
			if h.Key() == key(block) {
				alreadyHeld = true
			}
		}
		if alreadyHeld {
			continue
		}
		held = append(held, c.Read(key(block)))
	}
	for _, h := range held {
		c.Release(h)
	}

	for i := range c.bufs {
		b := &c.bufs[i]
		count := 0
		for j := range c.buckets {
			if reachableFromHead(&c.buckets[j].head, b) {
				count++
			}
		}
		require.Equal(t, 1, count, "buffer %d must be reachable from exactly one bucket", i)
	}
}

// TestResidentBufferLivesInItsKeyBucket is spec.md §8 Invariant 2: any
// buffer with refcount > 0 after a successful Read sits in the bucket
// matching its current key's hash, even if it arrived there by borrow.
func TestResidentBufferLivesInItsKeyBucket(t *testing.T) {
	disk := diskio.NewMemDisk(BSize)
	nbucket := 3
	c := New(disk, 6, nbucket)

	var held []*Handle
	for block := uint64(0); block < 6; block++ {
		held = append(held, c.Read(key(block)))
	}

	for _, h := range held {
		wantIdx := h.Key().Bucket(nbucket)
		require.True(t, reachableFromHead(&c.buckets[wantIdx].head, h.buf))
	}
	for _, h := range held {
		c.Release(h)
	}
}

// TestReadReleaseReadIdempotence is spec.md §8's round-trip law:
// Read, Release, Read with no intervening eviction returns the same
// buffer with Valid()==true and costs no second disk read.
func TestReadReleaseReadIdempotence(t *testing.T) {
	disk := diskio.NewMemDisk(BSize)
	c := New(disk, 4, 2)

	h1 := c.Read(key(9))
	c.Release(h1)
	h2 := c.Read(key(9))
	defer c.Release(h2)

	require.Same(t, h1.buf, h2.buf)
	require.True(t, h2.Valid())
	require.Equal(t, 1, disk.Reads())
}
