// Package diskio is the disk-driver collaborator the buffer cache reads
// through and writes through. It knows nothing about buckets, recency,
// or sleep-locks — it only knows how to move one fixed-size block
// between memory and a backing file.
package diskio

import "fmt"

// BlockKey identifies one on-disk block: a device and a block number
// within that device. Two buffers can only be considered the same
// resident block when both fields match.
type BlockKey struct {
	Device uint32
	Block  uint64
}

func (k BlockKey) String() string {
	return fmt.Sprintf("dev%d:blk%d", k.Device, k.Block)
}

// Bucket returns the deterministic shard index for this key under a
// cache with the given bucket count. Buffer cache callers use this
// directly; it is exported so tests can assert on shard placement
// without reaching into package bufcache internals.
func (k BlockKey) Bucket(nbuckets int) int {
	return int(k.Block % uint64(nbuckets))
}
