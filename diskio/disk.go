package diskio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Disk is the synchronous block-transfer primitive the buffer cache
// calls into: read the block into payload, or write payload to the
// block, and return only once the transfer is complete. Implementations
// must not retry or swallow errors — per spec.md's error-handling
// policy, disk errors are assumed-fatal and handled by the driver or
// its caller, never retried here.
type Disk interface {
	ReadWrite(key BlockKey, payload []byte, write bool) error
}

// FileDisk is a Disk backed by one *os.File per device, adapted from
// the teacher's block-oriented file manager: devices are named, blocks
// are fixed-size slices at a deterministic offset, and every write is
// synced before it returns so a completed ReadWrite really means the
// bytes are durable.
type FileDisk struct {
	dir           string
	blockSize     int
	filesMu       sync.Mutex
	files         map[uint32]*os.File
	names         map[uint32]string
	mu            sync.RWMutex
	blocksRead    int
	blocksWritten int
}

// NewFileDisk creates a FileDisk rooted at dir. dir is created if it
// does not already exist.
func NewFileDisk(dir string, blockSize int) (*FileDisk, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("diskio: block size must be positive, got %d", blockSize)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("diskio: failed to create directory %s: %w", dir, err)
	}
	return &FileDisk{
		dir:       dir,
		blockSize: blockSize,
		files:     make(map[uint32]*os.File),
		names:     make(map[uint32]string),
	}, nil
}

// RegisterDevice binds a device id to a backing filename under dir.
// Must be called before the device is used by ReadWrite.
func (d *FileDisk) RegisterDevice(device uint32, filename string) error {
	d.filesMu.Lock()
	defer d.filesMu.Unlock()

	if filename == "" {
		return fmt.Errorf("diskio: empty filename for device %d", device)
	}
	d.names[device] = filename
	return nil
}

func (d *FileDisk) getFile(device uint32) (*os.File, error) {
	d.filesMu.Lock()
	defer d.filesMu.Unlock()

	if f, ok := d.files[device]; ok {
		return f, nil
	}
	name, ok := d.names[device]
	if !ok {
		return nil, fmt.Errorf("diskio: device %d never registered", device)
	}
	path := filepath.Join(d.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskio: failed to open %s: %w", path, err)
	}
	d.files[device] = f
	return f, nil
}

// ReadWrite implements Disk. write==false reads the block into payload;
// write==true writes payload to the block. payload must be exactly
// BlockSize() bytes.
func (d *FileDisk) ReadWrite(key BlockKey, payload []byte, write bool) error {
	if len(payload) != d.blockSize {
		return fmt.Errorf("diskio: payload size %d does not match block size %d", len(payload), d.blockSize)
	}

	f, err := d.getFile(key.Device)
	if err != nil {
		return err
	}
	offset := int64(key.Block) * int64(d.blockSize)

	if write {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.ensureLength(f, offset+int64(d.blockSize)); err != nil {
			return fmt.Errorf("diskio: failed to grow %s for %s: %w", f.Name(), key, err)
		}
		n, err := f.WriteAt(payload, offset)
		if err != nil {
			return fmt.Errorf("diskio: write %s failed: %w", key, err)
		}
		if n != d.blockSize {
			return fmt.Errorf("diskio: short write for %s: wrote %d of %d bytes", key, n, d.blockSize)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("diskio: sync %s failed: %w", f.Name(), err)
		}
		d.blocksWritten++
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := f.ReadAt(payload, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("diskio: read %s failed: %w", key, err)
	}
	for i := n; i < d.blockSize; i++ {
		payload[i] = 0
	}
	d.blocksRead++
	return nil
}

func (d *FileDisk) ensureLength(f *os.File, minSize int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= minSize {
		return nil
	}
	return f.Truncate(minSize)
}

// BlockSize returns the configured block size in bytes.
func (d *FileDisk) BlockSize() int { return d.blockSize }

// BlocksRead returns the cumulative count of completed reads.
func (d *FileDisk) BlocksRead() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocksRead
}

// BlocksWritten returns the cumulative count of completed writes.
func (d *FileDisk) BlocksWritten() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocksWritten
}

// Close closes every open backing file.
func (d *FileDisk) Close() error {
	d.filesMu.Lock()
	defer d.filesMu.Unlock()

	var firstErr error
	for device, f := range d.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("diskio: failed to close device %d: %w", device, err)
		}
		delete(d.files, device)
	}
	return firstErr
}
