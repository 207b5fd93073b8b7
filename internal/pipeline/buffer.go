package pipeline

import (
	"fmt"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

// AccessMode is the device-side access of a buffer.
type AccessMode int

const (
	// ReadOnly buffers carry host data to the device.
	ReadOnly AccessMode = iota + 1
	// WriteOnly buffers carry device results back to the host.
	WriteOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	default:
		return fmt.Sprintf("AccessMode(%d)", int(m))
	}
}

func (m AccessMode) memFlags() device.MemFlags {
	if m == WriteOnly {
		return device.MemWriteOnly
	}
	return device.MemReadOnly
}

// Buffer is a fixed-size region of device memory.
type Buffer struct {
	drv  device.Driver
	mem  device.MemID
	size int
	mode AccessMode
}

// Size returns the allocated size in bytes.
func (b *Buffer) Size() int { return b.size }

// Mode returns the access mode fixed at allocation.
func (b *Buffer) Mode() AccessMode { return b.mode }

// Allocate creates a device buffer of size bytes.
func Allocate(ec *ExecContext, size int, mode AccessMode) (*Buffer, error) {
	if mode != ReadOnly && mode != WriteOnly {
		return nil, fault.Newf(fault.AllocationFailed, "allocate buffer", "invalid access mode %s", mode)
	}
	if size <= 0 {
		return nil, fault.Newf(fault.AllocationFailed, "allocate buffer", "invalid size %d", size)
	}

	mem, err := ec.drv.CreateBuffer(ec.context, mode.memFlags(), size)
	if err != nil {
		return nil, fault.New(fault.AllocationFailed, fmt.Sprintf("allocate %s buffer", mode), err)
	}
	return &Buffer{drv: ec.drv, mem: mem, size: size, mode: mode}, nil
}

// Upload copies data into buf and returns once the device has it.
// len(data) must equal buf.Size(); nothing is transferred otherwise.
func Upload(ec *ExecContext, buf *Buffer, data []byte) error {
	if len(data) != buf.size {
		return fault.Newf(fault.SizeMismatch, "upload", "host data is %d bytes, buffer is %d", len(data), buf.size)
	}
	if err := ec.drv.WriteBuffer(ec.queue, buf.mem, data); err != nil {
		return fault.New(fault.TransferFailed, "upload", err)
	}
	return nil
}

// Download reads n bytes from buf once all prior queue work completed.
func Download(ec *ExecContext, buf *Buffer, n int) ([]byte, error) {
	if n < 0 || n > buf.size {
		return nil, fault.Newf(fault.SizeMismatch, "download", "requested %d bytes, buffer is %d", n, buf.size)
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if err := ec.drv.ReadBuffer(ec.queue, buf.mem, out); err != nil {
		return nil, fault.New(fault.TransferFailed, "download", err)
	}
	return out, nil
}

// Release frees the device memory. It is safe to call more than once.
func (b *Buffer) Release() error {
	if b == nil || b.mem == 0 {
		return nil
	}
	err := b.drv.ReleaseMem(b.mem)
	b.mem = 0
	return err
}
