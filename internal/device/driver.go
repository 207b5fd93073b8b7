// Package device is the boundary between the offload pipeline and a compute
// runtime. A Driver exposes the small slice of the OpenCL host API the
// pipeline needs, with every resource identified by an opaque handle.
//
// Two drivers are provided: the cgo OpenCL driver (built with -tags gpu) and
// a pure-Go host driver that runs the bundled kernels on the CPU.
package device

import (
	"errors"
	"fmt"
	"strings"
)

// Driver is a compute runtime. All calls are made from a single goroutine.
// Every Create* result must be released exactly once with the matching
// Release* call; releasing an unknown or already released handle returns a
// StatusError.
type Driver interface {
	// Name identifies the driver ("opencl", "host").
	Name() string

	Platforms() ([]PlatformID, error)
	PlatformInfo(p PlatformID) (PlatformInfo, error)
	// Devices lists devices of the given class on p. An empty result is
	// reported as a DeviceNotFound StatusError, as clGetDeviceIDs does.
	Devices(p PlatformID, class DeviceType) ([]DeviceID, error)
	DeviceInfo(d DeviceID) (DeviceInfo, error)

	CreateContext(d DeviceID) (ContextID, error)
	// CreateQueue creates an in-order command queue.
	CreateQueue(c ContextID, d DeviceID) (QueueID, error)

	// BuildProgram compiles source for d. A compile failure returns a
	// *BuildError carrying the build log; the program is not retained.
	BuildProgram(c ContextID, d DeviceID, source []byte) (ProgramID, error)
	CreateKernel(p ProgramID, name string) (KernelID, error)

	CreateBuffer(c ContextID, flags MemFlags, size int) (MemID, error)
	// WriteBuffer is a blocking write of len(data) bytes at offset 0.
	WriteBuffer(q QueueID, m MemID, data []byte) error
	// ReadBuffer is a blocking read of len(dst) bytes from offset 0.
	ReadBuffer(q QueueID, m MemID, dst []byte) error

	SetKernelArgMem(k KernelID, index int, m MemID) error
	// SetKernelArgValue binds a by-value argument; len(value) is the size
	// descriptor passed to the device.
	SetKernelArgValue(k KernelID, index int, value []byte) error
	EnqueueNDRange(q QueueID, k KernelID, global []int) error

	Flush(q QueueID) error
	Finish(q QueueID) error

	ReleaseMem(m MemID) error
	ReleaseKernel(k KernelID) error
	ReleaseProgram(p ProgramID) error
	ReleaseQueue(q QueueID) error
	ReleaseContext(c ContextID) error
}

// Driver names accepted by Open.
const (
	DriverAuto   = "auto"
	DriverOpenCL = "opencl"
	DriverHost   = "host"
)

var (
	// ErrUnknownDriver is returned when the name does not match a known driver.
	ErrUnknownDriver = errors.New("unknown device driver")
	// ErrNotBuilt indicates the binary was built without OpenCL support.
	ErrNotBuilt = errors.New("opencl support requires building with '-tags gpu'")
)

// Options tune driver construction.
type Options struct {
	// HostMaxWorkSize caps each global dimension on the host driver.
	HostMaxWorkSize int
}

// Open constructs the named driver. "auto" picks OpenCL when compiled in and
// at least one platform is installed, and falls back to the host driver
// otherwise.
func Open(name string, opts Options) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DriverOpenCL, "cl", "gpu":
		return NewOpenCL()
	case DriverHost, "cpu":
		return NewHost(HostConfig{MaxWorkSize: opts.HostMaxWorkSize}), nil
	case DriverAuto, "":
		if drv, err := NewOpenCL(); err == nil {
			if ps, err := drv.Platforms(); err == nil && len(ps) > 0 {
				return drv, nil
			}
		}
		return NewHost(HostConfig{MaxWorkSize: opts.HostMaxWorkSize}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}
}

// EnumeratePlatforms returns discovered platforms with their devices.
func EnumeratePlatforms(drv Driver) ([]PlatformInfo, error) {
	platforms, err := drv.Platforms()
	if err != nil {
		return nil, err
	}

	out := make([]PlatformInfo, 0, len(platforms))
	for _, pid := range platforms {
		info, err := drv.PlatformInfo(pid)
		if err != nil {
			return nil, err
		}

		devices, err := drv.Devices(pid, DeviceTypeAll)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Status == DeviceNotFound {
				out = append(out, info)
				continue
			}
			return nil, err
		}

		for _, did := range devices {
			dinfo, err := drv.DeviceInfo(did)
			if err != nil {
				return nil, err
			}
			info.Devices = append(info.Devices, dinfo)
		}
		out = append(out, info)
	}
	return out, nil
}
