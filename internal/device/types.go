package device

import (
	"fmt"
	"strings"
)

// DeviceType describes the class of a compute device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeAll         DeviceType = "All"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// ParseDeviceType maps user input (case-insensitive) to a DeviceType.
func ParseDeviceType(name string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gpu":
		return DeviceTypeGPU, nil
	case "cpu":
		return DeviceTypeCPU, nil
	case "accelerator", "acc":
		return DeviceTypeAccelerator, nil
	case "default", "":
		return DeviceTypeDefault, nil
	case "all", "any":
		return DeviceTypeAll, nil
	default:
		return DeviceTypeUnknown, fmt.Errorf("unknown device class %q", name)
	}
}

// Matches reports whether a device of type t satisfies a request for class.
func (t DeviceType) Matches(class DeviceType) bool {
	switch class {
	case DeviceTypeAll:
		return true
	case DeviceTypeDefault:
		return t != DeviceTypeUnknown
	default:
		return t == class
	}
}

// DeviceInfo captures metadata about a compute device.
type DeviceInfo struct {
	Name            string     `json:"name"`
	Vendor          string     `json:"vendor"`
	Version         string     `json:"version"`
	Type            DeviceType `json:"type"`
	MaxComputeUnits uint32     `json:"maxComputeUnits"`
	GlobalMemBytes  uint64     `json:"globalMemBytes"`
	// MaxWorkSize is the largest global size accepted per dimension, 0 if unbounded.
	MaxWorkSize int `json:"maxWorkSize,omitempty"`
}

// PlatformInfo captures metadata about a platform and its devices.
type PlatformInfo struct {
	Name    string       `json:"name"`
	Vendor  string       `json:"vendor"`
	Version string       `json:"version"`
	Devices []DeviceInfo `json:"devices,omitempty"`
}

// MemFlags is the device-side access mode of a buffer.
type MemFlags int

const (
	MemReadOnly MemFlags = iota + 1
	MemWriteOnly
	MemReadWrite
)

func (m MemFlags) String() string {
	switch m {
	case MemReadOnly:
		return "read-only"
	case MemWriteOnly:
		return "write-only"
	case MemReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("MemFlags(%d)", int(m))
	}
}

// Opaque handles issued by a Driver. The zero value is never a live handle.
type (
	PlatformID uint64
	DeviceID   uint64
	ContextID  uint64
	QueueID    uint64
	ProgramID  uint64
	KernelID   uint64
	MemID      uint64
)
