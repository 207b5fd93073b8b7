package pipeline

import (
	"fmt"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

// Device is a selected compute device.
type Device struct {
	ID       device.DeviceID
	Platform device.PlatformID

	PlatformInfo device.PlatformInfo
	Info         device.DeviceInfo
}

// SelectDevice picks the first device of class on the first platform.
func SelectDevice(drv device.Driver, class device.DeviceType) (Device, error) {
	platforms, err := drv.Platforms()
	if err != nil {
		return Device{}, fault.New(fault.PlatformUnavailable, "enumerate platforms", err)
	}
	if len(platforms) == 0 {
		return Device{}, fault.Newf(fault.PlatformUnavailable, "enumerate platforms", "no platforms found on driver %q", drv.Name())
	}

	platform := platforms[0]
	pinfo, err := drv.PlatformInfo(platform)
	if err != nil {
		return Device{}, fault.New(fault.PlatformUnavailable, "query platform", err)
	}

	devices, err := drv.Devices(platform, class)
	if err != nil {
		return Device{}, fault.New(fault.DeviceUnavailable, fmt.Sprintf("enumerate %s devices", class), err)
	}
	if len(devices) == 0 {
		return Device{}, fault.Newf(fault.DeviceUnavailable, "enumerate devices", "no %s device on platform %q", class, pinfo.Name)
	}

	info, err := drv.DeviceInfo(devices[0])
	if err != nil {
		return Device{}, fault.New(fault.DeviceUnavailable, "query device", err)
	}

	return Device{
		ID:           devices[0],
		Platform:     platform,
		PlatformInfo: pinfo,
		Info:         info,
	}, nil
}
