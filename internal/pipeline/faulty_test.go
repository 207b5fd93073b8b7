package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwbudde/clblur/internal/device"
)

// faultyDriver wraps the host driver, records every call and fails the
// configured one. Release errors are collected so tests can assert that no
// handle was released twice.
type faultyDriver struct {
	*device.Host

	failOn  string
	failNth int // 1-based; 0 fails the first call
	status  device.Status

	seen        map[string]int
	calls       []string
	releaseErrs []error
}

func newFaultyDriver(failOn string) *faultyDriver {
	return &faultyDriver{
		Host:   device.NewHost(device.HostConfig{}),
		failOn: failOn,
		status: device.OutOfResources,
		seen:   make(map[string]int),
	}
}

func (d *faultyDriver) hit(name string) error {
	d.calls = append(d.calls, name)
	d.seen[name]++
	if name != d.failOn {
		return nil
	}
	if d.failNth > 0 && d.seen[name] != d.failNth {
		return nil
	}
	return &device.StatusError{Call: name, Status: d.status}
}

func (d *faultyDriver) called(name string) int {
	return d.seen[name]
}

func (d *faultyDriver) Platforms() ([]device.PlatformID, error) {
	if err := d.hit("Platforms"); err != nil {
		return nil, err
	}
	return d.Host.Platforms()
}

func (d *faultyDriver) Devices(p device.PlatformID, class device.DeviceType) ([]device.DeviceID, error) {
	if err := d.hit("Devices"); err != nil {
		return nil, err
	}
	return d.Host.Devices(p, class)
}

func (d *faultyDriver) CreateContext(dev device.DeviceID) (device.ContextID, error) {
	if err := d.hit("CreateContext"); err != nil {
		return 0, err
	}
	return d.Host.CreateContext(dev)
}

func (d *faultyDriver) CreateQueue(c device.ContextID, dev device.DeviceID) (device.QueueID, error) {
	if err := d.hit("CreateQueue"); err != nil {
		return 0, err
	}
	return d.Host.CreateQueue(c, dev)
}

func (d *faultyDriver) BuildProgram(c device.ContextID, dev device.DeviceID, source []byte) (device.ProgramID, error) {
	if err := d.hit("BuildProgram"); err != nil {
		return 0, err
	}
	return d.Host.BuildProgram(c, dev, source)
}

func (d *faultyDriver) CreateKernel(p device.ProgramID, name string) (device.KernelID, error) {
	if err := d.hit("CreateKernel"); err != nil {
		return 0, err
	}
	return d.Host.CreateKernel(p, name)
}

func (d *faultyDriver) CreateBuffer(c device.ContextID, flags device.MemFlags, size int) (device.MemID, error) {
	if err := d.hit("CreateBuffer"); err != nil {
		return 0, err
	}
	return d.Host.CreateBuffer(c, flags, size)
}

func (d *faultyDriver) WriteBuffer(q device.QueueID, m device.MemID, data []byte) error {
	if err := d.hit("WriteBuffer"); err != nil {
		return err
	}
	return d.Host.WriteBuffer(q, m, data)
}

func (d *faultyDriver) ReadBuffer(q device.QueueID, m device.MemID, dst []byte) error {
	if err := d.hit("ReadBuffer"); err != nil {
		return err
	}
	return d.Host.ReadBuffer(q, m, dst)
}

func (d *faultyDriver) SetKernelArgMem(k device.KernelID, index int, m device.MemID) error {
	if err := d.hit("SetKernelArgMem"); err != nil {
		return err
	}
	return d.Host.SetKernelArgMem(k, index, m)
}

func (d *faultyDriver) SetKernelArgValue(k device.KernelID, index int, value []byte) error {
	if err := d.hit("SetKernelArgValue"); err != nil {
		return err
	}
	return d.Host.SetKernelArgValue(k, index, value)
}

func (d *faultyDriver) EnqueueNDRange(q device.QueueID, k device.KernelID, global []int) error {
	if err := d.hit("EnqueueNDRange"); err != nil {
		return err
	}
	return d.Host.EnqueueNDRange(q, k, global)
}

func (d *faultyDriver) release(name string, fn func() error) error {
	if err := d.hit(name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		d.releaseErrs = append(d.releaseErrs, err)
		return err
	}
	return nil
}

func (d *faultyDriver) ReleaseMem(m device.MemID) error {
	return d.release("ReleaseMem", func() error { return d.Host.ReleaseMem(m) })
}

func (d *faultyDriver) ReleaseKernel(k device.KernelID) error {
	return d.release("ReleaseKernel", func() error { return d.Host.ReleaseKernel(k) })
}

func (d *faultyDriver) ReleaseProgram(p device.ProgramID) error {
	return d.release("ReleaseProgram", func() error { return d.Host.ReleaseProgram(p) })
}

func (d *faultyDriver) ReleaseQueue(q device.QueueID) error {
	return d.release("ReleaseQueue", func() error { return d.Host.ReleaseQueue(q) })
}

func (d *faultyDriver) ReleaseContext(c device.ContextID) error {
	return d.release("ReleaseContext", func() error { return d.Host.ReleaseContext(c) })
}

func kernelSource(t *testing.T, name string) []byte {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("..", "..", "kernels", name+".cl"))
	require.NoError(t, err)
	return src
}

func newTestExec(t *testing.T, drv device.Driver) *ExecContext {
	t.Helper()
	dev, err := SelectDevice(drv, device.DeviceTypeDefault)
	require.NoError(t, err)
	ec, err := NewExecContext(drv, dev)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ec.Close() })
	return ec
}
