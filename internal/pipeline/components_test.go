package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

func TestSelectDeviceNoPlatforms(t *testing.T) {
	drv := newFaultyDriver("Platforms")
	_, err := SelectDevice(drv, device.DeviceTypeAll)
	require.ErrorIs(t, err, fault.ErrPlatformUnavailable)
	assert.Equal(t, int(device.OutOfResources), fault.Code(err))
}

func TestSelectDevicePrefersFirstOfClass(t *testing.T) {
	drv := device.NewHost(device.HostConfig{
		Devices: []device.DeviceType{device.DeviceTypeCPU, device.DeviceTypeGPU, device.DeviceTypeGPU},
	})

	dev, err := SelectDevice(drv, device.DeviceTypeGPU)
	require.NoError(t, err)
	assert.Equal(t, device.DeviceTypeGPU, dev.Info.Type)
	assert.Contains(t, dev.Info.Name, "device 1")

	dev, err = SelectDevice(drv, device.DeviceTypeAll)
	require.NoError(t, err)
	assert.Equal(t, device.DeviceTypeCPU, dev.Info.Type)
}

func TestExecContextCloseTwice(t *testing.T) {
	drv := newFaultyDriver("")
	dev, err := SelectDevice(drv, device.DeviceTypeDefault)
	require.NoError(t, err)
	ec, err := NewExecContext(drv, dev)
	require.NoError(t, err)
	assert.Equal(t, 2, drv.Live())

	require.NoError(t, ec.Close())
	require.NoError(t, ec.Close())
	assert.Zero(t, drv.Live())
	assert.Equal(t, 1, drv.called("ReleaseQueue"))
}

func TestLoadSource(t *testing.T) {
	dir := t.TempDir()
	b := Builder{MaxSourceBytes: 32}

	exact := filepath.Join(dir, "exact.cl")
	require.NoError(t, os.WriteFile(exact, bytes.Repeat([]byte("x"), 32), 0o644))
	src, err := b.LoadSource(exact)
	require.NoError(t, err)
	assert.Len(t, src, 32)

	big := filepath.Join(dir, "big.cl")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte("x"), 33), 0o644))
	_, err = b.LoadSource(big)
	assert.ErrorIs(t, err, fault.ErrSourceTooLarge)

	_, err = b.LoadSource(filepath.Join(dir, "missing.cl"))
	assert.ErrorIs(t, err, fault.ErrIO)
}

func TestBuildResolvesEntry(t *testing.T) {
	drv := newFaultyDriver("")
	ec := newTestExec(t, drv)

	prog, err := Builder{}.Build(ec, kernelSource(t, "blur"), "blur")
	require.NoError(t, err)
	assert.Equal(t, "blur", prog.Entry())

	require.NoError(t, prog.Close())
	require.NoError(t, prog.Close())
	assert.Equal(t, 1, drv.called("ReleaseKernel"))
}

func TestBufferTransfers(t *testing.T) {
	drv := newFaultyDriver("")
	ec := newTestExec(t, drv)

	in, err := Allocate(ec, 4, ReadOnly)
	require.NoError(t, err)
	defer in.Release()
	assert.Equal(t, 4, in.Size())
	assert.Equal(t, ReadOnly, in.Mode())

	err = Upload(ec, in, []byte{1, 2, 3})
	require.ErrorIs(t, err, fault.ErrSizeMismatch)
	assert.Zero(t, drv.called("WriteBuffer"))

	require.NoError(t, Upload(ec, in, []byte{1, 2, 3, 4}))

	got, err := Download(ec, in, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got)

	_, err = Download(ec, in, 5)
	assert.ErrorIs(t, err, fault.ErrSizeMismatch)
}

func TestAllocateRejects(t *testing.T) {
	ec := newTestExec(t, newFaultyDriver(""))

	_, err := Allocate(ec, 0, ReadOnly)
	assert.ErrorIs(t, err, fault.ErrAllocationFailed)

	_, err = Allocate(ec, 8, AccessMode(9))
	assert.ErrorIs(t, err, fault.ErrAllocationFailed)

	_, err = Allocate(ec, 2<<30, WriteOnly)
	assert.ErrorIs(t, err, fault.ErrAllocationFailed)
}

func TestSignatureBind(t *testing.T) {
	ec := newTestExec(t, newFaultyDriver(""))

	ro, err := Allocate(ec, 4, ReadOnly)
	require.NoError(t, err)
	defer ro.Release()
	wo, err := Allocate(ec, 4, WriteOnly)
	require.NoError(t, err)
	defer wo.Release()

	sig := ImageFilterSignature("blur")
	good := []Arg{BufferArg(ro), BufferArg(ro), BufferArg(wo), Int32Arg(2), Int32Arg(2), Int32Arg(3)}

	b, err := sig.Bind(good...)
	require.NoError(t, err)
	assert.Equal(t, "blur", b.Signature().Entry)

	tests := []struct {
		name string
		args []Arg
		msg  string
	}{
		{"too few", good[:5], "got 5 arguments"},
		{"wrong kind", []Arg{BufferArg(ro), BufferArg(ro), BufferArg(wo), Float32Arg(2), Int32Arg(2), Int32Arg(3)}, "got float32, want int32"},
		{"wrong access", []Arg{BufferArg(wo), BufferArg(ro), BufferArg(wo), Int32Arg(2), Int32Arg(2), Int32Arg(3)}, "buffer is write-only"},
		{"wrong size", []Arg{BufferArg(ro), BufferArg(ro), BufferArg(wo), RawArg(ArgInt32, []byte{1, 2}), Int32Arg(2), Int32Arg(3)}, "2 bytes, want 4"},
		{"nil buffer", []Arg{BufferArg(nil), BufferArg(ro), BufferArg(wo), Int32Arg(2), Int32Arg(2), Int32Arg(3)}, "not allocated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sig.Bind(tt.args...)
			require.ErrorIs(t, err, fault.ErrArgumentBindFailed)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestApplyRejectsForeignBinding(t *testing.T) {
	ec := newTestExec(t, newFaultyDriver(""))
	prog, err := Builder{}.Build(ec, kernelSource(t, "identity"), "identity")
	require.NoError(t, err)
	defer prog.Close()

	buf, err := Allocate(ec, 4, ReadOnly)
	require.NoError(t, err)
	defer buf.Release()
	out, err := Allocate(ec, 4, WriteOnly)
	require.NoError(t, err)
	defer out.Release()

	b, err := ImageFilterSignature("blur").Bind(BufferArg(buf), BufferArg(buf), BufferArg(out), Int32Arg(2), Int32Arg(2), Int32Arg(1))
	require.NoError(t, err)
	assert.ErrorIs(t, Apply(prog, b), fault.ErrArgumentBindFailed)
}

func TestDispatchRejectsEmptySpace(t *testing.T) {
	drv := newFaultyDriver("")
	ec := newTestExec(t, drv)
	prog, err := Builder{}.Build(ec, kernelSource(t, "identity"), "identity")
	require.NoError(t, err)
	defer prog.Close()

	err = Dispatch(ec, prog, IndexSpace{Width: 0, Height: 4})
	require.ErrorIs(t, err, fault.ErrDispatchFailed)
	assert.Zero(t, drv.called("EnqueueNDRange"))
}

func TestBoxFilter(t *testing.T) {
	f, err := BoxFilter(5)
	require.NoError(t, err)
	require.Len(t, f.Weights, 25)

	var sum float32
	for _, w := range f.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Len(t, f.Bytes(), 100)

	for _, size := range []int{0, -3, 4} {
		_, err := BoxFilter(size)
		assert.ErrorIs(t, err, fault.ErrConfigInvalid, "size %d", size)
	}

	bad := Filter{Size: 3, Weights: make([]float32, 8)}
	assert.ErrorIs(t, bad.Validate(), fault.ErrConfigInvalid)
}
