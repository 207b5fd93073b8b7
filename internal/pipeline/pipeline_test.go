package pipeline

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

func uniformJob(t *testing.T, entry string, w, h int, value byte) Job {
	t.Helper()
	f, err := BoxFilter(3)
	require.NoError(t, err)
	return Job{
		Source: kernelSource(t, entry),
		Entry:  entry,
		Pixels: bytes.Repeat([]byte{value}, w*h),
		Width:  w,
		Height: h,
		Filter: f,
	}
}

func TestRunIdentity(t *testing.T) {
	drv := newFaultyDriver("")
	var stages []Stage
	p := New(drv, WithObserver(func(ev StageEvent) { stages = append(stages, ev.Stage) }))

	res, err := p.Run(uniformJob(t, "identity", 4, 4, 255))
	require.NoError(t, err)

	assert.Len(t, res.Pixels, 16)
	assert.Equal(t, bytes.Repeat([]byte{255}, 16), res.Pixels)
	assert.Equal(t, 4, res.Width)
	assert.Equal(t, 4, res.Height)
	assert.Equal(t, device.DeviceTypeCPU, res.Device.Info.Type)

	assert.Equal(t, []Stage{
		StageDeviceSelected,
		StageContextReady,
		StageProgramBuilt,
		StageBuffersAllocated,
		StageInputUploaded,
		StageDispatched,
		StageOutputDownloaded,
		StageTornDown,
	}, stages)
	assert.Len(t, res.Stages, len(stages))
	assert.Equal(t, StageTornDown, p.Stage())

	assert.Zero(t, drv.Live(), "handles left after teardown")
	assert.Empty(t, drv.releaseErrs)
}

func TestRunIdempotent(t *testing.T) {
	pixels := []byte{
		0, 10, 20, 30, 40,
		50, 60, 70, 80, 90,
		100, 110, 120, 130, 140,
		150, 160, 170, 180, 190,
	}

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		job := uniformJob(t, "blur", 5, 4, 0)
		job.Pixels = pixels
		res, err := New(newFaultyDriver("")).Run(job)
		require.NoError(t, err)
		require.Len(t, res.Pixels, len(pixels))
		outputs = append(outputs, res.Pixels)
	}
	assert.Equal(t, outputs[0], outputs[1])
}

func TestRunNegative(t *testing.T) {
	job := uniformJob(t, "negative", 2, 2, 0)
	job.Pixels = []byte{0, 55, 200, 255}

	res, err := New(newFaultyDriver("")).Run(job)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 200, 55, 0}, res.Pixels)
}

func TestRunBlurUniformImage(t *testing.T) {
	res, err := New(newFaultyDriver("")).Run(uniformJob(t, "blur", 6, 5, 128))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{128}, 30), res.Pixels)
}

func TestRunTwiceFails(t *testing.T) {
	p := New(newFaultyDriver(""))
	_, err := p.Run(uniformJob(t, "identity", 2, 2, 1))
	require.NoError(t, err)

	_, err = p.Run(uniformJob(t, "identity", 2, 2, 1))
	assert.ErrorIs(t, err, ErrPipelineUsed)
}

func TestTeardownAfterFailure(t *testing.T) {
	cases := []struct {
		failOn  string
		failNth int
		kind    fault.Kind
		reached Stage
	}{
		{failOn: "Platforms", kind: fault.PlatformUnavailable, reached: StageInit},
		{failOn: "Devices", kind: fault.DeviceUnavailable, reached: StageInit},
		{failOn: "CreateContext", kind: fault.ContextCreationFailed, reached: StageDeviceSelected},
		{failOn: "CreateQueue", kind: fault.QueueCreationFailed, reached: StageDeviceSelected},
		{failOn: "BuildProgram", kind: fault.CompileError, reached: StageContextReady},
		{failOn: "CreateKernel", kind: fault.SymbolNotFound, reached: StageContextReady},
		{failOn: "CreateBuffer", failNth: 1, kind: fault.AllocationFailed, reached: StageProgramBuilt},
		{failOn: "CreateBuffer", failNth: 2, kind: fault.AllocationFailed, reached: StageProgramBuilt},
		{failOn: "CreateBuffer", failNth: 3, kind: fault.AllocationFailed, reached: StageProgramBuilt},
		{failOn: "WriteBuffer", failNth: 1, kind: fault.TransferFailed, reached: StageBuffersAllocated},
		{failOn: "WriteBuffer", failNth: 2, kind: fault.TransferFailed, reached: StageBuffersAllocated},
		{failOn: "SetKernelArgMem", failNth: 3, kind: fault.ArgumentBindFailed, reached: StageInputUploaded},
		{failOn: "SetKernelArgValue", kind: fault.ArgumentBindFailed, reached: StageInputUploaded},
		{failOn: "EnqueueNDRange", kind: fault.DispatchFailed, reached: StageInputUploaded},
		{failOn: "ReadBuffer", kind: fault.TransferFailed, reached: StageDispatched},
	}

	for _, tc := range cases {
		t.Run(tc.failOn, func(t *testing.T) {
			drv := newFaultyDriver(tc.failOn)
			drv.failNth = tc.failNth

			var last Stage
			var final StageEvent
			p := New(drv, WithObserver(func(ev StageEvent) {
				if ev.Stage == StageTornDown {
					final = ev
					return
				}
				last = ev.Stage
			}))

			_, err := p.Run(uniformJob(t, "identity", 4, 4, 255))
			require.Error(t, err)
			assert.Equal(t, tc.kind, fault.KindOf(err), "error: %v", err)
			assert.Equal(t, tc.reached, last)

			assert.Equal(t, StageTornDown, final.Stage)
			assert.Equal(t, err, final.Err)
			assert.Zero(t, drv.Live(), "handles left after teardown")
			assert.Empty(t, drv.releaseErrs, "a handle was released twice")
		})
	}
}

func TestTeardownReleaseFailureKeepsResult(t *testing.T) {
	drv := newFaultyDriver("ReleaseMem")
	drv.failNth = 2

	res, err := New(drv).Run(uniformJob(t, "identity", 2, 2, 9))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, res.Pixels)
	assert.Equal(t, 3, drv.called("ReleaseMem"), "teardown continues past a failed release")
	assert.Equal(t, 1, drv.called("ReleaseContext"))
}

func TestRunCompileErrorCarriesLog(t *testing.T) {
	drv := newFaultyDriver("")
	job := uniformJob(t, "identity", 2, 2, 0)
	job.Source = []byte("__kernel void identity(__global uchar *a) {")

	_, err := New(drv).Run(job)
	require.ErrorIs(t, err, fault.ErrCompile)

	var ferr *fault.Error
	require.True(t, errors.As(err, &ferr))
	assert.Contains(t, ferr.Log, "unbalanced braces")
	assert.Zero(t, drv.Live())
}

func TestRunUnknownEntry(t *testing.T) {
	drv := newFaultyDriver("")
	job := uniformJob(t, "identity", 2, 2, 0)
	job.Entry = "sharpen"

	_, err := New(drv).Run(job)
	require.ErrorIs(t, err, fault.ErrSymbolNotFound)
	assert.Equal(t, 1, drv.called("ReleaseProgram"))
	assert.Zero(t, drv.Live())
}

func TestRunSourceTooLarge(t *testing.T) {
	drv := newFaultyDriver("")
	_, err := New(drv, WithMaxSourceBytes(64)).Run(uniformJob(t, "identity", 2, 2, 0))
	require.ErrorIs(t, err, fault.ErrSourceTooLarge)
	assert.Zero(t, drv.called("BuildProgram"))
	assert.Zero(t, drv.Live())
}

func TestRunPixelCountMismatch(t *testing.T) {
	drv := newFaultyDriver("")
	job := uniformJob(t, "identity", 4, 4, 0)
	job.Pixels = job.Pixels[:15]

	_, err := New(drv).Run(job)
	require.ErrorIs(t, err, fault.ErrSizeMismatch)
	assert.Zero(t, drv.called("WriteBuffer"), "no transfer on size mismatch")
	assert.Zero(t, drv.Live())
}

func TestRunInvalidFilterTouchesNoDevice(t *testing.T) {
	drv := newFaultyDriver("")
	job := uniformJob(t, "identity", 2, 2, 0)
	job.Filter = Filter{Size: 2, Weights: make([]float32, 4)}

	_, err := New(drv).Run(job)
	require.ErrorIs(t, err, fault.ErrConfigInvalid)
	assert.Empty(t, drv.calls)
}

func TestRunNoMatchingDeviceClass(t *testing.T) {
	drv := newFaultyDriver("")
	_, err := New(drv, WithDeviceClass(device.DeviceTypeGPU)).Run(uniformJob(t, "identity", 2, 2, 0))
	require.ErrorIs(t, err, fault.ErrDeviceUnavailable)
	assert.Equal(t, fault.DeviceUnavailable.ExitCode(), fault.ExitCode(err))
	assert.Zero(t, drv.called("CreateContext"))
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "BuffersAllocated", StageBuffersAllocated.String())
	assert.Equal(t, "Stage(42)", Stage(42).String())
}
