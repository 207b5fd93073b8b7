package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

// ErrPipelineUsed is returned by Run on a pipeline that already ran.
var ErrPipelineUsed = errors.New("pipeline: already run")

// Job is one filter pass over a grayscale image.
type Job struct {
	Source []byte
	Entry  string

	// Pixels holds Width×Height 8-bit samples, row-major.
	Pixels []byte
	Width  int
	Height int

	Filter Filter
}

// Result is the downloaded output image.
type Result struct {
	Pixels []byte
	Width  int
	Height int

	Device Device
	// Stages records how long each transition took.
	Stages []StageEvent
}

// Pipeline runs the offload sequence once and owns every device handle it
// acquires.
type Pipeline struct {
	drv      device.Driver
	class    device.DeviceType
	builder  Builder
	logger   *slog.Logger
	observer Observer

	stage Stage
	last  time.Time
	used  bool
	trace []StageEvent
	dev   Device

	ec     *ExecContext
	prog   *Program
	input  *Buffer
	filter *Buffer
	output *Buffer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeviceClass restricts device selection to class.
func WithDeviceClass(class device.DeviceType) Option {
	return func(p *Pipeline) { p.class = class }
}

// WithMaxSourceBytes sets the kernel source size limit.
func WithMaxSourceBytes(n int) Option {
	return func(p *Pipeline) { p.builder.MaxSourceBytes = n }
}

// WithLogger sets the logger used for stage and teardown messages.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver registers a callback for stage transitions.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New creates a pipeline on drv. The default device class is Default.
func New(drv device.Driver, opts ...Option) *Pipeline {
	p := &Pipeline{
		drv:    drv,
		class:  device.DeviceTypeDefault,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Device returns the selected device, zero until selection succeeded.
func (p *Pipeline) Device() Device {
	return p.dev
}

// Stage returns the current state.
func (p *Pipeline) Stage() Stage {
	return p.stage
}

// Run executes select, context, build, allocate, upload, bind, dispatch and
// download in that order. Every acquired handle is released before Run
// returns, on success and on failure alike.
func (p *Pipeline) Run(job Job) (res Result, err error) {
	if p.used {
		return Result{}, ErrPipelineUsed
	}
	p.used = true
	p.last = time.Now()

	defer func() {
		p.teardown(err)
		if err == nil {
			res.Stages = append([]StageEvent(nil), p.trace...)
		}
	}()

	if err := job.Filter.Validate(); err != nil {
		return Result{}, err
	}
	if job.Width <= 0 || job.Height <= 0 {
		return Result{}, fault.Newf(fault.SizeMismatch, "job", "invalid image dimensions %dx%d", job.Width, job.Height)
	}
	n := job.Width * job.Height

	dev, err := SelectDevice(p.drv, p.class)
	if err != nil {
		return Result{}, err
	}
	p.dev = dev
	p.logger.Debug("device selected",
		"platform", dev.PlatformInfo.Name,
		"device", dev.Info.Name,
		"type", string(dev.Info.Type),
	)
	p.advance(StageDeviceSelected)

	if p.ec, err = NewExecContext(p.drv, dev); err != nil {
		return Result{}, err
	}
	p.advance(StageContextReady)

	if p.prog, err = p.builder.Build(p.ec, job.Source, job.Entry); err != nil {
		var ferr *fault.Error
		if errors.As(err, &ferr) && ferr.Log != "" {
			p.logger.Error("kernel build log", "entry", job.Entry, "log", ferr.Log)
		}
		return Result{}, err
	}
	p.advance(StageProgramBuilt)

	weights := job.Filter.Bytes()
	if p.input, err = Allocate(p.ec, n, ReadOnly); err != nil {
		return Result{}, err
	}
	if p.filter, err = Allocate(p.ec, len(weights), ReadOnly); err != nil {
		return Result{}, err
	}
	if p.output, err = Allocate(p.ec, n, WriteOnly); err != nil {
		return Result{}, err
	}
	p.logger.Debug("buffers allocated",
		"image", humanize.Bytes(uint64(n)),
		"filter", humanize.Bytes(uint64(len(weights))),
	)
	p.advance(StageBuffersAllocated)

	if err = Upload(p.ec, p.input, job.Pixels); err != nil {
		return Result{}, err
	}
	if err = Upload(p.ec, p.filter, weights); err != nil {
		return Result{}, err
	}
	p.advance(StageInputUploaded)

	binding, err := ImageFilterSignature(job.Entry).Bind(
		BufferArg(p.input),
		BufferArg(p.filter),
		BufferArg(p.output),
		Int32Arg(int32(job.Width)),
		Int32Arg(int32(job.Height)),
		Int32Arg(int32(job.Filter.Size)),
	)
	if err != nil {
		return Result{}, err
	}
	if err = Apply(p.prog, binding); err != nil {
		return Result{}, err
	}
	if err = Dispatch(p.ec, p.prog, IndexSpace{Width: job.Width, Height: job.Height}); err != nil {
		return Result{}, err
	}
	p.advance(StageDispatched)

	out, err := Download(p.ec, p.output, n)
	if err != nil {
		return Result{}, err
	}
	p.advance(StageOutputDownloaded)

	return Result{Pixels: out, Width: job.Width, Height: job.Height, Device: dev}, nil
}

func (p *Pipeline) advance(to Stage) {
	if to != p.stage+1 {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", p.stage, to))
	}
	p.stage = to
	p.emit(StageEvent{Stage: to}, nil)
}

func (p *Pipeline) emit(ev StageEvent, err error) {
	now := time.Now()
	ev.At = now
	ev.Elapsed = now.Sub(p.last)
	ev.Err = err
	p.last = now
	p.trace = append(p.trace, ev)

	if err != nil {
		p.logger.Debug(ev.Stage.String(), "elapsed", ev.Elapsed, "error", err)
	} else {
		p.logger.Debug(ev.Stage.String()+" OK", "elapsed", ev.Elapsed)
	}
	if p.observer != nil {
		p.observer(ev)
	}
}

// teardown releases what was acquired, most recent first. Release failures
// are logged and never replace the error that caused the teardown.
func (p *Pipeline) teardown(cause error) {
	if p.stage == StageTornDown {
		return
	}

	release := func(what string, fn func() error) {
		if err := fn(); err != nil {
			p.logger.Warn("release failed", "resource", what, "error", err)
		}
	}
	release("output buffer", p.output.Release)
	release("filter buffer", p.filter.Release)
	release("input buffer", p.input.Release)
	release("program", p.prog.Close)
	release("context", p.ec.Close)

	p.stage = StageTornDown
	p.emit(StageEvent{Stage: StageTornDown}, cause)
}
