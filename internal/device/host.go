package device

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

const (
	defaultHostMaxWorkSize = 16384
	defaultHostGlobalMem   = 1 << 30
)

// HostConfig configures the host driver.
type HostConfig struct {
	// Devices lists the device types exposed on the single host platform.
	// Defaults to one CPU device.
	Devices []DeviceType
	// MaxWorkSize caps each global dimension; 0 selects the default.
	MaxWorkSize int
	// GlobalMemBytes caps the total live buffer size; 0 selects the default.
	GlobalMemBytes uint64
	// Kernels replaces the built-in kernel implementations when non-nil.
	Kernels map[string]HostKernel
}

// Host is a software device that executes kernels as Go functions. Kernel
// source is scanned for __kernel declarations; each declared entry point
// must have a registered HostKernel with a matching parameter list.
type Host struct {
	cfg     HostConfig
	devices []DeviceInfo

	contexts *registry[*hostContext]
	queues   *registry[*hostQueue]
	programs *registry[*hostProgram]
	kernels  *registry[*hostKernelInst]
	mems     *registry[*hostMem]

	allocated uint64
}

type hostContext struct {
	device DeviceID
}

type hostQueue struct {
	context ContextID
}

type hostProgram struct {
	decls map[string][]ParamKind
}

type hostKernelInst struct {
	name   string
	params []ParamKind
	impl   HostKernel
	args   []hostArg
}

type hostArg struct {
	set   bool
	mem   MemID
	value []byte
}

type hostMem struct {
	context ContextID
	flags   MemFlags
	data    []byte
}

// NewHost creates a host driver.
func NewHost(cfg HostConfig) *Host {
	if len(cfg.Devices) == 0 {
		cfg.Devices = []DeviceType{DeviceTypeCPU}
	}
	if cfg.MaxWorkSize <= 0 {
		cfg.MaxWorkSize = defaultHostMaxWorkSize
	}
	if cfg.GlobalMemBytes == 0 {
		cfg.GlobalMemBytes = defaultHostGlobalMem
	}
	if cfg.Kernels == nil {
		cfg.Kernels = BuiltinKernels()
	}

	h := &Host{
		cfg:      cfg,
		contexts: newRegistry[*hostContext](),
		queues:   newRegistry[*hostQueue](),
		programs: newRegistry[*hostProgram](),
		kernels:  newRegistry[*hostKernelInst](),
		mems:     newRegistry[*hostMem](),
	}
	for i, t := range cfg.Devices {
		h.devices = append(h.devices, DeviceInfo{
			Name:            fmt.Sprintf("Go host device %d (%s/%s)", i, runtime.GOOS, runtime.GOARCH),
			Vendor:          "clblur",
			Version:         "OpenCL 1.2 host",
			Type:            t,
			MaxComputeUnits: uint32(runtime.NumCPU()),
			GlobalMemBytes:  cfg.GlobalMemBytes,
			MaxWorkSize:     cfg.MaxWorkSize,
		})
	}
	return h
}

func (h *Host) Name() string { return DriverHost }

// Live returns the number of handles not yet released.
func (h *Host) Live() int {
	return h.contexts.len() + h.queues.len() + h.programs.len() + h.kernels.len() + h.mems.len()
}

const hostPlatform PlatformID = 1

func (h *Host) Platforms() ([]PlatformID, error) {
	return []PlatformID{hostPlatform}, nil
}

func (h *Host) PlatformInfo(p PlatformID) (PlatformInfo, error) {
	if p != hostPlatform {
		return PlatformInfo{}, statusError("clGetPlatformInfo", InvalidPlatform)
	}
	return PlatformInfo{Name: "Go Host Platform", Vendor: "clblur", Version: "OpenCL 1.2 host"}, nil
}

func (h *Host) Devices(p PlatformID, class DeviceType) ([]DeviceID, error) {
	if p != hostPlatform {
		return nil, statusError("clGetDeviceIDs", InvalidPlatform)
	}
	var out []DeviceID
	for i, info := range h.devices {
		if info.Type.Matches(class) {
			out = append(out, DeviceID(i+1))
		}
	}
	if len(out) == 0 {
		return nil, statusError("clGetDeviceIDs", DeviceNotFound)
	}
	return out, nil
}

func (h *Host) DeviceInfo(d DeviceID) (DeviceInfo, error) {
	if d == 0 || int(d) > len(h.devices) {
		return DeviceInfo{}, statusError("clGetDeviceInfo", InvalidDevice)
	}
	return h.devices[d-1], nil
}

func (h *Host) CreateContext(d DeviceID) (ContextID, error) {
	if _, err := h.DeviceInfo(d); err != nil {
		return 0, statusError("clCreateContext", InvalidDevice)
	}
	return ContextID(h.contexts.add(&hostContext{device: d})), nil
}

func (h *Host) CreateQueue(c ContextID, d DeviceID) (QueueID, error) {
	ctx, ok := h.contexts.get(uint64(c))
	if !ok {
		return 0, statusError("clCreateCommandQueue", InvalidContext)
	}
	if ctx.device != d {
		return 0, statusError("clCreateCommandQueue", InvalidDevice)
	}
	return QueueID(h.queues.add(&hostQueue{context: c})), nil
}

var (
	kernelDeclRe   = regexp.MustCompile(`(?s)(?:__kernel|kernel)\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func (h *Host) BuildProgram(c ContextID, d DeviceID, source []byte) (ProgramID, error) {
	if _, ok := h.contexts.get(uint64(c)); !ok {
		return 0, statusError("clCreateProgramWithSource", InvalidContext)
	}
	if _, err := h.DeviceInfo(d); err != nil {
		return 0, statusError("clBuildProgram", InvalidDevice)
	}

	text := blockCommentRe.ReplaceAllString(string(source), "")
	text = lineCommentRe.ReplaceAllString(text, "")

	var diags []string
	if strings.Count(text, "{") != strings.Count(text, "}") {
		diags = append(diags, "error: unbalanced braces in program source")
	}

	decls := make(map[string][]ParamKind)
	for _, m := range kernelDeclRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		params, err := parseParams(m[2])
		if err != nil {
			diags = append(diags, fmt.Sprintf("error: kernel '%s': %v", name, err))
			continue
		}
		impl, ok := h.cfg.Kernels[name]
		if !ok {
			diags = append(diags, fmt.Sprintf("error: kernel '%s' has no implementation on this device", name))
			continue
		}
		if !sameParams(params, impl.Params) {
			diags = append(diags, fmt.Sprintf("error: kernel '%s' declares (%s), device implementation expects (%s)",
				name, formatParams(params), formatParams(impl.Params)))
			continue
		}
		decls[name] = params
	}
	if len(decls) == 0 && len(diags) == 0 {
		diags = append(diags, "error: no __kernel functions found in program source")
	}
	if len(diags) > 0 {
		return 0, &BuildError{Status: BuildProgramFailure, Log: strings.Join(diags, "\n")}
	}

	return ProgramID(h.programs.add(&hostProgram{decls: decls})), nil
}

func (h *Host) CreateKernel(p ProgramID, name string) (KernelID, error) {
	prog, ok := h.programs.get(uint64(p))
	if !ok {
		return 0, statusError("clCreateKernel", InvalidProgram)
	}
	params, ok := prog.decls[name]
	if !ok {
		return 0, statusError("clCreateKernel", InvalidKernelName)
	}
	inst := &hostKernelInst{
		name:   name,
		params: params,
		impl:   h.cfg.Kernels[name],
		args:   make([]hostArg, len(params)),
	}
	return KernelID(h.kernels.add(inst)), nil
}

func (h *Host) CreateBuffer(c ContextID, flags MemFlags, size int) (MemID, error) {
	if _, ok := h.contexts.get(uint64(c)); !ok {
		return 0, statusError("clCreateBuffer", InvalidContext)
	}
	if size <= 0 {
		return 0, statusError("clCreateBuffer", InvalidBufferSize)
	}
	if flags < MemReadOnly || flags > MemReadWrite {
		return 0, statusError("clCreateBuffer", InvalidValue)
	}
	if h.allocated+uint64(size) > h.cfg.GlobalMemBytes {
		return 0, statusError("clCreateBuffer", MemObjectAllocationFailure)
	}
	h.allocated += uint64(size)
	return MemID(h.mems.add(&hostMem{context: c, flags: flags, data: make([]byte, size)})), nil
}

func (h *Host) WriteBuffer(q QueueID, m MemID, data []byte) error {
	if _, ok := h.queues.get(uint64(q)); !ok {
		return statusError("clEnqueueWriteBuffer", InvalidCommandQueue)
	}
	mem, ok := h.mems.get(uint64(m))
	if !ok {
		return statusError("clEnqueueWriteBuffer", InvalidMemObject)
	}
	if len(data) > len(mem.data) {
		return statusError("clEnqueueWriteBuffer", InvalidValue)
	}
	copy(mem.data, data)
	return nil
}

func (h *Host) ReadBuffer(q QueueID, m MemID, dst []byte) error {
	if _, ok := h.queues.get(uint64(q)); !ok {
		return statusError("clEnqueueReadBuffer", InvalidCommandQueue)
	}
	mem, ok := h.mems.get(uint64(m))
	if !ok {
		return statusError("clEnqueueReadBuffer", InvalidMemObject)
	}
	if len(dst) > len(mem.data) {
		return statusError("clEnqueueReadBuffer", InvalidValue)
	}
	copy(dst, mem.data)
	return nil
}

func (h *Host) SetKernelArgMem(k KernelID, index int, m MemID) error {
	inst, ok := h.kernels.get(uint64(k))
	if !ok {
		return statusError("clSetKernelArg", InvalidKernel)
	}
	if index < 0 || index >= len(inst.params) {
		return statusError("clSetKernelArg", InvalidArgIndex)
	}
	if !inst.params[index].Pointer {
		return statusError("clSetKernelArg", InvalidArgSize)
	}
	if _, ok := h.mems.get(uint64(m)); !ok {
		return statusError("clSetKernelArg", InvalidMemObject)
	}
	inst.args[index] = hostArg{set: true, mem: m}
	return nil
}

func (h *Host) SetKernelArgValue(k KernelID, index int, value []byte) error {
	inst, ok := h.kernels.get(uint64(k))
	if !ok {
		return statusError("clSetKernelArg", InvalidKernel)
	}
	if index < 0 || index >= len(inst.params) {
		return statusError("clSetKernelArg", InvalidArgIndex)
	}
	if inst.params[index].Pointer || len(value) != inst.params[index].Size {
		return statusError("clSetKernelArg", InvalidArgSize)
	}
	inst.args[index] = hostArg{set: true, value: append([]byte(nil), value...)}
	return nil
}

func (h *Host) EnqueueNDRange(q QueueID, k KernelID, global []int) (err error) {
	if _, ok := h.queues.get(uint64(q)); !ok {
		return statusError("clEnqueueNDRangeKernel", InvalidCommandQueue)
	}
	inst, ok := h.kernels.get(uint64(k))
	if !ok {
		return statusError("clEnqueueNDRangeKernel", InvalidKernel)
	}
	if len(global) < 1 || len(global) > 3 {
		return statusError("clEnqueueNDRangeKernel", InvalidWorkDimension)
	}
	for _, n := range global {
		if n <= 0 || n > h.cfg.MaxWorkSize {
			return statusError("clEnqueueNDRangeKernel", InvalidGlobalWorkSize)
		}
	}

	args := &KernelArgs{slots: make([]kernelSlot, len(inst.args))}
	for i, a := range inst.args {
		if !a.set {
			return statusError("clEnqueueNDRangeKernel", InvalidKernelArgs)
		}
		if inst.params[i].Pointer {
			mem, ok := h.mems.get(uint64(a.mem))
			if !ok {
				return statusError("clEnqueueNDRangeKernel", InvalidMemObject)
			}
			args.slots[i] = kernelSlot{mem: mem.data}
		} else {
			args.slots[i] = kernelSlot{value: a.value}
		}
	}

	// Out-of-range accesses inside a kernel surface as a device fault.
	defer func() {
		if rec := recover(); rec != nil {
			err = statusError("clEnqueueNDRangeKernel", OutOfResources)
		}
	}()

	gx, gy, gz := global[0], 1, 1
	if len(global) > 1 {
		gy = global[1]
	}
	if len(global) > 2 {
		gz = global[2]
	}
	for z := 0; z < gz; z++ {
		for y := 0; y < gy; y++ {
			for x := 0; x < gx; x++ {
				inst.impl.Run(args, WorkItem{X: x, Y: y, Z: z})
			}
		}
	}
	return nil
}

func (h *Host) Flush(q QueueID) error {
	if _, ok := h.queues.get(uint64(q)); !ok {
		return statusError("clFlush", InvalidCommandQueue)
	}
	return nil
}

func (h *Host) Finish(q QueueID) error {
	if _, ok := h.queues.get(uint64(q)); !ok {
		return statusError("clFinish", InvalidCommandQueue)
	}
	return nil
}

func (h *Host) ReleaseMem(m MemID) error {
	mem, ok := h.mems.remove(uint64(m))
	if !ok {
		return statusError("clReleaseMemObject", InvalidMemObject)
	}
	h.allocated -= uint64(len(mem.data))
	return nil
}

func (h *Host) ReleaseKernel(k KernelID) error {
	if _, ok := h.kernels.remove(uint64(k)); !ok {
		return statusError("clReleaseKernel", InvalidKernel)
	}
	return nil
}

func (h *Host) ReleaseProgram(p ProgramID) error {
	if _, ok := h.programs.remove(uint64(p)); !ok {
		return statusError("clReleaseProgram", InvalidProgram)
	}
	return nil
}

func (h *Host) ReleaseQueue(q QueueID) error {
	if _, ok := h.queues.remove(uint64(q)); !ok {
		return statusError("clReleaseCommandQueue", InvalidCommandQueue)
	}
	return nil
}

func (h *Host) ReleaseContext(c ContextID) error {
	if _, ok := h.contexts.remove(uint64(c)); !ok {
		return statusError("clReleaseContext", InvalidContext)
	}
	return nil
}
