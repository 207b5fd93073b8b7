//go:build gpu

package device

/*
#cgo LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>

static cl_command_queue clblur_create_queue(cl_context ctx, cl_device_id device, cl_int *status) {
#if CL_TARGET_OPENCL_VERSION >= 200
	const cl_queue_properties props[] = {0};
	return clCreateCommandQueueWithProperties(ctx, device, props, status);
#else
	return clCreateCommandQueue(ctx, device, 0, status);
#endif
}

static cl_program clblur_create_program(cl_context ctx, const char *src, size_t len, cl_int *status) {
	return clCreateProgramWithSource(ctx, 1, &src, &len, status);
}
*/
import "C"

import (
	"unsafe"
)

// OpenCL drives a real OpenCL runtime through cgo.
type OpenCL struct {
	platforms []C.cl_platform_id
	devices   []C.cl_device_id

	contexts *registry[C.cl_context]
	queues   *registry[C.cl_command_queue]
	programs *registry[C.cl_program]
	kernels  *registry[C.cl_kernel]
	mems     *registry[C.cl_mem]
}

// NewOpenCL creates the OpenCL driver.
func NewOpenCL() (Driver, error) {
	return &OpenCL{
		contexts: newRegistry[C.cl_context](),
		queues:   newRegistry[C.cl_command_queue](),
		programs: newRegistry[C.cl_program](),
		kernels:  newRegistry[C.cl_kernel](),
		mems:     newRegistry[C.cl_mem](),
	}, nil
}

func (o *OpenCL) Name() string { return DriverOpenCL }

func (o *OpenCL) Platforms() ([]PlatformID, error) {
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if Status(status) == PlatformNotFoundKHR {
		return nil, nil
	}
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(count)", Status(status))
	}
	if count == 0 {
		return nil, nil
	}

	ids := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(list)", Status(status))
	}

	out := make([]PlatformID, len(ids))
	for i, id := range ids {
		out[i] = o.platformHandle(id)
	}
	return out, nil
}

func (o *OpenCL) platformHandle(id C.cl_platform_id) PlatformID {
	for i, known := range o.platforms {
		if known == id {
			return PlatformID(i + 1)
		}
	}
	o.platforms = append(o.platforms, id)
	return PlatformID(len(o.platforms))
}

func (o *OpenCL) deviceHandle(id C.cl_device_id) DeviceID {
	for i, known := range o.devices {
		if known == id {
			return DeviceID(i + 1)
		}
	}
	o.devices = append(o.devices, id)
	return DeviceID(len(o.devices))
}

func (o *OpenCL) platform(p PlatformID) (C.cl_platform_id, bool) {
	if p == 0 || int(p) > len(o.platforms) {
		return nil, false
	}
	return o.platforms[p-1], true
}

func (o *OpenCL) device(d DeviceID) (C.cl_device_id, bool) {
	if d == 0 || int(d) > len(o.devices) {
		return nil, false
	}
	return o.devices[d-1], true
}

func (o *OpenCL) PlatformInfo(p PlatformID) (PlatformInfo, error) {
	pid, ok := o.platform(p)
	if !ok {
		return PlatformInfo{}, statusError("clGetPlatformInfo", InvalidPlatform)
	}
	name, err := getPlatformString(pid, C.CL_PLATFORM_NAME)
	if err != nil {
		return PlatformInfo{}, err
	}
	vendor, err := getPlatformString(pid, C.CL_PLATFORM_VENDOR)
	if err != nil {
		return PlatformInfo{}, err
	}
	version, err := getPlatformString(pid, C.CL_PLATFORM_VERSION)
	if err != nil {
		return PlatformInfo{}, err
	}
	return PlatformInfo{Name: name, Vendor: vendor, Version: version}, nil
}

func (o *OpenCL) Devices(p PlatformID, class DeviceType) ([]DeviceID, error) {
	pid, ok := o.platform(p)
	if !ok {
		return nil, statusError("clGetDeviceIDs", InvalidPlatform)
	}
	clType := deviceTypeMask(class)

	var count C.cl_uint
	status := C.clGetDeviceIDs(pid, clType, 0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(count)", Status(status))
	}
	if count == 0 {
		return nil, statusError("clGetDeviceIDs(count)", DeviceNotFound)
	}

	ids := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(pid, clType, count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(list)", Status(status))
	}

	out := make([]DeviceID, len(ids))
	for i, id := range ids {
		out[i] = o.deviceHandle(id)
	}
	return out, nil
}

func (o *OpenCL) DeviceInfo(d DeviceID) (DeviceInfo, error) {
	id, ok := o.device(d)
	if !ok {
		return DeviceInfo{}, statusError("clGetDeviceInfo", InvalidDevice)
	}

	name, err := getDeviceString(id, C.CL_DEVICE_NAME)
	if err != nil {
		return DeviceInfo{}, err
	}
	vendor, err := getDeviceString(id, C.CL_DEVICE_VENDOR)
	if err != nil {
		return DeviceInfo{}, err
	}
	version, err := getDeviceString(id, C.CL_DEVICE_VERSION)
	if err != nil {
		return DeviceInfo{}, err
	}

	var rawType C.cl_device_type
	status := C.clGetDeviceInfo(id, C.CL_DEVICE_TYPE, C.size_t(unsafe.Sizeof(rawType)), unsafe.Pointer(&rawType), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, statusError("clGetDeviceInfo(type)", Status(status))
	}

	var computeUnits C.cl_uint
	status = C.clGetDeviceInfo(id, C.CL_DEVICE_MAX_COMPUTE_UNITS, C.size_t(unsafe.Sizeof(computeUnits)), unsafe.Pointer(&computeUnits), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, statusError("clGetDeviceInfo(computeUnits)", Status(status))
	}

	var globalMem C.cl_ulong
	status = C.clGetDeviceInfo(id, C.CL_DEVICE_GLOBAL_MEM_SIZE, C.size_t(unsafe.Sizeof(globalMem)), unsafe.Pointer(&globalMem), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, statusError("clGetDeviceInfo(globalMem)", Status(status))
	}

	return DeviceInfo{
		Name:            name,
		Vendor:          vendor,
		Version:         version,
		Type:            mapDeviceType(rawType),
		MaxComputeUnits: uint32(computeUnits),
		GlobalMemBytes:  uint64(globalMem),
	}, nil
}

func (o *OpenCL) CreateContext(d DeviceID) (ContextID, error) {
	id, ok := o.device(d)
	if !ok {
		return 0, statusError("clCreateContext", InvalidDevice)
	}
	var status C.cl_int
	ctx := C.clCreateContext(nil, 1, &id, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateContext", Status(status))
	}
	return ContextID(o.contexts.add(ctx)), nil
}

func (o *OpenCL) CreateQueue(c ContextID, d DeviceID) (QueueID, error) {
	ctx, ok := o.contexts.get(uint64(c))
	if !ok {
		return 0, statusError("clCreateCommandQueue", InvalidContext)
	}
	id, ok := o.device(d)
	if !ok {
		return 0, statusError("clCreateCommandQueue", InvalidDevice)
	}
	var status C.cl_int
	queue := C.clblur_create_queue(ctx, id, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateCommandQueue", Status(status))
	}
	return QueueID(o.queues.add(queue)), nil
}

func (o *OpenCL) BuildProgram(c ContextID, d DeviceID, source []byte) (ProgramID, error) {
	ctx, ok := o.contexts.get(uint64(c))
	if !ok {
		return 0, statusError("clCreateProgramWithSource", InvalidContext)
	}
	id, ok := o.device(d)
	if !ok {
		return 0, statusError("clBuildProgram", InvalidDevice)
	}
	if len(source) == 0 {
		return 0, statusError("clCreateProgramWithSource", InvalidValue)
	}

	src := C.CBytes(source)
	defer C.free(src)

	var status C.cl_int
	program := C.clblur_create_program(ctx, (*C.char)(src), C.size_t(len(source)), &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateProgramWithSource", Status(status))
	}

	status = C.clBuildProgram(program, 1, &id, nil, nil, nil)
	if status != C.CL_SUCCESS {
		log := buildLog(program, id)
		C.clReleaseProgram(program)
		return 0, &BuildError{Status: Status(status), Log: log}
	}

	return ProgramID(o.programs.add(program)), nil
}

func buildLog(program C.cl_program, device C.cl_device_id) string {
	var logSize C.size_t
	if status := C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize); status != C.CL_SUCCESS {
		return "build log unavailable: " + Status(status).String()
	}
	if logSize == 0 {
		return ""
	}

	buf := make([]byte, int(logSize))
	if status := C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		return "build log unavailable: " + Status(status).String()
	}
	return trimNull(buf)
}

func (o *OpenCL) CreateKernel(p ProgramID, name string) (KernelID, error) {
	program, ok := o.programs.get(uint64(p))
	if !ok {
		return 0, statusError("clCreateKernel", InvalidProgram)
	}

	kernelName := C.CString(name)
	defer C.free(unsafe.Pointer(kernelName))

	var status C.cl_int
	kernel := C.clCreateKernel(program, kernelName, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateKernel", Status(status))
	}
	return KernelID(o.kernels.add(kernel)), nil
}

func (o *OpenCL) CreateBuffer(c ContextID, flags MemFlags, size int) (MemID, error) {
	ctx, ok := o.contexts.get(uint64(c))
	if !ok {
		return 0, statusError("clCreateBuffer", InvalidContext)
	}

	var clFlags C.cl_mem_flags
	switch flags {
	case MemReadOnly:
		clFlags = C.CL_MEM_READ_ONLY
	case MemWriteOnly:
		clFlags = C.CL_MEM_WRITE_ONLY
	case MemReadWrite:
		clFlags = C.CL_MEM_READ_WRITE
	default:
		return 0, statusError("clCreateBuffer", InvalidValue)
	}

	var status C.cl_int
	mem := C.clCreateBuffer(ctx, clFlags, C.size_t(size), nil, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateBuffer", Status(status))
	}
	return MemID(o.mems.add(mem)), nil
}

func (o *OpenCL) WriteBuffer(q QueueID, m MemID, data []byte) error {
	queue, ok := o.queues.get(uint64(q))
	if !ok {
		return statusError("clEnqueueWriteBuffer", InvalidCommandQueue)
	}
	mem, ok := o.mems.get(uint64(m))
	if !ok {
		return statusError("clEnqueueWriteBuffer", InvalidMemObject)
	}
	if len(data) == 0 {
		return nil
	}
	status := C.clEnqueueWriteBuffer(queue, mem, C.CL_TRUE, 0, C.size_t(len(data)), unsafe.Pointer(&data[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueWriteBuffer", Status(status))
	}
	return nil
}

func (o *OpenCL) ReadBuffer(q QueueID, m MemID, dst []byte) error {
	queue, ok := o.queues.get(uint64(q))
	if !ok {
		return statusError("clEnqueueReadBuffer", InvalidCommandQueue)
	}
	mem, ok := o.mems.get(uint64(m))
	if !ok {
		return statusError("clEnqueueReadBuffer", InvalidMemObject)
	}
	if len(dst) == 0 {
		return nil
	}
	status := C.clEnqueueReadBuffer(queue, mem, C.CL_TRUE, 0, C.size_t(len(dst)), unsafe.Pointer(&dst[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueReadBuffer", Status(status))
	}
	return nil
}

func (o *OpenCL) SetKernelArgMem(k KernelID, index int, m MemID) error {
	kernel, ok := o.kernels.get(uint64(k))
	if !ok {
		return statusError("clSetKernelArg", InvalidKernel)
	}
	mem, ok := o.mems.get(uint64(m))
	if !ok {
		return statusError("clSetKernelArg", InvalidMemObject)
	}
	status := C.clSetKernelArg(kernel, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
	if status != C.CL_SUCCESS {
		return statusError("clSetKernelArg", Status(status))
	}
	return nil
}

func (o *OpenCL) SetKernelArgValue(k KernelID, index int, value []byte) error {
	kernel, ok := o.kernels.get(uint64(k))
	if !ok {
		return statusError("clSetKernelArg", InvalidKernel)
	}
	if len(value) == 0 {
		return statusError("clSetKernelArg", InvalidArgSize)
	}
	status := C.clSetKernelArg(kernel, C.cl_uint(index), C.size_t(len(value)), unsafe.Pointer(&value[0]))
	if status != C.CL_SUCCESS {
		return statusError("clSetKernelArg", Status(status))
	}
	return nil
}

func (o *OpenCL) EnqueueNDRange(q QueueID, k KernelID, global []int) error {
	queue, ok := o.queues.get(uint64(q))
	if !ok {
		return statusError("clEnqueueNDRangeKernel", InvalidCommandQueue)
	}
	kernel, ok := o.kernels.get(uint64(k))
	if !ok {
		return statusError("clEnqueueNDRangeKernel", InvalidKernel)
	}
	if len(global) == 0 {
		return statusError("clEnqueueNDRangeKernel", InvalidWorkDimension)
	}

	sizes := make([]C.size_t, len(global))
	for i, n := range global {
		sizes[i] = C.size_t(n)
	}
	status := C.clEnqueueNDRangeKernel(queue, kernel, C.cl_uint(len(sizes)), nil, &sizes[0], nil, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueNDRangeKernel", Status(status))
	}
	return nil
}

func (o *OpenCL) Flush(q QueueID) error {
	queue, ok := o.queues.get(uint64(q))
	if !ok {
		return statusError("clFlush", InvalidCommandQueue)
	}
	if status := C.clFlush(queue); status != C.CL_SUCCESS {
		return statusError("clFlush", Status(status))
	}
	return nil
}

func (o *OpenCL) Finish(q QueueID) error {
	queue, ok := o.queues.get(uint64(q))
	if !ok {
		return statusError("clFinish", InvalidCommandQueue)
	}
	if status := C.clFinish(queue); status != C.CL_SUCCESS {
		return statusError("clFinish", Status(status))
	}
	return nil
}

func (o *OpenCL) ReleaseMem(m MemID) error {
	mem, ok := o.mems.remove(uint64(m))
	if !ok {
		return statusError("clReleaseMemObject", InvalidMemObject)
	}
	if status := C.clReleaseMemObject(mem); status != C.CL_SUCCESS {
		return statusError("clReleaseMemObject", Status(status))
	}
	return nil
}

func (o *OpenCL) ReleaseKernel(k KernelID) error {
	kernel, ok := o.kernels.remove(uint64(k))
	if !ok {
		return statusError("clReleaseKernel", InvalidKernel)
	}
	if status := C.clReleaseKernel(kernel); status != C.CL_SUCCESS {
		return statusError("clReleaseKernel", Status(status))
	}
	return nil
}

func (o *OpenCL) ReleaseProgram(p ProgramID) error {
	program, ok := o.programs.remove(uint64(p))
	if !ok {
		return statusError("clReleaseProgram", InvalidProgram)
	}
	if status := C.clReleaseProgram(program); status != C.CL_SUCCESS {
		return statusError("clReleaseProgram", Status(status))
	}
	return nil
}

func (o *OpenCL) ReleaseQueue(q QueueID) error {
	queue, ok := o.queues.remove(uint64(q))
	if !ok {
		return statusError("clReleaseCommandQueue", InvalidCommandQueue)
	}
	if status := C.clReleaseCommandQueue(queue); status != C.CL_SUCCESS {
		return statusError("clReleaseCommandQueue", Status(status))
	}
	return nil
}

func (o *OpenCL) ReleaseContext(c ContextID) error {
	ctx, ok := o.contexts.remove(uint64(c))
	if !ok {
		return statusError("clReleaseContext", InvalidContext)
	}
	if status := C.clReleaseContext(ctx); status != C.CL_SUCCESS {
		return statusError("clReleaseContext", Status(status))
	}
	return nil
}

func getPlatformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(size)", Status(status))
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(value)", Status(status))
	}
	return trimNull(buf), nil
}

func getDeviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(size)", Status(status))
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(value)", Status(status))
	}
	return trimNull(buf), nil
}

func deviceTypeMask(class DeviceType) C.cl_device_type {
	switch class {
	case DeviceTypeGPU:
		return C.CL_DEVICE_TYPE_GPU
	case DeviceTypeCPU:
		return C.CL_DEVICE_TYPE_CPU
	case DeviceTypeAccelerator:
		return C.CL_DEVICE_TYPE_ACCELERATOR
	case DeviceTypeAll:
		return C.CL_DEVICE_TYPE_ALL
	default:
		return C.CL_DEVICE_TYPE_DEFAULT
	}
}

func mapDeviceType(dt C.cl_device_type) DeviceType {
	switch {
	case dt&C.CL_DEVICE_TYPE_GPU != 0:
		return DeviceTypeGPU
	case dt&C.CL_DEVICE_TYPE_CPU != 0:
		return DeviceTypeCPU
	case dt&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return DeviceTypeAccelerator
	case dt&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return DeviceTypeDefault
	default:
		return DeviceTypeUnknown
	}
}

func trimNull(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}
