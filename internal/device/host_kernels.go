package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ParamKind describes one declared kernel parameter.
type ParamKind struct {
	// Pointer is true for __global buffer parameters.
	Pointer bool
	// Size is the by-value size in bytes; 0 for pointers.
	Size int
}

var (
	bufferParam = ParamKind{Pointer: true}
	int32Param  = ParamKind{Size: 4}
)

func (p ParamKind) String() string {
	if p.Pointer {
		return "buffer"
	}
	return fmt.Sprintf("value[%d]", p.Size)
}

var scalarSizes = map[string]int{
	"char": 1, "uchar": 1, "bool": 1,
	"short": 2, "ushort": 2, "half": 2,
	"int": 4, "uint": 4, "float": 4,
	"long": 8, "ulong": 8, "double": 8,
	"size_t": 8,
}

// parseParams reads an OpenCL C parameter list into kinds.
func parseParams(list string) ([]ParamKind, error) {
	list = strings.TrimSpace(list)
	if list == "" || list == "void" {
		return nil, nil
	}

	var out []ParamKind
	for _, raw := range strings.Split(list, ",") {
		p := strings.TrimSpace(raw)
		if p == "" {
			return nil, fmt.Errorf("empty parameter")
		}
		if strings.Contains(p, "*") {
			out = append(out, bufferParam)
			continue
		}
		size := 0
		for _, tok := range strings.Fields(p) {
			if s, ok := scalarSizes[tok]; ok {
				size = s
				break
			}
		}
		if size == 0 {
			return nil, fmt.Errorf("unsupported parameter type in %q", p)
		}
		out = append(out, ParamKind{Size: size})
	}
	return out, nil
}

func sameParams(a, b []ParamKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatParams(ps []ParamKind) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// WorkItem is one point of the global index space.
type WorkItem struct {
	X, Y, Z int
}

// KernelArgs gives a host kernel access to its bound arguments.
type KernelArgs struct {
	slots []kernelSlot
}

type kernelSlot struct {
	mem   []byte
	value []byte
}

// Bytes returns the backing store of buffer argument i.
func (a *KernelArgs) Bytes(i int) []byte {
	return a.slots[i].mem
}

// Float32At reads element idx of float buffer argument i.
func (a *KernelArgs) Float32At(i, idx int) float32 {
	b := a.slots[i].mem[idx*4 : idx*4+4]
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Int32 reads by-value argument i.
func (a *KernelArgs) Int32(i int) int32 {
	return int32(binary.LittleEndian.Uint32(a.slots[i].value))
}

// HostKernel is a Go implementation of an OpenCL kernel entry point.
type HostKernel struct {
	Params []ParamKind
	Run    func(args *KernelArgs, item WorkItem)
}

// imageFilterParams is the layout shared by the bundled image kernels:
// (input, filter, output, width, height, filterSize).
var imageFilterParams = []ParamKind{bufferParam, bufferParam, bufferParam, int32Param, int32Param, int32Param}

// BuiltinKernels returns the kernels shipped under kernels/*.cl.
func BuiltinKernels() map[string]HostKernel {
	return map[string]HostKernel{
		"blur":     {Params: imageFilterParams, Run: blurKernel},
		"identity": {Params: imageFilterParams, Run: identityKernel},
		"negative": {Params: imageFilterParams, Run: negativeKernel},
	}
}

func blurKernel(a *KernelArgs, it WorkItem) {
	in, out := a.Bytes(0), a.Bytes(2)
	width, height, size := int(a.Int32(3)), int(a.Int32(4)), int(a.Int32(5))
	if it.X >= width || it.Y >= height {
		return
	}

	radius := size / 2
	var sum float32
	for fy := 0; fy < size; fy++ {
		sy := clampInt(it.Y+fy-radius, 0, height-1)
		for fx := 0; fx < size; fx++ {
			sx := clampInt(it.X+fx-radius, 0, width-1)
			sum += float32(in[sy*width+sx]) * a.Float32At(1, fy*size+fx)
		}
	}
	out[it.Y*width+it.X] = clampByte(sum)
}

func identityKernel(a *KernelArgs, it WorkItem) {
	in, out := a.Bytes(0), a.Bytes(2)
	width, height := int(a.Int32(3)), int(a.Int32(4))
	if it.X >= width || it.Y >= height {
		return
	}
	idx := it.Y*width + it.X
	out[idx] = in[idx]
}

func negativeKernel(a *KernelArgs, it WorkItem) {
	in, out := a.Bytes(0), a.Bytes(2)
	width, height := int(a.Int32(3)), int(a.Int32(4))
	if it.X >= width || it.Y >= height {
		return
	}
	idx := it.Y*width + it.X
	out[idx] = 255 - in[idx]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampByte saturates and rounds half to even, like convert_uchar_sat_rte.
func clampByte(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(math.RoundToEven(float64(v)))
}
