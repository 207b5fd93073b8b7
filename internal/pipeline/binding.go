package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cwbudde/clblur/internal/fault"
)

// ArgKind is the kind of a kernel parameter.
type ArgKind int

const (
	ArgBuffer ArgKind = iota + 1
	ArgInt32
	ArgFloat32
)

func (k ArgKind) String() string {
	switch k {
	case ArgBuffer:
		return "buffer"
	case ArgInt32:
		return "int32"
	case ArgFloat32:
		return "float32"
	default:
		return fmt.Sprintf("ArgKind(%d)", int(k))
	}
}

// size is the byte size of a scalar of this kind, 0 for buffers.
func (k ArgKind) size() int {
	switch k {
	case ArgInt32, ArgFloat32:
		return 4
	default:
		return 0
	}
}

// ArgSpec declares one kernel parameter. Access applies to buffers only.
type ArgSpec struct {
	Name   string
	Kind   ArgKind
	Access AccessMode
}

// Signature is the ordered parameter list of a kernel entry point.
type Signature struct {
	Entry string
	Args  []ArgSpec
}

// ImageFilterSignature is the parameter list shared by the image filter
// kernels: input, filter weights, output, then width, height and filter size.
func ImageFilterSignature(entry string) Signature {
	return Signature{
		Entry: entry,
		Args: []ArgSpec{
			{Name: "input", Kind: ArgBuffer, Access: ReadOnly},
			{Name: "filter", Kind: ArgBuffer, Access: ReadOnly},
			{Name: "output", Kind: ArgBuffer, Access: WriteOnly},
			{Name: "width", Kind: ArgInt32},
			{Name: "height", Kind: ArgInt32},
			{Name: "filterSize", Kind: ArgInt32},
		},
	}
}

// Arg is a value to bind to a kernel parameter.
type Arg struct {
	kind ArgKind
	buf  *Buffer
	raw  []byte
}

// BufferArg binds a device buffer.
func BufferArg(b *Buffer) Arg {
	return Arg{kind: ArgBuffer, buf: b}
}

// Int32Arg binds a 32-bit signed integer.
func Int32Arg(v int32) Arg {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, uint32(v))
	return Arg{kind: ArgInt32, raw: raw}
}

// Float32Arg binds a 32-bit float.
func Float32Arg(v float32) Arg {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(v))
	return Arg{kind: ArgFloat32, raw: raw}
}

// RawArg binds pre-encoded scalar bytes of the given kind.
func RawArg(kind ArgKind, raw []byte) Arg {
	return Arg{kind: kind, raw: raw}
}

// Binding is a signature with a validated, complete argument list.
type Binding struct {
	sig  Signature
	args []Arg
}

// Signature returns the signature the arguments were checked against.
func (b *Binding) Signature() Signature {
	return b.sig
}

// Bind checks args against the signature by count, kind, size and access mode.
// Mistakes are reported here rather than as a dispatch failure.
func (s Signature) Bind(args ...Arg) (*Binding, error) {
	if len(args) != len(s.Args) {
		return nil, fault.Newf(fault.ArgumentBindFailed, "bind "+s.Entry, "got %d arguments, kernel takes %d", len(args), len(s.Args))
	}

	for i, spec := range s.Args {
		a := args[i]
		if a.kind != spec.Kind {
			return nil, fault.Newf(fault.ArgumentBindFailed, "bind "+s.Entry, "argument %d (%s): got %s, want %s", i, spec.Name, a.kind, spec.Kind)
		}
		if spec.Kind == ArgBuffer {
			if a.buf == nil || a.buf.mem == 0 {
				return nil, fault.Newf(fault.ArgumentBindFailed, "bind "+s.Entry, "argument %d (%s): buffer is not allocated", i, spec.Name)
			}
			if a.buf.mode != spec.Access {
				return nil, fault.Newf(fault.ArgumentBindFailed, "bind "+s.Entry, "argument %d (%s): buffer is %s, want %s", i, spec.Name, a.buf.mode, spec.Access)
			}
			continue
		}
		if len(a.raw) != spec.Kind.size() {
			return nil, fault.Newf(fault.ArgumentBindFailed, "bind "+s.Entry, "argument %d (%s): %d bytes, want %d", i, spec.Name, len(a.raw), spec.Kind.size())
		}
	}

	return &Binding{sig: s, args: append([]Arg(nil), args...)}, nil
}
