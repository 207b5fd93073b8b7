package pipeline

import (
	"fmt"

	"github.com/cwbudde/clblur/internal/fault"
)

// IndexSpace is a two-dimensional launch grid, one work item per pixel.
type IndexSpace struct {
	Width  int
	Height int
}

// Apply sets every bound argument on the program's kernel. The binding must
// have been made for the program's entry point.
func Apply(prog *Program, b *Binding) error {
	if b.sig.Entry != prog.entry {
		return fault.Newf(fault.ArgumentBindFailed, "set kernel args", "binding is for %q, program entry is %q", b.sig.Entry, prog.entry)
	}

	for i, a := range b.args {
		var err error
		if a.kind == ArgBuffer {
			err = prog.drv.SetKernelArgMem(prog.kernel, i, a.buf.mem)
		} else {
			err = prog.drv.SetKernelArgValue(prog.kernel, i, a.raw)
		}
		if err != nil {
			return fault.New(fault.ArgumentBindFailed, fmt.Sprintf("set kernel arg %d (%s)", i, b.sig.Args[i].Name), err)
		}
	}
	return nil
}

// Dispatch enqueues the kernel over space and waits for it to complete.
func Dispatch(ec *ExecContext, prog *Program, space IndexSpace) error {
	if space.Width <= 0 || space.Height <= 0 {
		return fault.Newf(fault.DispatchFailed, "enqueue kernel", "invalid index space %dx%d", space.Width, space.Height)
	}

	if err := ec.drv.EnqueueNDRange(ec.queue, prog.kernel, []int{space.Width, space.Height}); err != nil {
		return fault.New(fault.DispatchFailed, "enqueue kernel", err)
	}
	if err := ec.drv.Finish(ec.queue); err != nil {
		return fault.New(fault.DispatchFailed, "finish queue", err)
	}
	return nil
}
