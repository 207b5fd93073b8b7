package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

// DefaultMaxSourceBytes bounds kernel source size (1 MiB).
const DefaultMaxSourceBytes = 0x100000

// Builder compiles kernel source into a Program.
type Builder struct {
	// MaxSourceBytes rejects larger sources; <= 0 selects DefaultMaxSourceBytes.
	MaxSourceBytes int
}

func (b Builder) limit() int {
	if b.MaxSourceBytes <= 0 {
		return DefaultMaxSourceBytes
	}
	return b.MaxSourceBytes
}

// LoadSource reads the whole kernel file. Files larger than the bound fail
// with SourceTooLarge; nothing is truncated.
func (b Builder) LoadSource(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.IOError, "open kernel source", err)
	}
	defer f.Close()

	limit := b.limit()
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return nil, fault.New(fault.IOError, "read kernel source", err)
	}
	if len(data) > limit {
		return nil, fault.Newf(fault.SourceTooLarge, "read kernel source", "%s exceeds %d bytes", path, limit)
	}
	return data, nil
}

// Program is a compiled program and its resolved entry point.
type Program struct {
	drv     device.Driver
	program device.ProgramID
	kernel  device.KernelID
	entry   string
}

// Entry returns the resolved kernel symbol.
func (p *Program) Entry() string {
	return p.entry
}

// Build compiles source for the context's device and resolves entry. The
// build log of a failed compile is carried by the returned CompileError.
func (b Builder) Build(ec *ExecContext, source []byte, entry string) (*Program, error) {
	if limit := b.limit(); len(source) > limit {
		return nil, fault.Newf(fault.SourceTooLarge, "build program", "source is %d bytes, limit %d", len(source), limit)
	}

	prog, err := ec.drv.BuildProgram(ec.context, ec.device.ID, source)
	if err != nil {
		ferr := fault.New(fault.CompileError, "build program", err)
		var be *device.BuildError
		if errors.As(err, &be) {
			ferr.Log = be.Log
		}
		return nil, ferr
	}

	kernel, err := ec.drv.CreateKernel(prog, entry)
	if err != nil {
		kerr := fault.New(fault.SymbolNotFound, fmt.Sprintf("resolve kernel %q", entry), err)
		if rerr := ec.drv.ReleaseProgram(prog); rerr != nil {
			kerr.Err = errors.Join(err, rerr)
		}
		return nil, kerr
	}

	return &Program{drv: ec.drv, program: prog, kernel: kernel, entry: entry}, nil
}

// Close releases the kernel and the program. It is safe to call more than once.
func (p *Program) Close() error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.kernel != 0 {
		if err := p.drv.ReleaseKernel(p.kernel); err != nil {
			errs = append(errs, err)
		}
		p.kernel = 0
	}
	if p.program != 0 {
		if err := p.drv.ReleaseProgram(p.program); err != nil {
			errs = append(errs, err)
		}
		p.program = 0
	}
	return errors.Join(errs...)
}
