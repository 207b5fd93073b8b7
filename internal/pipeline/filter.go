package pipeline

import (
	"encoding/binary"
	"math"

	"github.com/cwbudde/clblur/internal/fault"
)

// Filter is a square convolution kernel of Size×Size weights, row-major.
type Filter struct {
	Size    int
	Weights []float32
}

// BoxFilter returns a normalized box filter of the given odd size.
func BoxFilter(size int) (Filter, error) {
	if err := validateFilterSize(size); err != nil {
		return Filter{}, err
	}
	n := size * size
	w := make([]float32, n)
	for i := range w {
		w[i] = 1 / float32(n)
	}
	return Filter{Size: size, Weights: w}, nil
}

func validateFilterSize(size int) error {
	if size <= 0 || size%2 == 0 {
		return fault.Newf(fault.ConfigInvalid, "filter", "size must be a positive odd number, got %d", size)
	}
	return nil
}

// Validate checks the size and the weight count.
func (f Filter) Validate() error {
	if err := validateFilterSize(f.Size); err != nil {
		return err
	}
	if len(f.Weights) != f.Size*f.Size {
		return fault.Newf(fault.ConfigInvalid, "filter", "%d weights for a %dx%d filter", len(f.Weights), f.Size, f.Size)
	}
	return nil
}

// Bytes encodes the weights as little-endian float32 values.
func (f Filter) Bytes() []byte {
	out := make([]byte, 4*len(f.Weights))
	for i, w := range f.Weights {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(w))
	}
	return out
}
