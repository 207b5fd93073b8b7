package config

import (
	"fmt"
	"strings"

	"github.com/cwbudde/clblur/internal/fault"
)

// Request holds the per-run options given on the command line.
type Request struct {
	Input      int
	Output     int
	FilterSize int
}

// Missing lists required options that were not supplied.
type Missing []string

func (m Missing) Error() string {
	return fmt.Sprintf("missing required option(s): %s", strings.Join(m, ", "))
}

// Validate reports missing or out-of-range options as ConfigInvalid. set
// names the options that were supplied.
func (r Request) Validate(set func(name string) bool) error {
	var missing Missing
	for _, name := range []string{"input", "output", "filter"} {
		if !set(name) {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		return fault.New(fault.ConfigInvalid, "parse options", missing)
	}

	if r.Input < 0 {
		return fault.Newf(fault.ConfigInvalid, "parse options", "input index must not be negative, got %d", r.Input)
	}
	if r.Output < 0 {
		return fault.Newf(fault.ConfigInvalid, "parse options", "output index must not be negative, got %d", r.Output)
	}
	if r.FilterSize <= 0 || r.FilterSize%2 == 0 {
		return fault.Newf(fault.ConfigInvalid, "parse options", "filter size must be a positive odd number, got %d", r.FilterSize)
	}
	return nil
}
