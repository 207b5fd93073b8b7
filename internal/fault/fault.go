// Package fault defines the error taxonomy shared by the offload pipeline,
// its configuration layer and the CLI.
//
// Every failure surfaced to the user is a *Error carrying a Kind, the
// operation that failed and, for device calls, the device status code.
// Callers match kinds with errors.Is against the exported sentinels:
//
//	if errors.Is(err, fault.ErrSourceTooLarge) { ... }
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	PlatformUnavailable
	DeviceUnavailable
	ContextCreationFailed
	QueueCreationFailed
	CompileError
	SymbolNotFound
	SourceTooLarge
	AllocationFailed
	SizeMismatch
	TransferFailed
	DispatchFailed
	ArgumentBindFailed
	ConfigInvalid
	IOError
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	PlatformUnavailable:   "PlatformUnavailable",
	DeviceUnavailable:     "DeviceUnavailable",
	ContextCreationFailed: "ContextCreationFailed",
	QueueCreationFailed:   "QueueCreationFailed",
	CompileError:          "CompileError",
	SymbolNotFound:        "SymbolNotFound",
	SourceTooLarge:        "SourceTooLarge",
	AllocationFailed:      "AllocationFailed",
	SizeMismatch:          "SizeMismatch",
	TransferFailed:        "TransferFailed",
	DispatchFailed:        "DispatchFailed",
	ArgumentBindFailed:    "ArgumentBindFailed",
	ConfigInvalid:         "ConfigInvalid",
	IOError:               "IOError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// exitCodes is the stable process exit status per kind.
var exitCodes = map[Kind]int{
	ConfigInvalid:         2,
	IOError:               3,
	SourceTooLarge:        4,
	PlatformUnavailable:   10,
	DeviceUnavailable:     11,
	ContextCreationFailed: 12,
	QueueCreationFailed:   13,
	CompileError:          14,
	SymbolNotFound:        15,
	AllocationFailed:      16,
	SizeMismatch:          17,
	TransferFailed:        18,
	ArgumentBindFailed:    19,
	DispatchFailed:        20,
}

// ExitCode returns the exit status for the kind; 1 when unclassified.
func (k Kind) ExitCode() int {
	if code, ok := exitCodes[k]; ok {
		return code
	}
	return 1
}

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	// Op names the stage or call that failed, e.g. "clBuildProgram".
	Op string
	// Code is the device status code, zero when the failure is host-side.
	Code int
	// Log holds the compiler output for CompileError.
	Log string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Code != 0 && (e.Err == nil || !strings.Contains(e.Err.Error(), fmt.Sprintf("(%d)", e.Code))) {
		fmt.Fprintf(&b, " (status %d)", e.Code)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with
// KindUnknown matches any *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == KindUnknown || t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrPlatformUnavailable   = &Error{Kind: PlatformUnavailable}
	ErrDeviceUnavailable     = &Error{Kind: DeviceUnavailable}
	ErrContextCreationFailed = &Error{Kind: ContextCreationFailed}
	ErrQueueCreationFailed   = &Error{Kind: QueueCreationFailed}
	ErrCompile               = &Error{Kind: CompileError}
	ErrSymbolNotFound        = &Error{Kind: SymbolNotFound}
	ErrSourceTooLarge        = &Error{Kind: SourceTooLarge}
	ErrAllocationFailed      = &Error{Kind: AllocationFailed}
	ErrSizeMismatch          = &Error{Kind: SizeMismatch}
	ErrTransferFailed        = &Error{Kind: TransferFailed}
	ErrDispatchFailed        = &Error{Kind: DispatchFailed}
	ErrArgumentBindFailed    = &Error{Kind: ArgumentBindFailed}
	ErrConfigInvalid         = &Error{Kind: ConfigInvalid}
	ErrIO                    = &Error{Kind: IOError}
)

// New builds a classified error. When err carries a device status (see
// StatusCoder) the code is recorded as well.
func New(kind Kind, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	var sc StatusCoder
	if errors.As(err, &sc) {
		e.Code = sc.StatusCode()
	}
	return e
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// StatusCoder is implemented by device errors that carry a raw status code.
type StatusCoder interface {
	StatusCode() int
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps err to a process exit status: 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}

// Code returns the device status code recorded in err, or 0.
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
