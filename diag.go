package zipcore

import (
	"fmt"

	"github.com/zeebo/errs/v2"
)

// Kind classifies a core error. These are kinds, not
// exported types per entry — callers switch on Kind(), not on a zoo of
// sentinel error values.
type Kind int

const (
	_ Kind = iota
	FormatError
	ShortData
	EntryTooBig
	UnicodeMismatch
	VolumeMissing
	OutOfMemory
	IOError
)

func (k Kind) String() string {
	switch k {
	case FormatError:
		return "format"
	case ShortData:
		return "short-data"
	case EntryTooBig:
		return "entry-too-big"
	case UnicodeMismatch:
		return "unicode-mismatch"
	case VolumeMissing:
		return "volume-missing"
	case OutOfMemory:
		return "out-of-memory"
	case IOError:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the error type every core operation returns. It carries a Kind
// so callers can drive the propagation policy (fatal vs.
// demoted-to-warning) without string matching.
type Error struct {
	Kind  Kind
	Entry string // name of the affected entry, if any
	cause error
}

func (e *Error) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("zipcore: %s: %s: %v", e.Kind, e.Entry, e.cause)
	}
	return fmt.Sprintf("zipcore: %s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// wrapErr builds a *Error of the given kind, combining cause with any
// extra errors the caller collected along the way (e.g. a deferred volume
// close failing alongside the read that triggered it), the same pattern
// the pack's own zip reader uses via errs.Combine.
func wrapErr(kind Kind, entry string, cause error, extra ...error) error {
	if cause == nil && len(extra) == 0 {
		return nil
	}
	combined := errs.Combine(append([]error{cause}, extra...)...)
	if combined == nil {
		return nil
	}
	return &Error{Kind: kind, Entry: entry, cause: combined}
}

// Diagnostic is one entry on the structured diagnostics channel:
// per-entry warnings that do not abort the overall operation.
type Diagnostic struct {
	Kind  Kind
	Entry string
	Err   error
}

// DiagnosticsFunc receives non-fatal diagnostics as the scanner and writer
// encounter them. It is called synchronously, in the same control flow as
// the rest of the core: no buffering, no background delivery.
type DiagnosticsFunc func(Diagnostic)

func (f DiagnosticsFunc) emit(kind Kind, entry string, err error) {
	if f == nil || err == nil {
		return
	}
	f(Diagnostic{Kind: kind, Entry: entry, Err: err})
}
