package decode

import (
	"errors"
	"fmt"
)

// ErrorKind classifies decode failures by how the pipeline must react.
type ErrorKind int

const (
	// Malformed marks a structurally invalid frame. Skip it and continue.
	Malformed ErrorKind = iota

	// UnknownSymbol marks a frame whose address is not in the symbol
	// table. A best-effort record is still produced alongside the error.
	UnknownSymbol

	// VersionMismatch marks an incompatible encoding version. Every later
	// frame in the stream is unreliable, so the whole run must abort.
	VersionMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownSymbol:
		return "unknown symbol"
	case VersionMismatch:
		return "version mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a typed decode failure.
type Error struct {
	Kind   ErrorKind
	Offset int64  // stream offset of the offending frame
	Addr   uint64 // set for UnknownSymbol
	Err    error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Kind == UnknownSymbol {
		return fmt.Sprintf("decode: unknown symbol 0x%x at offset %d", e.Addr, e.Offset)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode: %s frame at offset %d: %v", e.Kind, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode: %s frame at offset %d", e.Kind, e.Offset)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err poisons the rest of the stream rather than a
// single frame.
func IsFatal(err error) bool {
	var derr *Error
	return errors.As(err, &derr) && derr.Kind == VersionMismatch
}
