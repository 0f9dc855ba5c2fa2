// Package errs defines the error taxonomy shared by the validator, the
// compiler and the interpreter.
//
// Every failure surfaced by the core carries a Kind. Callers match on the
// kind with errors.Is against the sentinel values below:
//
//	if errors.Is(err, errs.ErrOutOfGas) { ... }
//
// The human readable tag attached to an error is controlled by the
// sanskrit_uniterrors build tag. Without it tags are kept verbatim; with it
// they are dropped so that binaries embedded in constrained hosts do not
// carry the message tables.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by origin and recovery policy.
type Kind uint8

const (
	// Parse errors come from the binary codec. Fatal for the current input.
	Parse Kind = iota + 1
	// Integrity errors come from the linker and loader (missing imports,
	// bad indices, hash mismatches). Fatal for the current validation.
	Integrity
	// Capability errors come from the type checker.
	Capability
	// Linearity errors come from the linear stack checker.
	Linearity
	// Execution errors are raised by the interpreter and may be caught by Try.
	Execution
	// OutOfGas aborts the current bundle section.
	OutOfGas
	// OutOfMemory is raised by the arenas and aborts the current section.
	OutOfMemory
	// Storage errors come from the external store and abort the section.
	Storage
	// Cycle errors are raised when a resolution re-enters a key that is
	// already being computed.
	Cycle
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "ParseError"
	case Integrity:
		return "IntegrityError"
	case Capability:
		return "CapabilityError"
	case Linearity:
		return "LinearityError"
	case Execution:
		return "ExecutionError"
	case OutOfGas:
		return "OutOfGas"
	case OutOfMemory:
		return "OutOfMemory"
	case Storage:
		return "StorageError"
	case Cycle:
		return "CycleError"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// SectionFatal reports whether errors of this kind abort a whole bundle
// section rather than just the current transaction.
func (k Kind) SectionFatal() bool {
	switch k {
	case OutOfGas, OutOfMemory, Storage:
		return true
	}
	return false
}

// Sentinels usable with errors.Is.
var (
	ErrParse       = &Error{Kind: Parse}
	ErrIntegrity   = &Error{Kind: Integrity}
	ErrCapability  = &Error{Kind: Capability}
	ErrLinearity   = &Error{Kind: Linearity}
	ErrExecution   = &Error{Kind: Execution}
	ErrOutOfGas    = &Error{Kind: OutOfGas}
	ErrOutOfMemory = &Error{Kind: OutOfMemory}
	ErrStorage     = &Error{Kind: Storage}
	ErrCycle       = &Error{Kind: Cycle}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Tag  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Tag != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Tag, e.Err)
	case e.Tag != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Tag)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is regardless of tag or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error with a tag.
func New(kind Kind, tag string) error {
	return &Error{Kind: kind, Tag: tagText(tag)}
}

// Newf creates a classified error with a formatted tag.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Tag: tagTextf(format, args...)}
}

// Wrap classifies an underlying error. If err already carries a kind, it is
// returned unchanged so that the innermost classification wins.
func Wrap(kind Kind, err error, tag string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Tag: tagText(tag), Err: err}
}

// KindOf extracts the kind of err, or 0 if it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
