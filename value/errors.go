package value

import (
	"fmt"

	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
)

// ErrorID identifies a catchable runtime error: the module that declares it
// and its ordinal within that module.
type ErrorID struct {
	Module hash.Hash
	Offset uint8
}

// Bytes returns the 21-byte encoding handed to Try handlers.
func (id ErrorID) Bytes() []byte {
	b := make([]byte, 0, hash.Size+1)
	b = append(b, id.Module[:]...)
	return append(b, id.Offset)
}

func (id ErrorID) String() string {
	return fmt.Sprintf("%s/%d", id.Module.Short(), id.Offset)
}

// Errors declared by the built-in system module.
const (
	SysOverflow uint8 = iota
	SysDivideByZero
	SysConversion
	SysBadTag
	SysBadCall
	NumSysErrors
)

// System error identities.
var (
	OverflowError     = ErrorID{Module: hash.SystemModule, Offset: SysOverflow}
	DivideByZeroError = ErrorID{Module: hash.SystemModule, Offset: SysDivideByZero}
	ConversionError   = ErrorID{Module: hash.SystemModule, Offset: SysConversion}
	BadTagError       = ErrorID{Module: hash.SystemModule, Offset: SysBadTag}
	BadCallError      = ErrorID{Module: hash.SystemModule, Offset: SysBadCall}
)

// Throw is a runtime execution error carrying its error identity. It is the
// only error a Try handler can intercept.
type Throw struct {
	ID     ErrorID
	Reason string
}

func (t *Throw) Error() string {
	if t.Reason == "" {
		return fmt.Sprintf("ExecutionError: %s", t.ID)
	}
	return fmt.Sprintf("ExecutionError: %s: %s", t.ID, t.Reason)
}

// Is matches errs.ErrExecution and any Throw with the same identity.
func (t *Throw) Is(target error) bool {
	switch x := target.(type) {
	case *Throw:
		return x.ID == t.ID
	case *errs.Error:
		return x.Kind == errs.Execution
	}
	return false
}

func throw(id ErrorID, format string, args ...any) error {
	return &Throw{ID: id, Reason: fmt.Sprintf(format, args...)}
}

var (
	ErrOverflow     = &Throw{ID: OverflowError}
	ErrDivideByZero = &Throw{ID: DivideByZeroError}
	ErrConversion   = &Throw{ID: ConversionError}
)
