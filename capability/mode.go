package capability

import "fmt"

// Mode is the declared execution mode of a function or signature.
type Mode uint8

const (
	Pure Mode = iota
	Init
	Dependent
	Active
	NumModes
)

func (m Mode) String() string {
	switch m {
	case Pure:
		return "Pure"
	case Init:
		return "Init"
	case Dependent:
		return "Dependent"
	case Active:
		return "Active"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// satisfies[self] lists the required modes that self may stand in for.
var satisfies = [NumModes][NumModes]bool{
	Pure:      {Pure: true, Init: true, Dependent: true, Active: true},
	Init:      {Init: true, Dependent: true, Active: true},
	Dependent: {Dependent: true, Active: true},
	Active:    {Active: true},
}

// Satisfies reports whether a callee in mode m may be used where required
// is the caller's mode.
func (m Mode) Satisfies(required Mode) bool {
	if m >= NumModes || required >= NumModes {
		return false
	}
	return satisfies[m][required]
}
