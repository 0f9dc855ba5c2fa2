// Package capability implements the bitmask algebra for type capabilities,
// component permissions and execution modes.
//
// The operation set is small and closed, so sets are plain integers rather
// than interfaces. Meet is intersection and join is union.
package capability

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/chazu/sanskrit/errs"
)

// Cap is a single type capability.
type Cap uint8

const (
	Drop Cap = iota
	Copy
	Persist
	Primitive
	Value
	Unbound
	numCaps
)

var capNames = [...]string{"Drop", "Copy", "Persist", "Primitive", "Value", "Unbound"}

func (c Cap) String() string {
	if c < numCaps {
		return capNames[c]
	}
	return fmt.Sprintf("Cap(%d)", uint8(c))
}

// Caps is a set of capabilities.
type Caps uint8

const (
	// NoCaps is the empty set.
	NoCaps Caps = 0
	// AllCaps contains every capability.
	AllCaps Caps = 1<<numCaps - 1
	// NonRecursive holds the capabilities that do not flow through generic
	// arguments when a type is applied.
	NonRecursive = Caps(1 << Primitive)
	// PrimitiveImplies is what a Primitive type must also carry.
	PrimitiveImplies = Caps(1<<Drop | 1<<Copy | 1<<Persist | 1<<Value | 1<<Unbound)
)

// CapsOf builds a set from individual capabilities.
func CapsOf(cs ...Cap) Caps {
	var s Caps
	for _, c := range cs {
		s |= 1 << c
	}
	return s
}

func (s Caps) Contains(c Cap) bool    { return s&(1<<c) != 0 }
func (s Caps) IsEmpty() bool          { return s == 0 }
func (s Caps) IsSubsetOf(o Caps) bool { return s&^o == 0 }
func (s Caps) Union(o Caps) Caps      { return s | o }
func (s Caps) Intersect(o Caps) Caps  { return s & o }
func (s Caps) Difference(o Caps) Caps { return s &^ o }
func (s Caps) With(c Cap) Caps        { return s | 1<<c }
func (s Caps) Without(c Cap) Caps     { return s &^ (1 << c) }
func (s Caps) Len() int               { return bits.OnesCount8(uint8(s)) }
func (s Caps) Valid() bool            { return s&^AllCaps == 0 }

// Validate checks the implication rules: Primitive implies
// {Drop, Copy, Persist, Value, Unbound}, and Persist implies Unbound.
func (s Caps) Validate() error {
	if !s.Valid() {
		return errs.Newf(errs.Capability, "unknown capability bits %#x", uint8(s))
	}
	if s.Contains(Primitive) && !PrimitiveImplies.IsSubsetOf(s) {
		return errs.Newf(errs.Capability, "Primitive requires %s, have %s", PrimitiveImplies, s)
	}
	if s.Contains(Persist) && !s.Contains(Unbound) {
		return errs.New(errs.Capability, "Persist requires Unbound")
	}
	return nil
}

func (s Caps) String() string {
	if s == 0 {
		return "{}"
	}
	var parts []string
	for c := Cap(0); c < numCaps; c++ {
		if s.Contains(c) {
			parts = append(parts, c.String())
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ApplyTypes computes the capabilities of an applied type.
//
// recurse is the intersection of the capabilities of every non-phantom
// argument (AllCaps if there are none), effective is base ∩ recurse, and
// inherited adds back the non-recursive part of base.
func ApplyTypes(base Caps, phantom []bool, args []Caps) (effective, inherited, recurse Caps) {
	recurse = AllCaps
	for i, a := range args {
		if i < len(phantom) && phantom[i] {
			continue
		}
		recurse &= a
	}
	effective = base & recurse
	inherited = (base & NonRecursive) | effective
	return effective, inherited, recurse
}
