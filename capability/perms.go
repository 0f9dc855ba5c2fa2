package capability

import (
	"fmt"
	"strings"
)

// Perm is a single component permission.
type Perm uint8

const (
	Create Perm = iota
	Consume
	Inspect
	Call
	Implement
	numPerms
)

var permNames = [...]string{"Create", "Consume", "Inspect", "Call", "Implement"}

func (p Perm) String() string {
	if p < numPerms {
		return permNames[p]
	}
	return fmt.Sprintf("Perm(%d)", uint8(p))
}

// Perms is a set of permissions.
type Perms uint8

const (
	NoPerms  Perms = 0
	AllPerms Perms = 1<<numPerms - 1
	// DataPerms are the permissions meaningful on data types.
	DataPerms = Perms(1<<Create | 1<<Consume | 1<<Inspect)
	// SigPerms are the permissions meaningful on signatures.
	SigPerms = Perms(1<<Call | 1<<Implement)
	// CallablePerms are the permissions meaningful on functions and implements.
	CallablePerms = Perms(1 << Call)
)

// PermsOf builds a set from individual permissions.
func PermsOf(ps ...Perm) Perms {
	var s Perms
	for _, p := range ps {
		s |= 1 << p
	}
	return s
}

func (s Perms) Contains(p Perm) bool     { return s&(1<<p) != 0 }
func (s Perms) IsEmpty() bool            { return s == 0 }
func (s Perms) IsSubsetOf(o Perms) bool  { return s&^o == 0 }
func (s Perms) Union(o Perms) Perms      { return s | o }
func (s Perms) Intersect(o Perms) Perms  { return s & o }
func (s Perms) Difference(o Perms) Perms { return s &^ o }
func (s Perms) Without(p Perm) Perms     { return s &^ (1 << p) }
func (s Perms) Valid() bool              { return s&^AllPerms == 0 }

// Single returns the only permission in s, or false if s is not a singleton.
func (s Perms) Single() (Perm, bool) {
	for p := Perm(0); p < numPerms; p++ {
		if s == 1<<p {
			return p, true
		}
	}
	return 0, false
}

func (s Perms) String() string {
	if s == 0 {
		return "{}"
	}
	var parts []string
	for p := Perm(0); p < numPerms; p++ {
		if s.Contains(p) {
			parts = append(parts, p.String())
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}
