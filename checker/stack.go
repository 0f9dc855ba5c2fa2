package checker

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/model"
)

// ---------------------------------------------------------------------------
// Linear stack
//
// Every slot is in exactly one state:
//
//	Owned     the slot holds a value; Borrowers lists slots borrowing it
//	Consumed  the value was moved out
//	Borrowed  the slot views values owned by Sources
//	Locked    consumed inside a try body at nesting Lock; a failing body
//	          gives the value back to the handler
// ---------------------------------------------------------------------------

// Status is the linear state of a slot.
type Status uint8

const (
	Owned Status = iota
	Consumed
	Borrowed
	Locked
)

func (s Status) String() string {
	switch s {
	case Owned:
		return "owned"
	case Consumed:
		return "consumed"
	case Borrowed:
		return "borrowed"
	case Locked:
		return "locked"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Slot is one typed stack entry.
type Slot struct {
	Type      *linker.Type
	Status    Status
	Lock      int
	Borrowers mapset.Set[int]
	Sources   mapset.Set[int]
}

func (s *Slot) live() bool { return s.Status == Owned || s.Status == Borrowed }

// CapsFunc computes the capabilities of a type in the current context.
type CapsFunc func(*linker.Type) (capability.Caps, error)

// Stack tracks slot states during validation of one function body.
type Stack struct {
	slots []Slot
	tries []int
	caps  CapsFunc
}

// NewStack creates an empty stack using caps for capability queries.
func NewStack(caps CapsFunc) *Stack { return &Stack{caps: caps} }

// Len returns the number of slots.
func (s *Stack) Len() int { return len(s.slots) }

// Slot returns slot i.
func (s *Stack) Slot(i int) *Slot { return &s.slots[i] }

// Abs converts a relative ValueRef to an absolute index.
func (s *Stack) Abs(ref model.ValueRef) (int, error) {
	i := len(s.slots) - 1 - int(ref)
	if i < 0 {
		return 0, errs.Newf(errs.Linearity, "value ref %d out of range (stack %d)", ref, len(s.slots))
	}
	return i, nil
}

func newSet() mapset.Set[int] { return mapset.NewThreadUnsafeSet[int]() }

// Push adds an owned slot.
func (s *Stack) Push(t *linker.Type) {
	s.slots = append(s.slots, Slot{Type: t, Status: Owned, Borrowers: newSet(), Sources: newSet()})
}

// PushBorrowed adds a slot borrowing from sources.
func (s *Stack) PushBorrowed(t *linker.Type, sources mapset.Set[int]) {
	i := len(s.slots)
	s.slots = append(s.slots, Slot{Type: t, Status: Borrowed, Borrowers: newSet(), Sources: sources.Clone()})
	for _, src := range sources.ToSlice() {
		s.slots[src].Borrowers.Add(i)
	}
}

// Borrow pushes a slot of type t viewing slot src.
func (s *Stack) Borrow(src int, t *linker.Type) error {
	if !s.slots[src].live() {
		return errs.Newf(errs.Linearity, "borrow of %s slot %d", s.slots[src].Status, src)
	}
	s.PushBorrowed(t, mapset.NewThreadUnsafeSet(src))
	return nil
}

func (s *Stack) hasCap(i int, c capability.Cap) (bool, error) {
	caps, err := s.caps(s.slots[i].Type)
	if err != nil {
		return false, err
	}
	return caps.Contains(c), nil
}

// Live checks that slot i may be read.
func (s *Stack) Live(i int) error {
	if !s.slots[i].live() {
		return errs.Newf(errs.Linearity, "use of %s slot %d (%s)", s.slots[i].Status, i, s.slots[i].Type)
	}
	return nil
}

// Consume marks slot i as moved out. Consuming a pre-try slot inside a try
// body locks it instead.
func (s *Stack) Consume(i int) error {
	sl := &s.slots[i]
	switch {
	case sl.Status == Borrowed:
		return errs.Newf(errs.Linearity, "cannot consume borrowed slot %d (%s)", i, sl.Type)
	case sl.Status != Owned:
		return errs.Newf(errs.Linearity, "slot %d already %s", i, sl.Status)
	case sl.Borrowers.Cardinality() > 0:
		return errs.Newf(errs.Linearity, "slot %d is still borrowed by %v", i, sl.Borrowers.ToSlice())
	}
	if n := len(s.tries); n > 0 && i < s.tries[n-1] {
		sl.Status, sl.Lock = Locked, n
		return nil
	}
	sl.Status = Consumed
	return nil
}

// Use reads slot i as an operand. With consume set the value is moved
// unless its type can be copied.
func (s *Stack) Use(i int, consume bool) error {
	if err := s.Live(i); err != nil {
		return err
	}
	if !consume {
		return nil
	}
	copyable, err := s.hasCap(i, capability.Copy)
	if err != nil {
		return err
	}
	if copyable {
		return nil
	}
	return s.Consume(i)
}

// UseAll applies Use to a list of operands. A non-copyable slot may only
// appear once when any of its uses consumes it.
func (s *Stack) UseAll(idx []int, consume []bool) error {
	seen := make(map[int]bool, len(idx))
	for k, i := range idx {
		if prev, dup := seen[i]; dup && (prev || consume[k]) {
			copyable, err := s.hasCap(i, capability.Copy)
			if err != nil {
				return err
			}
			if !copyable {
				return errs.Newf(errs.Linearity, "slot %d used twice by one operation", i)
			}
		}
		seen[i] = seen[i] || consume[k]
	}
	// borrowing uses first, so that a consumed operand is not read after
	for k, i := range idx {
		if !consume[k] {
			if err := s.Live(i); err != nil {
				return err
			}
		}
	}
	for k, i := range idx {
		if consume[k] {
			if err := s.Use(i, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// free releases slot i at block exit.
func (s *Stack) free(i int) error {
	sl := &s.slots[i]
	switch sl.Status {
	case Owned:
		if sl.Borrowers.Cardinality() > 0 {
			return errs.Newf(errs.Linearity, "slot %d freed while borrowed", i)
		}
		drop, err := s.hasCap(i, capability.Drop)
		if err != nil {
			return err
		}
		if !drop {
			return errs.Newf(errs.Linearity, "value of type %s in slot %d is neither consumed nor returned", sl.Type, i)
		}
	case Borrowed:
		for _, src := range sl.Sources.ToSlice() {
			s.slots[src].Borrowers.Remove(i)
		}
	}
	return nil
}

type result struct {
	t       *linker.Type
	sources mapset.Set[int]
}

// Exit ends a block whose slots start at base with Return(refs). The
// returned values replace the block's slots. With frame set the block is a
// whole function body and no borrowed value may escape.
func (s *Stack) Exit(base int, refs []model.ValueRef, frame bool) error {
	results := make([]result, len(refs))
	moved := make(map[int]bool)
	for k, ref := range refs {
		i, err := s.Abs(ref)
		if err != nil {
			return err
		}
		sl := &s.slots[i]
		copyable, err := s.hasCap(i, capability.Copy)
		if err != nil {
			return err
		}
		switch {
		case sl.Status == Borrowed:
			if !copyable {
				return errs.Newf(errs.Linearity, "cannot return borrowed slot %d (%s)", i, sl.Type)
			}
			var outside mapset.Set[int]
			if sl.Sources.Cardinality() > 0 {
				if frame {
					return errs.Newf(errs.Linearity, "borrowed slot %d escapes its function", i)
				}
				for _, src := range sl.Sources.ToSlice() {
					if src >= base {
						return errs.Newf(errs.Linearity, "slot %d outlives its source %d", i, src)
					}
				}
				outside = sl.Sources
			}
			results[k] = result{t: sl.Type, sources: outside}
		case sl.Status != Owned:
			return errs.Newf(errs.Linearity, "cannot return %s slot %d", sl.Status, i)
		case i >= base && !moved[i]:
			moved[i] = true
			results[k] = result{t: sl.Type}
		case copyable:
			results[k] = result{t: sl.Type}
		case i >= base:
			return errs.Newf(errs.Linearity, "slot %d returned twice", i)
		default:
			if err := s.Consume(i); err != nil {
				return err
			}
			results[k] = result{t: sl.Type}
		}
	}
	for i := len(s.slots) - 1; i >= base; i-- {
		if moved[i] {
			continue
		}
		if err := s.free(i); err != nil {
			return err
		}
	}
	for i := range moved {
		if s.slots[i].Borrowers.Cardinality() > 0 {
			return errs.Newf(errs.Linearity, "cannot return slot %d while it is borrowed", i)
		}
	}
	s.slots = s.slots[:base]
	for _, r := range results {
		if r.sources != nil {
			s.PushBorrowed(r.t, r.sources)
		} else {
			s.Push(r.t)
		}
	}
	return nil
}

// EnterTry marks the current height as the base of a try body.
func (s *Stack) EnterTry() { s.tries = append(s.tries, len(s.slots)) }

// LeaveTry ends the innermost try body after it succeeded. Slots it locked
// become consumed, or stay locked for the enclosing try when they predate
// that one too.
func (s *Stack) LeaveTry() {
	n := len(s.tries)
	s.tries = s.tries[:n-1]
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.Status != Locked || sl.Lock != n {
			continue
		}
		if n > 1 && i < s.tries[n-2] {
			sl.Lock = n - 1
		} else {
			sl.Status, sl.Lock = Consumed, 0
		}
	}
}

// Clone returns an independent copy.
func (s *Stack) Clone() *Stack {
	c := &Stack{slots: make([]Slot, len(s.slots)), tries: append([]int(nil), s.tries...), caps: s.caps}
	for i, sl := range s.slots {
		sl.Borrowers = sl.Borrowers.Clone()
		sl.Sources = sl.Sources.Clone()
		c.slots[i] = sl
	}
	return c
}

// Agrees reports whether two stacks have the same height, types and
// statuses.
func (s *Stack) Agrees(o *Stack) error {
	if len(s.slots) != len(o.slots) {
		return errs.Newf(errs.Linearity, "branches leave %d and %d slots", len(s.slots), len(o.slots))
	}
	for i := range s.slots {
		a, b := &s.slots[i], &o.slots[i]
		switch {
		case a.Type != b.Type:
			return errs.Newf(errs.Capability, "branches disagree on slot %d: %s vs %s", i, a.Type, b.Type)
		case a.Status != b.Status || a.Lock != b.Lock:
			return errs.Newf(errs.Linearity, "branches disagree on slot %d: %s vs %s", i, a.Status, b.Status)
		case !a.Borrowers.Equal(b.Borrowers) || !a.Sources.Equal(b.Sources):
			return errs.Newf(errs.Linearity, "branches disagree on borrows of slot %d", i)
		}
	}
	return nil
}
