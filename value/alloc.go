package value

import "github.com/chazu/sanskrit/arena"

// Alloc bundles the two arenas that back runtime values: a byte arena for
// data payloads and a virtual heap for ADT field vectors.
type Alloc struct {
	Bytes  *arena.Bytes
	Fields *arena.Heap[Value]
}

// AllocMark is a combined high-water mark of both arenas.
type AllocMark struct {
	bytes, fields arena.Mark
}

// NewAlloc creates arenas with the given capacities.
func NewAlloc(byteCap, fieldCap int) *Alloc {
	return &Alloc{Bytes: arena.NewBytes(byteCap), Fields: arena.NewHeap[Value](fieldCap)}
}

// Mark captures both high-water marks.
func (a *Alloc) Mark() AllocMark {
	return AllocMark{bytes: a.Bytes.Mark(), fields: a.Fields.Mark()}
}

// Release restores both arenas to m.
func (a *Alloc) Release(m AllocMark) error {
	if err := a.Fields.Release(m.fields); err != nil {
		return err
	}
	return a.Bytes.Release(m.bytes)
}

// Reset empties both arenas.
func (a *Alloc) Reset() {
	a.Fields.Reset()
	a.Bytes.Reset()
}

// Data copies b into the byte arena and wraps it.
func (a *Alloc) Data(b []byte) (Value, error) {
	d, err := a.Bytes.Copy(b)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: Data, Data: d}, nil
}

// ADT allocates an ADT value with copies of the given field heads.
func (a *Alloc) ADT(tag uint8, fields ...Value) (Value, error) {
	fs, err := a.Fields.Alloc(len(fields))
	if err != nil {
		return Value{}, err
	}
	copy(fs, fields)
	return Value{Kind: ADT, Tag: tag, Fields: fs}, nil
}

// Sig allocates a signature value closing over captures.
func (a *Alloc) Sig(fn uint32, captures ...Value) (Value, error) {
	fs, err := a.Fields.Alloc(len(captures))
	if err != nil {
		return Value{}, err
	}
	copy(fs, captures)
	return Value{Kind: Sig, Fn: fn, Fields: fs}, nil
}
