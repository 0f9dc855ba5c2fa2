package model

import (
	"fmt"

	"github.com/chazu/sanskrit/value"
)

// Op is a bytecode operation. Operations are grouped into ranges by
// category.
type Op byte

const (
	// ========================================================================
	// Structure (0x00-0x0F)
	// ========================================================================

	OpLet      Op = 0x00 // Nested block: OpLet <block>
	OpId       Op = 0x01 // Copy or move a slot: OpId <value:u16>
	OpVoid     Op = 0x02 // Push Unit
	OpReturn   Op = 0x03 // Terminator: OpReturn <n:u8> <value:u16>*
	OpRollback Op = 0x04 // Terminator: OpRollback <error:u8>
	OpTry      Op = 0x05 // OpTry <block> <n:u8> (<error:u8> <block>)*

	// ========================================================================
	// Algebraic data (0x10-0x1F)
	// ========================================================================

	OpPack   Op = 0x10 // OpPack <perm:u8> <tag:u8> <n:u8> <value:u16>*
	OpUnpack Op = 0x11 // OpUnpack <perm:u8> <value:u16> <mode:u8>
	OpSwitch Op = 0x12 // OpSwitch <perm:u8> <value:u16> <mode:u8> <n:u8> <block>*
	OpGet    Op = 0x13 // Copy one field: OpGet <perm:u8> <value:u16> <field:u8>

	// ========================================================================
	// Calls (0x20-0x2F)
	// ========================================================================

	OpInvoke         Op = 0x20 // OpInvoke <callable:u8> <n:u8> <value:u16>*
	OpCreateSig      Op = 0x21 // Capture values: OpCreateSig <callable:u8> <n:u8> <value:u16>*
	OpInvokeSig      Op = 0x22 // OpInvokeSig <perm:u8> <value:u16> <n:u8> <value:u16>*
	OpSysInvoke      Op = 0x23 // OpSysInvoke <id:u8> <n:u8> <value:u16>*
	OpTypedSysInvoke Op = 0x24 // OpTypedSysInvoke <id:u8> <kind:u8> <n:u8> <value:u16>*

	// ========================================================================
	// Literals (0x30-0x3F)
	// ========================================================================

	OpSpecialLit Op = 0x30 // Integer literal: OpSpecialLit <kind:u8> <width bytes>
	OpData       Op = 0x31 // Data literal: OpData <len:u32> <bytes>

	// ========================================================================
	// Arithmetic (0x40-0x4F)
	// ========================================================================

	OpAdd Op = 0x40 // OpAdd <kind:u8> <a:u16> <b:u16>
	OpSub Op = 0x41
	OpMul Op = 0x42
	OpDiv Op = 0x43
	OpAnd Op = 0x44
	OpOr  Op = 0x45
	OpXor Op = 0x46
	OpNot Op = 0x47 // OpNot <kind:u8> <a:u16>

	// ========================================================================
	// Comparison (0x50-0x5F)
	// ========================================================================

	OpEq  Op = 0x50 // OpEq <kind:u8> <a:u16> <b:u16>, kind may be Data
	OpLt  Op = 0x51
	OpGt  Op = 0x52
	OpLte Op = 0x53
	OpGte Op = 0x54

	// ========================================================================
	// Conversion (0x60-0x6F)
	// ========================================================================

	OpToData   Op = 0x60 // OpToData <kind:u8> <a:u16>
	OpFromData Op = 0x61 // OpFromData <kind:u8> <a:u16>
)

// payload describes the operand layout following an opcode byte.
type payload uint8

const (
	payNone payload = iota
	payBlock
	payValue
	payRefs
	payError
	payTry
	payPack
	payFetch
	paySwitch
	payField
	payCallable
	payPermValueRefs
	paySys
	payTypedSys
	payLit
	payData
	payBinary
	payUnary
)

// OpInfo provides metadata about each opcode for disassembly and
// validation.
type OpInfo struct {
	Name       string
	Terminator bool
	layout     payload
}

var opInfoTable = map[Op]OpInfo{
	OpLet:      {"LET", false, payBlock},
	OpId:       {"ID", false, payValue},
	OpVoid:     {"VOID", false, payNone},
	OpReturn:   {"RETURN", true, payRefs},
	OpRollback: {"ROLLBACK", true, payError},
	OpTry:      {"TRY", false, payTry},

	OpPack:   {"PACK", false, payPack},
	OpUnpack: {"UNPACK", false, payFetch},
	OpSwitch: {"SWITCH", false, paySwitch},
	OpGet:    {"GET", false, payField},

	OpInvoke:         {"INVOKE", false, payCallable},
	OpCreateSig:      {"CREATE_SIG", false, payCallable},
	OpInvokeSig:      {"INVOKE_SIG", false, payPermValueRefs},
	OpSysInvoke:      {"SYS_INVOKE", false, paySys},
	OpTypedSysInvoke: {"TYPED_SYS_INVOKE", false, payTypedSys},

	OpSpecialLit: {"LIT", false, payLit},
	OpData:       {"DATA", false, payData},

	OpAdd: {"ADD", false, payBinary},
	OpSub: {"SUB", false, payBinary},
	OpMul: {"MUL", false, payBinary},
	OpDiv: {"DIV", false, payBinary},
	OpAnd: {"AND", false, payBinary},
	OpOr:  {"OR", false, payBinary},
	OpXor: {"XOR", false, payBinary},
	OpNot: {"NOT", false, payUnary},

	OpEq:  {"EQ", false, payBinary},
	OpLt:  {"LT", false, payBinary},
	OpGt:  {"GT", false, payBinary},
	OpLte: {"LTE", false, payBinary},
	OpGte: {"GTE", false, payBinary},

	OpToData:   {"TO_DATA", false, payUnary},
	OpFromData: {"FROM_DATA", false, payUnary},
}

// GetOpInfo returns metadata for an opcode and whether it is defined.
func GetOpInfo(op Op) (OpInfo, bool) {
	info, ok := opInfoTable[op]
	return info, ok
}

func (op Op) String() string {
	if info, ok := opInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// IsTerminator reports whether op ends a block.
func (op Op) IsTerminator() bool { return opInfoTable[op].Terminator }

// IsArithmetic reports whether op is one of the integer operations whose
// result has the operand kind.
func (op Op) IsArithmetic() bool { return op >= OpAdd && op <= OpNot }

// IsComparison reports whether op yields a Bool.
func (op Op) IsComparison() bool { return op >= OpEq && op <= OpGte }

// FetchMode selects how Unpack and Switch treat their subject.
type FetchMode uint8

const (
	// FetchConsume destroys the subject and moves its fields.
	FetchConsume FetchMode = iota
	// FetchInspect borrows the subject and pushes projections of its fields.
	FetchInspect
	numFetchModes
)

func (m FetchMode) String() string {
	if m == FetchInspect {
		return "inspect"
	}
	return "consume"
}

// Catch is a Try handler for one error.
type Catch struct {
	Error ErrorRef
	Body  Block
}

// Block is a sequence of operations ending in exactly one terminator.
type Block struct {
	Ops []OpCode
}

// Terminator returns the final operation of the block.
func (b Block) Terminator() *OpCode {
	if len(b.Ops) == 0 {
		return nil
	}
	return &b.Ops[len(b.Ops)-1]
}

// OpCode is one operation of the tree-shaped bytecode. Only the fields named
// by the operation's layout are meaningful.
type OpCode struct {
	Op Op

	Perm     PermRef
	Callable CallableRef
	Error    ErrorRef

	// Value is the subject of Id, Unpack, Switch, Get, InvokeSig and the
	// first operand of arithmetic. Other is the second arithmetic operand.
	Value ValueRef
	Other ValueRef
	Refs  []ValueRef

	Mode  FetchMode
	Tag   uint8
	Field uint8
	ID    uint8
	Kind  value.Kind
	Bytes []byte

	Body     Block
	Branches []Block
	Catches  []Catch
}

func (e *encoder) block(b *Block) {
	if !e.enter() {
		return
	}
	defer e.leave()
	e.len16(len(b.Ops))
	for i := range b.Ops {
		e.op(&b.Ops[i])
	}
}

func (e *encoder) op(o *OpCode) {
	info, ok := opInfoTable[o.Op]
	if !ok {
		e.failf("unknown opcode 0x%02X", byte(o.Op))
		return
	}
	e.u8(uint8(o.Op))
	switch info.layout {
	case payNone:
	case payBlock:
		e.block(&o.Body)
	case payValue:
		e.ref(o.Value)
	case payRefs:
		e.refs(o.Refs)
	case payError:
		e.u8(uint8(o.Error))
	case payTry:
		e.block(&o.Body)
		e.len8(len(o.Catches))
		for i := range o.Catches {
			e.u8(uint8(o.Catches[i].Error))
			e.block(&o.Catches[i].Body)
		}
	case payPack:
		e.u8(uint8(o.Perm))
		e.u8(o.Tag)
		e.refs(o.Refs)
	case payFetch:
		e.u8(uint8(o.Perm))
		e.ref(o.Value)
		e.u8(uint8(o.Mode))
	case paySwitch:
		e.u8(uint8(o.Perm))
		e.ref(o.Value)
		e.u8(uint8(o.Mode))
		e.len8(len(o.Branches))
		for i := range o.Branches {
			e.block(&o.Branches[i])
		}
	case payField:
		e.u8(uint8(o.Perm))
		e.ref(o.Value)
		e.u8(o.Field)
	case payCallable:
		e.u8(uint8(o.Callable))
		e.refs(o.Refs)
	case payPermValueRefs:
		e.u8(uint8(o.Perm))
		e.ref(o.Value)
		e.refs(o.Refs)
	case paySys:
		e.u8(o.ID)
		e.refs(o.Refs)
	case payTypedSys:
		e.u8(o.ID)
		e.u8(uint8(o.Kind))
		e.refs(o.Refs)
	case payLit:
		if !o.Kind.IsInt() || len(o.Bytes) != o.Kind.Width() {
			e.failf("literal of kind %s has %d bytes", o.Kind, len(o.Bytes))
			return
		}
		e.u8(uint8(o.Kind))
		e.raw(o.Bytes)
	case payData:
		e.blob(o.Bytes)
	case payBinary:
		e.u8(uint8(o.Kind))
		e.ref(o.Value)
		e.ref(o.Other)
	case payUnary:
		e.u8(uint8(o.Kind))
		e.ref(o.Value)
	}
}

func (d *decoder) block() Block {
	var b Block
	if !d.enter() {
		return b
	}
	defer d.leave()
	n := d.len16()
	if d.err != nil {
		return b
	}
	if n == 0 {
		d.failf("empty block")
		return b
	}
	b.Ops = make([]OpCode, n)
	for i := range b.Ops {
		b.Ops[i] = d.op()
		if d.err != nil {
			return b
		}
		if b.Ops[i].Op.IsTerminator() != (i == n-1) {
			d.failf("block of %d ops: terminator misplaced at %d", n, i)
			return b
		}
	}
	return b
}

func (d *decoder) op() OpCode {
	o := OpCode{Op: Op(d.u8())}
	if d.err != nil {
		return o
	}
	info, ok := opInfoTable[o.Op]
	if !ok {
		d.failf("unknown opcode 0x%02X", byte(o.Op))
		return o
	}
	switch info.layout {
	case payNone:
	case payBlock:
		o.Body = d.block()
	case payValue:
		o.Value = d.ref()
	case payRefs:
		o.Refs = d.refs()
	case payError:
		o.Error = ErrorRef(d.u8())
	case payTry:
		o.Body = d.block()
		if n := d.len8(); n > 0 && d.err == nil {
			o.Catches = make([]Catch, n)
			for i := range o.Catches {
				o.Catches[i].Error = ErrorRef(d.u8())
				o.Catches[i].Body = d.block()
			}
		}
	case payPack:
		o.Perm = PermRef(d.u8())
		o.Tag = d.u8()
		o.Refs = d.refs()
	case payFetch:
		o.Perm = PermRef(d.u8())
		o.Value = d.ref()
		o.Mode = FetchMode(d.enum("fetch mode", uint8(numFetchModes)))
	case paySwitch:
		o.Perm = PermRef(d.u8())
		o.Value = d.ref()
		o.Mode = FetchMode(d.enum("fetch mode", uint8(numFetchModes)))
		n := d.len8()
		if d.err == nil && n == 0 {
			d.failf("switch without branches")
		}
		if n > 0 && d.err == nil {
			o.Branches = make([]Block, n)
			for i := range o.Branches {
				o.Branches[i] = d.block()
			}
		}
	case payField:
		o.Perm = PermRef(d.u8())
		o.Value = d.ref()
		o.Field = d.u8()
	case payCallable:
		o.Callable = CallableRef(d.u8())
		o.Refs = d.refs()
	case payPermValueRefs:
		o.Perm = PermRef(d.u8())
		o.Value = d.ref()
		o.Refs = d.refs()
	case paySys:
		o.ID = d.u8()
		o.Refs = d.refs()
	case payTypedSys:
		o.ID = d.u8()
		o.Kind = value.Kind(d.enum("int kind", uint8(value.U128)+1))
		o.Refs = d.refs()
	case payLit:
		o.Kind = value.Kind(d.enum("int kind", uint8(value.U128)+1))
		o.Bytes = d.raw(o.Kind.Width())
	case payData:
		o.Bytes = d.blob()
	case payBinary:
		o.Kind = value.Kind(d.enum("operand kind", uint8(value.Data)+1))
		o.Value = d.ref()
		o.Other = d.ref()
	case payUnary:
		o.Kind = value.Kind(d.enum("int kind", uint8(value.U128)+1))
		o.Value = d.ref()
	}
	return o
}
