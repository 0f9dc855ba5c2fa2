package model

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a block tree.
func (b Block) Disassemble() string {
	var sb strings.Builder
	b.disassemble(&sb, 0)
	return sb.String()
}

func (b Block) disassemble(sb *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	for i := range b.Ops {
		o := &b.Ops[i]
		sb.WriteString(fmt.Sprintf("%s%04d %s\n", indent, i, o.operands()))
		switch o.Op {
		case OpLet:
			o.Body.disassemble(sb, depth+1)
		case OpTry:
			o.Body.disassemble(sb, depth+1)
			for _, c := range o.Catches {
				sb.WriteString(fmt.Sprintf("%s     catch e%d\n", indent, c.Error))
				c.Body.disassemble(sb, depth+1)
			}
		case OpSwitch:
			for tag, br := range o.Branches {
				sb.WriteString(fmt.Sprintf("%s     case %d\n", indent, tag))
				br.disassemble(sb, depth+1)
			}
		}
	}
}

func perm(p PermRef) string {
	if p == NoPerm {
		return "-"
	}
	return fmt.Sprintf("p%d", p)
}

// operands renders the opcode name with its inline operands.
func (o *OpCode) operands() string {
	info, ok := opInfoTable[o.Op]
	if !ok {
		return o.Op.String()
	}
	switch info.layout {
	case payValue:
		return fmt.Sprintf("%-16s @%d", info.Name, o.Value)
	case payRefs:
		return fmt.Sprintf("%-16s %v", info.Name, o.Refs)
	case payError:
		return fmt.Sprintf("%-16s e%d", info.Name, o.Error)
	case payPack:
		return fmt.Sprintf("%-16s %s tag=%d %v", info.Name, perm(o.Perm), o.Tag, o.Refs)
	case payFetch, paySwitch:
		return fmt.Sprintf("%-16s %s @%d %s", info.Name, perm(o.Perm), o.Value, o.Mode)
	case payField:
		return fmt.Sprintf("%-16s %s @%d .%d", info.Name, perm(o.Perm), o.Value, o.Field)
	case payCallable:
		return fmt.Sprintf("%-16s c%d %v", info.Name, o.Callable, o.Refs)
	case payPermValueRefs:
		return fmt.Sprintf("%-16s %s @%d %v", info.Name, perm(o.Perm), o.Value, o.Refs)
	case paySys:
		return fmt.Sprintf("%-16s #%d %v", info.Name, o.ID, o.Refs)
	case payTypedSys:
		return fmt.Sprintf("%-16s #%d %s %v", info.Name, o.ID, o.Kind, o.Refs)
	case payLit:
		return fmt.Sprintf("%-16s %s %x", info.Name, o.Kind, o.Bytes)
	case payData:
		if len(o.Bytes) > 16 {
			return fmt.Sprintf("%-16s %x... (%d bytes)", info.Name, o.Bytes[:16], len(o.Bytes))
		}
		return fmt.Sprintf("%-16s %x", info.Name, o.Bytes)
	case payBinary:
		return fmt.Sprintf("%-16s %s @%d @%d", info.Name, o.Kind, o.Value, o.Other)
	case payUnary:
		return fmt.Sprintf("%-16s %s @%d", info.Name, o.Kind, o.Value)
	}
	return info.Name
}
