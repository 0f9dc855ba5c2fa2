package linker

import (
	"fmt"
	"strings"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/model"
)

// Type is a resolved, interned type. Two types are the same iff their
// handles are equal; compare with Interner.Same.
type Type struct {
	Kind   model.TypeKind
	Index  uint8
	Module hash.Hash
	Offset uint8
	Args   []*Type
	Inner  *Type
	Lit    model.LitKind

	key   string
	hash  hash.Hash
	owner *Interner
	open  bool
}

// Hash is the process-independent identity of the type, used to tag stored
// values.
func (t *Type) Hash() hash.Hash { return t.hash }

// IsOpen reports whether the type mentions a generic parameter.
func (t *Type) IsOpen() bool { return t.open }

// IsLit reports whether t is the built-in type k.
func (t *Type) IsLit(k model.LitKind) bool { return t.Kind == model.TypeLit && t.Lit == k }

func (t *Type) String() string {
	switch t.Kind {
	case model.TypeGeneric:
		return fmt.Sprintf("$%d", t.Index)
	case model.TypeData, model.TypeSig:
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s.%d", t.Module.Short(), t.Offset)
		if len(t.Args) > 0 {
			sb.WriteByte('[')
			for i, a := range t.Args {
				if i > 0 {
					sb.WriteByte(',')
				}
				sb.WriteString(a.String())
			}
			sb.WriteByte(']')
		}
		if t.Kind == model.TypeSig {
			return "sig " + sb.String()
		}
		return sb.String()
	case model.TypeProjection:
		return "&" + t.Inner.String()
	case model.TypeVirtual:
		return fmt.Sprintf("virtual %s.%d", t.Module.Short(), t.Index)
	case model.TypeLit:
		return t.Lit.String()
	}
	return t.Kind.String()
}

// Callable is a resolved, interned function or implement application.
type Callable struct {
	Kind   model.CallableKind
	Module hash.Hash
	Offset uint8
	Args   []*Type

	key   string
	owner *Interner
}

func (c *Callable) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s %s.%d[%s]", c.Kind, c.Module.Short(), c.Offset, strings.Join(args, ","))
}

// Permission is a resolved, interned grant of one permission on a type or a
// callable.
type Permission struct {
	Perm     capability.Perm
	Type     *Type
	Callable *Callable

	key   string
	owner *Interner
}

func (p *Permission) String() string {
	if p.Type != nil {
		return fmt.Sprintf("%s on %s", p.Perm, p.Type)
	}
	return fmt.Sprintf("%s on %s", p.Perm, p.Callable)
}
