package linker

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/store"
)

func TestInternDedup(t *testing.T) {
	in := NewInterner()
	mod := hash.Sum(hash.DomainModule, []byte("m"))
	u8 := in.Lit(model.LitU8)
	require.Same(t, u8, in.Lit(model.LitU8))

	a := in.Data(mod, 0, []*Type{u8, in.Generic(0)})
	b := in.Data(mod, 0, []*Type{in.Lit(model.LitU8), in.Generic(0)})
	require.True(t, in.Same(a, b))
	require.True(t, a.IsOpen())
	require.False(t, in.Same(a, in.Sig(mod, 0, []*Type{u8, in.Generic(0)})))
	require.Equal(t, a.Hash(), b.Hash())

	p := in.Projection(a)
	require.Same(t, p, in.Projection(p), "projections do not nest")

	c1 := in.Callable(model.CallFunction, mod, 1, []*Type{u8})
	require.True(t, in.SameCallable(c1, in.Callable(model.CallFunction, mod, 1, []*Type{u8})))
	require.Same(t, in.Permission(capability.Call, nil, c1), in.Permission(capability.Call, nil, c1))
	require.NotSame(t, in.Permission(capability.Create, u8, nil), in.Permission(capability.Consume, u8, nil))

	other := NewInterner()
	require.Panics(t, func() { in.Same(u8, other.Lit(model.LitU8)) })
	require.Equal(t, u8.Hash(), other.Lit(model.LitU8).Hash(), "hashes are process independent")
}

// genType draws a small type tree.
func genType(in *Interner, depth int) *rapid.Generator[*Type] {
	return rapid.Custom(func(t *rapid.T) *Type {
		mod := hash.Sum(hash.DomainModule, []byte{rapid.ByteRange(0, 2).Draw(t, "mod")})
		switch c := rapid.IntRange(0, 4).Draw(t, "c"); {
		case c == 0:
			return in.Generic(rapid.Uint8Range(0, 2).Draw(t, "g"))
		case c == 1:
			return in.Lit(model.LitKind(rapid.Uint8Range(0, uint8(model.NumLitKinds)-1).Draw(t, "lit")))
		case c == 2 && depth > 0:
			return in.Projection(genType(in, depth-1).Draw(t, "inner"))
		case depth > 0:
			args := rapid.SliceOfN(genType(in, depth-1), 0, 2).Draw(t, "args")
			return in.Data(mod, rapid.Uint8Range(0, 2).Draw(t, "off"), args)
		}
		return in.Virtual(mod, 0)
	})
}

func TestDedupIdentityProperty(t *testing.T) {
	in := NewInterner()
	rapid.Check(t, func(t *rapid.T) {
		a := genType(in, 3).Draw(t, "a")
		b := genType(in, 3).Draw(t, "b")
		if (a.String() == b.String() && a.key == b.key) != in.Same(a, b) {
			t.Fatalf("structural equality and handle equality disagree: %s vs %s", a, b)
		}
		if in.Same(a, b) != (a.Hash() == b.Hash()) {
			t.Fatalf("hash disagrees with identity")
		}
	})
}

func TestSubst(t *testing.T) {
	in := NewInterner()
	mod := hash.Sum(hash.DomainModule, []byte("m"))
	u8, u16 := in.Lit(model.LitU8), in.Lit(model.LitU16)
	open := in.Data(mod, 0, []*Type{in.Generic(1), in.Projection(in.Generic(0))})
	got := in.Subst(open, []*Type{u8, u16})
	want := in.Data(mod, 0, []*Type{u16, in.Projection(u8)})
	require.True(t, in.Same(want, got))
	require.False(t, got.IsOpen())
	require.Same(t, u8, in.Subst(u8, nil))
	require.Same(t, in.Generic(3), in.Subst(in.Generic(3), []*Type{u8}))
}

func deployRaw(t *testing.T, s store.Store, m *model.Module) hash.Hash {
	t.Helper()
	b, err := m.Encode(0)
	require.NoError(t, err)
	h := model.ModuleHash(b)
	require.NoError(t, s.Set(store.ClassModule, h, b))
	require.NoError(t, s.Commit(store.ClassModule))
	return h
}

func TestSessionLoad(t *testing.T) {
	st := store.NewStaged(store.NewMemory())
	l := New(st, 0)
	lib := model.NewBuilder().DeclareErrors(2)
	lib.Data(model.DataComponent{Ctors: [][]model.TypeRef{nil}})
	h := deployRaw(t, st, lib.Module())

	s := l.Session()
	link, err := s.Module(h)
	require.NoError(t, err)
	require.Equal(t, 2, link.Errors())
	again, err := l.Session().Module(h)
	require.NoError(t, err)
	require.Same(t, link, again)

	_, err = s.Module(hash.Sum(hash.DomainModule, []byte("nope")))
	require.ErrorIs(t, err, errs.ErrIntegrity)

	sys, ok := l.Cached(hash.SystemModule)
	require.True(t, ok)
	require.True(t, sys.System)
	require.Equal(t, 5, sys.Errors())
}

func TestOpenDependencies(t *testing.T) {
	st := store.NewStaged(store.NewMemory())
	l := New(st, 0)
	b, err := model.NewBuilder().DeclareErrors(1).Module().Encode(0)
	require.NoError(t, err)
	h := l.AddOpen(b)

	var validated []hash.Hash
	l.SetOpenHandler(func(s *Session, got hash.Hash, raw []byte) error {
		validated = append(validated, got)
		m, err := model.ParseModule(raw, 0)
		if err != nil {
			return err
		}
		l.Register(got, m)
		return nil
	})
	link, err := l.Session().Module(h)
	require.NoError(t, err)
	require.Equal(t, 1, link.Errors())
	require.Equal(t, []hash.Hash{h}, validated)
}

func TestOpenDependencyKeptOnFailure(t *testing.T) {
	st := store.NewStaged(store.NewMemory())
	l := New(st, 0)
	b, err := model.NewBuilder().Module().Encode(0)
	require.NoError(t, err)
	h := l.AddOpen(b)

	calls := 0
	l.SetOpenHandler(func(s *Session, got hash.Hash, raw []byte) error {
		calls++
		return errs.New(errs.Capability, "rejected")
	})
	for i := 0; i < 2; i++ {
		_, err = l.Session().Module(h)
		require.ErrorIs(t, err, errs.ErrCapability, "attempt %d", i)
	}
	require.Equal(t, 2, calls)
}

func TestCycleDetection(t *testing.T) {
	st := store.NewStaged(store.NewMemory())
	l := New(st, 0)
	b, err := model.NewBuilder().Module().Encode(0)
	require.NoError(t, err)
	h := l.AddOpen(b)
	l.SetOpenHandler(func(s *Session, got hash.Hash, raw []byte) error {
		// a validator that re-enters the module it is validating
		_, err := s.Module(got)
		return err
	})
	_, err = l.Session().Module(h)
	require.ErrorIs(t, err, errs.ErrCycle)
}

func TestResolveScope(t *testing.T) {
	st := store.NewStaged(store.NewMemory())
	l := New(st, 0)
	lb := model.NewBuilder().DeclareErrors(1)
	var opt model.DataComponent
	opt.Header.AddGeneric(model.Generic{})
	opt.Ctors = [][]model.TypeRef{nil, {0}}
	lb.Data(opt)
	libHash := deployRaw(t, st, lb.Module())

	tb := model.NewBuilder()
	lib := tb.Import(libHash)
	sys := tb.Import(hash.SystemModule)
	var f model.FunctionComponent
	u8 := f.Header.LitType(model.LitU8)
	optU8 := f.Header.DataType(lib, 0, u8)
	f.Header.TypePerm(capability.Create, optU8)
	f.Header.ErrorType(lib, 0)
	f.Header.ErrorType(sys, 0)
	f.Body = model.NewBlock(model.Return())
	tx := tb.Transaction(f)

	s := l.Session()
	sc, err := s.Resolve(hash.Zero, tx.Imports, &tx.Func.Header)
	require.NoError(t, err)
	require.True(t, sc.IsTransaction())
	require.Equal(t, "U8", sc.Types[u8].String())
	require.True(t, l.Types.Same(sc.Types[optU8], l.Types.Data(libHash, 0, []*Type{l.Types.Lit(model.LitU8)})))
	require.Equal(t, capability.Create, sc.Perms[0].Perm)
	require.Equal(t, hash.SystemModule, sc.Errors[1].Module)

	_, err = sc.ModuleHash(model.SelfModule)
	require.ErrorIs(t, err, errs.ErrIntegrity)
	_, err = sc.Type(9)
	require.ErrorIs(t, err, errs.ErrIntegrity)

	bad := tx.Func.Header
	bad.Imports.Errors = []model.ErrorEntry{{Module: lib, Offset: 1}}
	_, err = s.Resolve(hash.Zero, tx.Imports, &bad)
	require.ErrorIs(t, err, errs.ErrIntegrity)

	bad = tx.Func.Header
	bad.Imports.Types = append([]model.TypeEntry(nil), bad.Imports.Types...)
	bad.Imports.Types[1].Offset = 4
	_, err = s.Resolve(hash.Zero, tx.Imports, &bad)
	require.ErrorIs(t, err, errs.ErrIntegrity)

	scope, err := s.Scope(libHash, model.KindData, 0)
	require.NoError(t, err)
	cached, err := l.Session().Scope(libHash, model.KindData, 0)
	require.NoError(t, err)
	require.Same(t, scope, cached)
}
