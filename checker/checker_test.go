package checker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/errs"
	"github.com/chazu/sanskrit/externals"
	"github.com/chazu/sanskrit/hash"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/store"
	"github.com/chazu/sanskrit/value"
)

var plain = capability.CapsOf(capability.Drop, capability.Copy, capability.Persist, capability.Value, capability.Unbound)

type harness struct {
	t  *testing.T
	st *store.Staged
	l  *linker.Linker
}

func newHarness(t *testing.T) *harness {
	st := store.NewStaged(store.NewMemory())
	return &harness{t: t, st: st, l: linker.New(st, 0)}
}

func (h *harness) deploy(m *model.Module, system bool) (hash.Hash, error) {
	h.t.Helper()
	b, err := m.Encode(0)
	require.NoError(h.t, err)
	parsed, err := model.ParseModule(b, 0)
	require.NoError(h.t, err)
	id := model.ModuleHash(b)
	if err := New(h.l.Session(), nil, system).ValidateModule(id, parsed); err != nil {
		return id, err
	}
	require.NoError(h.t, h.st.Set(store.ClassModule, id, b))
	require.NoError(h.t, h.st.Commit(store.ClassModule))
	return id, nil
}

func (h *harness) mustDeploy(m *model.Module) hash.Hash {
	h.t.Helper()
	id, err := h.deploy(m, false)
	require.NoError(h.t, err)
	return id
}

func (h *harness) transaction(tx *model.Transaction) error {
	h.t.Helper()
	b, err := tx.Encode(0)
	require.NoError(h.t, err)
	parsed, err := model.ParseTransaction(b, 0)
	require.NoError(h.t, err)
	return New(h.l.Session(), nil, false).ValidateTransaction(parsed)
}

func u8(v uint64) model.OpCode { return model.Lit(value.Uint(value.U8, v)) }

// tokenModule declares data 0 with caps and a single field-less
// constructor, followed by the function built by fn.
func tokenModule(caps capability.Caps, fn func(h *model.Header, tok model.TypeRef) model.FunctionComponent) *model.Module {
	b := model.NewBuilder().DeclareErrors(1)
	b.Data(model.DataComponent{Header: model.Header{Caps: caps}, Ctors: [][]model.TypeRef{nil}})
	var h model.Header
	tok := h.DataType(model.SelfModule, 0)
	f := fn(&h, tok)
	f.Header = h
	b.Func(f)
	return b.Module()
}

func consumed(ts ...model.TypeRef) []model.Param {
	ps := make([]model.Param, len(ts))
	for i, t := range ts {
		ps[i] = model.Param{Consume: true, Type: t}
	}
	return ps
}

func TestPackUnpack(t *testing.T) {
	b := model.NewBuilder()
	var dh model.Header
	dh.Caps = plain
	du8 := dh.LitType(model.LitU8)
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{du8, du8}}})

	var h model.Header
	lu8 := h.LitType(model.LitU8)
	pair := h.DataType(model.SelfModule, 0)
	create := h.TypePerm(capability.Create, pair)
	consume := h.TypePerm(capability.Consume, pair)
	b.Func(model.FunctionComponent{
		Header:  h,
		Params:  consumed(lu8, lu8),
		Returns: []model.TypeRef{lu8, lu8},
		Body: model.NewBlock(
			model.Pack(create, 0, 1, 0),
			model.Unpack(consume, 0, model.FetchConsume),
			model.Return(1, 0),
		),
	})
	newHarness(t).mustDeploy(b.Module())

	// field type mismatch
	b = model.NewBuilder()
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{du8, du8}}})
	h = model.Header{}
	lu8 = h.LitType(model.LitU8)
	u16 := h.LitType(model.LitU16)
	pair = h.DataType(model.SelfModule, 0)
	create = h.TypePerm(capability.Create, pair)
	b.Func(model.FunctionComponent{
		Header: h,
		Params: consumed(lu8, u16),
		Body:   model.NewBlock(model.Pack(create, 0, 1, 0), model.Return()),
	})
	_, err := newHarness(t).deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrCapability)
}

func TestLinearity(t *testing.T) {
	tests := []struct {
		name string
		caps capability.Caps
		fn   func(h *model.Header, tok model.TypeRef) model.FunctionComponent
		want error
	}{
		{"returned twice", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: consumed(tok), Returns: []model.TypeRef{tok, tok}, Body: model.NewBlock(model.Return(0, 0))}
		}, errs.ErrLinearity},
		{"copied twice", capability.CapsOf(capability.Copy, capability.Drop), func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: consumed(tok), Returns: []model.TypeRef{tok, tok}, Body: model.NewBlock(model.Return(0, 0))}
		}, nil},
		{"not dropped", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: consumed(tok), Body: model.NewBlock(model.Return())}
		}, errs.ErrLinearity},
		{"implicit drop", capability.CapsOf(capability.Drop), func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: consumed(tok), Body: model.NewBlock(model.Return())}
		}, nil},
		{"borrowed param released", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: []model.Param{{Type: tok}}, Body: model.NewBlock(model.Return())}
		}, nil},
		{"borrowed param returned", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: []model.Param{{Type: tok}}, Returns: []model.TypeRef{tok}, Body: model.NewBlock(model.Return(0))}
		}, errs.ErrLinearity},
		{"moved by id", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: consumed(tok), Returns: []model.TypeRef{tok}, Body: model.NewBlock(model.Id(0), model.Return(0))}
		}, nil},
		{"used after move", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: consumed(tok), Returns: []model.TypeRef{tok}, Body: model.NewBlock(model.Id(0), model.Return(1))}
		}, errs.ErrLinearity},
		{"let moves outer value", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Params: consumed(tok), Returns: []model.TypeRef{tok}, Body: model.NewBlock(model.Let(model.Return(0)), model.Return(0))}
		}, nil},
		{"wrong return type", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			lu8 := h.LitType(model.LitU8)
			return model.FunctionComponent{Params: consumed(tok), Returns: []model.TypeRef{lu8}, Body: model.NewBlock(model.Return(0))}
		}, errs.ErrCapability},
		{"ref out of range", capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			return model.FunctionComponent{Body: model.NewBlock(model.Id(3), model.Return())}
		}, errs.ErrLinearity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newHarness(t).deploy(tokenModule(tt.caps, tt.fn), false)
			if tt.want == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func abModule(second model.OpCode) *model.Module {
	b := model.NewBuilder()
	var dh model.Header
	dh.Caps = plain
	du8 := dh.LitType(model.LitU8)
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{du8}, nil}})

	var h model.Header
	lu8 := h.LitType(model.LitU8)
	ab := h.DataType(model.SelfModule, 0)
	create := h.TypePerm(capability.Create, ab)
	consume := h.TypePerm(capability.Consume, ab)
	b.Func(model.FunctionComponent{
		Header:  h,
		Returns: []model.TypeRef{lu8},
		Body: model.NewBlock(
			model.Pack(create, 1),
			model.Switch(consume, 0, model.FetchConsume,
				model.NewBlock(u8(1), model.Return(0)),
				model.NewBlock(second, model.Return(0)),
			),
			model.Return(0),
		),
	})
	return b.Module()
}

func TestSwitch(t *testing.T) {
	newHarness(t).mustDeploy(abModule(u8(2)))

	_, err := newHarness(t).deploy(abModule(model.Lit(value.Uint(value.U16, 2))), false)
	require.ErrorIs(t, err, errs.ErrCapability)

	m := abModule(u8(2))
	m.Funcs[0].Body.Ops[1].Branches = m.Funcs[0].Body.Ops[1].Branches[:1]
	_, err = newHarness(t).deploy(m, false)
	require.ErrorIs(t, err, errs.ErrCapability)
}

func TestSwitchDivergingBranch(t *testing.T) {
	b := model.NewBuilder().DeclareErrors(1)
	var h model.Header
	lu8 := h.LitType(model.LitU8)
	lbool := h.LitType(model.LitBool)
	fail := h.ErrorType(model.SelfModule, 0)
	b.Func(model.FunctionComponent{
		Header:  h,
		Params:  consumed(lbool),
		Returns: []model.TypeRef{lu8},
		Body: model.NewBlock(
			model.Switch(model.NoPerm, 0, model.FetchConsume,
				model.NewBlock(model.Rollback(fail)),
				model.NewBlock(u8(1), model.Return(0)),
			),
			model.Return(0),
		),
	})
	newHarness(t).mustDeploy(b.Module())
}

func TestTryOverflowHandler(t *testing.T) {
	b := model.NewBuilder()
	sys := b.Import(hash.SystemModule)
	var h model.Header
	lu8 := h.LitType(model.LitU8)
	overflow := h.ErrorType(sys, value.SysOverflow)
	b.Func(model.FunctionComponent{
		Header:  h,
		Params:  consumed(lu8, lu8),
		Returns: []model.TypeRef{lu8},
		Body: model.NewBlock(
			model.Try(
				model.NewBlock(model.Binary(model.OpAdd, value.U8, 1, 0), model.Return(0)),
				model.On(overflow, u8(0), model.Return(0)),
			),
			model.Return(0),
		),
	})
	newHarness(t).mustDeploy(b.Module())

	// handler result disagrees with the body
	m := b.Module()
	m.Funcs[0].Body.Ops[0].Catches[0].Body = model.NewBlock(model.Return())
	_, err := newHarness(t).deploy(m, false)
	require.Error(t, err)
}

func TestTryLocksPreTrySlots(t *testing.T) {
	try := func(handler ...model.OpCode) *model.Module {
		return tokenModule(capability.NoCaps, func(h *model.Header, tok model.TypeRef) model.FunctionComponent {
			fail := h.ErrorType(model.SelfModule, 0)
			h.TypePerm(capability.Create, tok)
			return model.FunctionComponent{
				Params:  consumed(tok),
				Returns: []model.TypeRef{tok},
				Body: model.NewBlock(
					model.Try(model.NewBlock(model.Return(0)), model.On(fail, handler...)),
					model.Return(0),
				),
			}
		})
	}
	// both paths consume the argument
	newHarness(t).mustDeploy(try(model.Return(1)))
	// a failing handler imposes nothing
	newHarness(t).mustDeploy(try(model.Rollback(0)))
	// the handler keeps the argument alive while the body consumed it
	_, err := newHarness(t).deploy(try(model.Pack(0, 0), model.Return(0)), false)
	require.ErrorIs(t, err, errs.ErrLinearity)
}

func boxModule(body func(inspect, consume model.PermRef) (params []model.Param, returns []model.TypeRef, ops []model.OpCode)) *model.Module {
	b := model.NewBuilder()
	b.Data(model.DataComponent{Ctors: [][]model.TypeRef{nil}})
	var dh model.Header
	dtok := dh.DataType(model.SelfModule, 0)
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{dtok}}})

	var h model.Header
	h.DataType(model.SelfModule, 0)
	box := h.DataType(model.SelfModule, 1)
	inspect := h.TypePerm(capability.Inspect, box)
	consume := h.TypePerm(capability.Consume, box)
	params, returns, ops := body(inspect, consume)
	for i := range params {
		params[i].Type = box
	}
	b.Func(model.FunctionComponent{Header: h, Params: params, Returns: returns, Body: model.NewBlock(ops...)})
	return b.Module()
}

func TestInspectProjections(t *testing.T) {
	const tok = model.TypeRef(0)
	newHarness(t).mustDeploy(boxModule(func(inspect, _ model.PermRef) ([]model.Param, []model.TypeRef, []model.OpCode) {
		return []model.Param{{}}, nil, []model.OpCode{model.Unpack(inspect, 0, model.FetchInspect), model.Return()}
	}))

	_, err := newHarness(t).deploy(boxModule(func(inspect, _ model.PermRef) ([]model.Param, []model.TypeRef, []model.OpCode) {
		return []model.Param{{}}, []model.TypeRef{tok}, []model.OpCode{model.Unpack(inspect, 0, model.FetchInspect), model.Return(0)}
	}), false)
	require.ErrorIs(t, err, errs.ErrLinearity)

	_, err = newHarness(t).deploy(boxModule(func(inspect, consume model.PermRef) ([]model.Param, []model.TypeRef, []model.OpCode) {
		return []model.Param{{Consume: true}}, []model.TypeRef{tok}, []model.OpCode{
			model.Unpack(inspect, 0, model.FetchInspect),
			model.Unpack(consume, 1, model.FetchConsume),
			model.Return(0),
		}
	}), false)
	require.ErrorIs(t, err, errs.ErrLinearity)

	// projections die with their block, after which the box can be consumed
	newHarness(t).mustDeploy(boxModule(func(inspect, consume model.PermRef) ([]model.Param, []model.TypeRef, []model.OpCode) {
		return []model.Param{{Consume: true}}, []model.TypeRef{tok}, []model.OpCode{
			model.Let(model.Unpack(inspect, 0, model.FetchInspect), model.Return()),
			model.Unpack(consume, 0, model.FetchConsume),
			model.Return(0),
		}
	}))

	_, err = newHarness(t).deploy(boxModule(func(inspect, _ model.PermRef) ([]model.Param, []model.TypeRef, []model.OpCode) {
		return []model.Param{{}}, nil, []model.OpCode{model.Get(inspect, 0, 0), model.Return()}
	}), false)
	require.ErrorIs(t, err, errs.ErrCapability)
}

func TestGetCopiesField(t *testing.T) {
	b := model.NewBuilder()
	var dh model.Header
	dh.Caps = plain
	du8 := dh.LitType(model.LitU8)
	du16 := dh.LitType(model.LitU16)
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{du8, du16}}})
	var h model.Header
	lu16 := h.LitType(model.LitU16)
	pair := h.DataType(model.SelfModule, 0)
	inspect := h.TypePerm(capability.Inspect, pair)
	b.Func(model.FunctionComponent{
		Header:  h,
		Params:  []model.Param{{Type: pair}},
		Returns: []model.TypeRef{lu16},
		Body:    model.NewBlock(model.Get(inspect, 0, 1), model.Return(0)),
	})
	newHarness(t).mustDeploy(b.Module())
}

func TestModes(t *testing.T) {
	build := func(callee, caller capability.Mode) *model.Module {
		b := model.NewBuilder()
		b.Func(model.FunctionComponent{Header: model.Header{Mode: callee}, Body: model.NewBlock(model.Return())})
		h := model.Header{Mode: caller}
		f := h.Function(model.SelfModule, 0)
		b.Func(model.FunctionComponent{Header: h, Body: model.NewBlock(model.Invoke(f), model.Return())})
		return b.Module()
	}
	newHarness(t).mustDeploy(build(capability.Pure, capability.Active))
	newHarness(t).mustDeploy(build(capability.Init, capability.Dependent))
	_, err := newHarness(t).deploy(build(capability.Active, capability.Pure), false)
	require.ErrorIs(t, err, errs.ErrCapability)
}

func TestForwardReference(t *testing.T) {
	b := model.NewBuilder()
	var h model.Header
	f := h.Function(model.SelfModule, 1)
	b.Func(model.FunctionComponent{Header: h, Body: model.NewBlock(model.Invoke(f), model.Return())})
	b.Func(model.FunctionComponent{Body: model.NewBlock(model.Return())})
	_, err := newHarness(t).deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrIntegrity)

	// a data type cannot contain itself
	b = model.NewBuilder()
	var dh model.Header
	self := dh.DataType(model.SelfModule, 0)
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{nil, {self}}})
	_, err = newHarness(t).deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrIntegrity)
}

func TestDataCapabilities(t *testing.T) {
	prim := func() *model.Module {
		b := model.NewBuilder()
		var dh model.Header
		dh.Caps = capability.AllCaps
		du8 := dh.LitType(model.LitU8)
		b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{du8}}})
		return b.Module()
	}
	_, err := newHarness(t).deploy(prim(), false)
	require.ErrorIs(t, err, errs.ErrCapability)
	_, err = newHarness(t).deploy(prim(), true)
	require.NoError(t, err)

	// a Copy type cannot hold a non-copyable field
	b := model.NewBuilder()
	b.Data(model.DataComponent{Ctors: [][]model.TypeRef{nil}})
	var dh model.Header
	dh.Caps = capability.CapsOf(capability.Copy, capability.Drop)
	tok := dh.DataType(model.SelfModule, 0)
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{tok}}})
	_, err = newHarness(t).deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrCapability)

	// Persist without Unbound is malformed
	b = model.NewBuilder()
	b.Data(model.DataComponent{Header: model.Header{Caps: capability.CapsOf(capability.Persist)}, Ctors: [][]model.TypeRef{nil}})
	_, err = newHarness(t).deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrCapability)
}

func TestPhantomAndVirtual(t *testing.T) {
	b := model.NewBuilder()
	b.Data(model.DataComponent{
		Header: model.Header{Caps: plain, Generics: []model.Generic{{Phantom: true}}},
		Ctors:  [][]model.TypeRef{nil},
	})
	var h model.Header
	v := h.VirtualType(0)
	h.DataType(model.SelfModule, 0, v)
	b.Func(model.FunctionComponent{Header: h, Body: model.NewBlock(model.Return())})
	newHarness(t).mustDeploy(b.Module())

	// virtual type in a value position
	b = model.NewBuilder()
	var dh model.Header
	g := dh.AddGeneric(model.Generic{})
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{g}}})
	h = model.Header{}
	v = h.VirtualType(0)
	h.DataType(model.SelfModule, 0, v)
	b.Func(model.FunctionComponent{Header: h, Body: model.NewBlock(model.Return())})
	_, err := newHarness(t).deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrCapability)

	// phantom generic used as a field
	b = model.NewBuilder()
	dh = model.Header{}
	g = dh.AddGeneric(model.Generic{Phantom: true})
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{g}}})
	_, err = newHarness(t).deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrCapability)
}

func TestGenericApplication(t *testing.T) {
	hs := newHarness(t)
	lib := model.NewBuilder()
	var dh model.Header
	g := dh.AddGeneric(model.Generic{Caps: capability.CapsOf(capability.Copy)})
	lib.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{g}}})
	lib.Data(model.DataComponent{
		Header: model.Header{Generics: []model.Generic{{Protected: true}}},
		Ctors:  [][]model.TypeRef{nil},
	})
	// the declaring module may instantiate its protected generic
	var lh model.Header
	lu8 := lh.LitType(model.LitU8)
	lh.DataType(model.SelfModule, 1, lu8)
	lib.Func(model.FunctionComponent{Header: lh, Body: model.NewBlock(model.Return())})
	libHash := hs.mustDeploy(lib.Module())

	use := func(fn func(h *model.Header, ref model.ModuleRef, tok model.TypeRef)) error {
		b := model.NewBuilder()
		ref := b.Import(libHash)
		b.Data(model.DataComponent{Ctors: [][]model.TypeRef{nil}})
		var h model.Header
		tok := h.DataType(model.SelfModule, 0)
		fn(&h, ref, tok)
		b.Func(model.FunctionComponent{Header: h, Body: model.NewBlock(model.Return())})
		_, err := hs.deploy(b.Module(), false)
		return err
	}
	require.NoError(t, use(func(h *model.Header, ref model.ModuleRef, _ model.TypeRef) {
		h.DataType(ref, 0, h.LitType(model.LitU8))
	}))
	require.ErrorIs(t, use(func(h *model.Header, ref model.ModuleRef, tok model.TypeRef) {
		h.DataType(ref, 0, tok)
	}), errs.ErrCapability)
	require.ErrorIs(t, use(func(h *model.Header, ref model.ModuleRef, _ model.TypeRef) {
		h.DataType(ref, 0)
	}), errs.ErrCapability)
	require.ErrorIs(t, use(func(h *model.Header, ref model.ModuleRef, _ model.TypeRef) {
		h.DataType(ref, 1, h.LitType(model.LitU8))
	}), errs.ErrCapability)
}

func TestPublicPermissions(t *testing.T) {
	for _, public := range []bool{false, true} {
		hs := newHarness(t)
		lib := model.NewBuilder()
		var dh model.Header
		dh.Caps = capability.CapsOf(capability.Drop)
		if public {
			dh.Public = capability.PermsOf(capability.Create)
		}
		lib.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{nil}})
		libHash := hs.mustDeploy(lib.Module())

		b := model.NewBuilder()
		ref := b.Import(libHash)
		var h model.Header
		coin := h.DataType(ref, 0)
		create := h.TypePerm(capability.Create, coin)
		err := hs.transaction(b.Transaction(model.FunctionComponent{
			Header: h,
			Body:   model.NewBlock(model.Pack(create, 0), model.Return()),
		}))
		if public {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, errs.ErrCapability)
		}
	}
}

func sigLibrary(hs *harness, implPublic capability.Perms) hash.Hash {
	lib := model.NewBuilder()
	var sh model.Header
	sh.Caps = capability.CapsOf(capability.Drop)
	sh.Public = implPublic
	su8 := sh.LitType(model.LitU8)
	lib.Sig(model.SigComponent{Header: sh, Params: consumed(su8), Returns: []model.TypeRef{su8}})

	var ih model.Header
	ih.Public = capability.PermsOf(capability.Call)
	iu8 := ih.LitType(model.LitU8)
	sig := ih.SigType(model.SelfModule, 0)
	lib.Impl(model.ImplComponent{
		Header:   ih,
		Sig:      sig,
		Captures: []model.TypeRef{iu8},
		Body:     model.NewBlock(model.Binary(model.OpAdd, value.U8, 1, 0), model.Return(0)),
	})
	return hs.mustDeploy(lib.Module())
}

func TestClosures(t *testing.T) {
	hs := newHarness(t)
	libHash := sigLibrary(hs, capability.PermsOf(capability.Call))

	b := model.NewBuilder()
	ref := b.Import(libHash)
	var h model.Header
	lu8 := h.LitType(model.LitU8)
	sig := h.SigType(ref, 0)
	call := h.TypePerm(capability.Call, sig)
	impl := h.Implement(ref, 0)
	b.Func(model.FunctionComponent{
		Header:  h,
		Params:  consumed(lu8, lu8),
		Returns: []model.TypeRef{lu8},
		Body: model.NewBlock(
			model.CreateSig(impl, 1),
			model.InvokeSig(call, 0, 1),
			model.Return(0),
		),
	})
	hs.mustDeploy(b.Module())

	// implementing a foreign signature needs its public Implement
	b = model.NewBuilder()
	ref = b.Import(libHash)
	var ih model.Header
	sig = ih.SigType(ref, 0)
	b.Impl(model.ImplComponent{Header: ih, Sig: sig, Body: model.NewBlock(model.Return(0))})
	_, err := hs.deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrCapability)

	// signatures are never persisted
	b = model.NewBuilder()
	b.Sig(model.SigComponent{Header: model.Header{Caps: capability.CapsOf(capability.Persist, capability.Unbound)}})
	_, err = hs.deploy(b.Module(), false)
	require.ErrorIs(t, err, errs.ErrCapability)
}

func TestPrimitiveOperations(t *testing.T) {
	fn := func(params []model.LitKind, ret model.LitKind, ops ...model.OpCode) *model.Module {
		b := model.NewBuilder()
		var h model.Header
		ps := make([]model.Param, len(params))
		for i, k := range params {
			ps[i] = model.Param{Consume: true, Type: h.LitType(k)}
		}
		r := h.LitType(ret)
		b.Func(model.FunctionComponent{Header: h, Params: ps, Returns: []model.TypeRef{r}, Body: model.NewBlock(ops...)})
		return b.Module()
	}
	tests := []struct {
		name string
		m    *model.Module
		ok   bool
	}{
		{"hash", fn([]model.LitKind{model.LitData}, model.LitData, model.SysInvoke(externals.SysHash, 0), model.Return(0)), true},
		{"hash of int", fn([]model.LitKind{model.LitU8}, model.LitData, model.SysInvoke(externals.SysHash, 0), model.Return(0)), false},
		{"typed add", fn([]model.LitKind{model.LitU32, model.LitU32}, model.LitU32, model.TypedSysInvoke(externals.IntAdd, value.U32, 0, 1), model.Return(0)), true},
		{"eq data", fn([]model.LitKind{model.LitData, model.LitData}, model.LitBool, model.Binary(model.OpEq, value.Data, 0, 1), model.Return(0)), true},
		{"add data", fn([]model.LitKind{model.LitData, model.LitData}, model.LitData, model.Binary(model.OpAdd, value.Data, 0, 1), model.Return(0)), false},
		{"kind mismatch", fn([]model.LitKind{model.LitU8, model.LitU16}, model.LitU8, model.Binary(model.OpAdd, value.U8, 0, 1), model.Return(0)), false},
		{"not", fn([]model.LitKind{model.LitI64}, model.LitI64, model.Unary(model.OpNot, value.I64, 0), model.Return(0)), true},
		{"to data", fn([]model.LitKind{model.LitU16}, model.LitData, model.Unary(model.OpToData, value.U16, 0), model.Return(0)), true},
		{"from data", fn([]model.LitKind{model.LitData}, model.LitI8, model.Unary(model.OpFromData, value.I8, 0), model.Return(0)), true},
		{"bool literal", fn(nil, model.LitBool, model.Pack(model.NoPerm, 1), model.Return(0)), true},
		{"unit", fn(nil, model.LitUnit, model.Void(), model.Return(0)), true},
		{"unknown syscall", fn(nil, model.LitData, model.SysInvoke(200), model.Return(0)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newHarness(t).deploy(tt.m, false)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestTransactionRules(t *testing.T) {
	hs := newHarness(t)
	b := model.NewBuilder()
	var h model.Header
	lu8 := h.LitType(model.LitU8)
	require.NoError(t, hs.transaction(b.Transaction(model.FunctionComponent{
		Header:  h,
		Returns: []model.TypeRef{lu8},
		Body:    model.NewBlock(u8(3), model.Return(0)),
	})))

	require.ErrorIs(t, hs.transaction(b.Transaction(model.FunctionComponent{
		Header: model.Header{Generics: []model.Generic{{}}},
		Body:   model.NewBlock(model.Return()),
	})), errs.ErrCapability)

	require.ErrorIs(t, hs.transaction(b.Transaction(model.FunctionComponent{
		Header: model.Header{Public: capability.PermsOf(capability.Call)},
		Body:   model.NewBlock(model.Return()),
	})), errs.ErrCapability)
}
