package vm

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chazu/sanskrit/capability"
	"github.com/chazu/sanskrit/compiler"
	"github.com/chazu/sanskrit/deploy"
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
	t testing.TB
	d *deploy.Deployer
	c *compiler.Compiler
}

func newHarness(t testing.TB) *harness {
	l := linker.New(store.NewStaged(store.NewMemory()), 0)
	return &harness{t: t, d: deploy.New(l, nil), c: compiler.New(l, nil, nil)}
}

func (h *harness) module(m *model.Module) hash.Hash {
	h.t.Helper()
	b, err := m.Encode(0)
	require.NoError(h.t, err)
	res, err := h.d.DeployModule(b, false)
	require.NoError(h.t, err)
	return res.Hash
}

// function deploys m and compiles its function off.
func (h *harness) function(m *model.Module, off uint8) *compiler.Descriptor {
	h.t.Helper()
	d, err := h.c.Compile(compiler.FunctionTarget(h.module(m), off))
	require.NoError(h.t, err)
	return d
}

func consumed(ts ...model.TypeRef) []model.Param {
	ps := make([]model.Param, len(ts))
	for i, t := range ts {
		ps[i] = model.Param{Consume: true, Type: t}
	}
	return ps
}

func u8(v uint64) model.OpCode { return model.Lit(value.Uint(value.U8, v)) }

func u8s(vs ...uint64) []value.Value {
	out := make([]value.Value, len(vs))
	for i, v := range vs {
		out[i] = value.Uint(value.U8, v)
	}
	return out
}

func run(t testing.TB, d *compiler.Descriptor, args ...value.Value) Result {
	t.Helper()
	res, err := New(Limits{}, nil).Run(d, args, d.MaxGas*4)
	require.NoError(t, err)
	return res
}

func pairModule() *model.Module {
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
	return b.Module()
}

func TestPackThenUnpack(t *testing.T) {
	d := newHarness(t).function(pairModule(), 0)
	res := run(t, d, u8s(7, 42)...)
	require.Equal(t, u8s(7, 42), res.Returns)
	require.Equal(t, d.MaxGas, res.GasUsed)
}

// overflowModule adds its two U8 parameters, answering 0 on overflow. The
// try body allocates a data value first.
func overflowModule() *model.Module {
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
				model.NewBlock(
					model.DataLit([]byte("0123456789")),
					model.Binary(model.OpAdd, value.U8, 2, 1),
					model.Return(0),
				),
				model.On(overflow, u8(0), model.Return(0)),
			),
			model.Return(0),
		),
	})
	return b.Module()
}

func TestOverflowCaught(t *testing.T) {
	d := newHarness(t).function(overflowModule(), 0)

	vm := New(Limits{}, nil)
	res, err := vm.Run(d, u8s(255, 1), d.MaxGas)
	require.NoError(t, err)
	require.Equal(t, u8s(0), res.Returns)
	// the body's data was released; only the error identity remains
	require.Equal(t, hash.Size+1, vm.Alloc().Bytes.Used())

	vm.Reset()
	res, err = vm.Run(d, u8s(1, 2), d.MaxGas)
	require.NoError(t, err)
	require.Equal(t, u8s(3), res.Returns)
	require.Equal(t, 10, vm.Alloc().Bytes.Used())
}

func TestSwitchOnConstructor(t *testing.T) {
	b := model.NewBuilder()
	var dh model.Header
	dh.Caps = plain
	du8 := dh.LitType(model.LitU8)
	b.Data(model.DataComponent{Header: dh, Ctors: [][]model.TypeRef{{du8}, nil}})

	var h model.Header
	lu8 := h.LitType(model.LitU8)
	adt := h.DataType(model.SelfModule, 0)
	create := h.TypePerm(capability.Create, adt)
	consume := h.TypePerm(capability.Consume, adt)
	b.Func(model.FunctionComponent{
		Header:  h,
		Returns: []model.TypeRef{lu8},
		Body: model.NewBlock(
			model.Pack(create, 1),
			model.Switch(consume, 0, model.FetchConsume,
				model.NewBlock(u8(1), model.Return(0)),
				model.NewBlock(u8(2), model.Return(0)),
			),
			model.Return(0),
		),
	})
	d := newHarness(t).function(b.Module(), 0)
	require.Equal(t, u8s(2), run(t, d).Returns)
}

func TestSignatureVerify(t *testing.T) {
	b := model.NewBuilder()
	var h model.Header
	data := h.LitType(model.LitData)
	lbool := h.LitType(model.LitBool)
	b.Func(model.FunctionComponent{
		Header:  h,
		Params:  consumed(data, data, data),
		Returns: []model.TypeRef{lbool},
		Body:    model.NewBlock(model.SysInvoke(externals.SysVerify, 2, 1, 0), model.Return(0)),
	})
	d := newHarness(t).function(b.Module(), 0)

	priv := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	msg := []byte("transfer 10")
	sig := ed25519.Sign(priv, msg)
	pub := priv.Public().(ed25519.PublicKey)

	verify := func(sig []byte) value.Value {
		vm := New(Limits{}, nil)
		a := vm.Alloc()
		args := make([]value.Value, 3)
		for i, b := range [][]byte{msg, pub, sig} {
			v, err := a.Data(b)
			require.NoError(t, err)
			args[i] = v
		}
		res, err := vm.Run(d, args, 1_000_000)
		require.NoError(t, err)
		return res.Returns[0]
	}
	require.True(t, verify(sig).IsTrue())

	bad := append([]byte(nil), sig...)
	bad[5] ^= 0x10
	require.Equal(t, value.Bool(false), verify(bad))
	require.Equal(t, value.Bool(false), verify(sig[:10]))
}

func TestClosureCall(t *testing.T) {
	h := newHarness(t)
	lib := model.NewBuilder()
	var sh model.Header
	sh.Caps = capability.CapsOf(capability.Drop)
	sh.Public = capability.PermsOf(capability.Call)
	su8 := sh.LitType(model.LitU8)
	lib.Sig(model.SigComponent{Header: sh, Params: consumed(su8), Returns: []model.TypeRef{su8}})
	var ih model.Header
	ih.Public = capability.PermsOf(capability.Call)
	iu8 := ih.LitType(model.LitU8)
	lib.Impl(model.ImplComponent{
		Header:   ih,
		Sig:      ih.SigType(model.SelfModule, 0),
		Captures: []model.TypeRef{iu8},
		Body:     model.NewBlock(model.Binary(model.OpAdd, value.U8, 1, 0), model.Return(0)),
	})
	libHash := h.module(lib.Module())

	b := model.NewBuilder()
	ref := b.Import(libHash)
	var fh model.Header
	lu8 := fh.LitType(model.LitU8)
	call := fh.TypePerm(capability.Call, fh.SigType(ref, 0))
	impl := fh.Implement(ref, 0)
	b.Func(model.FunctionComponent{
		Header:  fh,
		Params:  consumed(lu8, lu8),
		Returns: []model.TypeRef{lu8},
		Body: model.NewBlock(
			model.CreateSig(impl, 1),
			model.InvokeSig(call, 0, 1),
			model.Return(0),
		),
	})
	d, err := h.c.Compile(compiler.FunctionTarget(h.module(b.Module()), 0))
	require.NoError(t, err)
	require.Equal(t, u8s(7), run(t, d, u8s(3, 4)...).Returns)
}

func TestUncaughtRollback(t *testing.T) {
	b := model.NewBuilder().DeclareErrors(1)
	var h model.Header
	fail := h.ErrorType(model.SelfModule, 0)
	b.Func(model.FunctionComponent{Header: h, Body: model.NewBlock(model.Rollback(fail))})
	d := newHarness(t).function(b.Module(), 0)

	_, err := New(Limits{}, nil).Run(d, nil, d.MaxGas)
	require.ErrorIs(t, err, errs.ErrExecution)
	var thrown *value.Throw
	require.ErrorAs(t, err, &thrown)
	require.Equal(t, d.Errors[0].ID(), thrown.ID)
}

func TestOutOfGas(t *testing.T) {
	d := newHarness(t).function(pairModule(), 0)
	res, err := New(Limits{}, nil).Run(d, u8s(1, 2), d.MaxGas-1)
	require.ErrorIs(t, err, errs.ErrOutOfGas)
	require.LessOrEqual(t, res.GasUsed, d.MaxGas-1)
}

func TestLimits(t *testing.T) {
	d := newHarness(t).function(pairModule(), 0)
	_, err := New(Limits{Stack: 2}, nil).Run(d, u8s(1, 2), d.MaxGas)
	require.ErrorIs(t, err, errs.ErrOutOfMemory)

	_, err = New(Limits{}, nil).Run(d, u8s(1), d.MaxGas)
	require.ErrorIs(t, err, errs.ErrIntegrity)
}

func TestGasDeterminism(t *testing.T) {
	d := newHarness(t).function(overflowModule(), 0)
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Uint64Range(0, 255).Draw(t, "a")
		b := rapid.Uint64Range(0, 255).Draw(t, "b")

		first, err := New(Limits{}, nil).Run(d, u8s(a, b), d.MaxGas)
		require.NoError(t, err)
		second, err := New(Limits{}, nil).Run(d, u8s(a, b), d.MaxGas)
		require.NoError(t, err)
		require.Equal(t, first.GasUsed, second.GasUsed)
		require.LessOrEqual(t, first.GasUsed, d.MaxGas)

		want := a + b
		if want > 255 {
			want = 0
		}
		require.Equal(t, u8s(want), first.Returns)
	})
}
