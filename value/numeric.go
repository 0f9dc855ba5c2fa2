package value

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ---------------------------------------------------------------------------
// Integer representation
//
// Integers are stored as 128 bits (lo, hi) in two's complement, truncated to
// the kind's width and sign-extended to 128 bits for signed kinds. Arithmetic
// widens operands to 256 bits, computes exactly, then range-checks against
// the kind. No operation on 128-bit operands can wrap at 256 bits.
// ---------------------------------------------------------------------------

type bounds struct {
	min, max uint256.Int
}

var kindBounds [U128 + 1]bounds

func init() {
	for k := I8; k <= U128; k++ {
		var b bounds
		one := uint256.NewInt(1)
		if k.Signed() {
			b.max.Lsh(one, uint(k.Bits()-1))
			b.min.Neg(&b.max)
			b.max.Sub(&b.max, one)
		} else {
			b.max.Lsh(one, uint(k.Bits()))
			b.max.Sub(&b.max, one)
		}
		kindBounds[k] = b
	}
}

func normalize(k Kind, lo, hi uint64) (uint64, uint64) {
	bits := k.Bits()
	switch {
	case bits == 128:
		return lo, hi
	case bits == 64:
		if k.Signed() && int64(lo) < 0 {
			return lo, ^uint64(0)
		}
		return lo, 0
	}
	mask := uint64(1)<<bits - 1
	lo &= mask
	if k.Signed() && lo&(uint64(1)<<(bits-1)) != 0 {
		return lo | ^mask, ^uint64(0)
	}
	return lo, 0
}

// Int builds an integer of kind k from raw 128-bit two's complement halves.
func Int(k Kind, lo, hi uint64) Value {
	lo, hi = normalize(k, lo, hi)
	return Value{Kind: k, lo: lo, hi: hi}
}

// Uint builds an unsigned-interpreted integer of kind k from v, truncating.
func Uint(k Kind, v uint64) Value { return Int(k, v, 0) }

// Signed builds an integer of kind k from a signed 64-bit value.
func Signed(k Kind, v int64) Value {
	hi := uint64(0)
	if v < 0 {
		hi = ^uint64(0)
	}
	return Int(k, uint64(v), hi)
}

func (v Value) wide() *uint256.Int {
	z := new(uint256.Int)
	z[0], z[1] = v.lo, v.hi
	if v.Kind.Signed() && int64(v.hi) < 0 {
		z[2], z[3] = ^uint64(0), ^uint64(0)
	}
	return z
}

func fromWide(k Kind, z *uint256.Int, op string) (Value, error) {
	b := &kindBounds[k]
	if k.Signed() {
		if z.Slt(&b.min) || z.Sgt(&b.max) {
			return Value{}, throw(OverflowError, "%s overflows %s", op, k)
		}
	} else if z.Gt(&b.max) {
		return Value{}, throw(OverflowError, "%s overflows %s", op, k)
	}
	return Int(k, z[0], z[1]), nil
}

func checkInts(k Kind, vs ...Value) error {
	if !k.IsInt() {
		return throw(BadCallError, "%s is not an integer kind", k)
	}
	for _, v := range vs {
		if v.Kind != k {
			return throw(BadCallError, "operand kind %s, want %s", v.Kind, k)
		}
	}
	return nil
}

// Add returns a+b or an overflow error.
func Add(k Kind, a, b Value) (Value, error) {
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	return fromWide(k, new(uint256.Int).Add(a.wide(), b.wide()), "add")
}

// Sub returns a-b or an overflow error.
func Sub(k Kind, a, b Value) (Value, error) {
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	return fromWide(k, new(uint256.Int).Sub(a.wide(), b.wide()), "sub")
}

// Mul returns a*b or an overflow error.
func Mul(k Kind, a, b Value) (Value, error) {
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	return fromWide(k, new(uint256.Int).Mul(a.wide(), b.wide()), "mul")
}

// Div returns a/b truncated toward zero, or a divide-by-zero or overflow error.
func Div(k Kind, a, b Value) (Value, error) {
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	if b.lo == 0 && b.hi == 0 {
		return Value{}, throw(DivideByZeroError, "div by zero")
	}
	z := new(uint256.Int)
	if k.Signed() {
		z.SDiv(a.wide(), b.wide())
	} else {
		z.Div(a.wide(), b.wide())
	}
	return fromWide(k, z, "div")
}

// And returns the bitwise conjunction.
func And(k Kind, a, b Value) (Value, error) {
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	return Int(k, a.lo&b.lo, a.hi&b.hi), nil
}

// Or returns the bitwise disjunction.
func Or(k Kind, a, b Value) (Value, error) {
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	return Int(k, a.lo|b.lo, a.hi|b.hi), nil
}

// Xor returns the bitwise exclusive or.
func Xor(k Kind, a, b Value) (Value, error) {
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	return Int(k, a.lo^b.lo, a.hi^b.hi), nil
}

// Not returns the bitwise complement.
func Not(k Kind, a Value) (Value, error) {
	if err := checkInts(k, a); err != nil {
		return Value{}, err
	}
	return Int(k, ^a.lo, ^a.hi), nil
}

// Eq compares two integers or two data values.
func Eq(k Kind, a, b Value) (Value, error) {
	if k == Data {
		if a.Kind != Data || b.Kind != Data {
			return Value{}, throw(BadCallError, "eq on non-data operands")
		}
		return Bool(Equal(a, b)), nil
	}
	if err := checkInts(k, a, b); err != nil {
		return Value{}, err
	}
	return Bool(a.lo == b.lo && a.hi == b.hi), nil
}

func compareInts(k Kind, a, b Value) (int, error) {
	if err := checkInts(k, a, b); err != nil {
		return 0, err
	}
	x, y := a.wide(), b.wide()
	switch {
	case x.Eq(y):
		return 0, nil
	case k.Signed() && x.Slt(y), !k.Signed() && x.Lt(y):
		return -1, nil
	}
	return 1, nil
}

// Lt reports a < b.
func Lt(k Kind, a, b Value) (Value, error) {
	c, err := compareInts(k, a, b)
	return Bool(c < 0), err
}

// Gt reports a > b.
func Gt(k Kind, a, b Value) (Value, error) {
	c, err := compareInts(k, a, b)
	return Bool(c > 0), err
}

// Lte reports a <= b.
func Lte(k Kind, a, b Value) (Value, error) {
	c, err := compareInts(k, a, b)
	return Bool(c <= 0), err
}

// Gte reports a >= b.
func Gte(k Kind, a, b Value) (Value, error) {
	c, err := compareInts(k, a, b)
	return Bool(c >= 0), err
}

// IntBytes returns the little-endian fixed-width encoding of an integer.
func IntBytes(v Value) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], v.lo)
	binary.LittleEndian.PutUint64(buf[8:], v.hi)
	return buf[:v.Kind.Width()]
}

// IntFromBytes decodes a little-endian fixed-width integer of kind k.
func IntFromBytes(k Kind, b []byte) (Value, error) {
	if !k.IsInt() {
		return Value{}, throw(BadCallError, "%s is not an integer kind", k)
	}
	if len(b) != k.Width() {
		return Value{}, throw(ConversionError, "%s needs %d bytes, got %d", k, k.Width(), len(b))
	}
	var buf [16]byte
	copy(buf[:], b)
	return Int(k, binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:])), nil
}

func intString(v Value) string {
	z := v.wide()
	if v.Kind.Signed() && z.Sign() < 0 {
		n := new(uint256.Int).Neg(z)
		return "-" + n.Dec()
	}
	return z.Dec()
}

// BigInt returns the integer as a big.Int, for diagnostics and tests.
func (v Value) BigInt() *big.Int {
	z := v.wide()
	if v.Kind.Signed() && z.Sign() < 0 {
		n := new(uint256.Int).Neg(z).ToBig()
		return n.Neg(n)
	}
	return z.ToBig()
}

// ParseInt parses a decimal integer literal of kind k.
func ParseInt(k Kind, s string) (Value, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Value{}, fmt.Errorf("value: invalid integer %q", s)
	}
	neg := n.Sign() < 0
	if neg {
		n.Neg(n)
	}
	z, overflow := uint256.FromBig(n)
	if overflow {
		return Value{}, throw(OverflowError, "literal %s overflows %s", s, k)
	}
	if neg {
		z.Neg(z)
	}
	return fromWide(k, z, "literal")
}
