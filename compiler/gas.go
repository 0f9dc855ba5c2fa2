package compiler

import (
	"github.com/chazu/sanskrit/model"
	"github.com/chazu/sanskrit/value"
)

// Schedule is the gas price list. Costs are charged before each op; data
// dependent parts are charged per started 8-byte word.
type Schedule struct {
	Let            uint64
	Id             uint64
	Void           uint64
	Return         uint64
	ReturnPerValue uint64
	Rollback       uint64
	Try            uint64

	Pack           uint64
	PackPerField   uint64
	Unpack         uint64
	UnpackPerField uint64
	Switch         uint64
	SwitchPerField uint64
	Get            uint64

	Invoke              uint64
	CreateSig           uint64
	CreateSigPerCapture uint64
	InvokeSig           uint64

	Lit         uint64
	Data        uint64
	DataPerWord uint64

	Add     uint64
	Sub     uint64
	Mul     uint64
	Div     uint64
	Bitwise uint64
	Compare uint64
	EqData  uint64
	Convert uint64
}

// DefaultSchedule is the schedule used unless configured otherwise.
var DefaultSchedule = Schedule{
	Let:            10,
	Id:             6,
	Void:           4,
	Return:         15,
	ReturnPerValue: 25,
	Rollback:       10,
	Try:            30,

	Pack:           13,
	PackPerField:   1,
	Unpack:         14,
	UnpackPerField: 6,
	Switch:         14,
	SwitchPerField: 6,
	Get:            10,

	Invoke:              20,
	CreateSig:           18,
	CreateSigPerCapture: 1,
	InvokeSig:           25,

	Lit:         4,
	Data:        6,
	DataPerWord: 1,

	Add:     12,
	Sub:     12,
	Mul:     16,
	Div:     18,
	Bitwise: 12,
	Compare: 12,
	EqData:  14,
	Convert: 14,
}

// Words returns the number of started 8-byte words in n bytes.
func Words(n int) uint64 { return uint64(n+7) / 8 }

// arith returns the static cost and the per-word cost of an arithmetic,
// comparison or conversion op.
func (s *Schedule) arith(op model.Op, k value.Kind) (gas, perWord uint64) {
	switch op {
	case model.OpAdd:
		return s.Add, 0
	case model.OpSub:
		return s.Sub, 0
	case model.OpMul:
		return s.Mul, 0
	case model.OpDiv:
		return s.Div, 0
	case model.OpAnd, model.OpOr, model.OpXor, model.OpNot:
		return s.Bitwise, 0
	case model.OpEq:
		if k == value.Data {
			return s.EqData, s.DataPerWord
		}
		return s.Compare, 0
	case model.OpToData, model.OpFromData:
		return s.Convert, 0
	}
	return s.Compare, 0
}
