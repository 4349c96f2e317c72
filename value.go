package dataengine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind tags the variant held by a Value. It mirrors FieldType one-for-one
// except that Vec/Map/Object carry their element payload inline on Value
// rather than as a nested type descriptor.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindF32
	KindF64
	KindString
	KindDate
	KindDateTime
	KindDecimal
	KindObjectID
	KindVec
	KindMap
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindI8:
		return "I8"
	case KindI16:
		return "I16"
	case KindI32:
		return "I32"
	case KindI64:
		return "I64"
	case KindI128:
		return "I128"
	case KindU8:
		return "U8"
	case KindU16:
		return "U16"
	case KindU32:
		return "U32"
	case KindU64:
		return "U64"
	case KindU128:
		return "U128"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindString:
		return "String"
	case KindDate:
		return "Date"
	case KindDateTime:
		return "DateTime"
	case KindDecimal:
		return "Decimal"
	case KindObjectID:
		return "ObjectId"
	case KindVec:
		return "Vec"
	case KindMap:
		return "Map"
	case KindObject:
		return "Object"
	default:
		return "Unknown"
	}
}

// Value is a tagged union over the scalar and composite kinds named in the
// data model. Only the field matching Kind is meaningful; constructors below
// are the only supported way to build one so the tag and payload never
// disagree.
type Value struct {
	kind Kind

	boolVal   bool
	i128Val   int64 // I8..I128 all stored widened; narrowing is checked at coercion time
	u128Val   uint64
	f64Val    float64 // F32/F64 both stored widened
	strVal    string
	dateVal   time.Time // Date: truncated to the day
	dtVal     time.Time
	decVal    decimal.Decimal
	oidVal    bson.ObjectID
	vecVal    []Value
	mapVal    map[string]Value
	objectVal *Object
}

func Null() Value                    { return Value{kind: KindNull} }
func NewBool(b bool) Value           { return Value{kind: KindBool, boolVal: b} }
func NewI8(v int8) Value             { return Value{kind: KindI8, i128Val: int64(v)} }
func NewI16(v int16) Value           { return Value{kind: KindI16, i128Val: int64(v)} }
func NewI32(v int32) Value           { return Value{kind: KindI32, i128Val: int64(v)} }
func NewI64(v int64) Value           { return Value{kind: KindI64, i128Val: v} }
func NewI128(v int64) Value          { return Value{kind: KindI128, i128Val: v} }
func NewU8(v uint8) Value            { return Value{kind: KindU8, u128Val: uint64(v)} }
func NewU16(v uint16) Value          { return Value{kind: KindU16, u128Val: uint64(v)} }
func NewU32(v uint32) Value          { return Value{kind: KindU32, u128Val: uint64(v)} }
func NewU64(v uint64) Value          { return Value{kind: KindU64, u128Val: v} }
func NewU128(v uint64) Value         { return Value{kind: KindU128, u128Val: v} }
func NewF32(v float32) Value         { return Value{kind: KindF32, f64Val: float64(v)} }
func NewF64(v float64) Value         { return Value{kind: KindF64, f64Val: v} }
func NewString(s string) Value       { return Value{kind: KindString, strVal: s} }
func NewDate(t time.Time) Value      { return Value{kind: KindDate, dateVal: t.Truncate(24 * time.Hour)} }
func NewDateTime(t time.Time) Value  { return Value{kind: KindDateTime, dtVal: t} }
func NewDecimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, decVal: d} }
func NewObjectID(id bson.ObjectID) Value { return Value{kind: KindObjectID, oidVal: id} }
func NewVec(items []Value) Value     { return Value{kind: KindVec, vecVal: items} }
func NewMap(m map[string]Value) Value { return Value{kind: KindMap, mapVal: m} }
func NewObjectRef(o *Object) Value    { return Value{kind: KindObject, objectVal: o} }

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Bool() bool      { return v.boolVal }
func (v Value) Int() int64      { return v.i128Val }
func (v Value) Uint() uint64    { return v.u128Val }
func (v Value) Float() float64  { return v.f64Val }
func (v Value) String() string {
	if v.kind == KindString {
		return v.strVal
	}
	return fmt.Sprintf("%v", v.Raw())
}
func (v Value) Time() time.Time {
	if v.kind == KindDate {
		return v.dateVal
	}
	return v.dtVal
}
func (v Value) Decimal() decimal.Decimal { return v.decVal }
func (v Value) ObjectID() bson.ObjectID  { return v.oidVal }
func (v Value) Vec() []Value             { return v.vecVal }
func (v Value) Map() map[string]Value    { return v.mapVal }
func (v Value) Object() *Object          { return v.objectVal }

// Raw returns the Go-native value underlying this Value, for interop with
// connectors and JSON encoding.
func (v Value) Raw() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.boolVal
	case KindI8, KindI16, KindI32, KindI64, KindI128:
		return v.i128Val
	case KindU8, KindU16, KindU32, KindU64, KindU128:
		return v.u128Val
	case KindF32, KindF64:
		return v.f64Val
	case KindString:
		return v.strVal
	case KindDate:
		return v.dateVal
	case KindDateTime:
		return v.dtVal
	case KindDecimal:
		return v.decVal
	case KindObjectID:
		return v.oidVal
	case KindVec:
		raw := make([]any, len(v.vecVal))
		for i, item := range v.vecVal {
			raw[i] = item.Raw()
		}
		return raw
	case KindMap:
		raw := make(map[string]any, len(v.mapVal))
		for k, item := range v.mapVal {
			raw[k] = item.Raw()
		}
		return raw
	case KindObject:
		return v.objectVal
	default:
		return nil
	}
}

// Equal performs a total comparison within one tag. Cross-tag comparisons
// (other than against Null) are never equal, matching the "cross-tag
// comparisons fail with a typed error" rule for ordering; for plain equality
// we treat a kind mismatch as simply unequal rather than erroring, since
// dirty-tracking (Object.modified) needs a total, infallible predicate.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolVal == other.boolVal
	case KindI8, KindI16, KindI32, KindI64, KindI128:
		return v.i128Val == other.i128Val
	case KindU8, KindU16, KindU32, KindU64, KindU128:
		return v.u128Val == other.u128Val
	case KindF32, KindF64:
		return v.f64Val == other.f64Val
	case KindString:
		return v.strVal == other.strVal
	case KindDate:
		return v.dateVal.Equal(other.dateVal)
	case KindDateTime:
		return v.dtVal.Equal(other.dtVal)
	case KindDecimal:
		return v.decVal.Equal(other.decVal)
	case KindObjectID:
		return v.oidVal == other.oidVal
	case KindVec:
		if len(v.vecVal) != len(other.vecVal) {
			return false
		}
		for i := range v.vecVal {
			if !v.vecVal[i].Equal(other.vecVal[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.mapVal) != len(other.mapVal) {
			return false
		}
		keys := make([]string, 0, len(v.mapVal))
		for k := range v.mapVal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ov, ok := other.mapVal[k]
			if !ok || !v.mapVal[k].Equal(ov) {
				return false
			}
		}
		return true
	case KindObject:
		return v.objectVal == other.objectVal
	default:
		return false
	}
}

// Compare orders two Values of the same Kind. It returns 0 and an
// InvalidOperation *Error when the kinds differ, matching "cross-tag
// comparisons fail with a typed error".
func (v Value) Compare(other Value) (int, error) {
	if v.kind != other.kind {
		return 0, &Error{Kind: ErrKindInvalidOperation, Message: fmt.Sprintf("cannot compare %s to %s", v.kind, other.kind)}
	}
	switch v.kind {
	case KindI8, KindI16, KindI32, KindI64, KindI128:
		return cmpInt64(v.i128Val, other.i128Val), nil
	case KindU8, KindU16, KindU32, KindU64, KindU128:
		return cmpUint64(v.u128Val, other.u128Val), nil
	case KindF32, KindF64:
		return cmpFloat64(v.f64Val, other.f64Val), nil
	case KindString:
		switch {
		case v.strVal < other.strVal:
			return -1, nil
		case v.strVal > other.strVal:
			return 1, nil
		default:
			return 0, nil
		}
	case KindDate:
		return cmpTime(v.dateVal, other.dateVal), nil
	case KindDateTime:
		return cmpTime(v.dtVal, other.dtVal), nil
	case KindDecimal:
		return v.decVal.Cmp(other.decVal), nil
	default:
		return 0, &Error{Kind: ErrKindInvalidOperation, Message: fmt.Sprintf("%s is not ordered", v.kind)}
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func isIntKind(k Kind) bool {
	switch k {
	case KindI8, KindI16, KindI32, KindI64, KindI128, KindU8, KindU16, KindU32, KindU64, KindU128:
		return true
	default:
		return false
	}
}

func isSignedKind(k Kind) bool {
	switch k {
	case KindI8, KindI16, KindI32, KindI64, KindI128:
		return true
	default:
		return false
	}
}
