package dataengine

// TypeKind names the scalar and composite type tags a Field can carry. It is
// the type-level counterpart to Kind: every Kind has exactly one TypeKind
// that accepts it, except that TypeKind adds Enum/Vec/Map/Object which have
// no direct Value kind of their own (Enum values are carried as String,
// Vec/Map/Object as KindVec/KindMap/KindObject with an element FieldType
// attached out of band).
type TypeKind int

const (
	TypeUndefined TypeKind = iota
	TypeBool
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeI128
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeU128
	TypeF32
	TypeF64
	TypeString
	TypeDate
	TypeDateTime
	TypeDecimal
	TypeObjectID
	TypeEnum
	TypeVec
	TypeMap
	TypeObject
)

// FieldType is the parallel tag set to Value, carrying the extra structure
// (enum path, element field, target model path) that a bare Value kind
// cannot. A field can be a scalar, a list, or a dict; FieldType carries no
// separate required bit for list or dict elements.
type FieldType struct {
	Kind       TypeKind
	EnumPath   string     // set when Kind == TypeEnum
	Element    *FieldType // set when Kind == TypeVec or TypeMap
	ModelPath  string     // set when Kind == TypeObject
}

// Arity describes whether a field holds one value, a list, or a dict; it is
// derived from the FieldType's Kind rather than stored separately, since Vec
// and Map already imply arity in this type's shape.
type Arity int

const (
	ArityScalar Arity = iota
	ArityList
	ArityDict
)

func (ft FieldType) Arity() Arity {
	switch ft.Kind {
	case TypeVec:
		return ArityList
	case TypeMap:
		return ArityDict
	default:
		return ArityScalar
	}
}

func Scalar(k TypeKind) FieldType { return FieldType{Kind: k} }
func EnumType(path string) FieldType { return FieldType{Kind: TypeEnum, EnumPath: path} }
func VecType(elem FieldType) FieldType { return FieldType{Kind: TypeVec, Element: &elem} }
func MapType(elem FieldType) FieldType { return FieldType{Kind: TypeMap, Element: &elem} }
func ObjectType(modelPath string) FieldType { return FieldType{Kind: TypeObject, ModelPath: modelPath} }

func (ft FieldType) String() string {
	switch ft.Kind {
	case TypeEnum:
		return "Enum(" + ft.EnumPath + ")"
	case TypeVec:
		return "Vec(" + ft.Element.String() + ")"
	case TypeMap:
		return "Map(" + ft.Element.String() + ")"
	case TypeObject:
		return "Object(" + ft.ModelPath + ")"
	default:
		return typeKindName(ft.Kind)
	}
}

func typeKindName(k TypeKind) string {
	switch k {
	case TypeUndefined:
		return "Undefined"
	case TypeBool:
		return "Bool"
	case TypeI8:
		return "I8"
	case TypeI16:
		return "I16"
	case TypeI32:
		return "I32"
	case TypeI64:
		return "I64"
	case TypeI128:
		return "I128"
	case TypeU8:
		return "U8"
	case TypeU16:
		return "U16"
	case TypeU32:
		return "U32"
	case TypeU64:
		return "U64"
	case TypeU128:
		return "U128"
	case TypeF32:
		return "F32"
	case TypeF64:
		return "F64"
	case TypeString:
		return "String"
	case TypeDate:
		return "Date"
	case TypeDateTime:
		return "DateTime"
	case TypeDecimal:
		return "Decimal"
	case TypeObjectID:
		return "ObjectId"
	default:
		return "Unknown"
	}
}

// intWidth and fitsInWidth give the literal-fits-in-range checks that the
// Input Decoder's coercion matrix needs for narrowing integers.
func intWidth(k TypeKind) int {
	switch k {
	case TypeI8, TypeU8:
		return 8
	case TypeI16, TypeU16:
		return 16
	case TypeI32, TypeU32:
		return 32
	case TypeI64, TypeU64, TypeI128, TypeU128:
		return 64
	default:
		return 0
	}
}

func typeKindIsInt(k TypeKind) bool {
	switch k {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeI128, TypeU8, TypeU16, TypeU32, TypeU64, TypeU128:
		return true
	default:
		return false
	}
}

func typeKindIsSigned(k TypeKind) bool {
	switch k {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeI128:
		return true
	default:
		return false
	}
}

func fitsInWidth(v int64, width int, signed bool) bool {
	if signed {
		min := -(int64(1) << (width - 1))
		max := int64(1)<<(width-1) - 1
		return v >= min && v <= max
	}
	if v < 0 {
		return false
	}
	if width >= 64 {
		return true
	}
	max := int64(1)<<width - 1
	return v <= max
}
