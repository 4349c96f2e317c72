package dataengine

import "testing"

func TestFieldTypeArity(t *testing.T) {
	if Scalar(TypeString).Arity() != ArityScalar {
		t.Error("scalar string must report ArityScalar")
	}
	if VecType(Scalar(TypeI32)).Arity() != ArityList {
		t.Error("vec must report ArityList")
	}
	if MapType(Scalar(TypeI32)).Arity() != ArityDict {
		t.Error("map must report ArityDict")
	}
}

func TestFieldTypeString(t *testing.T) {
	cases := []struct {
		ft   FieldType
		want string
	}{
		{Scalar(TypeString), "String"},
		{EnumType("user.role"), "Enum(user.role)"},
		{VecType(Scalar(TypeI32)), "Vec(I32)"},
		{MapType(Scalar(TypeBool)), "Map(Bool)"},
		{ObjectType("user"), "Object(user)"},
	}
	for _, c := range cases {
		if got := c.ft.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestFitsInWidthSigned(t *testing.T) {
	if !fitsInWidth(127, 8, true) {
		t.Error("127 must fit in int8")
	}
	if fitsInWidth(128, 8, true) {
		t.Error("128 must not fit in int8")
	}
	if !fitsInWidth(-128, 8, true) {
		t.Error("-128 must fit in int8")
	}
	if fitsInWidth(-129, 8, true) {
		t.Error("-129 must not fit in int8")
	}
}

func TestFitsInWidthUnsigned(t *testing.T) {
	if !fitsInWidth(255, 8, false) {
		t.Error("255 must fit in uint8")
	}
	if fitsInWidth(256, 8, false) {
		t.Error("256 must not fit in uint8")
	}
	if fitsInWidth(-1, 8, false) {
		t.Error("negative value must never fit an unsigned width")
	}
	if !fitsInWidth(1<<62, 64, false) {
		t.Error("large positive value must fit a 64-bit unsigned width")
	}
}

func TestIntWidth(t *testing.T) {
	cases := map[TypeKind]int{
		TypeI8: 8, TypeU8: 8,
		TypeI16: 16, TypeU16: 16,
		TypeI32: 32, TypeU32: 32,
		TypeI64: 64, TypeU64: 64, TypeI128: 64, TypeU128: 64,
		TypeString: 0,
	}
	for k, want := range cases {
		if got := intWidth(k); got != want {
			t.Errorf("intWidth(%v) = %d, want %d", k, got, want)
		}
	}
}
