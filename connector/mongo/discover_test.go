package mongo

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestInferFieldType(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"hello", "String"},
		{int32(1), "I32"},
		{int64(1), "I64"},
		{1.5, "F64"},
		{true, "Bool"},
		{bson.NewObjectID(), "ObjectId"},
		{nil, "null"},
	}
	for _, c := range cases {
		if got := inferFieldType(c.in); got != c.want {
			t.Errorf("inferFieldType(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestInferArrayFieldType(t *testing.T) {
	if got := inferArrayFieldType(bson.A{"a", "b"}); got != "Vec(String)" {
		t.Errorf("homogeneous string array = %q", got)
	}
	if got := inferArrayFieldType(bson.A{"a", int32(1)}); got != "Vec(String)" {
		t.Errorf("mixed array should fall back to Vec(String), got %q", got)
	}
	if got := inferArrayFieldType(bson.A{}); got != "Vec(String)" {
		t.Errorf("empty array = %q", got)
	}
}

func TestResolveFieldType(t *testing.T) {
	cases := []struct {
		name  string
		types map[string]bool
		want  string
	}{
		{"single string", map[string]bool{"String": true}, "String"},
		{"int32 widens to int64", map[string]bool{"I32": true, "I64": true}, "I64"},
		{"int+float promotes to float", map[string]bool{"I32": true, "F64": true}, "F64"},
		{"empty falls back", map[string]bool{}, "String"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := resolveFieldType(c.types); got != c.want {
				t.Errorf("resolveFieldType(%v) = %q, want %q", c.types, got, c.want)
			}
		})
	}
}
