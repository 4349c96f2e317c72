package dataengine

import "testing"

type tagSample struct {
	ID    string `dataengine:"primary,required"`
	Email string `dataengine:"unique,required" db:"email_address"`
	Age   int32  `dataengine:"min=0,max=150"`
	Role  string `dataengine:"required,enum=admin|member"`
}

func buildTagSampleGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	b.Model("account", func(mb *ModelBuilder) {
		FromStruct(mb, tagSample{})
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return g
}

func TestFromStructAppliesPrimaryAndColumnName(t *testing.T) {
	g := buildTagSampleGraph(t)
	m, err := g.Model("account")
	if err != nil {
		t.Fatal(err)
	}
	idF, ok := m.Field("ID")
	if !ok || m.PrimaryIndex == nil || m.PrimaryIndex.Fields[0] != "ID" {
		t.Fatalf("ID must be the primary field, got field=%v primary=%v", idF, m.PrimaryIndex)
	}
	emailF, ok := m.Field("Email")
	if !ok {
		t.Fatal("Email field missing")
	}
	if emailF.ColumnName != "email_address" {
		t.Errorf("ColumnName = %q, want email_address (from db tag)", emailF.ColumnName)
	}
	ageF, ok := m.Field("Age")
	if !ok {
		t.Fatal("Age field missing")
	}
	if ageF.ColumnName != toSnakeCase("Age") {
		t.Errorf("ColumnName fallback = %q, want snake_case(Age)", ageF.ColumnName)
	}
}

func TestFromStructEnumTagBuildsInlinePipeType(t *testing.T) {
	g := buildTagSampleGraph(t)
	m, _ := g.Model("account")
	roleF, ok := m.Field("Role")
	if !ok {
		t.Fatal("Role field missing")
	}
	if roleF.Type.Kind != TypeEnum || roleF.Type.EnumPath != "admin|member" {
		t.Fatalf("Role type = %+v, want an inline enum over admin|member", roleF.Type)
	}
}

func TestFromStructMinMaxValidatorsRejectOutOfRange(t *testing.T) {
	g := buildTagSampleGraph(t)
	m, _ := g.Model("account")
	plan, err := Decode(g, m, map[string]any{
		"ID":    "a1",
		"Email": "a@example.com",
		"Age":   float64(200),
		"Role":  "admin",
	}, true, nil)
	if err == nil {
		t.Fatal("expected a validation error for Age above max")
	}
	_ = plan
}

func TestFromStructRequiredFieldMissingRejected(t *testing.T) {
	g := buildTagSampleGraph(t)
	m, _ := g.Model("account")
	_, err := Decode(g, m, map[string]any{
		"Email": "a@example.com",
		"Role":  "admin",
	}, true, nil)
	if err == nil {
		t.Fatal("expected ValueRequired for missing ID")
	}
}

func TestFromStructInlineEnumRejectsUnknownVariant(t *testing.T) {
	g := buildTagSampleGraph(t)
	m, _ := g.Model("account")
	_, err := Decode(g, m, map[string]any{
		"ID":    "a1",
		"Email": "a@example.com",
		"Age":   float64(10),
		"Role":  "superadmin",
	}, true, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown inline-enum variant")
	}
}
