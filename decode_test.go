package dataengine

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	_, err := Decode(g, m, map[string]any{"name": "alice", "bogus": 1}, true, nil)
	if err == nil {
		t.Fatal("expected KeysUnallowed for an unrecognized key")
	}
	derr, ok := err.(*Error)
	if !ok || derr.Kind != ErrKindKeysUnallowed {
		t.Fatalf("expected ErrKindKeysUnallowed, got %v", err)
	}
}

func TestDecodeAppliesDefaultOnCreate(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	plan, err := Decode(g, m, map[string]any{"name": "alice"}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	role, ok := plan.SetFields["role"]
	if !ok || role.String() != "member" {
		t.Errorf("role default not applied, got %v", role)
	}
}

func TestDecodeDefaultNotAppliedOnUpdate(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	plan, err := Decode(g, m, map[string]any{"name": "alice"}, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := plan.SetFields["role"]; ok {
		t.Error("defaults must not be applied on update")
	}
}

func TestDecodeRequiredFieldMissingOnCreate(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	_, err := Decode(g, m, map[string]any{}, true, nil)
	if err == nil {
		t.Fatal("expected ValueRequired for missing name")
	}
}

func TestDecodeRejectsUnexpectedNullOnRequiredField(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	_, err := Decode(g, m, map[string]any{"name": nil}, true, nil)
	if err == nil {
		t.Fatal("expected an error for null on a required field")
	}
}

func TestDecodeOptionalNullSetsExplicitNull(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("post")
	plan, err := Decode(g, m, map[string]any{"title": "hi", "authorId": nil}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := plan.SetFields["authorId"]
	if !ok || !v.IsNull() {
		t.Errorf("expected explicit null for optional field, got %v", v)
	}
}

func TestDecodeEnumRejectsUnknownVariant(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	_, err := Decode(g, m, map[string]any{"name": "alice", "role": "superadmin"}, true, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown enum variant")
	}
}

func TestDecodeEnumAcceptsKnownVariant(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	plan, err := Decode(g, m, map[string]any{"name": "alice", "role": "admin"}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.SetFields["role"].String() != "admin" {
		t.Errorf("role = %v, want admin", plan.SetFields["role"])
	}
}

func TestDecodeRelationConnectDirective(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("post")
	plan, err := Decode(g, m, map[string]any{
		"title":  "hi",
		"author": map[string]any{"connect": map[string]any{"id": "507f1f77bcf86cd799439011"}},
	}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir, ok := plan.Nested["author"]
	if !ok || dir.Kind != DirectiveConnect {
		t.Fatalf("expected a Connect directive on author, got %+v", dir)
	}
}

func TestDecodeRelationCreateDirectiveRecursesIntoPeerModel(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("post")
	plan, err := Decode(g, m, map[string]any{
		"title":  "hi",
		"author": map[string]any{"create": map[string]any{"name": "bob"}},
	}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := plan.Nested["author"]
	if dir.Kind != DirectiveCreate {
		t.Fatalf("expected DirectiveCreate, got %v", dir.Kind)
	}
	if dir.Create.SetFields["name"].String() != "bob" {
		t.Errorf("nested create plan missing name, got %+v", dir.Create.SetFields)
	}
	if dir.Create.SetFields["role"].String() != "member" {
		t.Error("nested create plan must still apply peer-model defaults")
	}
}

func TestDecodeRelationSetDirectiveOnToMany(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	plan, err := Decode(g, m, map[string]any{
		"name": "alice",
		"posts": map[string]any{"set": []any{
			map[string]any{"id": "507f1f77bcf86cd799439011"},
		}},
	}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := plan.Nested["posts"]
	if dir.Kind != DirectiveSet || len(dir.SetFilters) != 1 {
		t.Fatalf("expected a single-entry Set directive, got %+v", dir)
	}
}

func TestDecodeRelationDisconnectAllBool(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	plan, err := Decode(g, m, map[string]any{
		"name":  "alice",
		"posts": map[string]any{"disconnect": true},
	}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := plan.Nested["posts"]
	if dir.Kind != DirectiveDisconnect || !dir.DisconnectAll {
		t.Fatalf("expected DisconnectAll, got %+v", dir)
	}
}

func TestDecodeRelationUpdateManyDirective(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("user")
	plan, err := Decode(g, m, map[string]any{
		"name": "alice",
		"posts": map[string]any{"updateMany": map[string]any{
			"where": map[string]any{"title": map[string]any{"contains": "x"}},
			"data":  map[string]any{"title": "y"},
		}},
	}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := plan.Nested["posts"]
	if dir.Kind != DirectiveUpdateMany || dir.UpdateManyWhere == nil || dir.UpdateManyPlan == nil {
		t.Fatalf("expected a populated UpdateMany directive, got %+v", dir)
	}
}

func TestDecodeRelationUpsertDirective(t *testing.T) {
	g := buildUserPostGraph(t)
	m, _ := g.Model("post")
	plan, err := Decode(g, m, map[string]any{
		"title": "hi",
		"author": map[string]any{"upsert": map[string]any{
			"where":  map[string]any{"id": "507f1f77bcf86cd799439011"},
			"create": map[string]any{"name": "bob"},
			"update": map[string]any{"name": "bobby"},
		}},
	}, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := plan.Nested["author"]
	if dir.Kind != DirectiveUpsert || dir.UpsertCreate == nil || dir.UpsertUpdate == nil {
		t.Fatalf("expected a populated Upsert directive, got %+v", dir)
	}
}

func TestDecodeWriteOnceRejectsSecondWrite(t *testing.T) {
	b := NewBuilder()
	b.Model("doc", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("slug", func(fb *FieldBuilder) { fb.String().Required().WriteOnce() })
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	m, _ := g.Model("doc")
	e, _ := newTestEngine(t, g)
	obj := e.NewObject(m, &Env{}, false)
	if err := obj.SetCommitted("slug", NewString("first")); err != nil {
		t.Fatal(err)
	}
	obj.setCommitted("id", NewObjectID(bson.NewObjectID()))
	_, err = Decode(g, m, map[string]any{"slug": "second"}, false, obj)
	if err == nil {
		t.Fatal("expected an error rewriting a write-once field that already has a value")
	}
}
