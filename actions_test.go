package dataengine

import (
	"context"
	"reflect"
	"testing"
)

// buildActionGraph declares the three fixture models the action-surface
// tests run against: a flat model exercising write rules and defaults, a
// compound-unique model, and a list-field model with an on_save transform.
func buildActionGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	b.Model("Simple", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("uniqueString", func(fb *FieldBuilder) { fb.String().Required().Unique() })
		mb.Field("requiredString", func(fb *FieldBuilder) { fb.String().Required() })
		mb.Field("requiredWithDefault", func(fb *FieldBuilder) { fb.I64().Required().Default(NewI64(2)) })
		mb.Field("optionalString", func(fb *FieldBuilder) { fb.String().Optional() })
		mb.Field("readonly", func(fb *FieldBuilder) { fb.Bool().Optional().Readonly() })
		mb.Field("writeonly", func(fb *FieldBuilder) { fb.Bool().Optional().Writeonly() })
	})
	b.Model("Compound", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("one", func(fb *FieldBuilder) { fb.String().Required().CompoundUnique("one_two") })
		mb.Field("two", func(fb *FieldBuilder) { fb.String().Required().CompoundUnique("one_two") })
		mb.Field("three", func(fb *FieldBuilder) { fb.String().Required() })
	})
	b.Model("List", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("listOne", func(fb *FieldBuilder) {
			fb.Vec(Scalar(TypeString)).Required().OnSave(func(p *Pipeline) {
				p.Append(Transform(func(v Value, ctx Context) Value {
					items := v.Vec()
					out := make([]Value, len(items))
					for i, item := range items {
						out[i] = NewString(item.String() + "-suffix")
					}
					return NewVec(out)
				}))
			})
		})
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return g
}

func newActionFixture(t *testing.T) (*Dispatcher, *Env) {
	t.Helper()
	e, _ := newTestEngine(t, buildActionGraph(t))
	return NewDispatcher(e), &Env{Ctx: context.Background()}
}

func dataOf(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want object", resp.Data)
	}
	return data
}

func TestCreateUniqueConflict(t *testing.T) {
	d, env := newActionFixture(t)
	body := map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "1", "requiredString": "1"},
	}

	first := d.Dispatch(env, "simples", body)
	data := dataOf(t, first)
	if _, ok := data["id"]; !ok {
		t.Fatal("first create must assign a fresh id")
	}

	second := d.Dispatch(env, "simples", body)
	if second.Error == nil {
		t.Fatal("duplicate create must fail")
	}
	if second.Error.Type != "ValidationError" {
		t.Fatalf("error type = %q, want ValidationError", second.Error.Type)
	}
	want := map[string]string{"uniqueString": "Unique value duplicated."}
	if !reflect.DeepEqual(second.Error.Errors, want) {
		t.Fatalf("errors = %v, want %v", second.Error.Errors, want)
	}
	if got := HTTPStatus(ErrorKind(second.Error.Type)); got != 400 {
		t.Fatalf("status = %d, want 400", got)
	}
}

func TestCreateRequiredOmitted(t *testing.T) {
	d, env := newActionFixture(t)
	resp := d.Dispatch(env, "simples", map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "1"},
	})
	if resp.Error == nil || resp.Error.Type != "ValidationError" {
		t.Fatalf("want ValidationError, got %+v", resp.Error)
	}
	want := map[string]string{"requiredString": "Value is required."}
	if !reflect.DeepEqual(resp.Error.Errors, want) {
		t.Fatalf("errors = %v, want %v", resp.Error.Errors, want)
	}
}

func TestCreateDefaultApplied(t *testing.T) {
	d, env := newActionFixture(t)

	resp := d.Dispatch(env, "simples", map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "1", "requiredString": "1"},
	})
	if got := dataOf(t, resp)["requiredWithDefault"]; got != int64(2) {
		t.Fatalf("requiredWithDefault = %v (%T), want 2", got, got)
	}

	resp = d.Dispatch(env, "simples", map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "2", "requiredString": "1", "requiredWithDefault": float64(8)},
	})
	if got := dataOf(t, resp)["requiredWithDefault"]; got != int64(8) {
		t.Fatalf("requiredWithDefault = %v (%T), want 8", got, got)
	}
}

func TestCreateReadonlyUnallowed(t *testing.T) {
	d, env := newActionFixture(t)
	resp := d.Dispatch(env, "simples", map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "1", "requiredString": "1", "readonly": false},
	})
	if resp.Error == nil || resp.Error.Type != "KeysUnallowed" {
		t.Fatalf("want KeysUnallowed, got %+v", resp.Error)
	}
	if got := HTTPStatus(ErrKindKeysUnallowed); got != 400 {
		t.Fatalf("status = %d, want 400", got)
	}
}

func TestCreateWriteonlyNotOutput(t *testing.T) {
	d, env := newActionFixture(t)
	resp := d.Dispatch(env, "simples", map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "1", "requiredString": "1", "writeonly": true},
	})
	data := dataOf(t, resp)
	if _, present := data["writeonly"]; present {
		t.Fatal("writeonly field must not appear in output")
	}
}

func TestCompoundUniqueFind(t *testing.T) {
	d, env := newActionFixture(t)
	created := d.Dispatch(env, "compounds", map[string]any{
		"action": "Create",
		"create": map[string]any{"one": "1", "two": "2", "three": "3"},
	})
	dataOf(t, created)

	resp := d.Dispatch(env, "compounds", map[string]any{
		"action": "FindUnique",
		"where":  map[string]any{"one": "1", "two": "2"},
	})
	data := dataOf(t, resp)
	if data["three"] != "3" {
		t.Fatalf("three = %v, want 3", data["three"])
	}
}

func TestListOnSaveTransform(t *testing.T) {
	d, env := newActionFixture(t)
	resp := d.Dispatch(env, "lists", map[string]any{
		"action": "Create",
		"create": map[string]any{"listOne": []any{"1", "2"}},
	})
	data := dataOf(t, resp)
	want := []any{"1-suffix", "2-suffix"}
	if !reflect.DeepEqual(data["listOne"], want) {
		t.Fatalf("listOne = %v, want %v", data["listOne"], want)
	}
}

func TestUpdateToNullOmitsKey(t *testing.T) {
	d, env := newActionFixture(t)
	created := d.Dispatch(env, "simples", map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "1", "requiredString": "1", "optionalString": "5"},
	})
	if got := dataOf(t, created)["optionalString"]; got != "5" {
		t.Fatalf("optionalString = %v, want 5", got)
	}

	updated := d.Dispatch(env, "simples", map[string]any{
		"action": "Update",
		"where":  map[string]any{"uniqueString": "1"},
		"update": map[string]any{"optionalString": nil},
	})
	if _, present := dataOf(t, updated)["optionalString"]; present {
		t.Fatal("nulled field must be absent from update output")
	}

	read := d.Dispatch(env, "simples", map[string]any{
		"action": "FindUnique",
		"where":  map[string]any{"uniqueString": "1"},
	})
	if _, present := dataOf(t, read)["optionalString"]; present {
		t.Fatal("nulled field must be absent on subsequent reads")
	}
}

func TestDispatchUnknownActionAndSegment(t *testing.T) {
	d, env := newActionFixture(t)

	resp := d.Dispatch(env, "simples", map[string]any{"action": "Explode"})
	if resp.Error == nil || resp.Error.Type != "InvalidOperation" {
		t.Fatalf("want InvalidOperation, got %+v", resp.Error)
	}

	resp = d.Dispatch(env, "nonsense", map[string]any{"action": "FindMany"})
	if resp.Error == nil || resp.Error.Type != "ObjectNotFound" {
		t.Fatalf("want ObjectNotFound, got %+v", resp.Error)
	}
	if got := HTTPStatus(ErrKindObjectNotFound); got != 404 {
		t.Fatalf("status = %d, want 404", got)
	}
}

func TestFindManyMetaCount(t *testing.T) {
	d, env := newActionFixture(t)
	for _, u := range []string{"a", "b", "c"} {
		resp := d.Dispatch(env, "simples", map[string]any{
			"action": "Create",
			"create": map[string]any{"uniqueString": u, "requiredString": "x"},
		})
		dataOf(t, resp)
	}

	resp := d.Dispatch(env, "simples", map[string]any{"action": "FindMany"})
	if resp.Error != nil {
		t.Fatalf("find many: %+v", resp.Error)
	}
	if resp.Meta == nil || resp.Meta.Count == nil || *resp.Meta.Count != 3 {
		t.Fatalf("meta = %+v, want count 3", resp.Meta)
	}
	rows, ok := resp.Data.([]map[string]any)
	if !ok || len(rows) != 3 {
		t.Fatalf("data = %T len %d, want 3 rows", resp.Data, len(rows))
	}
}

func TestCreateManyUpdateManyDeleteMany(t *testing.T) {
	d, env := newActionFixture(t)

	resp := d.Dispatch(env, "simples", map[string]any{
		"action": "CreateMany",
		"create": []any{
			map[string]any{"uniqueString": "a", "requiredString": "x"},
			map[string]any{"uniqueString": "b", "requiredString": "x"},
			map[string]any{"uniqueString": "c", "requiredString": "y"},
		},
	})
	if resp.Error != nil || *resp.Meta.Count != 3 {
		t.Fatalf("create many: %+v meta %+v", resp.Error, resp.Meta)
	}

	resp = d.Dispatch(env, "simples", map[string]any{
		"action": "UpdateMany",
		"where":  map[string]any{"requiredString": "x"},
		"update": map[string]any{"optionalString": "seen"},
	})
	if resp.Error != nil || *resp.Meta.Count != 2 {
		t.Fatalf("update many: %+v meta %+v", resp.Error, resp.Meta)
	}
	for _, row := range resp.Data.([]map[string]any) {
		if row["optionalString"] != "seen" {
			t.Fatalf("row not updated: %v", row)
		}
	}

	resp = d.Dispatch(env, "simples", map[string]any{
		"action": "Count",
		"where":  map[string]any{"requiredString": "x"},
	})
	if resp.Error != nil || resp.Data != int64(2) {
		t.Fatalf("count = %v, err %+v", resp.Data, resp.Error)
	}

	resp = d.Dispatch(env, "simples", map[string]any{
		"action": "DeleteMany",
		"where":  map[string]any{"requiredString": "x"},
	})
	if resp.Error != nil || *resp.Meta.Count != 2 {
		t.Fatalf("delete many: %+v meta %+v", resp.Error, resp.Meta)
	}

	resp = d.Dispatch(env, "simples", map[string]any{"action": "Count"})
	if resp.Data != int64(1) {
		t.Fatalf("count after delete = %v, want 1", resp.Data)
	}
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	d, env := newActionFixture(t)
	body := func(opt string) map[string]any {
		return map[string]any{
			"action": "Upsert",
			"where":  map[string]any{"uniqueString": "u"},
			"create": map[string]any{"uniqueString": "u", "requiredString": "r"},
			"update": map[string]any{"optionalString": opt},
		}
	}

	first := d.Dispatch(env, "simples", body("ignored"))
	data := dataOf(t, first)
	if _, present := data["optionalString"]; present {
		t.Fatal("upsert create path must not apply the update payload")
	}

	second := d.Dispatch(env, "simples", body("applied"))
	if got := dataOf(t, second)["optionalString"]; got != "applied" {
		t.Fatalf("optionalString = %v, want applied", got)
	}
}

func TestDeleteReturnsDeletedRow(t *testing.T) {
	d, env := newActionFixture(t)
	created := d.Dispatch(env, "simples", map[string]any{
		"action": "Create",
		"create": map[string]any{"uniqueString": "1", "requiredString": "1"},
	})
	dataOf(t, created)

	resp := d.Dispatch(env, "simples", map[string]any{
		"action": "Delete",
		"where":  map[string]any{"uniqueString": "1"},
	})
	if got := dataOf(t, resp)["uniqueString"]; got != "1" {
		t.Fatalf("deleted row data = %v", resp.Data)
	}

	resp = d.Dispatch(env, "simples", map[string]any{
		"action": "FindUnique",
		"where":  map[string]any{"uniqueString": "1"},
	})
	if resp.Error == nil || resp.Error.Type != "ObjectNotFound" {
		t.Fatalf("want ObjectNotFound after delete, got %+v", resp.Error)
	}
}

func buildAccountGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	b.Model("Account", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("email", func(fb *FieldBuilder) { fb.String().Required().Unique().AuthIdentity() })
		mb.Field("password", func(fb *FieldBuilder) {
			fb.String().Required().Writeonly().OnSave(func(p *Pipeline) {
				p.Append(Transform(func(v Value, ctx Context) Value {
					return NewString("hashed:" + v.String())
				}))
			})
		})
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return g
}

func TestSignInAndIdentity(t *testing.T) {
	e, _ := newTestEngine(t, buildAccountGraph(t))
	d := NewDispatcher(e)
	env := &Env{Ctx: context.Background()}

	created := d.Dispatch(env, "accounts", map[string]any{
		"action": "Create",
		"create": map[string]any{"email": "a@example.com", "password": "pw"},
	})
	dataOf(t, created)

	resp := d.Dispatch(env, "accounts", map[string]any{
		"action":      "SignIn",
		"credentials": map[string]any{"email": "a@example.com", "password": "wrong"},
	})
	if resp.Error == nil || resp.Error.Type != "ValidationError" {
		t.Fatalf("wrong password: want ValidationError, got %+v", resp.Error)
	}
	if resp.Error.Errors["password"] != "Authentication failed." {
		t.Fatalf("errors = %v", resp.Error.Errors)
	}

	resp = d.Dispatch(env, "accounts", map[string]any{
		"action":      "SignIn",
		"credentials": map[string]any{"email": "a@example.com", "password": "pw"},
	})
	data := dataOf(t, resp)
	if data["email"] != "a@example.com" {
		t.Fatalf("signed-in identity = %v", data)
	}
	if _, present := data["password"]; present {
		t.Fatal("password must stay writeonly in sign-in output")
	}

	resp = d.Dispatch(env, "accounts", map[string]any{"action": "Identity"})
	if got := dataOf(t, resp)["email"]; got != "a@example.com" {
		t.Fatalf("identity = %v", got)
	}

	fresh := &Env{Ctx: context.Background()}
	resp = d.Dispatch(fresh, "accounts", map[string]any{"action": "Identity"})
	if resp.Error == nil || resp.Error.Type != "ObjectNotFound" {
		t.Fatalf("identity without sign-in: want ObjectNotFound, got %+v", resp.Error)
	}
}

func TestCustomActionInstall(t *testing.T) {
	e, _ := newTestEngine(t, buildActionGraph(t))
	d := NewDispatcher(e)
	env := &Env{Ctx: context.Background()}

	d.Install("Simple", "Ping", HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
		return map[string]any{"pong": m.Path}, nil, nil
	}))

	resp := d.Dispatch(env, "simples", map[string]any{"action": "Ping"})
	if got := dataOf(t, resp)["pong"]; got != "Simple" {
		t.Fatalf("pong = %v", got)
	}
}
