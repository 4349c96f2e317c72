package dataengine

import (
	"context"
	"sort"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func mustObjIDFromHex(t *testing.T, s string) bson.ObjectID {
	t.Helper()
	id, err := bson.ObjectIDFromHex(s)
	if err != nil {
		t.Fatalf("parse object id %q: %v", s, err)
	}
	return id
}

func mustParseRFC3339(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

// buildUserPostGraph declares a two-model fixture schema: user (one) to post
// (many) via a direct relation, the owner side living on post
// (authorId/id), exercising the same Fields/References/Opposite shape a real
// schema declares. user.posts is the non-owner to-many side (empty
// Fields/References, Opposite "author").
func buildUserPostGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	b.Enum("user.role", "admin", "member")
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("name", func(fb *FieldBuilder) { fb.String().Required() })
		mb.Field("role", func(fb *FieldBuilder) { fb.Enum("user.role").Required().Default(NewString("member")) })
		mb.Relation(NewRelation("posts", "post", nil, nil, "author", true, true))
	})
	b.Model("post", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("title", func(fb *FieldBuilder) { fb.String().Required().Sortable() })
		mb.Field("authorId", func(fb *FieldBuilder) { fb.ObjectID().Optional() })
		mb.Relation(NewRelation("author", "user", []string{"authorId"}, []string{"id"}, "posts", false, true))
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return g
}

// buildPostTagGraph declares a post<->tag many-to-many fixture, mediated by
// a postTag join model, for exercising resolveThroughRelation.
func buildPostTagGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	b.Model("post", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("title", func(fb *FieldBuilder) { fb.String().Required() })
		mb.Relation(NewThroughRelation("tags", "tag", "postTag", "post", true))
	})
	b.Model("tag", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("name", func(fb *FieldBuilder) { fb.String().Required() })
		mb.Relation(NewThroughRelation("posts", "post", "postTag", "tag", true))
	})
	b.Model("postTag", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary().AssignedByDatabase() })
		mb.Field("postId", func(fb *FieldBuilder) { fb.ObjectID().Required() })
		mb.Field("tagId", func(fb *FieldBuilder) { fb.ObjectID().Required() })
		mb.Relation(NewRelation("post", "post", []string{"postId"}, []string{"id"}, "tags", false, false))
		mb.Relation(NewRelation("tag", "tag", []string{"tagId"}, []string{"id"}, "posts", false, false))
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return g
}

// fakeConnector is an in-memory Connector used to exercise Engine/Object/
// WritePlanner/query logic without a live database. Rows are keyed by model
// path then primary key string.
type fakeConnector struct {
	factory ObjectFactory
	rows    map[string]map[string]map[string]Value
	nextOID int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{rows: make(map[string]map[string]map[string]Value)}
}

func (c *fakeConnector) SetFactory(f ObjectFactory) { c.factory = f }

func (c *fakeConnector) Connect(ctx context.Context, url string) error { return nil }
func (c *fakeConnector) Migrate(ctx context.Context, models []*Model, reset bool) error { return nil }
func (c *fakeConnector) Close(ctx context.Context) error               { return nil }
func (c *fakeConnector) SupportsTransactions() bool                    { return true }

func (c *fakeConnector) Transaction(ctx context.Context, env *Env, fn func(txEnv *Env) error) error {
	return fn(env)
}

func (c *fakeConnector) table(m *Model) map[string]map[string]Value {
	t, ok := c.rows[m.Path]
	if !ok {
		t = make(map[string]map[string]Value)
		c.rows[m.Path] = t
	}
	return t
}

func (c *fakeConnector) nextObjectID() bson.ObjectID {
	c.nextOID++
	var b [12]byte
	b[11] = byte(c.nextOID)
	return bson.ObjectID(b)
}

func (c *fakeConnector) SaveObject(ctx context.Context, obj *Object) error {
	m := obj.Model()
	pkField := m.PrimaryIndex.Fields[0]
	table := c.table(m)

	if obj.IsNew() {
		if pk, ok := obj.Get(pkField); !ok || pk.IsNull() {
			if err := obj.Set(pkField, NewObjectID(c.nextObjectID())); err != nil {
				return err
			}
		}
		pk, _ := obj.Get(pkField)
		row := make(map[string]Value, len(obj.AllFields()))
		for _, key := range obj.AllFields() {
			v, _ := obj.Get(key)
			row[key] = v
		}
		for field, idx := range uniqueIndexesOf(m) {
			_ = idx
			for _, existing := range table {
				if !existing[field].IsNull() && row[field].Equal(existing[field]) {
					return UniqueViolation(field)
				}
			}
		}
		table[pk.String()] = row
		return nil
	}

	pk, _ := obj.Get(pkField)
	row, ok := table[pk.String()]
	if !ok {
		return ObjectNotFound()
	}
	for _, key := range obj.ModifiedFields() {
		v, _ := obj.Get(key)
		row[key] = v
	}
	return nil
}

func uniqueIndexesOf(m *Model) map[string]bool {
	out := map[string]bool{}
	for _, idx := range m.Indices {
		if idx.Unique && !idx.Primary && len(idx.Fields) == 1 {
			out[idx.Fields[0]] = true
		}
	}
	return out
}

func (c *fakeConnector) DeleteObject(ctx context.Context, obj *Object) error {
	m := obj.Model()
	pkField := m.PrimaryIndex.Fields[0]
	pk, _ := obj.Get(pkField)
	delete(c.table(m), pk.String())
	return nil
}

func (c *fakeConnector) materialize(m *Model, row map[string]Value, mode MutationMode) (*Object, error) {
	obj := c.factory.NewObject(m, &Env{Ctx: context.Background()}, false)
	for field, v := range row {
		if err := obj.SetCommitted(field, v); err != nil {
			return nil, err
		}
	}
	if mode == MutationDisabled {
		obj.Freeze()
	}
	return obj, nil
}

func (c *fakeConnector) FindUnique(ctx context.Context, m *Model, where UniqueFilter, mode MutationMode) (*Object, error) {
	for _, row := range c.table(m) {
		if rowMatchesFilter(row, where) {
			return c.materialize(m, row, mode)
		}
	}
	return nil, nil
}

func rowMatchesFilter(row map[string]Value, where UniqueFilter) bool {
	for field, v := range where {
		rv, ok := row[field]
		if !ok || !rv.Equal(v) {
			return false
		}
	}
	return true
}

func (c *fakeConnector) FindMany(ctx context.Context, m *Model, q *QueryRequest, mode MutationMode) ([]*Object, error) {
	var keys []string
	table := c.table(m)
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*Object
	for _, k := range keys {
		row := table[k]
		if !rowMatchesWhere(row, q.Where) {
			continue
		}
		obj, err := c.materialize(m, row, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, term := range q.OrderBy {
				a, _ := out[i].Get(term.Field)
				b, _ := out[j].Get(term.Field)
				cmp, err := a.Compare(b)
				if err != nil || cmp == 0 {
					continue
				}
				if term.Direction == Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}
	if q.Skip != nil && *q.Skip < len(out) {
		out = out[*q.Skip:]
	} else if q.Skip != nil {
		out = nil
	}
	if q.Take != nil && *q.Take >= 0 && *q.Take < len(out) {
		out = out[:*q.Take]
	}
	return out, nil
}

func rowMatchesWhere(row map[string]Value, w *Where) bool {
	if w == nil {
		return true
	}
	for _, ff := range w.Fields {
		rv, ok := row[ff.Field]
		if !ok {
			return false
		}
		for op, opv := range ff.Ops {
			if !matchOp(rv, op, opv) {
				return false
			}
		}
	}
	for _, sub := range w.And {
		if !rowMatchesWhere(row, sub) {
			return false
		}
	}
	if len(w.Or) > 0 {
		any := false
		for _, sub := range w.Or {
			if rowMatchesWhere(row, sub) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, sub := range w.Not {
		if rowMatchesWhere(row, sub) {
			return false
		}
	}
	return true
}

func matchOp(rv Value, op Op, opv Value) bool {
	switch op {
	case OpEquals:
		return rv.Equal(opv)
	case OpNot:
		return !rv.Equal(opv)
	case OpIn:
		for _, item := range opv.Vec() {
			if rv.Equal(item) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, item := range opv.Vec() {
			if rv.Equal(item) {
				return false
			}
		}
		return true
	default:
		cmp, err := rv.Compare(opv)
		if err != nil {
			return false
		}
		switch op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		}
		return false
	}
}

func (c *fakeConnector) Count(ctx context.Context, m *Model, where *Where) (int64, error) {
	var n int64
	for _, row := range c.table(m) {
		if rowMatchesWhere(row, where) {
			n++
		}
	}
	return n, nil
}

func (c *fakeConnector) Aggregate(ctx context.Context, m *Model, spec *AggregateSpec) (map[string]Value, error) {
	return map[string]Value{}, nil
}

func (c *fakeConnector) GroupBy(ctx context.Context, m *Model, spec *GroupBySpec) ([]map[string]Value, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, g *Graph) (*Engine, *fakeConnector) {
	t.Helper()
	conn := newFakeConnector()
	log, err := newLogger("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	e := &Engine{graph: g, connector: conn, log: log}
	conn.SetFactory(e)
	return e, conn
}
