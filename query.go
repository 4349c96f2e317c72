package dataengine

// defaultBatchSize is the fixed page size the batch reader uses.
const defaultBatchSize = 200

// Op is one comparison operator in a scalar Where clause.
type Op int

const (
	OpEquals Op = iota
	OpNot
	OpIn
	OpNotIn
	OpLt
	OpLte
	OpGt
	OpGte
	OpContains
	OpStartsWith
	OpEndsWith
	OpMatches
	OpHas
	OpHasEvery
	OpHasSome
	OpIsEmpty
)

// Mode controls case sensitivity for string operators.
type Mode int

const (
	ModeDefault Mode = iota
	ModeInsensitive
)

// FieldFilter is the set of operators applied to one scalar or list field;
// when more than one is present they are ANDed, per the tie-break rule.
type FieldFilter struct {
	Field string
	Ops   map[Op]Value
	Mode  Mode
}

// RelationFilter is the per-relation filter shape: {is, isNot} for singular
// relations, {some, none, every} for vec relations.
type RelationFilter struct {
	Relation string
	Is       *Where
	IsNot    *Where
	Some     *Where
	None     *Where
	Every    *Where
}

// Where is the uniform query AST node: a conjunction of field filters,
// relation filters, and the AND/OR/NOT combinators.
type Where struct {
	Fields    []FieldFilter
	Relations []RelationFilter
	And       []*Where
	Or        []*Where
	Not       []*Where
}

// Intersect implements the monoid-over-AND testable property:
// where(AND[w1, w2]) ≡ where(w1) ∩ where(w2).
func Intersect(clauses ...*Where) *Where {
	return &Where{And: clauses}
}

type SortDirection int

const (
	Asc SortDirection = iota
	Desc
)

type OrderTerm struct {
	Field     string
	Direction SortDirection
}

// QueryRequest is the uniform request shape the Query Compiler accepts.
type QueryRequest struct {
	Where      *Where
	OrderBy    []OrderTerm
	Take       *int
	Skip       *int
	PageSize   *int
	PageNumber *int
	Cursor     UniqueFilter
	Distinct   []string
	Select     map[string]bool
	Include    map[string]bool
}

// Validate checks the paging/cursor mutual-exclusion constraints named in
// the Query Compiler component design, and resolves Open Question (a): skip
// and cursor may never both be set (see DESIGN.md).
func (q *QueryRequest) Validate() error {
	if q.Take != nil && *q.Take < 0 && q.Cursor == nil {
		return InvalidOperation("negative take requires a cursor")
	}
	if (q.PageSize != nil || q.PageNumber != nil) && (q.Take != nil || q.Skip != nil) {
		return InvalidOperation("pageSize/pageNumber and take/skip are mutually exclusive")
	}
	if q.Skip != nil && *q.Skip < 0 {
		return InvalidOperation("skip must be non-negative")
	}
	if q.Skip != nil && q.Cursor != nil {
		return InvalidOperation("skip and cursor may not both be set")
	}
	if q.PageSize != nil && *q.PageSize <= 0 {
		return InvalidOperation("pageSize must be positive")
	}
	if q.PageNumber != nil {
		if q.PageSize == nil {
			return InvalidOperation("pageNumber requires pageSize")
		}
		if *q.PageNumber < 1 {
			return InvalidOperation("pageNumber starts at 1")
		}
	}
	return nil
}

// normalizePaging folds pageSize/pageNumber into take/skip so connectors
// only ever see one paging vocabulary. Validate has already rejected mixed
// usage.
func normalizePaging(q *QueryRequest) {
	if q.PageSize == nil {
		return
	}
	size := *q.PageSize
	page := 1
	if q.PageNumber != nil {
		page = *q.PageNumber
	}
	skip := size * (page - 1)
	q.Take = &size
	q.Skip = &skip
	q.PageSize = nil
	q.PageNumber = nil
}

// applyDistinct keeps the first row per combination of the distinct fields'
// values, preserving the connector's row order.
func applyDistinct(rows []*Object, fields []string) []*Object {
	if len(fields) == 0 {
		return rows
	}
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, row := range rows {
		key := ""
		for _, f := range fields {
			v, _ := row.Get(f)
			key += v.String() + "\x00"
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

// withOrderingTiebreak appends the primary key ascending as a final
// tiebreaker when the caller's orderBy is not already a superkey, per the
// OrderBy stability rule.
func withOrderingTiebreak(m *Model, orderBy []OrderTerm) []OrderTerm {
	pk := m.PrimaryIndex.Fields[0]
	for _, term := range orderBy {
		if term.Field == pk {
			return orderBy
		}
	}
	out := make([]OrderTerm, len(orderBy), len(orderBy)+1)
	copy(out, orderBy)
	return append(out, OrderTerm{Field: pk, Direction: Asc})
}

// ParseWhere decodes a raw JSON-shaped where object against a model's query
// shape into the uniform Where AST, per the Where grammar in the Query
// Compiler component design: per-scalar-field operators, per-relation
// is/isNot/some/none/every, and the AND/OR/NOT top-level combinators.
func ParseWhere(g *Graph, m *Model, raw map[string]any) (*Where, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	w := &Where{}
	for key, val := range raw {
		switch key {
		case "AND":
			subs, err := parseWhereList(g, m, val)
			if err != nil {
				return nil, err
			}
			w.And = append(w.And, subs...)
		case "OR":
			subs, err := parseWhereList(g, m, val)
			if err != nil {
				return nil, err
			}
			w.Or = append(w.Or, subs...)
		case "NOT":
			subs, err := parseWhereList(g, m, val)
			if err != nil {
				return nil, err
			}
			w.Not = append(w.Not, subs...)
		default:
			if f, ok := m.Field(key); ok {
				if f.QueryAbility != Queryable {
					return nil, InvalidOperation("field " + key + " is not queryable")
				}
				ff, err := parseFieldFilter(g, f, val)
				if err != nil {
					return nil, err
				}
				w.Fields = append(w.Fields, *ff)
				continue
			}
			if r, ok := m.Relation(key); ok {
				rf, err := parseRelationFilter(g, m, r, val)
				if err != nil {
					return nil, err
				}
				w.Relations = append(w.Relations, *rf)
				continue
			}
			return nil, InvalidOperation("unknown where key " + key)
		}
	}
	return w, nil
}

func parseWhereList(g *Graph, m *Model, val any) ([]*Where, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, InvalidOperation("AND/OR/NOT must be arrays of where objects")
	}
	out := make([]*Where, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, InvalidOperation("AND/OR/NOT entries must be objects")
		}
		sub, err := ParseWhere(g, m, obj)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// operandType is the FieldType a where-operator's literal is coerced
// against: a list field's has/hasEvery/hasSome compare against its element
// type, every other operator (on scalar or list fields alike) compares
// against the field's own declared type.
func operandType(f *Field, op Op) FieldType {
	if f.Type.Arity() == ArityList {
		switch op {
		case OpHas, OpHasEvery, OpHasSome:
			return *f.Type.Element
		}
	}
	return f.Type
}

func parseFieldFilter(g *Graph, f *Field, val any) (*FieldFilter, error) {
	ff := &FieldFilter{Field: f.Name, Ops: make(map[Op]Value)}

	obj, isObj := val.(map[string]any)
	if !isObj {
		v, err := coerceTyped(g, val, operandType(f, OpEquals))
		if err != nil {
			return nil, err
		}
		ff.Ops[OpEquals] = v
		return ff, nil
	}

	if modeRaw, ok := obj["mode"]; ok {
		if s, ok := modeRaw.(string); ok && s == "insensitive" {
			ff.Mode = ModeInsensitive
		}
	}

	for opKey, opVal := range obj {
		op, isListOp, err := opFromKey(opKey)
		if err != nil {
			return nil, err
		}
		if op == -1 { // "mode", already handled
			continue
		}
		if isListOp {
			list, ok := opVal.([]any)
			if !ok {
				return nil, InvalidOperation(opKey + " must be an array")
			}
			items := make([]Value, 0, len(list))
			for _, item := range list {
				v, err := coerceTyped(g, item, operandType(f, op))
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
			ff.Ops[op] = NewVec(items)
			continue
		}
		if op == OpIsEmpty {
			b, ok := opVal.(bool)
			if !ok {
				return nil, InvalidOperation("isEmpty must be a bool")
			}
			ff.Ops[op] = NewBool(b)
			continue
		}
		v, err := coerceTyped(g, opVal, operandType(f, op))
		if err != nil {
			return nil, err
		}
		ff.Ops[op] = v
	}
	return ff, nil
}

func opFromKey(key string) (op Op, isListOp bool, err error) {
	switch key {
	case "mode":
		return -1, false, nil
	case "equals":
		return OpEquals, false, nil
	case "not":
		return OpNot, false, nil
	case "in":
		return OpIn, true, nil
	case "notIn":
		return OpNotIn, true, nil
	case "lt":
		return OpLt, false, nil
	case "lte":
		return OpLte, false, nil
	case "gt":
		return OpGt, false, nil
	case "gte":
		return OpGte, false, nil
	case "contains":
		return OpContains, false, nil
	case "startsWith":
		return OpStartsWith, false, nil
	case "endsWith":
		return OpEndsWith, false, nil
	case "matches":
		return OpMatches, false, nil
	case "has":
		return OpHas, false, nil
	case "hasEvery":
		return OpHasEvery, true, nil
	case "hasSome":
		return OpHasSome, true, nil
	case "isEmpty":
		return OpIsEmpty, false, nil
	default:
		return 0, false, InvalidOperation("unknown where operator " + key)
	}
}

func parseRelationFilter(g *Graph, m *Model, r *Relation, val any) (*RelationFilter, error) {
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, InvalidOperation("relation filter must be an object")
	}
	peer, err := g.Model(r.ModelPath)
	if err != nil {
		return nil, err
	}
	rf := &RelationFilter{Relation: r.Name}
	for key, sub := range obj {
		subObj, ok := sub.(map[string]any)
		if !ok {
			return nil, InvalidOperation(key + " must be an object")
		}
		w, err := ParseWhere(g, peer, subObj)
		if err != nil {
			return nil, err
		}
		if w == nil {
			w = &Where{}
		}
		switch key {
		case "is":
			rf.Is = w
		case "isNot":
			rf.IsNot = w
		case "some":
			rf.Some = w
		case "none":
			rf.None = w
		case "every":
			rf.Every = w
		default:
			return nil, InvalidOperation("unknown relation filter key " + key)
		}
	}
	return rf, nil
}

// FindFirst is literally FindMany with take=1 inserted; it surfaces
// ObjectNotFound when the page comes back empty.
func (e *Engine) FindFirst(env *Env, modelPath string, q *QueryRequest) (*Object, error) {
	one := 1
	q2 := *q
	q2.Take = &one
	rows, err := e.FindMany(env, modelPath, &q2)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ObjectNotFound()
	}
	return rows[0], nil
}

// BatchReader is the restartable lazy sequence over a query described in the
// Query Compiler component design: paged FindMany calls at a fixed page
// size, terminating when a page returns fewer rows than the page size.
type BatchReader struct {
	engine    *Engine
	env       *Env
	modelPath string
	base      QueryRequest
	skip      int
	done      bool
}

func (e *Engine) Batch(env *Env, modelPath string, q QueryRequest) *BatchReader {
	return &BatchReader{engine: e, env: env, modelPath: modelPath, base: q}
}

// Next returns the next page, or (nil, nil) once exhausted.
func (b *BatchReader) Next() ([]*Object, error) {
	if b.done {
		return nil, nil
	}
	take := defaultBatchSize
	skip := b.skip
	page := b.base
	page.Take = &take
	page.Skip = &skip
	rows, err := b.engine.FindMany(b.env, b.modelPath, &page)
	if err != nil {
		return nil, err
	}
	b.skip += len(rows)
	if len(rows) < defaultBatchSize {
		b.done = true
	}
	return rows, nil
}

// AggregateSpec and GroupBySpec describe the aggregate()/group_by()
// connector calls.
type AggregateOp int

const (
	AggCount AggregateOp = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

type AggregateTerm struct {
	Op    AggregateOp
	Field string
}

type AggregateSpec struct {
	Where *Where
	Terms []AggregateTerm
}

type GroupBySpec struct {
	Where *Where
	By    []string
	Terms []AggregateTerm
	Having *Where
}
