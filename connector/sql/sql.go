package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	de "github.com/dataengine/dataengine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Connector is the PostgreSQL-backed dataengine.Connector. Queries are
// built dynamically with `$N` placeholders and driven entirely by
// Model/Field metadata; unique violations are detected via
// pgconn.PgError code 23505.
type Connector struct {
	pool    *pgxpool.Pool
	factory de.ObjectFactory
	state   de.ConnectorState
}

func New() *Connector { return &Connector{state: de.ConnectorUninitialized} }

func (c *Connector) SetFactory(factory de.ObjectFactory) { c.factory = factory }

func (c *Connector) Connect(ctx context.Context, url string) error {
	pool, err := newPool(ctx, url)
	if err != nil {
		return de.ConnectorError(err)
	}
	c.pool = pool
	c.state = de.ConnectorConnected
	return nil
}

func (c *Connector) Close(ctx context.Context) error {
	c.pool.Close()
	c.state = de.ConnectorClosed
	return nil
}

func (c *Connector) SupportsTransactions() bool { return true }

func tableName(m *de.Model) string {
	return `public."` + m.URLSegment + `"`
}

func columnName(m *de.Model, field string) string {
	if f, ok := m.Field(field); ok {
		return f.ColumnName
	}
	return field
}

// Migrate issues CREATE TABLE IF NOT EXISTS plus CREATE INDEX IF NOT EXISTS
// for every model, using dialect.go's PostgreSQL column mapping. Existing
// tables are left as they are; no column is added, altered or dropped. This
// is not golang-migrate's versioned flat files — see SPEC_FULL.md for why
// that dependency isn't wired here.
func (c *Connector) Migrate(ctx context.Context, models []*de.Model, reset bool) error {
	for _, m := range models {
		if reset {
			if _, err := c.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, tableName(m))); err != nil {
				return de.ConnectorError(fmt.Errorf("drop %s: %w", m.URLSegment, err))
			}
		}
		var cols []string
		for _, f := range m.Fields {
			if f.Store == de.StoreCalculated {
				continue
			}
			dbType := ToDatabaseType(f.Type, DialectPostgreSQL)
			col := fmt.Sprintf(`"%s" %s`, f.ColumnName, dbType.String())
			if f.IndexRole == de.IndexPrimary {
				col += " PRIMARY KEY"
			} else if !f.Optional {
				col += " NOT NULL"
			}
			cols = append(cols, col)
		}
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, tableName(m), strings.Join(cols, ", "))
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return de.ConnectorError(fmt.Errorf("create table %s: %w", m.URLSegment, err))
		}
		for _, idx := range m.Indices {
			if idx.Primary {
				continue
			}
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			idxName := m.URLSegment + "_" + strings.Join(idx.Fields, "_") + "_idx"
			cols := make([]string, len(idx.Fields))
			for i, fieldName := range idx.Fields {
				cols[i] = `"` + columnName(m, fieldName) + `"`
			}
			stmt := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)`, unique, idxName, tableName(m), strings.Join(cols, ", "))
			if _, err := c.pool.Exec(ctx, stmt); err != nil {
				return de.ConnectorError(fmt.Errorf("create index %s: %w", idxName, err))
			}
		}
	}
	c.state = de.ConnectorReady
	return nil
}

func (c *Connector) Transaction(ctx context.Context, env *de.Env, fn func(txEnv *de.Env) error) error {
	if env != nil {
		if _, ok := env.Transaction.(pgx.Tx); ok {
			return fn(env)
		}
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return de.ConnectorError(fmt.Errorf("begin tx: %w", err))
	}
	txEnv := env.WithTransaction(tx)
	if err := fn(txEnv); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return de.ConnectorError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// querier abstracts over *pgxpool.Pool and pgx.Tx so SaveObject and
// DeleteObject run inside an open Env.Transaction; the Find*/Count/Aggregate/
// GroupBy paths query the pool directly and do not see it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (c *Connector) db(env *de.Env) querier {
	if env != nil {
		if tx, ok := env.Transaction.(pgx.Tx); ok {
			return tx
		}
	}
	return c.pool
}

func (c *Connector) FindUnique(ctx context.Context, m *de.Model, where de.UniqueFilter, mode de.MutationMode) (*de.Object, error) {
	cols := selectColumns(m)
	clauses := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	i := 1
	for field, v := range where {
		clauses = append(clauses, fmt.Sprintf(`"%s" = $%d`, columnName(m, field), i))
		args = append(args, valueToParam(v))
		i++
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIMIT 1`, strings.Join(cols, ", "), tableName(m), strings.Join(clauses, " AND "))
	row := c.pool.QueryRow(ctx, stmt, args...)
	vals, err := scanRow(row, m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, de.ConnectorError(err)
	}
	return c.rowToObject(ctx, m, vals, mode)
}

func selectColumns(m *de.Model) []string {
	cols := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Store == de.StoreCalculated {
			continue
		}
		cols = append(cols, `"`+f.ColumnName+`"`)
	}
	return cols
}

func scanRow(row pgx.Row, m *de.Model) ([]any, error) {
	dests := make([]any, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Store == de.StoreCalculated {
			continue
		}
		_ = f
		var dest any
		dests = append(dests, &dest)
	}
	if err := row.Scan(dests...); err != nil {
		return nil, err
	}
	vals := make([]any, len(dests))
	for i, d := range dests {
		vals[i] = *(d.(*any))
	}
	return vals, nil
}

func (c *Connector) rowToObject(ctx context.Context, m *de.Model, vals []any, mode de.MutationMode) (*de.Object, error) {
	obj := c.factory.NewObject(m, &de.Env{Ctx: ctx}, false)
	i := 0
	for _, f := range m.Fields {
		if f.Store == de.StoreCalculated {
			continue
		}
		v, err := rawToValue(vals[i], f.Type)
		if err != nil {
			return nil, de.InternalError(err)
		}
		i++
		if err := obj.SetCommitted(f.Name, v); err != nil {
			return nil, err
		}
	}
	if mode == de.MutationDisabled {
		obj.Freeze()
	}
	return obj, nil
}

func rawToValue(raw any, ft de.FieldType) (de.Value, error) {
	if raw == nil {
		return de.Null(), nil
	}
	switch ft.Kind {
	case de.TypeBool:
		return de.NewBool(raw.(bool)), nil
	case de.TypeI8, de.TypeI16, de.TypeI32, de.TypeI64, de.TypeI128:
		return de.NewI64(toInt64(raw)), nil
	case de.TypeU8, de.TypeU16, de.TypeU32, de.TypeU64, de.TypeU128:
		return de.NewU64(uint64(toInt64(raw))), nil
	case de.TypeF32, de.TypeF64:
		return de.NewF64(toFloat64(raw)), nil
	case de.TypeDecimal:
		if d, ok := raw.(decimal.Decimal); ok {
			return de.NewDecimal(d), nil
		}
		return de.NewDecimal(decimal.NewFromFloat(toFloat64(raw))), nil
	case de.TypeString, de.TypeEnum, de.TypeObjectID:
		return de.NewString(fmt.Sprintf("%v", raw)), nil
	case de.TypeDateTime:
		if t, ok := raw.(time.Time); ok {
			return de.NewDateTime(t), nil
		}
		return de.Null(), nil
	case de.TypeDate:
		if t, ok := raw.(time.Time); ok {
			return de.NewDate(t), nil
		}
		return de.Null(), nil
	default:
		return de.NewString(fmt.Sprintf("%v", raw)), nil
	}
}

func toInt64(raw any) int64 {
	switch v := raw.(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toFloat64(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func valueToParam(v de.Value) any { return v.Raw() }

func (c *Connector) FindMany(ctx context.Context, m *de.Model, q *de.QueryRequest, mode de.MutationMode) ([]*de.Object, error) {
	cols := selectColumns(m)
	stmt := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), tableName(m))
	where, args, _ := whereToSQL(m, q.Where, 1)
	if where != "" {
		stmt += " WHERE " + where
	}
	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, t := range q.OrderBy {
			dir := "ASC"
			if t.Direction == de.Desc {
				dir = "DESC"
			}
			terms[i] = fmt.Sprintf(`"%s" %s`, columnName(m, t.Field), dir)
		}
		stmt += " ORDER BY " + strings.Join(terms, ", ")
	}
	if q.Take != nil {
		stmt += fmt.Sprintf(" LIMIT %d", *q.Take)
	}
	if q.Skip != nil {
		stmt += fmt.Sprintf(" OFFSET %d", *q.Skip)
	}

	rows, err := c.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, de.ConnectorError(fmt.Errorf("query %s: %w", m.URLSegment, err))
	}
	defer rows.Close()

	var objs []*de.Object
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, de.ConnectorError(err)
		}
		obj, err := c.rowToObject(ctx, m, vals, mode)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, rows.Err()
}

// whereToSQL renders the uniform Where AST into a parameterized fragment and
// the next free $N index, so nested clauses keep placeholders contiguous.
// Relation filters are out of scope for this connector since
// join-aware filtering belongs to the Write Planner's through-relation
// resolution, not per-row scanning.
func whereToSQL(m *de.Model, w *de.Where, argIdx int) (string, []any, int) {
	if w == nil {
		return "", nil, argIdx
	}
	var parts []string
	var args []any

	for _, ff := range w.Fields {
		col := `"` + columnName(m, ff.Field) + `"`
		for op, v := range ff.Ops {
			if frag, short := emptyListShortCircuit(op, v); short {
				parts = append(parts, frag)
				continue
			}
			frag, a := opToSQL(col, op, v, argIdx)
			parts = append(parts, frag)
			if a != nil {
				args = append(args, a)
				argIdx++
			}
		}
	}
	for _, sub := range w.And {
		frag, a, next := whereToSQL(m, sub, argIdx)
		if frag != "" {
			parts = append(parts, "("+frag+")")
			args = append(args, a...)
			argIdx = next
		}
	}
	var orParts []string
	for _, sub := range w.Or {
		frag, a, next := whereToSQL(m, sub, argIdx)
		if frag != "" {
			orParts = append(orParts, "("+frag+")")
			args = append(args, a...)
			argIdx = next
		}
	}
	if len(orParts) > 0 {
		parts = append(parts, "("+strings.Join(orParts, " OR ")+")")
	}
	joined := strings.Join(parts, " AND ")
	for _, sub := range w.Not {
		frag, a, next := whereToSQL(m, sub, argIdx)
		if frag != "" {
			if joined != "" {
				joined += " AND "
			}
			joined += "NOT (" + frag + ")"
			args = append(args, a...)
			argIdx = next
		}
	}
	return joined, args, argIdx
}

// opToSQL renders one operator against one column. in/notIn bind the whole
// list as a single array parameter via ANY(), so every operator except
// isEmpty consumes exactly one placeholder; isEmpty binds nothing and returns
// a nil argument, which whereToSQL's per-op argIdx bookkeeping skips. Empty in/notIn lists are handled by the caller before SQL is
// ever built (see emptyListShortCircuit), so ANY() here always sees a
// non-empty array.
func opToSQL(col string, op de.Op, v de.Value, argIdx int) (string, any) {
	ph := fmt.Sprintf("$%d", argIdx)
	switch op {
	case de.OpEquals:
		return col + " = " + ph, valueToParam(v)
	case de.OpNot:
		return col + " != " + ph, valueToParam(v)
	case de.OpIn:
		return col + " = ANY(" + ph + ")", vecToParamSlice(v)
	case de.OpNotIn:
		return "NOT (" + col + " = ANY(" + ph + "))", vecToParamSlice(v)
	case de.OpLt:
		return col + " < " + ph, valueToParam(v)
	case de.OpLte:
		return col + " <= " + ph, valueToParam(v)
	case de.OpGt:
		return col + " > " + ph, valueToParam(v)
	case de.OpGte:
		return col + " >= " + ph, valueToParam(v)
	case de.OpContains:
		return col + " LIKE " + ph, "%" + v.String() + "%"
	case de.OpStartsWith:
		return col + " LIKE " + ph, v.String() + "%"
	case de.OpEndsWith:
		return col + " LIKE " + ph, "%" + v.String()
	case de.OpMatches:
		return col + " ~ " + ph, v.String()
	case de.OpHas:
		return col + " @> " + ph + "::jsonb", jsonArrayParam([]de.Value{v})
	case de.OpHasEvery:
		return col + " @> " + ph + "::jsonb", jsonArrayParam(v.Vec())
	case de.OpHasSome:
		return col + " ?| " + ph, textArrayParam(v.Vec())
	case de.OpIsEmpty:
		if v.Bool() {
			return col + " = '[]'::jsonb", nil
		}
		return col + " != '[]'::jsonb", nil
	default:
		return col + " = " + ph, valueToParam(v)
	}
}

// vecToParamSlice unwraps a KindVec Value into a plain []any so pgx binds it
// as a SQL array parameter for ANY().
func vecToParamSlice(v de.Value) []any {
	items := v.Vec()
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = valueToParam(item)
	}
	return out
}

// jsonArrayParam renders a set of Values as a JSON array literal string, for
// binding against a ::jsonb cast in a containment (@>) comparison.
func jsonArrayParam(items []de.Value) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = jsonScalar(item)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func jsonScalar(v de.Value) string {
	switch v.Kind() {
	case de.KindString, de.KindDate, de.KindDateTime, de.KindDecimal, de.KindObjectID:
		return fmt.Sprintf("%q", v.String())
	case de.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	default:
		return fmt.Sprintf("%v", v.Raw())
	}
}

// textArrayParam renders Values as a Postgres text[] literal for the ?|
// "any key exists" operator used by hasSome.
func textArrayParam(items []de.Value) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.String()
	}
	return out
}

// emptyListShortCircuit implements the in/notIn tie-break named in the Query
// Compiler component design: `in` with an empty list matches nothing,
// `notIn` with an empty list matches everything. It returns (sqlFragment,
// true) when the field filter's operator is in/notIn with an empty operand,
// short-circuiting before opToSQL (and its non-empty-array assumption) runs.
func emptyListShortCircuit(op de.Op, v de.Value) (string, bool) {
	if (op != de.OpIn && op != de.OpNotIn) || len(v.Vec()) > 0 {
		return "", false
	}
	if op == de.OpIn {
		return "FALSE", true
	}
	return "TRUE", true
}

func (c *Connector) Count(ctx context.Context, m *de.Model, where *de.Where) (int64, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableName(m))
	clause, args, _ := whereToSQL(m, where, 1)
	if clause != "" {
		stmt += " WHERE " + clause
	}
	var n int64
	if err := c.pool.QueryRow(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, de.ConnectorError(err)
	}
	return n, nil
}

func (c *Connector) SaveObject(ctx context.Context, obj *de.Object) error {
	m := obj.Model()
	db := c.db(obj.EnvForConnector())

	if obj.IsNew() {
		keys := obj.AllFields()
		cols := make([]string, 0, len(keys))
		phs := make([]string, 0, len(keys))
		args := make([]any, 0, len(keys))
		for i, key := range keys {
			cols = append(cols, `"`+columnName(m, key)+`"`)
			phs = append(phs, fmt.Sprintf("$%d", i+1))
			v, _ := obj.Get(key)
			args = append(args, valueToParam(v))
		}
		stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, tableName(m), strings.Join(cols, ", "), strings.Join(phs, ", "))
		_, err := db.Exec(ctx, stmt, args...)
		if err != nil {
			return translateWriteErr(err)
		}
		return nil
	}

	keys := obj.ModifiedFields()
	if len(keys) == 0 {
		return nil
	}
	pkField := m.PrimaryIndex.Fields[0]
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	i := 1
	for _, key := range keys {
		sets = append(sets, fmt.Sprintf(`"%s" = $%d`, columnName(m, key), i))
		v, _ := obj.Get(key)
		args = append(args, valueToParam(v))
		i++
	}
	pk, _ := obj.Get(pkField)
	stmt := fmt.Sprintf(`UPDATE %s SET %s WHERE "%s" = $%d`, tableName(m), strings.Join(sets, ", "), columnName(m, pkField), i)
	args = append(args, valueToParam(pk))
	_, err := db.Exec(ctx, stmt, args...)
	if err != nil {
		return translateWriteErr(err)
	}
	return nil
}

func translateWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return de.UniqueViolation(pgErr.ConstraintName)
	}
	return de.ConnectorError(err)
}

func (c *Connector) DeleteObject(ctx context.Context, obj *de.Object) error {
	m := obj.Model()
	pkField := m.PrimaryIndex.Fields[0]
	pk, _ := obj.Get(pkField)
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE "%s" = $1`, tableName(m), columnName(m, pkField))
	_, err := c.db(obj.EnvForConnector()).Exec(ctx, stmt, valueToParam(pk))
	if err != nil {
		return de.ConnectorError(err)
	}
	return nil
}

func (c *Connector) Aggregate(ctx context.Context, m *de.Model, spec *de.AggregateSpec) (map[string]de.Value, error) {
	exprs := make([]string, len(spec.Terms))
	for i, t := range spec.Terms {
		exprs[i] = aggregateExpr(m, t)
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(exprs, ", "), tableName(m))
	clause, args, _ := whereToSQL(m, spec.Where, 1)
	if clause != "" {
		stmt += " WHERE " + clause
	}
	row := c.pool.QueryRow(ctx, stmt, args...)
	dests := make([]any, len(spec.Terms))
	for i := range dests {
		var d any
		dests[i] = &d
	}
	if err := row.Scan(dests...); err != nil {
		return nil, de.ConnectorError(err)
	}
	out := map[string]de.Value{}
	for i, t := range spec.Terms {
		out[aggregateKey(t)] = de.NewF64(toFloat64(*(dests[i].(*any))))
	}
	return out, nil
}

func aggregateKey(t de.AggregateTerm) string {
	switch t.Op {
	case de.AggCount:
		return "count"
	case de.AggSum:
		return "sum_" + t.Field
	case de.AggAvg:
		return "avg_" + t.Field
	case de.AggMin:
		return "min_" + t.Field
	case de.AggMax:
		return "max_" + t.Field
	default:
		return t.Field
	}
}

func aggregateExpr(m *de.Model, t de.AggregateTerm) string {
	col := `"` + columnName(m, t.Field) + `"`
	key := aggregateKey(t)
	switch t.Op {
	case de.AggCount:
		return fmt.Sprintf("COUNT(*) AS %s", key)
	case de.AggSum:
		return fmt.Sprintf("SUM(%s) AS %s", col, key)
	case de.AggAvg:
		return fmt.Sprintf("AVG(%s) AS %s", col, key)
	case de.AggMin:
		return fmt.Sprintf("MIN(%s) AS %s", col, key)
	case de.AggMax:
		return fmt.Sprintf("MAX(%s) AS %s", col, key)
	default:
		return col
	}
}

func (c *Connector) GroupBy(ctx context.Context, m *de.Model, spec *de.GroupBySpec) ([]map[string]de.Value, error) {
	groupCols := make([]string, len(spec.By))
	for i, field := range spec.By {
		groupCols[i] = `"` + columnName(m, field) + `"`
	}
	exprs := make([]string, len(spec.Terms))
	for i, t := range spec.Terms {
		exprs[i] = aggregateExpr(m, t)
	}
	selectList := append(append([]string{}, groupCols...), exprs...)
	stmt := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(selectList, ", "), tableName(m))
	clause, args, argIdx := whereToSQL(m, spec.Where, 1)
	if clause != "" {
		stmt += " WHERE " + clause
	}
	stmt += " GROUP BY " + strings.Join(groupCols, ", ")
	if spec.Having != nil {
		having, hargs, _ := whereToSQL(m, spec.Having, argIdx)
		if having != "" {
			stmt += " HAVING " + having
			args = append(args, hargs...)
		}
	}

	rows, err := c.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, de.ConnectorError(err)
	}
	defer rows.Close()

	var out []map[string]de.Value
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, de.ConnectorError(err)
		}
		row := map[string]de.Value{}
		for i, field := range spec.By {
			row[field] = de.NewString(fmt.Sprintf("%v", vals[i]))
		}
		for i, t := range spec.Terms {
			row[aggregateKey(t)] = de.NewF64(toFloat64(vals[len(spec.By)+i]))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
