// Package mongo implements dataengine.Connector over MongoDB. Rather than
// reflecting over arbitrary tagged structs, it operates on
// dataengine.Object/Model metadata directly, since
// this connector no longer owns a process-wide struct registry.
package mongo

import (
	"context"
	"fmt"
	"time"

	de "github.com/dataengine/dataengine"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Connector is the MongoDB-backed dataengine.Connector.
type Connector struct {
	client  *mongo.Client
	db      *mongo.Database
	dbName  string
	state   de.ConnectorState
	factory de.ObjectFactory
}

// New returns an unconnected MongoDB connector. Its ObjectFactory is wired
// in later by dataengine.New via the FactoryReceiver callback, once the
// Engine it belongs to exists.
func New() *Connector {
	return &Connector{state: de.ConnectorUninitialized}
}

// SetFactory implements dataengine.FactoryReceiver.
func (c *Connector) SetFactory(factory de.ObjectFactory) {
	c.factory = factory
}

func (c *Connector) Connect(ctx context.Context, url string) error {
	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	dbName := parseDatabaseName(url)
	c.client = client
	c.db = client.Database(dbName)
	c.dbName = dbName
	c.state = de.ConnectorConnected
	return nil
}

func (c *Connector) Close(ctx context.Context) error {
	c.state = de.ConnectorClosed
	return c.client.Disconnect(ctx)
}

func (c *Connector) SupportsTransactions() bool { return true }

func (c *Connector) collectionFor(m *de.Model) *mongo.Collection {
	return c.db.Collection(m.URLSegment)
}

// docToObject materializes one bson document into an Object via
// Engine.NewObject + SetCommitted, so the result starts clean (no field
// reports as modified), then freezes it when mode is read-only.
func (c *Connector) docToObject(m *de.Model, doc bson.M, mode de.MutationMode, env *de.Env) (*de.Object, error) {
	obj := c.factory.NewObject(m, env, false)
	for _, f := range m.Fields {
		raw, ok := doc[f.ColumnName]
		if !ok {
			continue
		}
		v, err := rawToValue(raw, f.Type)
		if err != nil {
			return nil, de.InternalError(err)
		}
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
	case de.TypeString, de.TypeEnum:
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
	case de.TypeObjectID:
		if oid, ok := raw.(bson.ObjectID); ok {
			return de.NewObjectID(oid), nil
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

func (c *Connector) FindUnique(ctx context.Context, m *de.Model, where de.UniqueFilter, mode de.MutationMode) (*de.Object, error) {
	filter := uniqueFilterToBSON(m, where)
	var doc bson.M
	err := c.collectionFor(m).FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, de.ConnectorError(err)
	}
	return c.docToObject(m, doc, mode, &de.Env{Ctx: ctx})
}

func uniqueFilterToBSON(m *de.Model, where de.UniqueFilter) bson.D {
	filter := bson.D{}
	for field, v := range where {
		f, ok := m.Field(field)
		col := field
		if ok {
			col = f.ColumnName
		}
		filter = append(filter, bson.E{Key: col, Value: v.Raw()})
	}
	return filter
}

func (c *Connector) FindMany(ctx context.Context, m *de.Model, q *de.QueryRequest, mode de.MutationMode) ([]*de.Object, error) {
	filter := whereToBSON(m, q.Where)
	opts := options.Find()
	if q.Take != nil {
		opts.SetLimit(int64(*q.Take))
	}
	if q.Skip != nil {
		opts.SetSkip(int64(*q.Skip))
	}
	if len(q.OrderBy) > 0 {
		sort := bson.D{}
		for _, term := range q.OrderBy {
			dir := 1
			if term.Direction == de.Desc {
				dir = -1
			}
			col := term.Field
			if f, ok := m.Field(term.Field); ok {
				col = f.ColumnName
			}
			sort = append(sort, bson.E{Key: col, Value: dir})
		}
		opts.SetSort(sort)
	}

	cursor, err := c.collectionFor(m).Find(ctx, filter, opts)
	if err != nil {
		return nil, de.ConnectorError(err)
	}
	defer cursor.Close(ctx)

	var objs []*de.Object
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, de.ConnectorError(err)
		}
		obj, err := c.docToObject(m, doc, mode, &de.Env{Ctx: ctx})
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// whereToBSON translates the uniform Where AST into a Mongo filter document,
// handling the top-level AND/OR/NOT combinators and the per-field operator
// set. Empty `in` matches nothing, empty `notIn` matches everything, per the
// Query Compiler's tie-break rules.
func whereToBSON(m *de.Model, w *de.Where) bson.D {
	if w == nil {
		return bson.D{}
	}
	doc := bson.D{}
	for _, ff := range w.Fields {
		col := ff.Field
		if f, ok := m.Field(ff.Field); ok {
			col = f.ColumnName
		}
		opDoc := bson.D{}
		for op, v := range ff.Ops {
			switch op {
			case de.OpEquals:
				opDoc = append(opDoc, bson.E{Key: "$eq", Value: v.Raw()})
			case de.OpNot:
				opDoc = append(opDoc, bson.E{Key: "$ne", Value: v.Raw()})
			case de.OpIn:
				opDoc = append(opDoc, bson.E{Key: "$in", Value: v.Raw()})
			case de.OpNotIn:
				opDoc = append(opDoc, bson.E{Key: "$nin", Value: v.Raw()})
			case de.OpLt:
				opDoc = append(opDoc, bson.E{Key: "$lt", Value: v.Raw()})
			case de.OpLte:
				opDoc = append(opDoc, bson.E{Key: "$lte", Value: v.Raw()})
			case de.OpGt:
				opDoc = append(opDoc, bson.E{Key: "$gt", Value: v.Raw()})
			case de.OpGte:
				opDoc = append(opDoc, bson.E{Key: "$gte", Value: v.Raw()})
			case de.OpContains:
				opDoc = append(opDoc, bson.E{Key: "$regex", Value: v.String()})
			case de.OpStartsWith:
				opDoc = append(opDoc, bson.E{Key: "$regex", Value: "^" + v.String()})
			case de.OpEndsWith:
				opDoc = append(opDoc, bson.E{Key: "$regex", Value: v.String() + "$"})
			case de.OpMatches:
				opDoc = append(opDoc, bson.E{Key: "$regex", Value: v.String()})
			case de.OpHas:
				opDoc = append(opDoc, bson.E{Key: "$eq", Value: v.Raw()})
			case de.OpHasEvery:
				opDoc = append(opDoc, bson.E{Key: "$all", Value: v.Raw()})
			case de.OpHasSome:
				opDoc = append(opDoc, bson.E{Key: "$in", Value: v.Raw()})
			case de.OpIsEmpty:
				opDoc = append(opDoc, bson.E{Key: "$size", Value: 0})
			}
		}
		doc = append(doc, bson.E{Key: col, Value: opDoc})
	}
	var and, or, not []bson.M
	for _, sub := range w.And {
		and = append(and, bsonDToM(whereToBSON(m, sub)))
	}
	for _, sub := range w.Or {
		or = append(or, bsonDToM(whereToBSON(m, sub)))
	}
	for _, sub := range w.Not {
		not = append(not, bsonDToM(whereToBSON(m, sub)))
	}
	if len(and) > 0 {
		doc = append(doc, bson.E{Key: "$and", Value: and})
	}
	if len(or) > 0 {
		doc = append(doc, bson.E{Key: "$or", Value: or})
	}
	if len(not) > 0 {
		doc = append(doc, bson.E{Key: "$nor", Value: not})
	}
	return doc
}

func bsonDToM(d bson.D) bson.M {
	m := bson.M{}
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

func (c *Connector) Count(ctx context.Context, m *de.Model, where *de.Where) (int64, error) {
	n, err := c.collectionFor(m).CountDocuments(ctx, whereToBSON(m, where))
	if err != nil {
		return 0, de.ConnectorError(err)
	}
	return n, nil
}

func parseDatabaseName(url string) string {
	// mongodb://host/dbname?... — the database name is the first path
	// segment, matching the connector URL contract in the external
	// interfaces section.
	idx := -1
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 || idx == len(url)-1 {
		return "dataengine"
	}
	name := url[idx+1:]
	for i, c := range name {
		if c == '?' {
			return name[:i]
		}
	}
	return name
}
