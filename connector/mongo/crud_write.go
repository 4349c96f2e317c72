package mongo

import (
	"context"
	"fmt"

	de "github.com/dataengine/dataengine"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// SaveObject writes every modified scalar field on a dirty object, or the
// full field set on a new one. It operates on the Model/Object metadata pair
// instead of reflecting over an arbitrary tagged struct.
func (c *Connector) SaveObject(ctx context.Context, obj *de.Object) error {
	m := obj.Model()
	pkField := m.PrimaryIndex.Fields[0]

	if obj.IsNew() {
		keys := obj.AllFields()
		doc := objectToDocFromObject(m, obj, keys)
		res, err := c.collectionFor(m).InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return de.UniqueViolation("")
			}
			return de.ConnectorError(fmt.Errorf("insert %s: %w", m.URLSegment, err))
		}
		if oid, ok := res.InsertedID.(bson.ObjectID); ok {
			if pf, has := m.Field(pkField); has && pf.AssignedByDatabase {
				if err := obj.Set(pkField, de.NewObjectID(oid)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	keys := obj.ModifiedFields()
	if len(keys) == 0 {
		return nil
	}
	doc := objectToDocFromObject(m, obj, keys)
	pk, _ := obj.Get(pkField)
	filter := bson.D{{Key: primaryColumn(m, pkField), Value: pk.Raw()}}
	_, err := c.collectionFor(m).UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: doc}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return de.UniqueViolation("")
		}
		return de.ConnectorError(fmt.Errorf("update %s: %w", m.URLSegment, err))
	}
	return nil
}

func (c *Connector) DeleteObject(ctx context.Context, obj *de.Object) error {
	m := obj.Model()
	pkField := m.PrimaryIndex.Fields[0]
	pk, _ := obj.Get(pkField)
	filter := bson.D{{Key: primaryColumn(m, pkField), Value: pk.Raw()}}
	_, err := c.collectionFor(m).DeleteOne(ctx, filter)
	if err != nil {
		return de.ConnectorError(fmt.Errorf("delete %s: %w", m.URLSegment, err))
	}
	return nil
}

func objectToDocFromObject(m *de.Model, obj *de.Object, keys []string) bson.D {
	doc := bson.D{}
	for _, key := range keys {
		f, ok := m.Field(key)
		if !ok {
			continue
		}
		v, ok := obj.Get(key)
		if !ok {
			continue
		}
		doc = append(doc, bson.E{Key: f.ColumnName, Value: v.Raw()})
	}
	return doc
}

func primaryColumn(m *de.Model, field string) string {
	if f, ok := m.Field(field); ok {
		return f.ColumnName
	}
	return field
}

// Aggregate runs the given terms over the matched documents using a Mongo
// aggregation pipeline ($match then a single $group stage).
func (c *Connector) Aggregate(ctx context.Context, m *de.Model, spec *de.AggregateSpec) (map[string]de.Value, error) {
	group := bson.D{{Key: "_id", Value: nil}}
	for _, t := range spec.Terms {
		group = append(group, aggregateExpr(m, t))
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: whereToBSON(m, spec.Where)}},
		{{Key: "$group", Value: group}},
	}
	cursor, err := c.collectionFor(m).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, de.ConnectorError(err)
	}
	defer cursor.Close(ctx)
	out := map[string]de.Value{}
	if cursor.Next(ctx) {
		var row bson.M
		if err := cursor.Decode(&row); err != nil {
			return nil, de.ConnectorError(err)
		}
		for _, t := range spec.Terms {
			key := aggregateKey(t)
			raw, ok := row[key]
			if !ok {
				continue
			}
			out[key] = de.NewF64(toFloat64(raw))
		}
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

func aggregateExpr(m *de.Model, t de.AggregateTerm) bson.E {
	col := t.Field
	if f, ok := m.Field(t.Field); ok {
		col = f.ColumnName
	}
	key := aggregateKey(t)
	switch t.Op {
	case de.AggCount:
		return bson.E{Key: key, Value: bson.D{{Key: "$sum", Value: 1}}}
	case de.AggSum:
		return bson.E{Key: key, Value: bson.D{{Key: "$sum", Value: "$" + col}}}
	case de.AggAvg:
		return bson.E{Key: key, Value: bson.D{{Key: "$avg", Value: "$" + col}}}
	case de.AggMin:
		return bson.E{Key: key, Value: bson.D{{Key: "$min", Value: "$" + col}}}
	case de.AggMax:
		return bson.E{Key: key, Value: bson.D{{Key: "$max", Value: "$" + col}}}
	default:
		return bson.E{Key: key, Value: nil}
	}
}

// GroupBy mirrors Aggregate but groups by the given fields before applying
// each aggregate term. spec.Having is not applied: every group is returned,
// whatever the Having filter says.
func (c *Connector) GroupBy(ctx context.Context, m *de.Model, spec *de.GroupBySpec) ([]map[string]de.Value, error) {
	groupID := bson.D{}
	for _, field := range spec.By {
		col := field
		if f, ok := m.Field(field); ok {
			col = f.ColumnName
		}
		groupID = append(groupID, bson.E{Key: field, Value: "$" + col})
	}
	group := bson.D{{Key: "_id", Value: groupID}}
	for _, t := range spec.Terms {
		group = append(group, aggregateExpr(m, t))
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: whereToBSON(m, spec.Where)}},
		{{Key: "$group", Value: group}},
	}
	cursor, err := c.collectionFor(m).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, de.ConnectorError(err)
	}
	defer cursor.Close(ctx)

	var rows []map[string]de.Value
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, de.ConnectorError(err)
		}
		row := map[string]de.Value{}
		if idDoc, ok := doc["_id"].(bson.M); ok {
			for _, field := range spec.By {
				if raw, ok := idDoc[field]; ok {
					row[field] = de.NewString(fmt.Sprintf("%v", raw))
				}
			}
		}
		for _, t := range spec.Terms {
			key := aggregateKey(t)
			if raw, ok := doc[key]; ok {
				row[key] = de.NewF64(toFloat64(raw))
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
