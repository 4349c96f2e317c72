package mongo

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DiscoverOptions controls how database discovery is performed.
type DiscoverOptions struct {
	SampleSize  int      // documents to sample per collection (default 500)
	Collections []string // empty = all collections
}

// DiscoveredField describes a single field found in a collection's documents.
type DiscoveredField struct {
	BSONName   string
	FieldType  string // inferred dataengine FieldType kind name
	IsRequired bool   // appears in every sampled doc
	IsUnique   bool   // has a unique index
	IsIndexed  bool   // has a non-unique index
}

// DiscoveredIndex describes an index found on a collection.
type DiscoveredIndex struct {
	Name   string
	Keys   []string
	Unique bool
}

// DiscoveredCollection holds the discovery results for a single collection,
// the unit internal/codegen.go's generator turns into a builder-API model
// declaration.
type DiscoveredCollection struct {
	Name     string
	Fields   []DiscoveredField
	Indexes  []DiscoveredIndex
	DocCount int64
}

// Discover introspects the connector's database by sampling documents and
// reading indexes.
func (c *Connector) Discover(ctx context.Context, opts DiscoverOptions) ([]DiscoveredCollection, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = 500
	}

	var collNames []string
	if len(opts.Collections) > 0 {
		collNames = opts.Collections
	} else {
		names, err := c.db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return nil, fmt.Errorf("dataengine discover: failed to list collections: %w", err)
		}
		collNames = names
	}

	var results []DiscoveredCollection
	for _, name := range collNames {
		coll := c.db.Collection(name)

		dc := DiscoveredCollection{Name: name}
		count, err := coll.CountDocuments(ctx, bson.D{})
		if err != nil {
			return nil, fmt.Errorf("dataengine discover: collection %s: count: %w", name, err)
		}
		dc.DocCount = count

		fields, err := sampleDocuments(ctx, coll, opts.SampleSize)
		if err != nil {
			return nil, fmt.Errorf("dataengine discover: collection %s: sample: %w", name, err)
		}
		dc.Fields = fields

		indexes, err := detectIndexes(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("dataengine discover: collection %s: indexes: %w", name, err)
		}
		dc.Indexes = indexes

		for i := range dc.Fields {
			for _, idx := range dc.Indexes {
				if len(idx.Keys) == 1 && idx.Keys[0] == dc.Fields[i].BSONName {
					if idx.Unique {
						dc.Fields[i].IsUnique = true
					} else {
						dc.Fields[i].IsIndexed = true
					}
				}
			}
		}

		results = append(results, dc)
	}

	return results, nil
}

type fieldTracker struct {
	types map[string]bool
	count int
}

func sampleDocuments(ctx context.Context, coll *mongo.Collection, sampleSize int) ([]DiscoveredField, error) {
	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(int64(sampleSize)))
	if err != nil {
		return nil, fmt.Errorf("failed to sample documents: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	trackers := make(map[string]*fieldTracker)
	fieldOrder := []string{}
	totalDocs := 0

	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		totalDocs++

		for _, elem := range doc {
			if elem.Key == "_id" {
				continue
			}
			ft, exists := trackers[elem.Key]
			if !exists {
				ft = &fieldTracker{types: make(map[string]bool)}
				trackers[elem.Key] = ft
				fieldOrder = append(fieldOrder, elem.Key)
			}
			ft.count++
			ft.types[inferFieldType(elem.Value)] = true
		}
	}

	if totalDocs == 0 {
		return nil, nil
	}

	var fields []DiscoveredField
	for _, name := range fieldOrder {
		ft := trackers[name]
		fields = append(fields, DiscoveredField{
			BSONName:   name,
			FieldType:  resolveFieldType(ft.types),
			IsRequired: ft.count == totalDocs,
		})
	}

	return fields, nil
}

func detectIndexes(ctx context.Context, coll *mongo.Collection) ([]DiscoveredIndex, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var indexes []DiscoveredIndex
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			continue
		}
		name, _ := raw["name"].(string)
		if name == "_id_" {
			continue
		}

		var keys []string
		if keyDoc, ok := raw["key"].(bson.D); ok {
			for _, k := range keyDoc {
				keys = append(keys, k.Key)
			}
		}

		unique, _ := raw["unique"].(bool)

		indexes = append(indexes, DiscoveredIndex{
			Name:   name,
			Keys:   keys,
			Unique: unique,
		})
	}

	return indexes, nil
}

// inferFieldType maps a BSON runtime value to a dataengine.FieldType kind
// name.
func inferFieldType(v interface{}) string {
	switch v := v.(type) {
	case string:
		return "String"
	case int32:
		return "I32"
	case int64:
		return "I64"
	case float64:
		return "F64"
	case bool:
		return "Bool"
	case bson.ObjectID:
		return "ObjectId"
	case bson.D:
		return "Map"
	case bson.A:
		return inferArrayFieldType(v)
	case bson.Decimal128:
		return "Decimal"
	case nil:
		return "null"
	default:
		return "String"
	}
}

func inferArrayFieldType(arr bson.A) string {
	if len(arr) == 0 {
		return "Vec(String)"
	}
	first := inferFieldType(arr[0])
	for _, elem := range arr[1:] {
		if inferFieldType(elem) != first {
			return "Vec(String)"
		}
	}
	if first == "null" {
		return "Vec(String)"
	}
	return "Vec(" + first + ")"
}

// resolveFieldType picks the best FieldType kind from a set of observed
// kinds, promoting mixed numeric observations to the widest seen.
func resolveFieldType(types map[string]bool) string {
	hasNull := types["null"]
	delete(types, "null")

	if len(types) == 0 {
		return "String"
	}

	if types["I32"] && types["I64"] {
		delete(types, "I32")
	}
	if (types["I32"] || types["I64"]) && types["F64"] {
		delete(types, "I32")
		delete(types, "I64")
	}

	if len(types) == 1 {
		var t string
		for k := range types {
			t = k
		}
		_ = hasNull
		return t
	}

	typeList := make([]string, 0, len(types))
	for t := range types {
		typeList = append(typeList, t)
	}
	sort.Strings(typeList)
	return "String"
}
