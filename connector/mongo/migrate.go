package mongo

import (
	"context"
	"fmt"

	de "github.com/dataengine/dataengine"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Migrate creates missing indexes for every model's declared Index set.
// Index semantics are ensure-only (create if absent). Live documents are not
// sampled or compared against the models, so schema drift is neither
// detected nor reported here.
func (c *Connector) Migrate(ctx context.Context, models []*de.Model, reset bool) error {
	for _, m := range models {
		coll := c.collectionFor(m)
		if reset {
			if err := coll.Drop(ctx); err != nil {
				return de.ConnectorError(fmt.Errorf("drop %s: %w", m.URLSegment, err))
			}
		}
		existing, err := listExistingIndexes(ctx, coll)
		if err != nil {
			return de.ConnectorError(fmt.Errorf("list indexes on %s: %w", m.URLSegment, err))
		}
		for _, idx := range m.Indices {
			if idx.Primary {
				continue
			}
			name := indexName(idx)
			if existing[name] {
				continue
			}
			keys := bson.D{}
			for _, f := range idx.Fields {
				col := f
				if field, ok := m.Field(f); ok {
					col = field.ColumnName
				}
				keys = append(keys, bson.E{Key: col, Value: 1})
			}
			model := mongo.IndexModel{Keys: keys}
			if idx.Unique {
				model.Options = options.Index().SetUnique(true)
			}
			if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
				return de.ConnectorError(fmt.Errorf("create index %s on %s: %w", name, m.URLSegment, err))
			}
		}
	}
	c.state = de.ConnectorReady
	return nil
}

func listExistingIndexes(ctx context.Context, coll *mongo.Collection) (map[string]bool, error) {
	result := make(map[string]bool)
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var idx bson.M
		if err := cursor.Decode(&idx); err != nil {
			continue
		}
		if name, ok := idx["name"].(string); ok {
			result[name] = true
		}
	}
	return result, nil
}

func indexName(idx *de.Index) string {
	name := ""
	for _, f := range idx.Fields {
		name += f + "_1"
	}
	return name
}
