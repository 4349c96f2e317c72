package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dataengine/dataengine/connector/mongo"
	"github.com/dataengine/dataengine/internal"
	"github.com/spf13/cobra"
)

// newDiscoverCmd samples a live collection and reverse-generates a schema
// declaration: instead of emitting a
// tagged Go struct plus a registration call, it emits one
// `b.Model(...)` builder-API snippet per discovered collection, the
// caller-facing entry point this repo uses in place of a DSL.
func newDiscoverCmd() *cobra.Command {
	var uri, db, collection, output string
	var sampleSize int

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Sample an existing MongoDB database and generate builder-API model snippets",
		Long:  "Connects to MongoDB, samples documents per collection, reads indexes, and writes one Go source file per collection containing a Builder.Model(...) declaration matching what was observed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			conn := mongo.New()
			if err := conn.Connect(ctx, uri); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			opts := mongo.DiscoverOptions{SampleSize: sampleSize}
			if collection != "" {
				opts.Collections = []string{collection}
			}

			fmt.Printf("Discovering database: %s\n\n", db)
			collections, err := conn.Discover(ctx, opts)
			if err != nil {
				return err
			}
			if len(collections) == 0 {
				fmt.Println("No collections found.")
				return nil
			}

			if err := os.MkdirAll(output, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			for _, dc := range collections {
				fmt.Printf("  %s (%d documents, %d fields, %d indexes)\n",
					dc.Name, dc.DocCount, len(dc.Fields), len(dc.Indexes))

				spec := internal.DiscoveredModelSpec{CollectionName: dc.Name}
				for _, f := range dc.Fields {
					spec.Fields = append(spec.Fields, internal.DiscoveredFieldSpec{
						Name:      f.BSONName,
						FieldType: f.FieldType,
						Required:  f.IsRequired,
						Unique:    f.IsUnique,
						Indexed:   f.IsIndexed,
					})
				}
				snippet := internal.GenerateBuilderModel(spec)

				filename := filepath.Join(output, dc.Name+".go")
				src := fmt.Sprintf("// Generated by `dataengine discover` from collection %q. Paste this\n"+
					"// b.Model(...) call into your own dataengine.NewBuilder() chain; this file\n"+
					"// is not itself compilable (it intentionally has no package clause or imports).\n\n%s",
					dc.Name, snippet)
				if err := os.WriteFile(filename, []byte(src), 0o644); err != nil {
					fmt.Fprintf(os.Stderr, "    warning: failed to write %s: %v\n", filename, err)
					continue
				}
				fmt.Printf("    -> %s\n", filename)
			}

			fmt.Printf("\nGenerated %d model file(s) in %s/\n", len(collections), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&uri, "uri", "mongodb://localhost:27017", "MongoDB connection URI")
	cmd.Flags().StringVar(&db, "db", "", "MongoDB database name (informational; the database segment of --uri is what's actually used)")
	cmd.Flags().StringVar(&collection, "collection", "", "specific collection to discover (empty = all)")
	cmd.Flags().StringVar(&output, "output", "./models", "output directory for generated snippet files")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 500, "documents to sample per collection")
	return cmd
}
