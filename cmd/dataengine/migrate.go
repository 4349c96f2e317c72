package main

import (
	"context"
	"fmt"
	"time"

	de "github.com/dataengine/dataengine"
	"github.com/spf13/cobra"
)

func newMigrateCmd(build GraphBuilder) *cobra.Command {
	var url string
	var reset bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or alter storage to match the declared schema",
		Long:  "Connects the connector matching --url's scheme and runs Connector.Migrate, creating missing collections/tables and indexes. --reset drops and recreates everything first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if build == nil {
				return fmt.Errorf("dataengine: no schema wired; call NewRootCommand from your own main with your models")
			}
			b := de.NewBuilder()
			build(b)
			graph, err := b.Finalize()
			if err != nil {
				return err
			}

			fmt.Printf("Migration plan for %d model(s):\n", len(graph.Models()))
			for _, m := range graph.Models() {
				fmt.Printf("  %s -> %s (%d fields, %d indexes)\n", m.Name, m.URLSegment, len(m.Fields), len(m.Indices))
			}
			if dryRun {
				fmt.Println("\nDry run: no changes applied.")
				return nil
			}

			connector, err := connectorForURL(url)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := connector.Connect(ctx, url); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if err := connector.Migrate(ctx, graph.Models(), reset); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("\nMigration applied.")
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "connector URL (mongodb://... or postgres://...)")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop and recreate storage before migrating")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without connecting")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
