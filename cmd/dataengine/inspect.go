package main

import (
	"fmt"
	"strings"

	de "github.com/dataengine/dataengine"
	"github.com/spf13/cobra"
)

func newInspectCmd(build GraphBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print every declared model's fields, indexes, and relations",
		Long:  "Finalizes the schema (without connecting to a database) and prints the resolved field, index, and relation set for every model.",
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
			for _, m := range graph.Models() {
				printModel(m)
				fmt.Println()
			}
			return nil
		},
	}
}

func printModel(m *de.Model) {
	fmt.Printf("%s (%s)\n", m.Name, m.URLSegment)
	for i, f := range m.Fields {
		connector := "├──"
		if i == len(m.Fields)-1 && len(m.Relations) == 0 {
			connector = "└──"
		}
		fmt.Printf("  %s %-16s %-14s %s\n", connector, f.ColumnName, f.Type.String(), fieldAttrs(f))
	}
	for i, r := range m.Relations {
		connector := "├──"
		if i == len(m.Relations)-1 {
			connector = "└──"
		}
		arrow := "1:1"
		if r.IsVec {
			arrow = "1:N"
		}
		fmt.Printf("  %s %-16s %s -> %s\n", connector, r.Name, arrow, r.ModelPath)
	}
	if len(m.Indices) > 0 {
		fmt.Println()
		fmt.Println("  Indexes:")
		for _, idx := range m.Indices {
			label := ""
			if idx.Unique {
				label = " (unique)"
			}
			fmt.Printf("    %s%s\n", strings.Join(idx.Fields, ", "), label)
		}
	}
}

func fieldAttrs(f *de.Field) string {
	var parts []string
	switch f.IndexRole {
	case de.IndexUnique, de.IndexCompoundUnique:
		parts = append(parts, "unique")
	case de.IndexNormal, de.IndexCompoundNormal:
		parts = append(parts, "indexed")
	}
	if !f.Optional {
		parts = append(parts, "required")
	}
	switch f.WriteRule {
	case de.WriteNone:
		parts = append(parts, "readonly")
	case de.WriteOnce:
		parts = append(parts, "immutable")
	case de.WriteOnCreate:
		parts = append(parts, "write_on_create")
	}
	if f.ReadRule == de.ReadNone {
		parts = append(parts, "writeonly")
	}
	if f.Default != nil {
		parts = append(parts, "has_default")
	}
	return strings.Join(parts, ", ")
}
