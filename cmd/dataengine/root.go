// Package main is the dataengine CLI. Rather than reading a process-wide
// schema registry populated by package init(), it takes an explicit GraphBuilder
// because Graph/Engine are immutable values built once by the caller — there
// is no global to inspect. NewRootCommand takes that builder; main calls it
// with a nil GraphBuilder.
package main

import (
	"fmt"
	"os"

	de "github.com/dataengine/dataengine"
	"github.com/dataengine/dataengine/connector/mongo"
	"github.com/dataengine/dataengine/connector/sql"
	"github.com/spf13/cobra"
)

// GraphBuilder is the caller-supplied schema declaration, the same function
// shape dataengine.New accepts.
type GraphBuilder func(*de.Builder)

// NewRootCommand builds the "dataengine" cobra tree against the given
// schema. version is baked in at build time via -ldflags.
func NewRootCommand(build GraphBuilder, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "dataengine",
		Short: "dataengine — schema-driven data server",
		Long:  "A schema-driven data engine: define models once, get validated CRUD, relations, and querying against MongoDB or PostgreSQL.",
	}
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newInspectCmd(build))
	root.AddCommand(newMigrateCmd(build))
	root.AddCommand(newDiscoverCmd())
	return root
}

func newVersionCmd(version string) *cobra.Command {
	if version == "" {
		version = "dev"
	}
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dataengine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dataengine v%s\n", version)
		},
	}
}

// connectorForURL picks the connector family by URL scheme, the CLI's only
// concession to needing a concrete Connector before Engine exists; the
// library itself never guesses a connector for callers.
func connectorForURL(url string) (de.Connector, error) {
	switch {
	case hasScheme(url, "mongodb"):
		return mongo.New(), nil
	case hasScheme(url, "postgres"), hasScheme(url, "postgresql"):
		return sql.New(), nil
	default:
		return nil, fmt.Errorf("dataengine: no connector for url scheme in %q", url)
	}
}

func hasScheme(url, scheme string) bool {
	return len(url) > len(scheme) && url[:len(scheme)] == scheme
}

func main() {
	root := NewRootCommand(nil, version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var version = "dev"
