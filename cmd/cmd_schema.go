package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qbloq/askdb/core"
	"github.com/qbloq/askdb/serv"
)

var (
	schemaDB          string
	schemaMerged      bool
	schemaConsolidate bool
	schemaOutput      string
)

// schemaCmd is the cobra CLI command for the schema subcommand
func schemaCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "schema",
		Short: "Inspect database schemas",
		Long: `Print a database schema as JSON, or consolidate every
database's schema into the default database's metadata tables.`,
		Run: cmdSchema,
	}
	c.Flags().StringVar(&schemaDB, "db", core.DefaultBackendID, "database id")
	c.Flags().BoolVar(&schemaMerged, "merged", false, "print the merged cross-database schema")
	c.Flags().BoolVar(&schemaConsolidate, "consolidate", false, "write all schemas into the default database's metadata tables")
	c.Flags().StringVar(&schemaOutput, "output", "", "write output to file instead of stdout; .yml/.yaml writes YAML")
	return c
}

// cmdSchema is the handler for the schema subcommand
func cmdSchema(cmd *cobra.Command, args []string) {
	setup(cpath)

	ad, err := serv.NewAskDBService(conf)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer ad.Engine().Close() //nolint:errcheck

	ctx := context.Background()

	if schemaConsolidate {
		if err := ad.Engine().ConsolidateSchemas(ctx); err != nil {
			log.Fatalf("Failed to consolidate schemas: %s", err)
		}
		log.Infof("Consolidated schemas into the %s database", core.DefaultBackendID)
		return
	}

	var data json.RawMessage
	if schemaMerged {
		data, err = ad.Engine().MergedSchema(ctx)
	} else {
		data, err = ad.Engine().Schema(ctx, schemaDB)
	}
	if err != nil {
		log.Fatalf("Failed to read schema: %s", err)
	}

	var buf any
	if err := json.Unmarshal(data, &buf); err != nil {
		log.Fatalf("%s", err)
	}

	// YAML when the output file says so, otherwise indented JSON
	var out []byte
	ext := strings.ToLower(schemaOutput)
	if strings.HasSuffix(ext, ".yml") || strings.HasSuffix(ext, ".yaml") {
		out, err = yaml.Marshal(buf)
	} else {
		out, err = json.MarshalIndent(buf, "", "  ")
	}
	if err != nil {
		log.Fatalf("%s", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, out, 0o644); err != nil {
			log.Fatalf("Failed to write schema file: %s", err)
		}
		log.Infof("Wrote schema: %s", schemaOutput)
		return
	}
	fmt.Println(string(out))
}

// databasesCmd is the cobra CLI command for the databases subcommand
func databasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List the configured databases",
		Run:   cmdDatabases,
	}
}

// cmdDatabases is the handler for the databases subcommand
func cmdDatabases(cmd *cobra.Command, args []string) {
	setup(cpath)

	ad, err := serv.NewAskDBService(conf)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer ad.Engine().Close() //nolint:errcheck

	for _, b := range ad.Engine().AllDatabases() {
		state := "enabled"
		if !b.Enabled {
			state = "disabled"
		}
		mode := "read-write"
		if b.ReadOnly {
			mode = "read-only"
		}
		fmt.Printf("%-16s %-10s %-9s %s\n", b.ID, b.Dialect, state, mode)
	}
}
