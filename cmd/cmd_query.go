package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qbloq/askdb/core"
	"github.com/qbloq/askdb/serv"
)

var (
	queryDB   string
	queryMode string
	queryAll  bool
	queryJSON bool
)

// queryCmd is the cobra CLI command for the query subcommand
func queryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question about your data",
		Args:  cobra.ExactArgs(1),
		Run:   cmdQuery,
	}
	c.Flags().StringVar(&queryDB, "db", "", "target database id")
	c.Flags().StringVar(&queryMode, "mode", "", "pipeline mode: route, coordinate or collaborate")
	c.Flags().BoolVar(&queryAll, "all", false, "run against every database")
	c.Flags().BoolVar(&queryJSON, "json", false, "print the raw response envelope")
	return c
}

// cmdQuery is the handler for the query subcommand
func cmdQuery(cmd *cobra.Command, args []string) {
	setup(cpath)

	ad, err := serv.NewAskDBService(conf)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer ad.Engine().Close() //nolint:errcheck

	req := core.Request{
		Utterance: args[0],
		BackendID: queryDB,
		Mode:      queryMode,
	}

	var env *core.Envelope
	if queryAll {
		env = ad.Engine().QueryAll(context.Background(), req)
	} else {
		env = ad.Engine().Query(context.Background(), req)
	}

	if queryJSON {
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			log.Fatalf("%s", err)
		}
		fmt.Println(string(data))
		return
	}

	printEnvelope(env)
	if env.Status == core.StatusError {
		os.Exit(1)
	}
}

// printEnvelope renders the envelope for terminal output
func printEnvelope(env *core.Envelope) {
	if env.SQL != "" {
		fmt.Printf("SQL: %s\n", env.SQL)
	}
	if len(env.Parameters) > 0 {
		params, _ := json.Marshal(env.Parameters)
		fmt.Printf("Parameters: %s\n", params)
	}
	if env.Note != "" {
		fmt.Printf("Note: %s\n", env.Note)
	}
	for _, e := range env.Errors {
		fmt.Printf("Error [%s]: %s\n", e.Kind, e.Message)
	}

	if env.Result != nil {
		fmt.Println()
		printResultSet(env.Result)
	}
	for id, br := range env.Results {
		fmt.Printf("\n-- %s --\n", id)
		if br.Error != nil {
			fmt.Printf("error: %s\n", br.Error.Message)
			continue
		}
		printResultSet(br.Result)
	}

	if env.Visualization != nil {
		fmt.Printf("\nSuggested chart: %s (confidence %.2f)\n",
			env.Visualization.Kind, env.Visualization.Confidence)
	}
	fmt.Printf("\n%s in %dms\n", env.Status, env.ElapsedMS)
}

// printResultSet renders a result set as an aligned table
func printResultSet(rs *core.ResultSet) {
	if rs == nil {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, col := range rs.Columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col.Name)
	}
	fmt.Fprintln(w)

	for _, row := range rs.Rows {
		for i, col := range rs.Columns {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprintf(w, "%v", row[col.Name])
		}
		fmt.Fprintln(w)
	}
	w.Flush() //nolint:errcheck

	if rs.Truncated {
		fmt.Printf("(%d rows, truncated)\n", rs.RowCount)
	} else {
		fmt.Printf("(%d rows)\n", rs.RowCount)
	}
}
