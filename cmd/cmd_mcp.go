package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/qbloq/askdb/serv"
)

// mcpCmd is the cobra CLI command for the mcp subcommand
func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server in stdio mode (for desktop AI clients)",
		Long: `Run the AskDB MCP server using stdio transport.

Designed for AI assistant integration. Communicates via stdin/stdout
using the MCP protocol; tools: ask, list_databases, get_schema.`,
		Run: cmdMCP,
	}
}

// cmdMCP is the handler for the mcp subcommand
func cmdMCP(cmd *cobra.Command, args []string) {
	// Redirect the CLI logger to stderr before setup to avoid
	// corrupting the JSON-RPC stream on stdout
	log = newLoggerWithOutput(false, os.Stderr).Sugar()

	setup(cpath)

	// the service logger must also stay off stdout
	ad, err := serv.NewAskDBService(conf,
		serv.OptionSetZapLogger(newLoggerWithOutput(true, os.Stderr)))
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer ad.Engine().Close() //nolint:errcheck

	if err := ad.RunMCPStdio(context.Background()); err != nil {
		log.Fatalf("MCP server: %s", err)
	}
}
