package serv

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/qbloq/askdb/core"
)

// registerTools registers all MCP tools with the server
func (ms *mcpServer) registerTools() {
	// ask - the full natural-language query pipeline
	ms.srv.AddTool(mcp.NewTool(
		"ask",
		mcp.WithDescription("Ask a question about the data in plain language. "+
			"The question is translated to SQL, executed and returned with a "+
			"suggested visualization. Use list_databases to see the available "+
			"databases and get_schema to inspect one."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question in plain language"),
		),
		mcp.WithString("database",
			mcp.Description("Target database id; defaults to the default database"),
		),
		mcp.WithString("mode",
			mcp.Description("Pipeline mode: route, coordinate (default) or collaborate"),
		),
		mcp.WithBoolean("all_databases",
			mcp.Description("Run the question against every database and return per-database results"),
		),
	), ms.handleAsk)

	// list_databases - the registered backends
	ms.srv.AddTool(mcp.NewTool(
		"list_databases",
		mcp.WithDescription("List the configured databases with their id, display name and SQL dialect."),
	), ms.handleListDatabases)

	// get_schema - one backend's schema in compact prompt form
	ms.srv.AddTool(mcp.NewTool(
		"get_schema",
		mcp.WithDescription("Get the table and column layout of a database, "+
			"in the compact text form used for query generation."),
		mcp.WithString("database",
			mcp.Description("Database id; defaults to the default database"),
		),
	), ms.handleGetSchema)
}

// handleAsk runs the query pipeline for one question
func (ms *mcpServer) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	question, _ := args["question"].(string)
	database, _ := args["database"].(string)
	mode, _ := args["mode"].(string)
	allDBs, _ := args["all_databases"].(bool)

	if question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	qreq := core.Request{
		Utterance: question,
		BackendID: database,
		Mode:      mode,
	}

	var env *core.Envelope
	if allDBs {
		env = ms.service.adb.QueryAll(ctx, qreq)
	} else {
		env = ms.service.adb.Query(ctx, qreq)
	}

	data, err := mcpMarshalJSON(env, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleListDatabases lists the enabled backends
func (ms *mcpServer) handleListDatabases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dbs := ms.service.adb.Databases()

	data, err := mcpMarshalJSON(map[string]any{"databases": dbs}, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleGetSchema returns one backend's schema in prompt form
func (ms *mcpServer) handleGetSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	database, _ := args["database"].(string)
	if database == "" {
		database = core.DefaultBackendID
	}

	text, err := ms.service.adb.SchemaPrompt(ctx, database)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schema for %s: %v", database, err)), nil
	}
	return mcp.NewToolResultText(text), nil
}
