package serv

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// mcpMarshalJSON marshals data to JSON without HTML escaping.
// This ensures characters like <, >, and & are not converted to Unicode escapes
// making output more readable for LLM clients.
func mcpMarshalJSON(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode adds a trailing newline; trim it to match MarshalIndent behavior
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// mcpServer wraps the MCP server instance
type mcpServer struct {
	srv     *server.MCPServer
	service *askdbService
}

// newMCPServer creates a new MCP server for this service
func (s *askdbService) newMCPServer() *mcpServer {
	// Create hooks to handle prefixed tool names from desktop clients,
	// which may prefix tool names with "server_name:" when calling
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		if idx := strings.LastIndex(req.Params.Name, ":"); idx != -1 {
			req.Params.Name = req.Params.Name[idx+1:]
		}
	})

	mcpSrv := server.NewMCPServer(
		"askdb",
		version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	ms := &mcpServer{srv: mcpSrv, service: s}
	ms.registerTools()
	return ms
}

// RunMCPStdio runs the MCP server using stdio transport (for CLI and
// desktop clients)
func (s1 *HttpService) RunMCPStdio(ctx context.Context) error {
	s := s1.Load().(*askdbService)

	if s.conf.MCP.Disable {
		s.log.Warn("MCP is disabled in configuration")
	}

	ms := s.newMCPServer()
	return server.ServeStdio(ms.srv)
}

// MCPHandler returns an HTTP handler for the MCP HTTP transport
// (stateless). This uses StreamableHTTPServer which handles POST
// requests directly.
func (s1 *HttpService) MCPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		if s.conf.MCP.Disable {
			http.Error(w, "MCP is disabled", http.StatusNotFound)
			return
		}

		ms := s.newMCPServer()
		httpServer := server.NewStreamableHTTPServer(ms.srv, server.WithStateLess(true))
		httpServer.ServeHTTP(w, r)
	})
}
