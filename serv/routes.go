package serv

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	routeQuery       = "/api/v1/query"
	routeDatabases   = "/api/v1/databases"
	routeSchema      = "/api/v1/databases/{database}/schema"
	routeMergedSch   = "/api/v1/databases/merged-schema"
	routeConsolidate = "/api/v1/databases/extract-all-schemas"
	routeMCP         = "/api/v1/mcp"
	healthRoute      = "/health"
)

type Mux interface {
	Handle(string, http.Handler)
	ServeHTTP(http.ResponseWriter, *http.Request)
}

// routesHandler is the main handler for all routes
func routesHandler(s1 *HttpService, mux Mux) (http.Handler, error) {
	s := s1.Load().(*askdbService)

	// Healthcheck API
	mux.Handle(healthRoute, healthCheckHandler(s1))

	// Skip non-MCP APIs in MCP-only mode
	if !s.conf.MCP.Only {
		mux.Handle(routeQuery, apiV1Handler(s1, apiV1Query(s1)))
		mux.Handle(routeDatabases, apiV1Handler(s1, apiV1Databases(s1)))
		mux.Handle(routeMergedSch, apiV1Handler(s1, apiV1MergedSchema(s1)))
		mux.Handle(routeSchema, apiV1Handler(s1, apiV1Schema(s1)))
		mux.Handle(routeConsolidate, apiV1Handler(s1, apiV1ConsolidateSchemas(s1)))

		// Admin API, development only
		if s.conf.AdminAPI && !s.conf.Core.Production {
			mux.Handle("/api/v1/admin/stats", adminStatsHandler(s1))
			mux.Handle("/api/v1/admin/config", adminConfigHandler(s1))
			mux.Handle("/api/v1/admin/cache/invalidate", adminInvalidateHandler(s1))
			mux.Handle("/api/v1/admin/reload", adminReloadHandler(s1))
		}
	}

	// MCP (Model Context Protocol) API
	// Transport is implicit: HTTP service uses the streamable HTTP
	// transport, the CLI uses stdio via RunMCPStdio()
	if !s.conf.MCP.Disable {
		mux.Handle(routeMCP, s1.MCPHandler())
	}

	h := setServerHeader(mux)
	if s.conf.Core.EnableTracing {
		h = otelhttp.NewHandler(h, serverName)
	}
	return h, nil
}

// apiV1Handler wraps an API handler with the service middleware chain
func apiV1Handler(s1 *HttpService, h http.Handler) http.Handler {
	s := s1.Load().(*askdbService)

	h = cacheControlHandler(s, h)
	h = gzipHandler(s, h)
	h = corsHandler(s, h)
	h = rateLimiterHandler(s, h)
	return h
}
