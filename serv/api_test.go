package serv

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qbloq/askdb/core"
)

// stubProvider answers each pipeline prompt deterministically, keyed on
// the system prompt.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Complete(ctx context.Context, system, user string, maxTokens int64, temperature float64) (string, error) {
	switch {
	case strings.Contains(system, "You classify"):
		return `{"name": "SUMMARIZE_DATA", "confidence": 0.92}`, nil
	case strings.Contains(system, "extract structured entities"):
		return `{"entities": [{"kind": "aggregation", "fn": "count", "confidence": 0.9}]}`, nil
	case strings.Contains(system, "You review a SQL"):
		return `{"is_valid": true, "confidence": 0.9, "errors": [], "warnings": []}`, nil
	default:
		return "SELECT COUNT(*) AS total FROM customers", nil
	}
}

func newTestService(t *testing.T) *HttpService {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)

	// hold one connection open so the shared in-memory db survives
	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck
		db.Close()   //nolint:errcheck
	})

	_, err = db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, status TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO customers (name, status) VALUES ('ada', 'active'), ('bob', 'inactive')`)
	require.NoError(t, err)

	conf, err := NewConfig(`
app_name: test
admin_api: true
databases:
  - name: default
    type: sqlite
`, "yaml")
	require.NoError(t, err)

	s1, err := NewAskDBService(conf,
		OptionSetZapLogger(zaptest.NewLogger(t)),
		OptionSetPool("default", db),
		OptionSetEngineOptions(core.OptionSetCompletionProvider(stubProvider{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s1.Engine().Close() }) //nolint:errcheck

	return s1
}

func newTestServer(t *testing.T, s1 *HttpService) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h, err := routesHandler(s1, r)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthRoute(t *testing.T) {
	srv := newTestServer(t, newTestService(t))

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, serverName, res.Header.Get("Server"))

	var body struct {
		Status    string            `json:"status"`
		Databases map[string]string `json:"databases"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Databases["default"])
}

func TestDatabasesRoute(t *testing.T) {
	srv := newTestServer(t, newTestService(t))

	res, err := http.Get(srv.URL + "/api/v1/databases")
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Databases []core.Backend `json:"databases"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Databases, 1)
	assert.Equal(t, "default", body.Databases[0].ID)
	assert.Equal(t, "sqlite", body.Databases[0].Dialect)
}

func TestSchemaRoute(t *testing.T) {
	srv := newTestServer(t, newTestService(t))

	res, err := http.Get(srv.URL + "/api/v1/databases/default/schema")
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, res.StatusCode)

	var snap struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	require.NotEmpty(t, snap.Tables)
	assert.Equal(t, "customers", snap.Tables[0].Name)

	res2, err := http.Get(srv.URL + "/api/v1/databases/db_missing/schema")
	require.NoError(t, err)
	defer res2.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
}

func TestQueryRoute(t *testing.T) {
	srv := newTestServer(t, newTestService(t))

	res, err := http.Post(srv.URL+"/api/v1/query", "application/json",
		strings.NewReader(`{"utterance": "how many customers are there?"}`))
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, res.StatusCode)

	var env core.Envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))

	assert.Equal(t, core.StatusSuccess, env.Status)
	assert.Contains(t, env.SQL, "COUNT")
	require.NotNil(t, env.Result)
	assert.Equal(t, 1, env.Result.RowCount)
	require.NotNil(t, env.Intent)
	assert.Equal(t, "SUMMARIZE_DATA", env.Intent.Name)
	assert.NotEmpty(t, env.RequestID)
}

func TestQueryRouteRejectsEmptyBody(t *testing.T) {
	srv := newTestServer(t, newTestService(t))

	res, err := http.Post(srv.URL+"/api/v1/query", "application/json",
		strings.NewReader(`{"utterance": ""}`))
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res2, err := http.Post(srv.URL+"/api/v1/query", "application/json",
		strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer res2.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, res2.StatusCode)
}

func TestAdminStatsRoute(t *testing.T) {
	srv := newTestServer(t, newTestService(t))

	res, err := http.Get(srv.URL + "/api/v1/admin/stats")
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Pools map[string]any `json:"pools"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Contains(t, body.Pools, "default")
}

func TestAdminConfigRedactsSecrets(t *testing.T) {
	s1 := newTestService(t)
	s := s1.Load().(*askdbService)
	s.conf.LLM.APIKey = "sk-secret"
	srv := newTestServer(t, s1)

	res, err := http.Get(srv.URL + "/api/v1/admin/config")
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, res.StatusCode)

	var conf core.Config
	require.NoError(t, json.NewDecoder(res.Body).Decode(&conf))
	assert.Equal(t, "[redacted]", conf.LLM.APIKey)
	assert.Equal(t, "sk-secret", s.conf.LLM.APIKey)
}

func TestMCPServerBuilds(t *testing.T) {
	s1 := newTestService(t)
	s := s1.Load().(*askdbService)

	ms := s.newMCPServer()
	require.NotNil(t, ms.srv)
}
