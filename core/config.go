package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qbloq/askdb/core/internal/dialect"
)

// Config holds the engine configuration. The service layer decodes it
// from YAML; embedders construct it directly.
type Config struct {
	// AppName is used in logs and the MCP server identity
	AppName string `mapstructure:"app_name" json:"app_name" jsonschema:"title=Application Name"`

	// Production turns off debug behavior and pretty logging
	Production bool `mapstructure:"production" json:"production" jsonschema:"title=Production Mode"`

	// Debug enables debug logging
	Debug bool `mapstructure:"debug" json:"debug" jsonschema:"title=Debug"`

	// Databases lists the configured backends. The backend named
	// "default" hosts the consolidated metadata tables.
	Databases []DatabaseConfig `mapstructure:"databases" json:"databases" jsonschema:"title=Databases"`

	// LLM configures the completion providers
	LLM LLMConfig `mapstructure:"llm" json:"llm" jsonschema:"title=LLM Providers"`

	// MaxRows caps result sets; rows beyond it are truncated
	MaxRows int `mapstructure:"max_rows" json:"max_rows" jsonschema:"title=Max Result Rows,default=1000"`

	// AllowMutations permits non-SELECT statements on writable backends
	AllowMutations bool `mapstructure:"allow_mutations" json:"allow_mutations" jsonschema:"title=Allow Mutations"`

	// SchemaTTL is the default snapshot lifetime (1h when zero)
	SchemaTTL time.Duration `mapstructure:"schema_ttl" json:"schema_ttl" jsonschema:"title=Schema Cache TTL"`

	// ResultCacheTTL is the result cache entry lifetime; zero disables
	// the result cache
	ResultCacheTTL time.Duration `mapstructure:"result_cache_ttl" json:"result_cache_ttl" jsonschema:"title=Result Cache TTL"`

	// ResultCacheSize is the in-process result cache capacity in entries
	ResultCacheSize int `mapstructure:"result_cache_size" json:"result_cache_size" jsonschema:"title=Result Cache Size,default=512"`

	// RequestTimeout bounds one whole request (60s when zero)
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" jsonschema:"title=Request Timeout"`

	// LLMTimeout bounds one completion call (30s when zero)
	LLMTimeout time.Duration `mapstructure:"llm_timeout" json:"llm_timeout" jsonschema:"title=LLM Call Timeout"`

	// ExecTimeout bounds one query execution (30s when zero)
	ExecTimeout time.Duration `mapstructure:"exec_timeout" json:"exec_timeout" jsonschema:"title=Execute Timeout"`

	// SchemaTimeout bounds one schema refresh (10s when zero)
	SchemaTimeout time.Duration `mapstructure:"schema_timeout" json:"schema_timeout" jsonschema:"title=Schema Refresh Timeout"`

	// EnableTracing wires OpenTelemetry spans around pipeline stages
	EnableTracing bool `mapstructure:"enable_tracing" json:"enable_tracing" jsonschema:"title=Enable Tracing"`

	// SchemaPollDuration enables the dev-mode schema watcher: the
	// default backend is polled at this interval and the engine reloads
	// when its schema changes. Zero disables polling; production always
	// disables it.
	SchemaPollDuration time.Duration `mapstructure:"schema_poll_duration" json:"schema_poll_duration" jsonschema:"title=Schema Poll Interval"`
}

// DatabaseConfig describes one backend.
type DatabaseConfig struct {
	Name        string        `mapstructure:"name" json:"name" jsonschema:"title=Backend ID"`
	DisplayName string        `mapstructure:"display_name" json:"display_name" jsonschema:"title=Display Name"`
	Type        string        `mapstructure:"type" json:"type" jsonschema:"title=Dialect,enum=postgres,enum=mysql,enum=sqlite,enum=mssql,enum=oracle"`
	URL         string        `mapstructure:"url" json:"url" jsonschema:"title=Connection URL"`
	Schema      string        `mapstructure:"schema" json:"schema" jsonschema:"title=Schema Name"`
	Enabled     *bool         `mapstructure:"enabled" json:"enabled" jsonschema:"title=Enabled,default=true"`
	ReadOnly    bool          `mapstructure:"readonly" json:"readonly" jsonschema:"title=Read Only"`
	SchemaTTL   time.Duration `mapstructure:"schema_ttl" json:"schema_ttl" jsonschema:"title=Schema TTL Override"`
	PoolSize    int           `mapstructure:"pool_size" json:"pool_size" jsonschema:"title=Pool Size"`
}

// LLMConfig selects the completion providers. Primary is tried first;
// Fallback once after the primary's retries are exhausted.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" json:"provider" jsonschema:"title=Primary Provider,enum=openai,enum=gemini"`
	Model       string  `mapstructure:"model" json:"model" jsonschema:"title=Model"`
	APIKey      string  `mapstructure:"api_key" json:"api_key" jsonschema:"title=API Key"`
	BaseURL     string  `mapstructure:"base_url" json:"base_url" jsonschema:"title=Base URL Override"`
	Temperature float64 `mapstructure:"temperature" json:"temperature" jsonschema:"title=Temperature,default=0.2"`

	Fallback *LLMConfig `mapstructure:"fallback" json:"fallback,omitempty" jsonschema:"title=Fallback Provider"`
}

// IsEnabled reports whether the backend participates in requests.
func (d *DatabaseConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// setDefaults fills the zero-valued knobs.
func (c *Config) setDefaults() {
	if c.AppName == "" {
		c.AppName = "AskDB"
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 1000
	}
	if c.ResultCacheSize <= 0 {
		c.ResultCacheSize = 512
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 30 * time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.SchemaTimeout <= 0 {
		c.SchemaTimeout = 10 * time.Second
	}
	if c.SchemaTTL <= 0 {
		c.SchemaTTL = time.Hour
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.2
	}
}

// NormalizeDatabases validates the database list and fills derived
// fields: dialect inferred from the URL scheme, display name from the
// id, enabled defaulting to true.
func (c *Config) NormalizeDatabases() error {
	seen := map[string]struct{}{}
	for i := range c.Databases {
		d := &c.Databases[i]
		if d.Name == "" {
			return fmt.Errorf("database %d: name required", i)
		}
		if _, ok := seen[d.Name]; ok {
			return fmt.Errorf("duplicate database name: %s", d.Name)
		}
		seen[d.Name] = struct{}{}

		if d.Type == "" {
			d.Type = DialectFromURL(d.URL)
		}
		switch strings.ToLower(d.Type) {
		case "mariadb":
			d.Type = dialect.MySQL
		case "postgresql", "pgx":
			d.Type = dialect.Postgres
		case "sqlite3":
			d.Type = dialect.SQLite
		case "sqlserver":
			d.Type = dialect.MSSQL
		default:
			d.Type = strings.ToLower(d.Type)
		}
		if !dialect.IsSupported(d.Type) {
			return fmt.Errorf("database %s: unsupported type %q", d.Name, d.Type)
		}
		if d.DisplayName == "" {
			d.DisplayName = d.Name
		}
	}
	return nil
}

// DialectFromURL infers the dialect from a connection URL scheme or
// DSN shape. Returns dialect.Unknown when nothing matches.
func DialectFromURL(url string) string {
	u := strings.ToLower(url)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return dialect.Postgres
	case strings.HasPrefix(u, "mysql://"), strings.Contains(u, "@tcp("):
		return dialect.MySQL
	case strings.HasPrefix(u, "sqlite://"), strings.HasPrefix(u, "file:"),
		strings.HasSuffix(u, ".db"), strings.HasSuffix(u, ".sqlite"),
		strings.Contains(u, ":memory:"):
		return dialect.SQLite
	case strings.HasPrefix(u, "sqlserver://"), strings.HasPrefix(u, "mssql://"):
		return dialect.MSSQL
	case strings.HasPrefix(u, "oracle://"):
		return dialect.Oracle
	}
	return dialect.Unknown
}

// LoadEnvDatabases layers the environment database surface onto the
// config: DATABASE_URL for the default backend, DATABASE_<n>_* blocks,
// and DATABASE_CONFIG as a JSON array that overrides or extends both.
// Environment wins over file config for a same-named backend.
func (c *Config) LoadEnvDatabases() error {
	byName := map[string]int{}
	for i := range c.Databases {
		byName[c.Databases[i].Name] = i
	}

	upsert := func(d DatabaseConfig) {
		if i, ok := byName[d.Name]; ok {
			c.Databases[i] = d
			return
		}
		byName[d.Name] = len(c.Databases)
		c.Databases = append(c.Databases, d)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		upsert(DatabaseConfig{Name: DefaultBackendID, URL: url})
	}

	for _, d := range envNumberedDatabases() {
		upsert(d)
	}

	if raw := os.Getenv("DATABASE_CONFIG"); raw != "" {
		var list []DatabaseConfig
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return fmt.Errorf("DATABASE_CONFIG: %w", err)
		}
		for _, d := range list {
			upsert(d)
		}
	}

	return c.NormalizeDatabases()
}

// envNumberedDatabases collects DATABASE_<n>_URL/_NAME/_TYPE/_ENABLED/
// _READONLY blocks, in ascending n.
func envNumberedDatabases() []DatabaseConfig {
	idx := map[int]struct{}{}
	for _, kv := range os.Environ() {
		k := kv[:strings.IndexByte(kv, '=')]
		if !strings.HasPrefix(k, "DATABASE_") || !strings.HasSuffix(k, "_URL") {
			continue
		}
		mid := strings.TrimSuffix(strings.TrimPrefix(k, "DATABASE_"), "_URL")
		if n, err := strconv.Atoi(mid); err == nil && n > 0 {
			idx[n] = struct{}{}
		}
	}

	ns := make([]int, 0, len(idx))
	for n := range idx {
		ns = append(ns, n)
	}
	sort.Ints(ns)

	var out []DatabaseConfig
	for _, n := range ns {
		p := fmt.Sprintf("DATABASE_%d_", n)
		d := DatabaseConfig{
			Name:     os.Getenv(p + "NAME"),
			URL:      os.Getenv(p + "URL"),
			Type:     os.Getenv(p + "TYPE"),
			ReadOnly: envBool(os.Getenv(p + "READONLY")),
		}
		if d.Name == "" {
			d.Name = fmt.Sprintf("db_%d", n)
		}
		if v := os.Getenv(p + "ENABLED"); v != "" {
			b := envBool(v)
			d.Enabled = &b
		}
		out = append(out, d)
	}
	return out
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// HasLLM reports whether any provider credential is configured; when
// false the pipeline runs on the keyword classifier and sentinel SQL.
func (c *Config) HasLLM() bool {
	if c.LLM.APIKey != "" {
		return true
	}
	return os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != ""
}
