package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/qbloq/askdb/core"
	"github.com/qbloq/askdb/serv/internal/util"
)

// envPrefix is the prefix for environment variables that override
// config file values, e.g. AD_LLM_PROVIDER=openai
const envPrefix = "AD_"

// Core is an alias to the engine configuration
type Core = core.Config

// Configuration for the AskDB service
type Config struct {
	// Configuration for the query engine core
	Core `mapstructure:",squash" jsonschema:"title=Engine Configuration"`

	// Configuration for the AskDB service
	Serv `mapstructure:",squash" jsonschema:"title=Service Configuration"`

	hostPort string
	viper    *viper.Viper
}

// Configuration for the AskDB service
type Serv struct {
	// The default path to find all configuration files
	ConfigPath string `mapstructure:"config_path" jsonschema:"title=Config Path"`

	// Logging level must be one of debug, error, warn, info
	LogLevel string `mapstructure:"log_level" jsonschema:"title=Log Level,enum=debug,enum=error,enum=warn,enum=info" validate:"omitempty,oneof=debug error warn info"`

	// Logging Format: "auto" (default, colored console in dev, JSON in production),
	// "json" (always JSON), or "simple" (always colored console)
	LogFormat string `mapstructure:"log_format" jsonschema:"title=Logging Format,enum=auto,enum=json,enum=simple" validate:"omitempty,oneof=auto json simple"`

	// The host and port the service runs on. Example localhost:8080
	HostPort string `mapstructure:"host_port" jsonschema:"title=Host and Port"`

	// Host to run the service on
	Host string `jsonschema:"title=Host"`

	// Port to run the service on
	Port string `jsonschema:"title=Port"`

	// Enables HTTP compression
	HTTPGZip bool `mapstructure:"http_compress" jsonschema:"title=Enable Compression,default=true"`

	// Sets the API rate limits
	RateLimiter RateLimiter `mapstructure:"rate_limiter" jsonschema:"title=Set API Rate Limiting"`

	// Enables reloading the service on config changes. Disabled in production
	WatchAndReload bool `mapstructure:"reload_on_config_change" jsonschema:"title=Reload Config"`

	// Sets the HTTP CORS Access-Control-Allow-Origin header
	AllowedOrigins []string `mapstructure:"cors_allowed_origins" jsonschema:"title=HTTP CORS Allowed Origins"`

	// Sets the HTTP CORS Access-Control-Allow-Headers header
	AllowedHeaders []string `mapstructure:"cors_allowed_headers" jsonschema:"title=HTTP CORS Allowed Headers"`

	// Enables debug logs for CORS
	DebugCORS bool `mapstructure:"cors_debug" jsonschema:"title=Log CORS"`

	// Sets the HTTP Cache-Control header
	CacheControl string `mapstructure:"cache_control" jsonschema:"title=Enable Cache-Control"`

	// Enables the admin API endpoints. Disabled in production
	AdminAPI bool `mapstructure:"admin_api" jsonschema:"title=Enable Admin API"`

	// Database health check ping timeout
	PingTimeout string `mapstructure:"ping_timeout" jsonschema:"title=Healthcheck Ping Timeout"`

	// MCP (Model Context Protocol) server configuration
	MCP MCPConfig `mapstructure:"mcp" jsonschema:"title=MCP Configuration"`

	// Redis configuration for the shared result cache
	Redis RedisConfig `mapstructure:"redis" jsonschema:"title=Redis Configuration"`

	// Memcache configuration for the shared result cache
	Memcache MemcacheConfig `mapstructure:"memcache" jsonschema:"title=Memcache Configuration"`
}

// RateLimiter sets the API rate limits
type RateLimiter struct {
	// The number of events per second
	Rate float64 `jsonschema:"title=Connection Rate"`

	// Bucket a burst of at most 'bucket' number of events
	Bucket int `jsonschema:"title=Bucket Size"`

	// The header that contains the client ip
	IPHeader string `mapstructure:"ip_header" jsonschema:"title=IP From HTTP Header,example=X-Forwarded-For"`
}

// MCPConfig configures the Model Context Protocol (MCP) server
//
// Transport is implicit based on context:
// - CLI (`askdb mcp`) uses stdio transport for desktop and CLI clients
// - HTTP service uses the streamable HTTP transport at /api/v1/mcp
type MCPConfig struct {
	// Disable the MCP server (MCP is enabled by default)
	Disable bool `jsonschema:"title=Disable MCP Server,default=false"`

	// Run in MCP-only mode - disables the query and admin REST endpoints
	Only bool `mapstructure:"only" jsonschema:"title=MCP Only Mode,default=false"`
}

// RedisConfig configures the Redis connection
type RedisConfig struct {
	// Redis connection URL (e.g., redis://localhost:6379/0)
	URL string `mapstructure:"url" jsonschema:"title=Redis URL"`
}

// MemcacheConfig configures the Memcache connection
type MemcacheConfig struct {
	// Comma-separated server addresses (e.g., localhost:11211)
	Addresses string `mapstructure:"addresses" jsonschema:"title=Memcache Addresses"`
}

// ReadInConfig function reads in the config file for the environment
// specified in the GO_ENV environment variable. This is the best way to
// create a new AskDB config.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesystem as an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

// readInConfig function reads in the config file for the environment specified in the GO_ENV
func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	viper := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		viper.SetFs(fs)
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := viper.GetString("inherits"); pcf != "" {
		cf := viper.ConfigFileUsed()
		viper = newViper(cp, pcf)
		if fs != nil {
			viper.SetFs(fs)
		}

		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}

		if value := viper.GetString("inherits"); value != "" {
			return nil, fmt.Errorf("inherited config '%s' cannot itself inherit '%s'", pcf, value)
		}

		viper.SetConfigFile(cf)

		if err := viper.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	for _, e := range os.Environ() {
		if strings.HasPrefix(e, envPrefix) {
			kv := strings.SplitN(e, "=", 2)
			util.SetKeyValue(viper, strings.TrimPrefix(kv[0], envPrefix), kv[1])
		}
	}

	config := &Config{viper: viper}
	config.ConfigPath = cp

	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// NewConfig function creates a new AskDB configuration from the provided config string
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	viper := newViperWithDefaults()
	viper.SetConfigType(format)

	if err := viper.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}

	c := &Config{viper: viper}

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// newViperWithDefaults returns a new viper instance with the default settings
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("host_port", "0.0.0.0:8080")
	vi.SetDefault("app_name", "AskDB")

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")

	vi.SetDefault("http_compress", true)
	vi.SetDefault("enable_tracing", false)
	vi.SetDefault("ping_timeout", "5s")

	vi.SetDefault("max_rows", 1000)
	vi.SetDefault("result_cache_size", 512)

	vi.SetDefault("llm.provider", "openai")
	vi.SetDefault("llm.temperature", 0.2)

	vi.SetDefault("env", "development")

	vi.BindEnv("env", "GO_ENV") //nolint:errcheck
	vi.BindEnv("host", "HOST")  //nolint:errcheck
	vi.BindEnv("port", "PORT")  //nolint:errcheck

	// MCP defaults (MCP enabled by default, use mcp.disable: true to turn off)
	vi.SetDefault("mcp.disable", false)
	vi.SetDefault("mcp.only", false)

	return vi
}

// newViper returns a new viper instance with the default settings
func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}

// Validate checks the service-level config fields
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c.Serv); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AbsolutePath returns the absolute path of the file
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ConfigPath, p)
}

// rateLimiterEnable returns true if the rate limiter is enabled
func (c *Config) rateLimiterEnable() bool {
	return c.RateLimiter.Rate > 0 && c.RateLimiter.Bucket > 0
}

// ShouldUseJSONLogs returns true if logs should be in JSON format.
// Returns true if log_format is "json" OR if log_format is "auto" and production mode is enabled.
// Returns false otherwise (colored console output for dev mode).
func (c *Config) ShouldUseJSONLogs() bool {
	if c.LogFormat == "json" {
		return true
	}
	if c.LogFormat == "auto" && c.Core.Production {
		return true
	}
	return false
}

// GetConfigName returns the name of the configuration
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"

	case "staging", "stage":
		return "stage"

	case "testing", "test":
		return "test"

	case "development", "dev", "":
		return "dev"

	default:
		return goEnv
	}
}
