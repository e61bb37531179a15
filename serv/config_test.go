package serv

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestReadInConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConf(t, fs, "/conf/dev.yml", `
app_name: webshop
host_port: 0.0.0.0:9191
max_rows: 25
databases:
  - name: default
    type: sqlite
    url: sqlite://file:dev.db
llm:
  provider: openai
  model: gpt-4o-mini
`)

	conf, err := ReadInConfigFS("/conf/dev.yml", fs)
	require.NoError(t, err)

	assert.Equal(t, "webshop", conf.AppName)
	assert.Equal(t, "0.0.0.0:9191", conf.HostPort)
	assert.Equal(t, 25, conf.MaxRows)
	require.Len(t, conf.Databases, 1)
	assert.Equal(t, "sqlite", conf.Databases[0].Type)
	assert.Equal(t, "gpt-4o-mini", conf.LLM.Model)
}

func TestReadInConfigInherits(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConf(t, fs, "/conf/prod.yml", `
app_name: webshop
production: true
max_rows: 500
`)
	writeConf(t, fs, "/conf/stage.yml", `
inherits: prod
max_rows: 50
`)

	conf, err := ReadInConfigFS("/conf/stage.yml", fs)
	require.NoError(t, err)

	assert.Equal(t, "webshop", conf.AppName)
	assert.True(t, conf.Core.Production)
	assert.Equal(t, 50, conf.MaxRows)
}

func TestReadInConfigInheritChainRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConf(t, fs, "/conf/base.yml", "inherits: other\n")
	writeConf(t, fs, "/conf/mid.yml", "inherits: base\n")
	writeConf(t, fs, "/conf/other.yml", "app_name: x\n")

	_, err := ReadInConfigFS("/conf/mid.yml", fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot itself inherit")
}

func TestReadInConfigEnvOverride(t *testing.T) {
	t.Setenv("AD_LOG_LEVEL", "debug")
	t.Setenv("AD_MCP_DISABLE", "true")
	t.Setenv("AD_LLM_API_KEY", "sk-test")

	fs := afero.NewMemMapFs()
	writeConf(t, fs, "/conf/dev.yml", "app_name: webshop\nlog_level: info\n")

	conf, err := ReadInConfigFS("/conf/dev.yml", fs)
	require.NoError(t, err)

	assert.Equal(t, "debug", conf.LogLevel)
	assert.True(t, conf.MCP.Disable)
	assert.Equal(t, "sk-test", conf.LLM.APIKey)
}

func TestReadInConfigRejectsBadLogLevel(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConf(t, fs, "/conf/dev.yml", "log_level: loud\n")

	_, err := ReadInConfigFS("/conf/dev.yml", fs)
	require.Error(t, err)
}

func TestGetConfigName(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"", "dev"},
		{"development", "dev"},
		{"production", "prod"},
		{"PROD", "prod"},
		{"staging", "stage"},
		{"testing", "test"},
		{"custom", "custom"},
	}
	for _, tt := range tests {
		t.Setenv("GO_ENV", tt.env)
		assert.Equal(t, tt.want, GetConfigName(), tt.env)
	}
}

func TestShouldUseJSONLogs(t *testing.T) {
	c := &Config{}
	c.LogFormat = "auto"
	assert.False(t, c.ShouldUseJSONLogs())

	c.Core.Production = true
	assert.True(t, c.ShouldUseJSONLogs())

	c.LogFormat = "simple"
	assert.False(t, c.ShouldUseJSONLogs())

	c.LogFormat = "json"
	c.Core.Production = false
	assert.True(t, c.ShouldUseJSONLogs())
}
