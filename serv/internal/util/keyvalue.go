package util

import (
	"strings"

	"github.com/spf13/viper"
)

// SetKeyValue maps an environment variable onto a viper config key.
// The variable name arrives with its app prefix already stripped.
// LOG_LEVEL stays the flat key log_level; MCP_DISABLE nests into
// mcp.disable because the mcp section is a known key.
func SetKeyValue(vi *viper.Viper, key string, value any) {
	k := strings.ToLower(key)

	if vi.IsSet(k) {
		vi.Set(k, value)
		return
	}

	// nest under the first prefix that names a known section
	for i := 0; i < len(k); i++ {
		if k[i] != '_' {
			continue
		}
		if vi.IsSet(k[:i]) {
			vi.Set(k[:i]+"."+k[i+1:], value)
			return
		}
	}

	vi.Set(k, value)
}
