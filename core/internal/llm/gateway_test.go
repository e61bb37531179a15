package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayFallback(t *testing.T) {
	primary := NewScripted().Fail(ErrProviderUnavailable)
	backup := NewScripted().Default("from backup")

	gw, err := NewGateway(nil, primary, backup)
	require.NoError(t, err)
	gw.attempts = 1
	gw.delay = 0

	out, err := gw.Complete(context.Background(), Request{User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "from backup", out)
	assert.Len(t, primary.Calls(), 1)
}

func TestGatewayInvalidSkipsRetry(t *testing.T) {
	primary := NewScripted().Fail(ErrInvalid)
	gw, err := NewGateway(nil, primary)
	require.NoError(t, err)
	gw.delay = 0

	_, err = gw.Complete(context.Background(), Request{User: "hello"})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Len(t, primary.Calls(), 1, "invalid responses should not retry")
}

func TestCompleteJSONRepairsFences(t *testing.T) {
	p := NewScripted().Default("```json\n{\"intent\": \"QUERY_DATA\", \"confidence\": 0.9}\n```")
	gw, err := NewGateway(nil, p)
	require.NoError(t, err)

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, gw.CompleteJSON(context.Background(), Request{User: "x"}, &out))
	assert.Equal(t, "QUERY_DATA", out.Intent)
	assert.InDelta(t, 0.9, out.Confidence, 0.001)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose", `Sure, here you go: {"a": {"b": 2}} hope that helps`, `{"a": {"b": 2}}`},
		{"brace in string", `{"sql": "SELECT '}' FROM t"}`, `{"sql": "SELECT '}' FROM t"}`},
		{"escaped quote", `{"a": "say \"}\""}`, `{"a": "say \"}\""}`},
		{"none", "no json here", ""},
		{"unbalanced", `{"a": 1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestStripSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", StripSQL("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", StripSQL("SELECT 1"))
	assert.Equal(t, "SELECT 1", StripSQL("  ```\nSELECT 1\n```  "))
}
