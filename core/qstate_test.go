package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scriptedCompletion struct {
	replies map[string]string
	dflt    string
}

func (s *scriptedCompletion) Name() string { return "scripted" }

func (s *scriptedCompletion) Complete(ctx context.Context, system, user string, maxTokens int64, temperature float64) (string, error) {
	for match, reply := range s.replies {
		if match != "" && strings.Contains(strings.ToLower(user), strings.ToLower(match)) {
			return reply, nil
		}
	}
	return s.dflt, nil
}

func newTestAskDB(t *testing.T, conf *Config, options ...Option) *AskDB {
	t.Helper()
	options = append(options, OptionSetLog(zaptest.NewLogger(t).Sugar()))
	a, err := New(conf, options...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() }) //nolint:errcheck
	return a
}

func TestQueryMissingBackendIsError(t *testing.T) {
	conf := &Config{
		Databases: []DatabaseConfig{{Name: "default", Type: "sqlite"}},
	}
	a := newTestAskDB(t, conf, OptionSetCompletionProvider(&scriptedCompletion{
		dflt: `{"name": "QUERY_DATA", "confidence": 0.9}`,
	}))

	env := a.Query(context.Background(), Request{
		Utterance: "list tracks",
		BackendID: "db_missing",
	})

	require.NotNil(t, env)
	assert.Equal(t, StatusError, env.Status)
	require.NotEmpty(t, env.Errors)
	assert.Equal(t, "SchemaError", env.Errors[0].Kind)
	assert.Contains(t, env.Errors[0].Message, "db_missing")
	assert.NotEmpty(t, env.RequestID)
}

func TestQueryEmptySchemaYieldsSentinel(t *testing.T) {
	// backend registered without a pool: schema refresh fails, the
	// pipeline degrades to the sentinel statement with a note
	conf := &Config{
		Databases: []DatabaseConfig{{Name: "default", Type: "sqlite"}},
	}
	a := newTestAskDB(t, conf, OptionSetCompletionProvider(&scriptedCompletion{
		dflt: `{"name": "QUERY_DATA", "confidence": 0.9}`,
	}))

	env := a.Query(context.Background(), Request{Utterance: "show top 5 rows"})

	require.NotNil(t, env)
	assert.Contains(t, []string{StatusSuccess, StatusDegraded}, env.Status)
	assert.Equal(t, "SELECT 1 AS result", env.SQL)
	assert.NotEmpty(t, env.Note)
}

func TestWantsCrossBackend(t *testing.T) {
	assert.True(t, wantsCrossBackend("sum of amount across all databases"))
	assert.True(t, wantsCrossBackend("count rows in every database"))
	assert.True(t, wantsCrossBackend("compare totals across databases"))
	assert.False(t, wantsCrossBackend("how many customers are active?"))
}

func TestEnvelopeAlwaysWellFormed(t *testing.T) {
	conf := &Config{
		Databases: []DatabaseConfig{{Name: "default", Type: "sqlite"}},
	}
	a := newTestAskDB(t, conf, OptionSetCompletionProvider(&scriptedCompletion{
		dflt: `{"name": "QUERY_DATA", "confidence": 0.9}`,
	}))

	utterances := []string{
		"", "how many customers?", "drop table customers",
		"sum of amount across all databases", "show top 5 rows",
	}
	for _, u := range utterances {
		env := a.Query(context.Background(), Request{Utterance: u})
		require.NotNil(t, env, u)
		assert.Contains(t,
			[]string{StatusSuccess, StatusDegraded, StatusError},
			env.Status, u)
		assert.NotEmpty(t, env.RequestID, u)
	}
}

func TestModeDefaultsToCoordinate(t *testing.T) {
	e := &engine{defaultBackend: "default"}
	qs := newQState(e, Request{Utterance: "x"})
	assert.Equal(t, ModeCoordinate, qs.req.Mode)
	assert.Equal(t, "default", qs.req.BackendID)
}
