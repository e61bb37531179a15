package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordIntent(t *testing.T) {
	tests := []struct {
		utterance string
		want      string
	}{
		{"how many customers are active?", IntentSummarizeData},
		{"total sales this quarter", IntentSummarizeData},
		{"what tables are in this database", IntentSchemaInfo},
		{"describe the orders table", IntentSchemaInfo},
		{"plot revenue per region", IntentVisualization},
		{"sales trend over time", IntentTrendAnalysis},
		{"revenue by month", IntentTrendAnalysis},
		{"compare this year versus last year", IntentComparison},
		{"correlation between price and demand", IntentCorrelation},
		{"list all tracks", IntentQueryData},
		{"", IntentQueryData},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			got := keywordIntent(tt.utterance)
			assert.Equal(t, tt.want, got.Name)
			assert.InDelta(t, 0.6, got.Confidence, 0.001)
		})
	}
}

func TestKeywordIntentStaysInClosedSet(t *testing.T) {
	utterances := []string{
		"hello", "weird question about nothing", "DROP EVERYTHING",
		"count the chart trends versus correlations",
	}
	for _, u := range utterances {
		got := keywordIntent(u)
		assert.True(t, validIntentName(got.Name), "intent %q not in closed set", got.Name)
	}
}

func TestValidEntityKind(t *testing.T) {
	assert.True(t, validEntityKind(EntityTable))
	assert.True(t, validEntityKind(EntityFilter))
	assert.False(t, validEntityKind("widget"))
	assert.False(t, validEntityKind(""))
}
