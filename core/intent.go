package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/qbloq/askdb/core/internal/llm"
)

// Intent names form a closed set; classification never returns a name
// outside it.
const (
	IntentQueryData     = "QUERY_DATA"
	IntentSummarizeData = "SUMMARIZE_DATA"
	IntentSchemaInfo    = "SCHEMA_INFO"
	IntentVisualization = "DATA_VISUALIZATION"
	IntentComparison    = "COMPARISON"
	IntentTrendAnalysis = "TREND_ANALYSIS"
	IntentCorrelation   = "CORRELATION"
)

// IntentNames lists the closed intent set.
var IntentNames = []string{
	IntentQueryData, IntentSummarizeData, IntentSchemaInfo,
	IntentVisualization, IntentComparison, IntentTrendAnalysis,
	IntentCorrelation,
}

// Intent is the classified purpose of an utterance.
type Intent struct {
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// Entity kinds.
const (
	EntityTable       = "table"
	EntityColumn      = "column"
	EntityFilter      = "filter"
	EntityAggregation = "aggregation"
	EntityTimeRange   = "time_range"
)

// Entity is one extracted fragment of the utterance. Kind selects
// which fields are meaningful: Name for table/column, Column/Op/Value
// for filter, Fn for aggregation, Start/End for time_range.
type Entity struct {
	Kind       string  `json:"kind"`
	Name       string  `json:"name,omitempty"`
	Column     string  `json:"column,omitempty"`
	Op         string  `json:"op,omitempty"`
	Value      any     `json:"value,omitempty"`
	Fn         string  `json:"fn,omitempty"`
	Start      string  `json:"start,omitempty"`
	End        string  `json:"end,omitempty"`
	Confidence float64 `json:"confidence"`
}

const intentSystemPrompt = `You classify natural-language database questions.
Respond with a JSON object: {"name": "<intent>", "confidence": <0..1>, "description": "<one line>"}.
The intent must be exactly one of: QUERY_DATA, SUMMARIZE_DATA, SCHEMA_INFO, DATA_VISUALIZATION, COMPARISON, TREND_ANALYSIS, CORRELATION.
Use SUMMARIZE_DATA for counts, totals and averages; SCHEMA_INFO for questions about tables or structure; DATA_VISUALIZATION when a chart is requested.`

const entitySystemPrompt = `You extract structured entities from natural-language database questions.
Respond with a JSON object: {"entities": [...]}.
Each entity is one of:
  {"kind": "table", "name": "...", "confidence": <0..1>}
  {"kind": "column", "name": "...", "confidence": <0..1>}
  {"kind": "filter", "column": "...", "op": "=|!=|>|<|>=|<=|like|in", "value": ..., "confidence": <0..1>}
  {"kind": "aggregation", "fn": "count|sum|avg|min|max", "confidence": <0..1>}
  {"kind": "time_range", "start": "...", "end": "...", "confidence": <0..1>}
Only include entities actually present in the question. An empty list is valid.`

// classifyIntent classifies the utterance through the LLM gateway,
// falling back to the keyword classifier when the gateway fails or
// returns a name outside the closed set. It never errors.
func (e *engine) classifyIntent(ctx context.Context, utterance, schemaContext string) *Intent {
	if e.llm == nil {
		return keywordIntent(utterance)
	}

	user := fmt.Sprintf("Question: %s", utterance)
	if schemaContext != "" {
		user = fmt.Sprintf("Schema:\n%s\n\nQuestion: %s", schemaContext, utterance)
	}

	var out Intent
	err := e.llm.CompleteJSON(ctx, llm.Request{
		System:      intentSystemPrompt,
		User:        user,
		MaxTokens:   256,
		Temperature: 0,
	}, &out)
	if err != nil {
		e.log.Debugf("intent classification via llm failed, using keywords: %s", err)
		return keywordIntent(utterance)
	}

	if !validIntentName(out.Name) {
		return keywordIntent(utterance)
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return &out
}

// extractEntities pulls entities from the utterance. Failures produce
// an empty slice, never an error.
func (e *engine) extractEntities(ctx context.Context, utterance, schemaContext string) []Entity {
	if e.llm == nil {
		return nil
	}

	user := fmt.Sprintf("Question: %s", utterance)
	if schemaContext != "" {
		user = fmt.Sprintf("Schema:\n%s\n\nQuestion: %s", schemaContext, utterance)
	}

	var out struct {
		Entities []Entity `json:"entities"`
	}
	err := e.llm.CompleteJSON(ctx, llm.Request{
		System:      entitySystemPrompt,
		User:        user,
		MaxTokens:   512,
		Temperature: 0,
	}, &out)
	if err != nil {
		e.log.Debugf("entity extraction failed, continuing without entities: %s", err)
		return nil
	}

	entities := out.Entities[:0]
	for _, ent := range out.Entities {
		if validEntityKind(ent.Kind) {
			entities = append(entities, ent)
		}
	}
	return entities
}

func validIntentName(name string) bool {
	for _, n := range IntentNames {
		if n == name {
			return true
		}
	}
	return false
}

func validEntityKind(kind string) bool {
	switch kind {
	case EntityTable, EntityColumn, EntityFilter, EntityAggregation, EntityTimeRange:
		return true
	}
	return false
}

// keyword groups checked in order; first hit wins.
var intentKeywords = []struct {
	name     string
	keywords []string
}{
	{IntentSchemaInfo, []string{
		"schema", "what tables", "list tables", "show tables", "structure",
		"describe", "columns in", "columns of",
	}},
	{IntentVisualization, []string{
		"chart", "plot", "graph", "visualize", "visualise", "draw",
	}},
	{IntentTrendAnalysis, []string{
		"trend", "over time", "by month", "by year", "by week", "growth",
		"monthly", "yearly",
	}},
	{IntentComparison, []string{
		"compare", "comparison", "versus", " vs ", "difference between",
	}},
	{IntentCorrelation, []string{
		"correlat", "relationship between",
	}},
	{IntentSummarizeData, []string{
		"how many", "count", "total", "sum of", "average", "avg",
		"summarize", "summarise", "summary", "min ", "max ",
	}},
}

// keywordIntent is the deterministic fallback classifier: ordered
// substring groups, fixed 0.6 confidence.
func keywordIntent(utterance string) *Intent {
	lower := strings.ToLower(utterance)
	for _, grp := range intentKeywords {
		for _, kw := range grp.keywords {
			if strings.Contains(lower, kw) {
				return &Intent{
					Name:        grp.name,
					Confidence:  0.6,
					Description: fmt.Sprintf("keyword match on %q", strings.TrimSpace(kw)),
				}
			}
		}
	}
	return &Intent{
		Name:        IntentQueryData,
		Confidence:  0.6,
		Description: "default classification",
	}
}
