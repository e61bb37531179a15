package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsOf(cols []ResultColumn, rows []map[string]any) *ResultSet {
	return &ResultSet{Columns: cols, Rows: rows, RowCount: len(rows)}
}

func TestChooseChartScalarValue(t *testing.T) {
	rs := rsOf(
		[]ResultColumn{{Name: "count", Type: "integer"}},
		[]map[string]any{{"count": int64(42)}},
	)
	spec := chooseChart(rs, nil, "how many customers are active?")
	assert.Equal(t, "value", spec.Kind)
}

func TestChooseChartDateSeriesIsLine(t *testing.T) {
	rows := make([]map[string]any, 12)
	for i := range rows {
		rows[i] = map[string]any{
			"month": fmt.Sprintf("2024-%02d-01", i+1),
			"total": float64(100 + i),
		}
	}
	rs := rsOf(
		[]ResultColumn{{Name: "month", Type: "date"}, {Name: "total", Type: "numeric"}},
		rows,
	)
	spec := chooseChart(rs, nil, "sales by month")
	require.Equal(t, "line", spec.Kind)
	assert.Equal(t, "month", spec.Encoding["x"])
	assert.Equal(t, "total", spec.Encoding["y"])
}

func TestChooseChartExplicitPhraseWins(t *testing.T) {
	rs := rsOf(
		[]ResultColumn{{Name: "region", Type: "text"}, {Name: "total", Type: "numeric"}},
		[]map[string]any{
			{"region": "east", "total": 10.0},
			{"region": "west", "total": 20.0},
		},
	)
	spec := chooseChart(rs, nil, "show sales as a pie chart")
	assert.Equal(t, "pie", spec.Kind)
	assert.InDelta(t, 0.9, spec.Confidence, 0.001)
}

func TestChooseChartTwoColumnsFewRowsIsBar(t *testing.T) {
	rs := rsOf(
		[]ResultColumn{{Name: "region", Type: "text"}, {Name: "total", Type: "numeric"}},
		[]map[string]any{
			{"region": "east", "total": 10.0},
			{"region": "west", "total": 20.0},
			{"region": "north", "total": 15.0},
		},
	)
	spec := chooseChart(rs, nil, "totals per region")
	assert.Equal(t, "bar", spec.Kind)
	assert.Equal(t, "region", spec.Encoding["x"])
	assert.Equal(t, "total", spec.Encoding["y"])
}

func TestChooseChartScatterForTwoNumerics(t *testing.T) {
	rows := make([]map[string]any, 8)
	for i := range rows {
		rows[i] = map[string]any{
			"height": float64(150 + i), "weight": float64(50 + i), "tag": fmt.Sprint(i),
		}
	}
	rs := rsOf(
		[]ResultColumn{
			{Name: "height", Type: "numeric"},
			{Name: "weight", Type: "numeric"},
			{Name: "tag", Type: "text"},
		},
		rows,
	)
	spec := chooseChart(rs, nil, "height against weight")
	require.Equal(t, "scatter", spec.Kind)
	assert.Equal(t, "height", spec.Encoding["x"])
	assert.Equal(t, "weight", spec.Encoding["y"])
}

func TestChooseChartFallbacks(t *testing.T) {
	// many rows, all text, no signal
	rows := make([]map[string]any, 15)
	for i := range rows {
		rows[i] = map[string]any{"a": fmt.Sprint(i), "b": fmt.Sprint(i * 2), "c": fmt.Sprint(i * 3)}
	}
	rs := rsOf(
		[]ResultColumn{{Name: "a", Type: "text"}, {Name: "b", Type: "text"}, {Name: "c", Type: "text"}},
		rows,
	)
	spec := chooseChart(rs, nil, "list everything")
	assert.Equal(t, "table", spec.Kind)

	// no shape at all
	spec = chooseChart(nil, nil, "anything")
	assert.Equal(t, "table", spec.Kind)
}
