package core

import (
	"fmt"
	"regexp"
	"strings"
)

// ChartKinds is the closed set of chart kinds the chooser can emit.
var ChartKinds = []string{
	"line", "bar", "scatter", "pie", "histogram", "heatmap",
	"area", "box", "treemap", "sunburst", "value", "table",
}

// ChartSpec is a rendering suggestion for a result set. The engine
// never renders; consumers feed the spec to a chart library.
type ChartSpec struct {
	Kind       string            `json:"kind"`
	Encoding   map[string]string `json:"encoding,omitempty"`
	Options    map[string]any    `json:"options,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Confidence float64           `json:"confidence"`
}

// explicit chart-kind phrases, checked in order.
var chartPhrases = []struct {
	phrase string
	kind   string
}{
	{"bar chart", "bar"},
	{"bar graph", "bar"},
	{"pie chart", "pie"},
	{"scatter plot", "scatter"},
	{"scatterplot", "scatter"},
	{"histogram", "histogram"},
	{"line chart", "line"},
	{"line graph", "line"},
	{"treemap", "treemap"},
	{"heatmap", "heatmap"},
	{"heat map", "heatmap"},
}

var (
	dateNameRe  = regexp.MustCompile(`(?i)(date|time|year|month|day)`)
	isoDateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	numericType = regexp.MustCompile(`(?i)(int|num|dec|float|real|double|money|serial)`)
)

// resultFeatures are the shape signals the rule table scores.
type resultFeatures struct {
	cols        int
	rows        int
	dateCols    []string
	numericCols []string
	catCols     []string
	// every non-numeric, non-date column, categorical or not
	textCols []string
	// unique value count per categorical column
	catUniques map[string]int
}

// chooseChart picks a chart kind for a result set. Explicit chart
// phrases in the utterance win; otherwise a fixed rule table over the
// result shape decides, with a table/bar fallback.
func chooseChart(rs *ResultSet, intent *Intent, utterance string) *ChartSpec {
	if rs == nil || len(rs.Columns) == 0 {
		return &ChartSpec{Kind: "table", Reason: "no result shape to inspect", Confidence: 0.3}
	}

	lower := strings.ToLower(utterance)
	for _, p := range chartPhrases {
		if strings.Contains(lower, p.phrase) {
			spec := &ChartSpec{
				Kind:       p.kind,
				Reason:     fmt.Sprintf("requested %q", p.phrase),
				Confidence: 0.9,
			}
			spec.Encoding = pickAxes(p.kind, featuresOf(rs))
			return spec
		}
	}

	f := featuresOf(rs)
	kind, score, reason := scoreRules(f)
	if score < 0.5 {
		if f.rows > 10 {
			kind, reason = "table", "no strong shape signal, many rows"
		} else {
			kind, reason = "bar", "no strong shape signal, few rows"
		}
		score = 0.4
	}

	return &ChartSpec{
		Kind:       kind,
		Encoding:   pickAxes(kind, f),
		Reason:     reason,
		Confidence: score,
	}
}

func featuresOf(rs *ResultSet) resultFeatures {
	f := resultFeatures{
		cols:       len(rs.Columns),
		rows:       rs.RowCount,
		catUniques: map[string]int{},
	}

	for _, col := range rs.Columns {
		name := col.Name
		switch {
		case dateNameRe.MatchString(name) || sampleLooksLikeDate(rs, name):
			f.dateCols = append(f.dateCols, name)
		case numericType.MatchString(col.Type) || sampleLooksNumeric(rs, name):
			f.numericCols = append(f.numericCols, name)
		default:
			f.textCols = append(f.textCols, name)
			u := uniqueCount(rs, name)
			f.catUniques[name] = u
			if f.rows > 0 && float64(u) < 0.5*float64(f.rows) {
				f.catCols = append(f.catCols, name)
			} else if f.rows <= 2 {
				// tiny results: treat strings as categories
				f.catCols = append(f.catCols, name)
			}
		}
	}
	return f
}

func sampleLooksLikeDate(rs *ResultSet, col string) bool {
	for i, row := range rs.Rows {
		if i >= 5 {
			break
		}
		if s, ok := row[col].(string); ok && isoDateRe.MatchString(s) {
			return true
		}
	}
	return false
}

func sampleLooksNumeric(rs *ResultSet, col string) bool {
	for i, row := range rs.Rows {
		if i >= 5 {
			break
		}
		switch row[col].(type) {
		case int, int32, int64, float32, float64:
			return true
		case nil, string:
		default:
		}
	}
	return false
}

func uniqueCount(rs *ResultSet, col string) int {
	seen := map[string]struct{}{}
	for _, row := range rs.Rows {
		seen[fmt.Sprint(row[col])] = struct{}{}
	}
	return len(seen)
}

// scoreRules evaluates the fixed rule table and returns the best
// scoring kind.
func scoreRules(f resultFeatures) (kind string, score float64, reason string) {
	type rule struct {
		ok     bool
		kind   string
		score  float64
		reason string
	}

	rules := []rule{
		{f.cols == 1 && f.rows == 1, "value", 0.95, "single scalar result"},
		{len(f.dateCols) > 0 && f.cols >= 2 && f.rows >= 2, "line", 0.85, "date column with a measure over rows"},
		{f.cols == 2 && f.rows >= 1 && f.rows <= 10, "bar", 0.7, "two columns with few rows"},
		{len(f.numericCols) >= 2 && f.rows >= 5, "scatter", 0.65, "two numeric columns"},
		{len(f.numericCols) > 0 && f.rows >= 10, "histogram", 0.6, "numeric column with many rows"},
		{f.cols == 2 && f.rows >= 2 && f.rows <= 10, "pie", 0.55, "small categorical breakdown"},
		{hierarchicalCats(f), "treemap", 0.6, "nested categorical columns"},
	}

	for _, r := range rules {
		if r.ok && r.score > score {
			kind, score, reason = r.kind, r.score, r.reason
		}
	}
	return
}

// hierarchicalCats reports two categorical columns whose unique counts
// differ by at least 2x, suggesting nesting.
func hierarchicalCats(f resultFeatures) bool {
	if len(f.catCols) < 2 {
		return false
	}
	a := f.catUniques[f.catCols[0]]
	b := f.catUniques[f.catCols[1]]
	if a == 0 || b == 0 {
		return false
	}
	if a < b {
		a, b = b, a
	}
	return a >= 2*b
}

// pickAxes fills the encoding channels for the chosen kind.
func pickAxes(kind string, f resultFeatures) map[string]string {
	firstCatOrDate := ""
	switch {
	case len(f.dateCols) > 0:
		firstCatOrDate = f.dateCols[0]
	case len(f.catCols) > 0:
		firstCatOrDate = f.catCols[0]
	case len(f.textCols) > 0:
		firstCatOrDate = f.textCols[0]
	}
	firstNumeric := ""
	if len(f.numericCols) > 0 {
		firstNumeric = f.numericCols[0]
	}

	enc := map[string]string{}
	switch kind {
	case "bar", "line", "area", "box":
		if firstCatOrDate != "" {
			enc["x"] = firstCatOrDate
		}
		if firstNumeric != "" {
			enc["y"] = firstNumeric
		}
	case "pie", "treemap", "sunburst":
		if firstCatOrDate != "" {
			enc["label"] = firstCatOrDate
		}
		if firstNumeric != "" {
			enc["value"] = firstNumeric
		}
	case "scatter", "heatmap":
		if len(f.numericCols) >= 2 {
			enc["x"] = f.numericCols[0]
			enc["y"] = f.numericCols[1]
		}
	case "histogram":
		if firstNumeric != "" {
			enc["x"] = firstNumeric
		}
	}
	if len(enc) == 0 {
		return nil
	}
	return enc
}
