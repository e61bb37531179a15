package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobuffalo/flect"

	"github.com/qbloq/askdb/core/internal/dialect"
	"github.com/qbloq/askdb/core/internal/llm"
	"github.com/qbloq/askdb/core/internal/schema"
)

// SqlArtifact is a generated statement ready for the safety gate.
// Text holds exactly one statement; every :name placeholder has a key
// in Params and vice versa.
type SqlArtifact struct {
	Dialect    string         `json:"dialect"`
	Text       string         `json:"sql"`
	Params     map[string]any `json:"parameters,omitempty"`
	Confidence float64        `json:"confidence"`
	Notes      []string       `json:"notes,omitempty"`
}

// synthInput carries everything the synthesizer needs for one request.
type synthInput struct {
	utterance   string
	snap        *schema.Snapshot
	merged      map[string]*schema.Snapshot
	intent      *Intent
	entities    []Entity
	dialectName string
	maxRows     int
}

const sentinelNote = "could not determine a table for this question; please name the table to query"

// sentinelArtifact is the minimal fallback statement for the dialect.
func sentinelArtifact(dialectName, note string, confidence float64) *SqlArtifact {
	d := dialect.Get(dialectName)
	art := &SqlArtifact{
		Dialect:    dialectName,
		Text:       d.SentinelSQL(),
		Params:     map[string]any{},
		Confidence: confidence,
	}
	if note != "" {
		art.Notes = append(art.Notes, note)
	}
	return art
}

var ambiguousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(show|top|first|give me|fetch|get)\b.*\brows?\b`),
	regexp.MustCompile(`(?i)^show (me )?(the |some )?data\b`),
	regexp.MustCompile(`(?i)^what('s| is) in (the |my )?database\b`),
	regexp.MustCompile(`(?i)^sample\b`),
}

// domain keywords tried in order when the utterance names no table.
var defaultTableKeywords = []string{
	"users", "customers", "orders", "products", "transactions", "data",
}

// synthesize generates a SqlArtifact for the request. It never errors:
// when generation cannot produce anything useful it returns the
// sentinel artifact with an explanatory note.
func (e *engine) synthesize(ctx context.Context, in synthInput) *SqlArtifact {
	schemaPrompt, empty := renderSchemaContext(in)
	if empty {
		return sentinelArtifact(in.dialectName, sentinelNote, 0.2)
	}
	if e.llm == nil {
		return sentinelArtifact(in.dialectName,
			"no language model configured; cannot generate SQL", 0.1)
	}

	hint := e.tableHint(in)
	system := synthSystemPrompt(in.dialectName, in.maxRows, in.merged != nil)
	user := synthUserPrompt(schemaPrompt, in, hint)

	raw, err := e.llm.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		MaxTokens:   1024,
		Temperature: e.conf.LLM.Temperature,
	})
	if err != nil {
		e.log.Warnf("sql generation failed: %s", err)
		return sentinelArtifact(in.dialectName,
			fmt.Sprintf("sql generation unavailable: %s", err), 0.1)
	}

	text := llm.StripSQL(raw)
	if text == "" {
		return sentinelArtifact(in.dialectName, sentinelNote, 0.1)
	}

	art := &SqlArtifact{
		Dialect:    in.dialectName,
		Text:       text,
		Params:     bindParams(text, in.entities),
		Confidence: 0.8,
	}
	if hint != "" {
		art.Notes = append(art.Notes, fmt.Sprintf("assumed table %s", hint))
	}

	e.selfValidate(ctx, art, in, schemaPrompt)
	return art
}

// renderSchemaContext formats the schema fragment for the prompt and
// reports whether there is any schema at all.
func renderSchemaContext(in synthInput) (prompt string, empty bool) {
	if in.merged != nil {
		prompt = schema.RenderMergedForPrompt(in.merged)
		total := 0
		for _, s := range in.merged {
			total += len(s.Tables)
		}
		return prompt, total == 0
	}
	if in.snap.Empty() {
		return "", true
	}
	return schema.RenderForPrompt(in.snap), false
}

// tableHint resolves a default table when the utterance is ambiguous
// and names no table: domain-keyword match first, then the first table
// in the snapshot.
func (e *engine) tableHint(in synthInput) string {
	for _, ent := range in.entities {
		if ent.Kind == EntityTable && ent.Name != "" {
			return ""
		}
	}

	snap := in.snap
	if snap == nil && in.merged != nil {
		snap = schema.Merge(in.merged)
	}
	if snap.Empty() {
		return ""
	}

	lower := strings.ToLower(in.utterance)
	for _, name := range snap.TableNames() {
		if strings.Contains(lower, strings.ToLower(name)) {
			return ""
		}
	}

	ambiguous := false
	for _, re := range ambiguousPatterns {
		if re.MatchString(in.utterance) {
			ambiguous = true
			break
		}
	}
	if !ambiguous {
		return ""
	}

	for _, kw := range defaultTableKeywords {
		sing := flect.Singularize(kw)
		for _, name := range snap.TableNames() {
			ln := strings.ToLower(name)
			if strings.Contains(ln, kw) || strings.Contains(ln, sing) {
				return name
			}
		}
	}
	return snap.Tables[0].Name
}

func synthSystemPrompt(dialectName string, maxRows int, crossBackend bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write %s SQL for the schema provided.\n", dialectName)
	b.WriteString("Rules:\n")
	b.WriteString("- Return ONLY the SQL statement. No explanation, no code fences.\n")
	b.WriteString("- Exactly one statement. Never emit DDL or mutations.\n")
	b.WriteString("- Never use template placeholders like <table> or {column}.\n")
	b.WriteString("- Prefer explicit column lists over SELECT *.\n")
	b.WriteString("- Use foreign keys in the schema to decide joins.\n")
	b.WriteString("- Parameterize literal comparison values as :p0, :p1, ... in the order given.\n")
	if maxRows > 0 {
		fmt.Fprintf(&b, "- Unless the question asks otherwise, limit results to %d rows.\n", maxRows)
	}
	if crossBackend {
		b.WriteString("- The statement must run unchanged on each database; reference tables without the backend prefix.\n")
	}
	return b.String()
}

func synthUserPrompt(schemaPrompt string, in synthInput, hint string) string {
	var b strings.Builder
	b.WriteString("Schema:\n")
	b.WriteString(schemaPrompt)
	b.WriteString("\n")

	if in.intent != nil {
		fmt.Fprintf(&b, "Intent: %s\n", in.intent.Name)
	}
	if filters := filterEntities(in.entities); len(filters) > 0 {
		b.WriteString("Filter values, in parameter order:\n")
		for i, f := range filters {
			fmt.Fprintf(&b, "  :p%d = %v (column %s, op %s)\n", i, f.Value, f.Column, f.Op)
		}
	}
	if hint != "" {
		fmt.Fprintf(&b, "If the question names no table, use table %s.\n", hint)
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", in.utterance)
	return b.String()
}

func filterEntities(entities []Entity) []Entity {
	var out []Entity
	for _, e := range entities {
		if e.Kind == EntityFilter && e.Value != nil {
			out = append(out, e)
		}
	}
	return out
}

// bindParams builds the parameter map for the placeholders actually
// present in the SQL: positional p0/p1/... names map to filter values
// in order, anything else matches a filter by column name.
func bindParams(text string, entities []Entity) map[string]any {
	names := scanParams(text)
	if len(names) == 0 {
		return map[string]any{}
	}
	filters := filterEntities(entities)

	params := make(map[string]any, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "p") {
			if i, err := strconv.Atoi(name[1:]); err == nil && i >= 0 && i < len(filters) {
				params[name] = filters[i].Value
				continue
			}
		}
		for _, f := range filters {
			if strings.EqualFold(f.Column, name) {
				params[name] = f.Value
				break
			}
		}
	}
	return params
}

type validationVerdict struct {
	IsValid    bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
}

const validateSystemPrompt = `You review a SQL statement against a schema.
Respond with a JSON object: {"is_valid": <bool>, "confidence": <0..1>, "errors": [...], "warnings": [...]}.
Report an error when the statement references tables or columns not in the schema, has syntax problems for the dialect, or does not answer the question.`

// selfValidate asks the model to review the generated SQL; on an
// invalid verdict it requests one repair and re-validates. The
// (possibly repaired) SQL is kept even when re-validation stays
// unconvinced, with the doubts recorded in Notes.
func (e *engine) selfValidate(ctx context.Context, art *SqlArtifact, in synthInput, schemaPrompt string) {
	verdict, err := e.validateSQL(ctx, art.Text, in, schemaPrompt)
	if err != nil {
		// validation is advisory; generation output stands
		return
	}
	if verdict.IsValid {
		if verdict.Confidence > 0 {
			art.Confidence = verdict.Confidence
		}
		return
	}

	repaired, err := e.repairSQL(ctx, art.Text, verdict.Errors, in, schemaPrompt)
	if err != nil || repaired == "" {
		art.Confidence = 0.3
		art.Notes = append(art.Notes, "validation reported issues: "+strings.Join(verdict.Errors, "; "))
		return
	}

	art.Text = repaired
	art.Params = bindParams(repaired, in.entities)

	second, err := e.validateSQL(ctx, repaired, in, schemaPrompt)
	switch {
	case err != nil:
		art.Confidence = 0.5
	case second.IsValid:
		art.Confidence = second.Confidence
		if art.Confidence == 0 {
			art.Confidence = 0.7
		}
	default:
		art.Confidence = 0.3
		art.Notes = append(art.Notes, "repaired SQL still failed validation: "+strings.Join(second.Errors, "; "))
	}
}

func (e *engine) validateSQL(ctx context.Context, text string, in synthInput, schemaPrompt string) (*validationVerdict, error) {
	user := fmt.Sprintf("Dialect: %s\nSchema:\n%s\nQuestion: %s\n\nSQL:\n%s",
		in.dialectName, schemaPrompt, in.utterance, text)

	var verdict validationVerdict
	err := e.llm.CompleteJSON(ctx, llm.Request{
		System:      validateSystemPrompt,
		User:        user,
		MaxTokens:   512,
		Temperature: 0,
	}, &verdict)
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

func (e *engine) repairSQL(ctx context.Context, text string, errs []string, in synthInput, schemaPrompt string) (string, error) {
	user := fmt.Sprintf(
		"Dialect: %s\nSchema:\n%s\nQuestion: %s\n\nThis SQL has problems:\n%s\n\nProblems:\n- %s\n\nReturn the corrected SQL only.",
		in.dialectName, schemaPrompt, in.utterance, text, strings.Join(errs, "\n- "))

	raw, err := e.llm.Complete(ctx, llm.Request{
		System:      synthSystemPrompt(in.dialectName, in.maxRows, in.merged != nil),
		User:        user,
		MaxTokens:   1024,
		Temperature: e.conf.LLM.Temperature,
	})
	if err != nil {
		return "", err
	}
	return llm.StripSQL(raw), nil
}
