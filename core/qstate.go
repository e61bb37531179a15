package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/qbloq/askdb/core/internal/schema"
)

// Request modes.
const (
	ModeRoute       = "route"
	ModeCoordinate  = "coordinate"
	ModeCollaborate = "collaborate"
)

// Request is one natural-language query request.
type Request struct {
	Utterance string         `json:"utterance"`
	BackendID string         `json:"backend_id,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	Options   RequestOptions `json:"options"`
}

// RequestOptions tune one request.
type RequestOptions struct {
	MaxRows           int  `json:"max_rows,omitempty"`
	SkipCache         bool `json:"skip_cache,omitempty"`
	SkipVisualization bool `json:"skip_visualization,omitempty"`
}

// Envelope statuses.
const (
	StatusSuccess  = "success"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// EnvelopeError is one entry of the envelope's errors list, carrying a
// stable taxonomy kind.
type EnvelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope is the uniform response object. It is always well-formed;
// the orchestrator never raises to the caller.
type Envelope struct {
	Status        string                    `json:"status"`
	SQL           string                    `json:"sql,omitempty"`
	Parameters    map[string]any            `json:"parameters,omitempty"`
	Result        *ResultSet                `json:"result,omitempty"`
	Results       map[string]*BackendResult `json:"results,omitempty"`
	Visualization *ChartSpec                `json:"visualization,omitempty"`
	Intent        *Intent                   `json:"intent,omitempty"`
	Entities      []Entity                  `json:"entities,omitempty"`
	Data          any                       `json:"data,omitempty"`
	Note          string                    `json:"note,omitempty"`
	Errors        []EnvelopeError           `json:"errors,omitempty"`

	RequestID string `json:"request_id"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Dialect   string `json:"dialect,omitempty"`
}

func (env *Envelope) addError(kind, format string, args ...any) {
	env.Errors = append(env.Errors, EnvelopeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	})
}

// crossBackendPhrases trigger fan-out across every enabled backend.
var crossBackendPhrases = []string{
	"across databases", "across all databases",
	"all databases", "every database",
}

// qstate is the per-request pipeline state. It is created per request
// and discarded with the response.
type qstate struct {
	e   *engine
	req Request
	env *Envelope

	start    time.Time
	backend  Backend
	snap     *schema.Snapshot
	merged   map[string]*schema.Snapshot
	intent   *Intent
	entities []Entity
	art      *SqlArtifact
	fanout   bool
}

func newQState(e *engine, req Request) *qstate {
	if req.Mode == "" {
		req.Mode = ModeCoordinate
	}
	if req.BackendID == "" {
		req.BackendID = e.defaultBackend
	}
	return &qstate{
		e:     e,
		req:   req,
		start: time.Now(),
		env:   &Envelope{Status: StatusSuccess, RequestID: xid.New().String()},
	}
}

// run drives the state machine to a terminal envelope. Panics in any
// stage are converted to a status=error envelope; run never raises.
func (s *qstate) run(ctx context.Context) (env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.e.log.Errorf("request %s panicked: %v", s.env.RequestID, r)
			env = &Envelope{
				Status:    StatusError,
				RequestID: s.env.RequestID,
				Errors: []EnvelopeError{{
					Kind:    "ExecutionError.Other",
					Message: fmt.Sprintf("internal error: %v", r),
				}},
			}
			env.ElapsedMS = time.Since(s.start).Milliseconds()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.e.conf.RequestTimeout)
	defer cancel()

	s.fanout = s.fanout || wantsCrossBackend(s.req.Utterance)

	s.stageParseAndSchema(ctx)
	if s.env.Status == StatusError {
		return s.finish()
	}

	if s.req.Mode == ModeRoute && s.intent != nil && s.intent.Name == IntentSchemaInfo {
		s.env.Data = s.schemaData()
		return s.finish()
	}

	s.stageSynthesize(ctx)
	if !s.stageGate(ctx) {
		return s.finish()
	}
	s.stageExecute(ctx)
	s.stageVisualize()

	return s.finish()
}

func (s *qstate) finish() *Envelope {
	s.env.ElapsedMS = time.Since(s.start).Milliseconds()
	s.env.Intent = s.intent
	s.env.Entities = s.entities
	if s.art != nil {
		s.env.SQL = s.art.Text
		s.env.Parameters = s.art.Params
		s.env.Dialect = s.art.Dialect
		if s.env.Note == "" && len(s.art.Notes) > 0 {
			s.env.Note = strings.Join(s.art.Notes, "; ")
		}
	}
	return s.env
}

// stageParseAndSchema runs PARSE and SCHEMA concurrently. Intent
// failures recover to the default intent; a missing backend is the one
// fatal outcome.
func (s *qstate) stageParseAndSchema(ctx context.Context) {
	c1, span := s.e.spanStart(ctx, "Parse And Schema")
	defer span.End()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverToLog(s.e, "parse")

		c2, cancel := context.WithTimeout(c1, s.e.conf.LLMTimeout)
		defer cancel()

		s.intent = s.e.classifyIntent(c2, s.req.Utterance, "")
		if s.intent == nil {
			// IntentError recovery
			s.intent = &Intent{Name: IntentQueryData, Confidence: 0.5}
		}
		s.entities = s.e.extractEntities(c2, s.req.Utterance, "")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverToLog(s.e, "schema")

		c2, cancel := context.WithTimeout(c1, s.e.conf.SchemaTimeout)
		defer cancel()

		if s.fanout {
			s.merged = s.e.schemas.Merged(c2, s.e.registry.ids())
			return
		}

		backend, ok := s.e.registry.get(s.req.BackendID)
		if !ok {
			s.env.Status = StatusError
			s.env.addError("SchemaError",
				"backend %s is not registered", s.req.BackendID)
			return
		}
		s.backend = backend

		snap, err := s.e.schemas.Get(c2, s.req.BackendID)
		if err != nil {
			s.e.log.Warnf("schema refresh for %s failed: %s", s.req.BackendID, err)
			s.snap = &schema.Snapshot{BackendID: s.req.BackendID}
			return
		}
		s.snap = snap

		// empty single-backend schema falls back to the merged view so
		// synthesis still has something to work with
		if snap.Empty() {
			merged := s.e.schemas.Merged(c2, s.e.registry.ids())
			total := 0
			for _, m := range merged {
				total += len(m.Tables)
			}
			if total > 0 {
				s.merged = merged
			}
		}
	}()

	wg.Wait()
}

func (s *qstate) schemaData() any {
	if s.merged != nil {
		return s.merged
	}
	return s.snap
}

// stageSynthesize produces the artifact. In collaborate mode several
// candidates are generated and the most confident one wins.
func (s *qstate) stageSynthesize(ctx context.Context) {
	c1, span := s.e.spanStart(ctx, "Synthesize SQL")
	defer span.End()

	c2, cancel := context.WithTimeout(c1, s.e.conf.LLMTimeout)
	defer cancel()

	dialectName := s.backend.Dialect
	if s.fanout {
		dialectName = s.e.fanoutDialect()
	}

	in := synthInput{
		utterance:   s.req.Utterance,
		snap:        s.snap,
		merged:      s.merged,
		intent:      s.intent,
		entities:    s.entities,
		dialectName: dialectName,
		maxRows:     s.maxRows(),
	}

	candidates := 1
	if s.req.Mode == ModeCollaborate {
		candidates = collaborateCandidates
	}

	var best *SqlArtifact
	for i := 0; i < candidates; i++ {
		art := s.e.synthesize(c2, in)
		if best == nil || art.Confidence > best.Confidence {
			best = art
		}
	}
	s.art = best

	if s.art.Text == "" {
		// SqlGenerationError recovery
		s.art = sentinelArtifact(dialectName, sentinelNote, 0.1)
	}
	s.e.log.Debugf("request %s generated sql:\n%s",
		s.env.RequestID, prettify(s.art.Text))
	if len(s.art.Notes) > 0 && s.isSentinel() {
		s.env.Note = strings.Join(s.art.Notes, "; ")
	}
}

// collaborateCandidates is the candidate count for collaborate mode.
// The design leaves room for N; one candidate is generated today.
const collaborateCandidates = 1

func (s *qstate) isSentinel() bool {
	return strings.HasPrefix(strings.ToLower(normalizeSQL(s.art.Text)), "select 1 as result")
}

// stageGate runs the safety gate; a rejection degrades the request and
// the SQL is returned without execution.
func (s *qstate) stageGate(ctx context.Context) bool {
	_, span := s.e.spanStart(ctx, "Safety Gate")
	defer span.End()

	readOnly := s.backend.ReadOnly && !s.fanout
	outcome := gateCheck(s.art, readOnly, s.e.conf.AllowMutations)
	if outcome.OK {
		return true
	}

	s.env.Status = StatusDegraded
	s.env.addError("SafetyRejection", "%s", outcome.Reason)
	return false
}

// stageExecute runs the artifact, fanning out when the utterance asked
// for every database.
func (s *qstate) stageExecute(ctx context.Context) {
	if s.fanout {
		s.env.Results = s.e.executeAll(ctx, s.art, s.req.Options.SkipCache, s.maxRows())
		return
	}

	rs, execErr := s.e.execute(ctx, s.req.BackendID, s.art, s.req.Options.SkipCache, s.maxRows())
	if execErr != nil {
		if execErr.Kind == ErrKindNotFound && !s.backendKnown() {
			s.env.Status = StatusError
		} else {
			s.env.Status = StatusDegraded
		}
		s.env.addError("ExecutionError."+string(execErr.Kind), "%s", execErr.Message)
		return
	}
	s.env.Result = rs
}

func (s *qstate) backendKnown() bool {
	_, ok := s.e.registry.get(s.req.BackendID)
	return ok
}

// stageVisualize attaches a chart suggestion when there is a single
// result to inspect.
func (s *qstate) stageVisualize() {
	if s.req.Options.SkipVisualization || s.env.Result == nil {
		return
	}
	s.env.Visualization = chooseChart(s.env.Result, s.intent, s.req.Utterance)
}

func (s *qstate) maxRows() int {
	if s.req.Options.MaxRows > 0 && s.req.Options.MaxRows < s.e.conf.MaxRows {
		return s.req.Options.MaxRows
	}
	return s.e.conf.MaxRows
}

func wantsCrossBackend(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, p := range crossBackendPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func recoverToLog(e *engine, stage string) {
	if r := recover(); r != nil {
		e.log.Errorf("stage %s panicked: %v", stage, r)
	}
}
