// Package core implements the natural-language query engine: a
// coordinator that turns an utterance into dialect-correct SQL,
// validates it, executes it against one or many configured databases
// and suggests a visualization for the result.
package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"
)

// AskDB is the public engine handle. The inner engine is swapped
// atomically on reload; requests in flight finish on the engine they
// started with.
type AskDB struct {
	atomic.Value
	done chan bool
}

// Option configures the engine at construction time.
type Option func(*engine) error

// New builds the engine: config normalization, backend registry, LLM
// gateway and both caches, then starts the dev-mode schema watcher.
func New(conf *Config, options ...Option) (a *AskDB, err error) {
	a = &AskDB{done: make(chan bool)}
	e, err := newEngine(conf, options...)
	if err != nil {
		return nil, err
	}
	e.done = a.done
	a.Store(e)

	a.initSchemaWatcher()
	return a, nil
}

func (a *AskDB) engine() *engine {
	return a.Load().(*engine)
}

// OptionSetLog sets the logger used across the engine.
func OptionSetLog(log *zap.SugaredLogger) Option {
	return func(e *engine) error {
		e.log = log
		return nil
	}
}

// OptionSetTrace sets the tracer used for stage spans.
func OptionSetTrace(trace Tracer) Option {
	return func(e *engine) error {
		e.trace = trace
		return nil
	}
}

// OptionSetPool attaches an existing connection pool to the named
// backend. The caller keeps ownership and closes it.
func OptionSetPool(backendID string, db *sql.DB) Option {
	return func(e *engine) error {
		e.pools[backendID] = db
		return nil
	}
}

// OptionSetPools attaches pools for many backends at once.
func OptionSetPools(pools map[string]*sql.DB) Option {
	return func(e *engine) error {
		for id, db := range pools {
			e.pools[id] = db
		}
		return nil
	}
}

// OptionSetOwnedPool is like OptionSetPool but transfers ownership:
// the engine closes the pool on Close.
func OptionSetOwnedPool(backendID string, db *sql.DB) Option {
	return func(e *engine) error {
		e.pools[backendID] = db
		e.ownedPools = append(e.ownedPools, db)
		return nil
	}
}

// OptionSetResultCache plugs in a shared remote result cache backend.
func OptionSetResultCache(p ResultCacheProvider) Option {
	return func(e *engine) error {
		e.remoteCache = p
		return nil
	}
}

// CompletionProvider lets embedders supply their own completion
// backend in place of the configured providers. Tests use it for
// deterministic pipelines.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, system, user string, maxTokens int64, temperature float64) (string, error)
}

// OptionSetCompletionProvider overrides the LLM gateway with a custom
// provider.
func OptionSetCompletionProvider(p CompletionProvider) Option {
	return func(e *engine) error {
		e.extProvider = p
		return nil
	}
}

// Query runs the full pipeline for one request and always returns a
// well-formed envelope.
func (a *AskDB) Query(c context.Context, req Request) *Envelope {
	e := a.engine()
	c1, span := e.spanStart(c, "AskDB Query")
	defer span.End()

	qs := newQState(e, req)
	span.SetAttributesString(
		StringAttr{Name: "backend", Value: qs.req.BackendID},
		StringAttr{Name: "mode", Value: qs.req.Mode},
	)
	return qs.run(c1)
}

// QueryAll runs the pipeline with cross-backend fan-out regardless of
// trigger phrases in the utterance.
func (a *AskDB) QueryAll(c context.Context, req Request) *Envelope {
	e := a.engine()
	c1, span := e.spanStart(c, "AskDB Query All")
	defer span.End()

	qs := newQState(e, req)
	qs.fanout = true
	return qs.run(c1)
}

// Databases lists the enabled backends.
func (a *AskDB) Databases() []Backend {
	return a.engine().registry.list(false)
}

// AllDatabases lists every backend, disabled ones included.
func (a *AskDB) AllDatabases() []Backend {
	return a.engine().registry.list(true)
}

// Schema returns one backend's snapshot as JSON, refreshing it if
// stale.
func (a *AskDB) Schema(c context.Context, backendID string) (json.RawMessage, error) {
	snap, err := a.engine().schemas.Get(c, backendID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

// MergedSchema returns the cross-backend schema view as JSON.
func (a *AskDB) MergedSchema(c context.Context) (json.RawMessage, error) {
	e := a.engine()
	snaps := e.schemas.Merged(c, e.registry.ids())
	return json.Marshal(snaps)
}

// SchemaPrompt renders one backend's schema in the compact text form
// used in prompts; the MCP get_schema tool serves it.
func (a *AskDB) SchemaPrompt(c context.Context, backendID string) (string, error) {
	snap, err := a.engine().schemas.Get(c, backendID)
	if err != nil {
		return "", err
	}
	return renderPrompt(snap), nil
}

// ConsolidateSchemas writes every enabled backend's schema into the
// default backend's metadata tables.
func (a *AskDB) ConsolidateSchemas(c context.Context) error {
	return a.engine().consolidate(c)
}

// InvalidateSchema drops one backend's cached snapshot.
func (a *AskDB) InvalidateSchema(backendID string) {
	a.engine().schemas.Invalidate(backendID)
}

// InvalidateResults drops one backend's cached results.
func (a *AskDB) InvalidateResults(backendID string) {
	a.engine().results.invalidate(backendID)
}

// InvalidateAll sweeps both caches for every backend.
func (a *AskDB) InvalidateAll() {
	e := a.engine()
	e.schemas.Purge()
	e.results.purge()
}

// Stats returns connection pool statistics per backend for the admin
// surface.
func (a *AskDB) Stats() map[string]sql.DBStats {
	return a.engine().registry.stats()
}

// Reload rebuilds the engine from its config and swaps it in
// atomically.
func (a *AskDB) Reload() error {
	old := a.engine()
	e, err := newEngine(old.conf, old.opts...)
	if err != nil {
		return err
	}
	e.done = a.done
	a.Store(e)
	old.log.Infof("engine reloaded")
	return nil
}

// Close stops the watcher and releases engine-owned resources.
func (a *AskDB) Close() error {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
	return a.engine().close()
}
