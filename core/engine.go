package core

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/qbloq/askdb/core/internal/dialect"
	"github.com/qbloq/askdb/core/internal/llm"
	"github.com/qbloq/askdb/core/internal/schema"
)

// engine holds everything one request needs: the registry, the two
// caches, the LLM gateway and the tracer. It is swapped wholesale on
// reload; requests in flight keep the engine they started with.
type engine struct {
	conf     *Config
	log      *zap.SugaredLogger
	trace    Tracer
	registry *registry
	schemas  *schema.Cache
	results  *resultCache
	llm      *llm.Gateway

	defaultBackend string
	dbConfigs      map[string]DatabaseConfig
	pools          map[string]*sql.DB
	ownedPools     []*sql.DB
	remoteCache    ResultCacheProvider
	extProvider    CompletionProvider
	opts           []Option
	done           chan bool
}

func newEngine(conf *Config, options ...Option) (*engine, error) {
	if conf == nil {
		conf = &Config{Debug: true}
	}

	e := &engine{
		conf:  conf,
		trace: &tracer{},
		pools: map[string]*sql.DB{},
		opts:  options,
	}

	// ordering of these initializers matters, do not re-order!

	if err := e.initLog(); err != nil {
		return nil, err
	}
	if err := e.initConfig(); err != nil {
		return nil, err
	}
	for _, op := range options {
		if err := op(e); err != nil {
			return nil, err
		}
	}
	if err := e.initTrace(); err != nil {
		return nil, err
	}
	if err := e.initRegistry(); err != nil {
		return nil, err
	}
	if err := e.initLLM(); err != nil {
		return nil, err
	}
	if err := e.initCaches(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *engine) initLog() error {
	if e.log != nil {
		return nil
	}
	var (
		zl  *zap.Logger
		err error
	)
	if e.conf != nil && e.conf.Debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	e.log = zl.Sugar()
	return nil
}

func (e *engine) initConfig() error {
	e.conf.setDefaults()
	if err := e.conf.NormalizeDatabases(); err != nil {
		return err
	}

	e.dbConfigs = make(map[string]DatabaseConfig, len(e.conf.Databases))
	for _, d := range e.conf.Databases {
		e.dbConfigs[d.Name] = d
	}

	e.defaultBackend = DefaultBackendID
	if _, ok := e.dbConfigs[DefaultBackendID]; !ok {
		for _, d := range e.conf.Databases {
			if d.IsEnabled() {
				e.defaultBackend = d.Name
				break
			}
		}
	}
	return nil
}

func (e *engine) initTrace() error {
	if e.conf.EnableTracing {
		if _, isNoop := e.trace.(*tracer); isNoop {
			e.trace = NewOtelTracer()
		}
	}
	return nil
}

func (e *engine) initRegistry() error {
	e.registry = newRegistry()
	for _, d := range e.conf.Databases {
		db := e.pools[d.Name]
		if db == nil && d.IsEnabled() {
			e.log.Warnf("backend %s registered without a connection pool", d.Name)
		}
		b := Backend{
			ID:          d.Name,
			DisplayName: d.DisplayName,
			Dialect:     d.Type,
			Enabled:     d.IsEnabled(),
			ReadOnly:    d.ReadOnly,
		}
		if err := e.registry.add(b, db); err != nil {
			return err
		}
	}
	return nil
}

// initLLM builds the gateway: an injected provider wins, then the
// configured primary plus optional fallback, then whatever the
// environment keys allow. No credentials at all leaves the gateway nil
// and the pipeline on its deterministic fallbacks.
func (e *engine) initLLM() error {
	if e.extProvider != nil {
		gw, err := llm.NewGateway(e.log, &providerAdapter{p: e.extProvider})
		if err != nil {
			return err
		}
		e.llm = gw
		return nil
	}

	var providers []llm.Provider
	add := func(conf *LLMConfig) {
		if conf == nil {
			return
		}
		p, err := buildProvider(conf)
		if err != nil {
			e.log.Warnf("llm provider %s not configured: %s", conf.Provider, err)
			return
		}
		providers = append(providers, p)
	}

	add(&e.conf.LLM)
	add(e.conf.LLM.Fallback)

	if len(providers) == 0 {
		// fall back to bare environment credentials
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			if p, err := llm.NewOpenAI(llm.OpenAIConfig{APIKey: key}); err == nil {
				providers = append(providers, p)
			}
		}
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			if p, err := llm.NewGemini(llm.GeminiConfig{APIKey: key}); err == nil {
				providers = append(providers, p)
			}
		}
	}

	if len(providers) == 0 {
		e.log.Warnf("no llm provider configured; falling back to keyword intent and sentinel sql")
		return nil
	}

	gw, err := llm.NewGateway(e.log, providers...)
	if err != nil {
		return err
	}
	e.llm = gw
	e.log.Infof("llm gateway ready, primary provider %s", gw.Primary())
	return nil
}

func buildProvider(conf *LLMConfig) (llm.Provider, error) {
	key := conf.APIKey
	switch conf.Provider {
	case "openai", "":
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey: key, Model: conf.Model, BaseURL: conf.BaseURL,
		})
	case "gemini":
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		return llm.NewGemini(llm.GeminiConfig{
			APIKey: key, Model: conf.Model, BaseURL: conf.BaseURL,
		})
	}
	return nil, fmt.Errorf("unknown provider %q", conf.Provider)
}

func (e *engine) initCaches() error {
	sc, err := schema.NewCache(e.conf.SchemaTTL, e.fetchSnapshot, e.log)
	if err != nil {
		return err
	}
	e.schemas = sc
	for _, d := range e.conf.Databases {
		if d.SchemaTTL > 0 {
			e.schemas.SetTTL(d.Name, d.SchemaTTL)
		}
	}

	rc, err := newResultCache(e.conf.ResultCacheSize, e.conf.ResultCacheTTL, e.remoteCache, e.log)
	if err != nil {
		return err
	}
	e.results = rc
	return nil
}

// fetchSnapshot is the schema cache's fetch function: it introspects
// one backend through its pool with the schema refresh deadline.
func (e *engine) fetchSnapshot(ctx context.Context, backendID string) (*schema.Snapshot, error) {
	backend, ok := e.registry.get(backendID)
	if !ok {
		return nil, fmt.Errorf("backend %s is not registered", backendID)
	}
	db, ok := e.registry.pool(backendID)
	if !ok {
		return nil, fmt.Errorf("backend %s has no connection pool", backendID)
	}

	c1, cancel := context.WithTimeout(ctx, e.conf.SchemaTimeout)
	defer cancel()

	c1, span := e.spanStart(c1, "Introspect Schema")
	defer span.End()
	span.SetAttributesString(StringAttr{Name: "backend", Value: backendID})

	ttl := e.conf.SchemaTTL
	schemaName := ""
	if d, ok := e.dbConfigs[backendID]; ok {
		schemaName = d.Schema
		if d.SchemaTTL > 0 {
			ttl = d.SchemaTTL
		}
	}

	snap, err := schema.Introspect(c1, db, backend.Dialect, backendID, schemaName, ttl)
	if err != nil {
		span.Error(err)
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		e.log.Warnf("schema for %s failed validation: %s", backendID, err)
	}
	return snap, nil
}

// fanoutDialect picks the dialect used to synthesize cross-backend
// SQL: the default backend's when registered, otherwise unknown.
func (e *engine) fanoutDialect() string {
	if b, ok := e.registry.get(e.defaultBackend); ok {
		return b.Dialect
	}
	return dialect.Unknown
}

func (e *engine) spanStart(c context.Context, name string) (context.Context, Spaner) {
	return e.trace.Start(c, name)
}

// consolidate writes every enabled backend's snapshot into the default
// backend's metadata tables.
func (e *engine) consolidate(ctx context.Context) error {
	db, ok := e.registry.pool(e.defaultBackend)
	if !ok {
		return fmt.Errorf("default backend %s has no connection pool", e.defaultBackend)
	}
	defBackend, _ := e.registry.get(e.defaultBackend)

	ids := e.registry.ids()
	snaps := e.schemas.Merged(ctx, ids)

	metas := make([]schema.BackendMeta, 0, len(ids))
	for _, id := range ids {
		b, _ := e.registry.get(id)
		metas = append(metas, schema.BackendMeta{
			ID:          b.ID,
			DisplayName: b.DisplayName,
			Dialect:     b.Dialect,
		})
	}
	return schema.Consolidate(ctx, db, defBackend.Dialect, metas, snaps)
}

// providerAdapter bridges the public CompletionProvider seam onto the
// internal gateway provider interface.
type providerAdapter struct {
	p CompletionProvider
}

func (pa *providerAdapter) Name() string { return pa.p.Name() }

func (pa *providerAdapter) Complete(ctx context.Context, req llm.Request) (string, error) {
	return pa.p.Complete(ctx, req.System, req.User, req.MaxTokens, req.Temperature)
}

func renderPrompt(snap *schema.Snapshot) string {
	return schema.RenderForPrompt(snap)
}

// close releases engine-owned resources. Pools passed in by the caller
// stay open; pools the engine opened itself are closed.
func (e *engine) close() error {
	err := e.results.close()
	for _, db := range e.ownedPools {
		db.Close() //nolint:errcheck
	}
	return err
}
