package serv

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbloq/askdb/core"
	"github.com/qbloq/askdb/serv/internal/util"
)

var version string

const (
	serverName = "AskDB"
	defaultHP  = "0.0.0.0:8080"
)

const (
	servStarted int32 = iota
	servListening
)

// HttpService is the public service handle. The inner service value is
// swapped atomically on config reload; requests in flight finish on the
// service they started with.
type HttpService struct {
	atomic.Value
}

// Option is a function type that can be used to configure the service
type Option func(*askdbService) error

type askdbService struct {
	conf       *Config
	log        *zap.SugaredLogger
	zlog       *zap.Logger
	logLevel   int
	adb        *core.AskDB
	dbs        map[string]*sql.DB
	cache      core.ResultCacheProvider
	engineOpts []core.Option
	srv        *http.Server
	closeFn    func()
	state      int32
}

// NewAskDBService a new AskDB service: opens the database pools, wires
// the result cache backend and builds the query engine.
func NewAskDBService(conf *Config, options ...Option) (*HttpService, error) {
	s, err := newAskDBService(conf, options...)
	if err != nil {
		return nil, err
	}

	s1 := &HttpService{}
	s1.Store(s)

	initConfigWatcher(s1)
	return s1, nil
}

func newAskDBService(conf *Config, options ...Option) (*askdbService, error) {
	var err error

	s := &askdbService{
		conf:  conf,
		dbs:   map[string]*sql.DB{},
		state: servStarted,
	}

	// ordering of these initializers matters, do not re-order!
	if err = s.initConfig(); err != nil {
		return nil, err
	}

	s.initLog()
	initLogLevel(s)

	for _, op := range options {
		if err = op(s); err != nil {
			return nil, err
		}
	}

	if err = s.initDBs(); err != nil {
		return nil, err
	}

	s.initResultCache()

	if err = s.initEngine(); err != nil {
		return nil, err
	}

	return s, nil
}

// OptionSetZapLogger replaces the default logger
func OptionSetZapLogger(zlog *zap.Logger) Option {
	return func(s *askdbService) error {
		s.zlog = zlog
		s.log = zlog.Sugar()
		return nil
	}
}

// OptionSetPool attaches a pre-built connection pool for the named
// backend, skipping the connection setup for it
func OptionSetPool(backendID string, db *sql.DB) Option {
	return func(s *askdbService) error {
		s.dbs[backendID] = db
		return nil
	}
}

// OptionSetResultCache plugs in a shared result cache backend
func OptionSetResultCache(p core.ResultCacheProvider) Option {
	return func(s *askdbService) error {
		s.cache = p
		return nil
	}
}

// OptionSetEngineOptions passes extra options through to the engine
func OptionSetEngineOptions(options ...core.Option) Option {
	return func(s *askdbService) error {
		s.engineOpts = append(s.engineOpts, options...)
		return nil
	}
}

// Engine returns the underlying query engine handle
func (s1 *HttpService) Engine() *core.AskDB {
	return s1.Load().(*askdbService).adb
}

// Start starts the HTTP service
func (s1 *HttpService) Start() error {
	startHTTP(s1)
	return nil
}

// Attach attaches the service routes to the router at the given path
func (s1 *HttpService) Attach(mux Mux) error {
	_, err := routesHandler(s1, mux)
	return err
}

func (s *askdbService) initLog() {
	if s.zlog != nil {
		return
	}
	s.zlog = util.NewLogger(s.conf.ShouldUseJSONLogs(), s.conf.LogLevel)
	s.log = s.zlog.Sugar()
}

// Initialize the watcher for the askdb config file
func initConfigWatcher(s1 *HttpService) {
	s := s1.Load().(*askdbService)
	if s.conf.Core.Production || !s.conf.WatchAndReload {
		return
	}

	go func() {
		err := startConfigWatcher(s1)
		if err != nil {
			s.log.Fatalf("error in config file watcher: %s", err)
		}
	}()
}

// Start the HTTP server
func startHTTP(s1 *HttpService) {
	s := s1.Load().(*askdbService)

	r := chi.NewRouter()
	routes, err := routesHandler(s1, r)
	if err != nil {
		s.log.Fatalf("error setting up routes: %s", err)
	}

	s.srv = &http.Server{
		Addr:              s.conf.hostPort,
		Handler:           routes,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.srv.Shutdown(ctx); err != nil {
			s.log.Warn("shutdown signal received")
		}
		close(idleConnsClosed)
	}()

	s.srv.RegisterOnShutdown(func() {
		// the service value may have been swapped by a config reload
		cur := s1.Load().(*askdbService)

		if cur.closeFn != nil {
			cur.closeFn()
		}
		if cur.adb != nil {
			cur.adb.Close() //nolint:errcheck
		}
		if cur.cache != nil {
			cur.cache.Close() //nolint:errcheck
		}
		for name, db := range cur.dbs {
			if db != nil {
				db.Close() //nolint:errcheck
				cur.log.Infof("closed database connection: %s", name)
			}
		}
		cur.log.Info("shutdown complete")
	})

	ver := version
	if ver == "" {
		ver = "not-set"
	}

	fields := []zapcore.Field{
		zap.String("version", ver),
		zap.String("host-port", s.conf.hostPort),
		zap.String("app-name", s.conf.AppName),
		zap.String("env", os.Getenv("GO_ENV")),
		zap.Bool("production", s.conf.Core.Production),
		zap.Int("databases", len(s.conf.Databases)),
		zap.String("mcp-mode", mcpMode(s)),
	}

	s.zlog.Info("AskDB started", fields...)
	printDevModeInfo(s)

	l, err := net.Listen("tcp", s.conf.hostPort)
	if err != nil {
		s.log.Fatalf("failed to init port: %s", err)
	}

	// signal we are open for business.
	atomic.StoreInt32(&s.state, servListening)

	if err := s.srv.Serve(l); err != http.ErrServerClosed {
		s.log.Fatalf("failed to start: %s", err)
	}
	<-idleConnsClosed
}

// printDevModeInfo prints useful development information on startup
func printDevModeInfo(s *askdbService) {
	if s.conf.Core.Production {
		return
	}

	// Convert 0.0.0.0 to localhost for display
	hostPort := s.conf.hostPort
	displayHost := hostPort
	if strings.HasPrefix(hostPort, "0.0.0.0:") {
		displayHost = "localhost" + hostPort[7:]
	}

	fmt.Println()
	fmt.Println("Development Server URLs")
	fmt.Println("───────────────────────")

	if !s.conf.MCP.Only {
		fmt.Printf("  Query API:   http://%s/api/v1/query\n", displayHost)
		fmt.Printf("  Databases:   http://%s/api/v1/databases\n", displayHost)
	}
	if !s.conf.MCP.Disable {
		fmt.Printf("  MCP:         http://%s/api/v1/mcp\n", displayHost)
	}
	fmt.Printf("  Health:      http://%s/health\n", displayHost)
	fmt.Println()
}

// mcpMode returns a short string describing the MCP server mode
func mcpMode(s *askdbService) string {
	if s.conf.MCP.Disable {
		return "disabled"
	}
	if s.conf.MCP.Only {
		return "mcp-only"
	}
	return "enabled"
}
