package serv

import (
	"fmt"
	"strings"
	"time"

	"github.com/qbloq/askdb/core"
)

const (
	logLevelNone int = iota
	logLevelInfo
	logLevelWarn
	logLevelError
	logLevelDebug
)

// initLogLevel initializes the log level
func initLogLevel(s *askdbService) {
	switch s.conf.LogLevel {
	case "debug":
		s.logLevel = logLevelDebug
	case "error":
		s.logLevel = logLevelError
	case "warn":
		s.logLevel = logLevelWarn
	case "info":
		s.logLevel = logLevelInfo
	default:
		s.logLevel = logLevelNone
	}
}

// initConfig initializes the configuration
func (s *askdbService) initConfig() error {
	c := s.conf

	if err := c.LoadEnvDatabases(); err != nil {
		return err
	}

	hp := strings.SplitN(c.HostPort, ":", 2)

	if len(hp) == 2 {
		if c.Host != "" {
			hp[0] = c.Host
		}

		if c.Port != "" {
			hp[1] = c.Port
		}

		c.hostPort = fmt.Sprintf("%s:%s", hp[0], hp[1])
	}

	if c.hostPort == "" {
		c.hostPort = defaultHP
	}

	c.Core.Debug = c.Core.Debug || s.conf.LogLevel == "debug"
	return nil
}

// initDBs opens a connection pool for every enabled backend. The
// default backend must come up; secondary backends that fail to connect
// are logged and left for the health check to report.
func (s *askdbService) initDBs() error {
	for i := range s.conf.Databases {
		dc := &s.conf.Databases[i]
		if !dc.IsEnabled() {
			continue
		}
		if _, ok := s.dbs[dc.Name]; ok {
			continue
		}

		if dc.URL == "" {
			s.log.Warnf("database %s: no connection url configured", dc.Name)
			continue
		}

		retry := dc.Name == core.DefaultBackendID
		db, err := newDB(dc, s.conf.AppName, retry, s.log)
		if err != nil {
			if retry {
				return fmt.Errorf("database %s: %w", dc.Name, err)
			}
			s.log.Warnf("database %s unavailable: %s", dc.Name, err)
			continue
		}
		s.dbs[dc.Name] = db
	}
	return nil
}

// initResultCache initializes the shared result cache backend
// (Redis or Memcache). On failure the engine falls back to its
// in-process cache.
func (s *askdbService) initResultCache() {
	if s.cache != nil {
		return
	}

	switch {
	case s.conf.Redis.URL != "":
		cache, err := NewRedisCache(s.conf.Redis.URL)
		if err != nil {
			s.log.Warnf("redis unavailable, falling back to in-memory result cache: %s", err)
			return
		}
		s.cache = cache
		s.log.Info("redis result cache enabled")

	case s.conf.Memcache.Addresses != "":
		cache, err := NewMemcacheCache(s.conf.Memcache.Addresses)
		if err != nil {
			s.log.Warnf("memcache unavailable, falling back to in-memory result cache: %s", err)
			return
		}
		s.cache = cache
		s.log.Info("memcache result cache enabled")
	}
}

// initEngine builds the query engine with the service-owned pools
func (s *askdbService) initEngine() error {
	options := []core.Option{
		core.OptionSetLog(s.log),
		core.OptionSetPools(s.dbs),
	}
	if s.cache != nil {
		options = append(options, core.OptionSetResultCache(s.cache))
	}
	options = append(options, s.engineOpts...)

	adb, err := core.New(&s.conf.Core, options...)
	if err != nil {
		return err
	}
	s.adb = adb
	return nil
}

// pingTimeout returns the configured health check ping timeout
func (s *askdbService) pingTimeout() time.Duration {
	if d, err := time.ParseDuration(s.conf.PingTimeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Second
}
