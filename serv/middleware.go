package serv

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// Set the server header
func setServerHeader(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", serverName)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// corsHandler wraps the handler with the configured CORS policy
func corsHandler(s *askdbService, h http.Handler) http.Handler {
	if len(s.conf.AllowedOrigins) == 0 {
		return h
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.conf.AllowedOrigins,
		AllowedHeaders:   s.conf.AllowedHeaders,
		AllowCredentials: true,
		Debug:            s.conf.DebugCORS,
	})
	return c.Handler(h)
}

// gzipHandler wraps the handler with response compression
func gzipHandler(s *askdbService, h http.Handler) http.Handler {
	if !s.conf.HTTPGZip {
		return h
	}
	return gzhttp.GzipHandler(h)
}

// cacheControlHandler sets the configured Cache-Control header
func cacheControlHandler(s *askdbService, h http.Handler) http.Handler {
	if s.conf.CacheControl == "" {
		return h
	}
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", s.conf.CacheControl)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// ipLimiter holds one token bucket per client IP. Buckets idle for
// longer than ipLimiterTTL are dropped.
type ipLimiter struct {
	rate   rate.Limit
	burst  int
	header string

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const ipLimiterTTL = 10 * time.Minute

func newIPLimiter(conf RateLimiter) *ipLimiter {
	return &ipLimiter{
		rate:    rate.Limit(conf.Rate),
		burst:   conf.Bucket,
		header:  conf.IPHeader,
		clients: map[string]*limiterEntry{},
	}
}

// clientIP extracts the client ip from the configured header or the
// remote address
func (l *ipLimiter) clientIP(r *http.Request) string {
	if l.header != "" {
		if ip := r.Header.Get(l.header); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (l *ipLimiter) allow(r *http.Request) bool {
	ip := l.clientIP(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients[ip]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = e
	}
	e.lastSeen = time.Now()

	if len(l.clients) > 1024 {
		l.sweep()
	}
	return e.lim.Allow()
}

// sweep drops idle buckets; called with the lock held
func (l *ipLimiter) sweep() {
	cutoff := time.Now().Add(-ipLimiterTTL)
	for ip, e := range l.clients {
		if e.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// rateLimiterHandler wraps the handler with per-ip token bucket rate
// limiting when it is enabled in the config
func rateLimiterHandler(s *askdbService, h http.Handler) http.Handler {
	if !s.conf.rateLimiterEnable() {
		return h
	}

	limiter := newIPLimiter(s.conf.RateLimiter)
	fn := func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(r) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests),
				http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
