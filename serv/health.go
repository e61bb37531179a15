package serv

import (
	"context"
	"net/http"

	"github.com/qbloq/askdb/core"
)

// healthCheckHandler pings every connected backend. The response lists
// each backend's state; the default backend being down makes the whole
// check fail with a 503.
func healthCheckHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		ctx, cancel := context.WithTimeout(r.Context(), s.pingTimeout())
		defer cancel()

		status := http.StatusOK
		dbs := map[string]string{}

		for name, db := range s.dbs {
			if db == nil {
				dbs[name] = "no connection"
				continue
			}
			if err := db.PingContext(ctx); err != nil {
				if s.logLevel >= logLevelWarn {
					s.log.Warnf("health: database %s: %s", name, err)
				}
				dbs[name] = err.Error()
				if name == core.DefaultBackendID {
					status = http.StatusServiceUnavailable
				}
				continue
			}
			dbs[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "unavailable"
		}
		renderJSON(w, status, map[string]any{
			"status":    state,
			"databases": dbs,
		})
	})
}
