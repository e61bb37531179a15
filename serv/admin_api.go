package serv

import (
	"encoding/json"
	"net/http"

	"github.com/qbloq/askdb/core"
)

// The admin API is a development surface: pool stats, the active
// config (secrets redacted) and cache invalidation. It is mounted only
// outside production when admin_api is enabled.

// adminStatsHandler handles GET /api/v1/admin/stats
func adminStatsHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		pools := map[string]any{}
		for id, st := range s.adb.Stats() {
			pools[id] = map[string]any{
				"open":     st.OpenConnections,
				"in_use":   st.InUse,
				"idle":     st.Idle,
				"wait":     st.WaitCount,
				"max_open": st.MaxOpenConnections,
			}
		}
		renderJSON(w, http.StatusOK, map[string]any{"pools": pools})
	})
}

// adminConfigHandler handles GET /api/v1/admin/config
func adminConfigHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		conf := s.conf.Core
		conf.LLM.APIKey = redact(conf.LLM.APIKey)
		if conf.LLM.Fallback != nil {
			fb := *conf.LLM.Fallback
			fb.APIKey = redact(fb.APIKey)
			conf.LLM.Fallback = &fb
		}
		// copy the slice so redaction does not touch the live config
		dbs := make([]core.DatabaseConfig, len(conf.Databases))
		copy(dbs, conf.Databases)
		for i := range dbs {
			dbs[i].URL = redact(dbs[i].URL)
		}
		conf.Databases = dbs
		renderJSON(w, http.StatusOK, conf)
	})
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "[redacted]"
}

// adminInvalidateHandler handles POST /api/v1/admin/cache/invalidate.
// With a database in the body only that backend's schema and results
// are dropped; with an empty body both caches are swept completely.
func adminInvalidateHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		var body struct {
			Database string `json:"database"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		}

		if body.Database != "" {
			s.adb.InvalidateSchema(body.Database)
			s.adb.InvalidateResults(body.Database)
			s.log.Infof("admin: invalidated caches for %s", body.Database)
		} else {
			s.adb.InvalidateAll()
			s.log.Infof("admin: invalidated all caches")
		}
		renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// adminReloadHandler handles POST /api/v1/admin/reload: rebuilds the
// engine from its current config.
func adminReloadHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		if err := s.adb.Reload(); err != nil {
			renderErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
