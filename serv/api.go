package serv

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qbloq/askdb/core"
)

const maxReqBody = 1 << 20

// renderJSON writes v as a JSON response
func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// renderErr writes a uniform JSON error response
func renderErr(w http.ResponseWriter, status int, msg string) {
	renderJSON(w, status, map[string]string{"error": msg})
}

// apiV1Query handles POST /api/v1/query: decodes the request, runs the
// pipeline and returns the envelope. The envelope is always 200; only
// an undecodable request is a client error.
func apiV1Query(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		var req core.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReqBody))
		if err := dec.Decode(&req); err != nil {
			renderErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Utterance == "" {
			renderErr(w, http.StatusBadRequest, "utterance is required")
			return
		}

		var env *core.Envelope
		if r.URL.Query().Get("all") == "true" {
			env = s.adb.QueryAll(r.Context(), req)
		} else {
			env = s.adb.Query(r.Context(), req)
		}

		if s.logLevel >= logLevelDebug {
			s.log.Debugf("request %s: %q -> %s (%dms)",
				env.RequestID, req.Utterance, env.Status, env.ElapsedMS)
		}
		renderJSON(w, http.StatusOK, env)
	})
}

// apiV1Databases handles GET /api/v1/databases
func apiV1Databases(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)
		renderJSON(w, http.StatusOK, map[string]any{
			"databases": s.adb.Databases(),
		})
	})
}

// apiV1Schema handles GET /api/v1/databases/{database}/schema
func apiV1Schema(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		id := chi.URLParam(r, "database")
		snap, err := s.adb.Schema(r.Context(), id)
		if err != nil {
			renderErr(w, http.StatusNotFound, err.Error())
			return
		}
		renderJSON(w, http.StatusOK, snap)
	})
}

// apiV1MergedSchema handles GET /api/v1/databases/merged-schema
func apiV1MergedSchema(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		snaps, err := s.adb.MergedSchema(r.Context())
		if err != nil {
			renderErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		renderJSON(w, http.StatusOK, snaps)
	})
}

// apiV1ConsolidateSchemas handles POST /api/v1/databases/extract-all-schemas:
// introspects every enabled backend and writes the snapshots into the
// default backend's metadata tables.
func apiV1ConsolidateSchemas(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*askdbService)

		if err := s.adb.ConsolidateSchemas(r.Context()); err != nil {
			renderErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
