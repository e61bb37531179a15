package core

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// DefaultBackendID is reserved for the metadata/control backend.
const DefaultBackendID = "default"

// Backend is one configured database target. Immutable after registry
// init.
type Backend struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Dialect     string `json:"type"`
	Enabled     bool   `json:"enabled"`
	ReadOnly    bool   `json:"readonly"`
}

// registry is the catalogue of backends and the only place that maps a
// backend id to its connection pool.
type registry struct {
	mu       sync.RWMutex
	backends map[string]*backendEntry
	order    []string
}

type backendEntry struct {
	backend Backend
	db      *sql.DB
}

func newRegistry() *registry {
	return &registry{backends: map[string]*backendEntry{}}
}

// add registers a backend with its pool. Duplicate ids are an error.
func (r *registry) add(b Backend, db *sql.DB) error {
	if b.ID == "" {
		return fmt.Errorf("backend id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[b.ID]; ok {
		return fmt.Errorf("duplicate backend id: %s", b.ID)
	}
	r.backends[b.ID] = &backendEntry{backend: b, db: db}
	r.order = append(r.order, b.ID)
	return nil
}

// get returns the backend record for id.
func (r *registry) get(id string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.backends[id]
	if !ok {
		return Backend{}, false
	}
	return e.backend, true
}

// pool returns the connection pool for id.
func (r *registry) pool(id string) (*sql.DB, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.backends[id]
	if !ok || e.db == nil {
		return nil, false
	}
	return e.db, true
}

// list returns backends in registration order, default first. Disabled
// backends are included only when includeDisabled is set.
func (r *registry) list(includeDisabled bool) []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.SliceStable(ids, func(i, j int) bool {
		return ids[i] == DefaultBackendID && ids[j] != DefaultBackendID
	})

	out := make([]Backend, 0, len(ids))
	for _, id := range ids {
		b := r.backends[id].backend
		if !b.Enabled && !includeDisabled {
			continue
		}
		out = append(out, b)
	}
	return out
}

// ids returns the enabled backend ids in list order.
func (r *registry) ids() []string {
	bs := r.list(false)
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}

// stats returns pool statistics per backend.
func (r *registry) stats() map[string]sql.DBStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]sql.DBStats, len(r.backends))
	for id, e := range r.backends {
		if e.db != nil {
			out[id] = e.db.Stats()
		}
	}
	return out
}
