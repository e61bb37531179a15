package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/qbloq/askdb/core/internal/schema"
)

// initSchemaWatcher starts the dev-mode schema poller on the default
// backend.
func (a *AskDB) initSchemaWatcher() {
	e := a.engine()

	// no schema polling in production
	if e.conf.Production {
		return
	}

	ps := e.conf.SchemaPollDuration
	switch {
	case ps < (1 * time.Second):
		return
	case ps < (5 * time.Second):
		ps = 10 * time.Second
	}

	go a.startSchemaWatcher(ps)
}

// startSchemaWatcher polls the default backend and invalidates both
// caches when its schema fingerprint changes.
func (a *AskDB) startSchemaWatcher(ps time.Duration) {
	ticker := time.NewTicker(ps)
	defer ticker.Stop()

	var lastHash string

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
		}

		e := a.engine()
		latest, err := e.fetchSnapshot(context.Background(), e.defaultBackend)
		if err != nil {
			e.log.Debugf("schema watcher: %s", err)
			continue
		}

		hash := snapshotFingerprint(latest)
		if lastHash == "" {
			lastHash = hash
			continue
		}
		if hash == lastHash {
			continue
		}
		lastHash = hash

		e.log.Infof("database change detected on %s, invalidating caches", e.defaultBackend)
		e.schemas.Invalidate(e.defaultBackend)
		e.results.invalidate(e.defaultBackend)
	}
}

// snapshotFingerprint hashes the structural parts of a snapshot:
// tables, columns and types, ignoring fetch timestamps.
func snapshotFingerprint(s *schema.Snapshot) string {
	h := sha256.New()
	for _, t := range s.Tables {
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		for _, c := range t.Columns {
			h.Write([]byte(c.Name))
			h.Write([]byte{1})
			h.Write([]byte(c.Type))
			h.Write([]byte{2})
		}
		for _, pk := range t.PrimaryKey {
			h.Write([]byte(pk))
			h.Write([]byte{3})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
