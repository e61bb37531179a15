// Package schema holds the introspected metadata model and the TTL
// cache that serves snapshots to the query pipeline.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot is a point-in-time view of one backend's schema.
type Snapshot struct {
	BackendID string        `json:"backend_id"`
	Tables    []Table       `json:"tables"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Table describes one table. BackendID is set when the table is served
// outside its origin backend (merged cross-backend views).
type Table struct {
	Name        string       `json:"name"`
	BackendID   string       `json:"backend_id,omitempty"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

// ForeignKey records a reference from Columns to RefColumns on
// RefTable. External marks references to tables outside the snapshot.
type ForeignKey struct {
	Columns    []string `json:"columns"`
	RefTable   string   `json:"referenced_table"`
	RefColumns []string `json:"referenced_columns"`
	External   bool     `json:"external,omitempty"`
}

// Fresh reports whether the snapshot is still within its TTL.
func (s *Snapshot) Fresh(now time.Time) bool {
	if s == nil {
		return false
	}
	return now.Before(s.FetchedAt.Add(s.TTL))
}

// Empty reports whether the snapshot has no tables.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Tables) == 0
}

// Table finds a table by name, case-insensitively.
func (s *Snapshot) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// TableNames returns the table names in snapshot order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Column finds a column by name, case-insensitively.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Validate checks the structural invariants: unique column names per
// table, primary key columns present, and foreign keys either resolving
// within the snapshot or flagged external.
func (s *Snapshot) Validate() error {
	for ti := range s.Tables {
		t := &s.Tables[ti]

		seen := make(map[string]struct{}, len(t.Columns))
		for _, c := range t.Columns {
			k := strings.ToLower(c.Name)
			if _, ok := seen[k]; ok {
				return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
			}
			seen[k] = struct{}{}
		}

		for _, pk := range t.PrimaryKey {
			if _, ok := t.Column(pk); !ok {
				return fmt.Errorf("table %s: primary key column %s not found", t.Name, pk)
			}
		}

		for fi := range t.ForeignKeys {
			fk := &t.ForeignKeys[fi]
			if _, ok := s.Table(fk.RefTable); !ok {
				fk.External = true
			}
		}
	}
	return nil
}
