package schema

import (
	"sort"
	"strings"
)

// RenderForPrompt formats one snapshot as the compact schema summary
// used in LLM prompts: one TABLE line per table with typed columns,
// then PK and FK lines.
//
//	TABLE customers(id integer NOT NULL, status text)
//	PK customers(id)
//	FK orders(customer_id) -> customers(id)
func RenderForPrompt(snap *Snapshot) string {
	var b strings.Builder
	renderSnapshot(&b, snap, "")
	return b.String()
}

// RenderMergedForPrompt formats a cross-backend view. Each table is
// prefixed with its backend id and a note explains the naming rule.
func RenderMergedForPrompt(snaps map[string]*Snapshot) string {
	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Tables below come from multiple databases. Reference a table as backend_id.table.\n")
	for _, id := range ids {
		renderSnapshot(&b, snaps[id], id+".")
	}
	return b.String()
}

func renderSnapshot(b *strings.Builder, snap *Snapshot, prefix string) {
	if snap == nil {
		return
	}
	for _, t := range snap.Tables {
		b.WriteString("TABLE ")
		b.WriteString(prefix)
		b.WriteString(t.Name)
		b.WriteString("(")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.Type)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
		}
		b.WriteString(")\n")

		if len(t.PrimaryKey) > 0 {
			b.WriteString("PK ")
			b.WriteString(prefix)
			b.WriteString(t.Name)
			b.WriteString("(")
			b.WriteString(strings.Join(t.PrimaryKey, ", "))
			b.WriteString(")\n")
		}

		for _, fk := range t.ForeignKeys {
			b.WriteString("FK ")
			b.WriteString(prefix)
			b.WriteString(t.Name)
			b.WriteString("(")
			b.WriteString(strings.Join(fk.Columns, ", "))
			b.WriteString(") -> ")
			b.WriteString(fk.RefTable)
			b.WriteString("(")
			b.WriteString(strings.Join(fk.RefColumns, ", "))
			b.WriteString(")\n")
		}
	}
}

// Merge flattens snapshots from many backends into one view, tagging
// each table with its originating backend id.
func Merge(snaps map[string]*Snapshot) *Snapshot {
	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	merged := &Snapshot{BackendID: "merged"}
	for _, id := range ids {
		snap := snaps[id]
		if snap == nil {
			continue
		}
		if snap.FetchedAt.After(merged.FetchedAt) {
			merged.FetchedAt = snap.FetchedAt
			merged.TTL = snap.TTL
		}
		for _, t := range snap.Tables {
			t.BackendID = id
			merged.Tables = append(merged.Tables, t)
		}
	}
	return merged
}
