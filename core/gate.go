package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// GateOutcome is the safety gate verdict. The gate never rewrites SQL;
// it only approves or rejects.
type GateOutcome struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func gateRejected(format string, args ...any) GateOutcome {
	return GateOutcome{Reason: fmt.Sprintf(format, args...)}
}

var (
	chainedVerbRe = regexp.MustCompile(`(?i);\s*(drop|delete|update|insert|alter|create|truncate)\b`)
	dangerProcRe  = regexp.MustCompile(`(?i)\b(xp_cmdshell|sp_execute\w*)\b`)
)

// selectVerbs are the statement-leading tokens allowed on read-only
// backends and when mutations are disabled.
var selectVerbs = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"EXPLAIN": true,
	"SHOW":    true,
	"PRAGMA":  true,
}

// gateCheck runs the static safety checks on an artifact before
// execution: single statement, no chained mutation verbs or dangerous
// procedures outside string literals, read-only policy, and parameter
// completeness.
func gateCheck(art *SqlArtifact, readOnly, allowMutations bool) GateOutcome {
	text := strings.TrimSpace(art.Text)
	if text == "" {
		return gateRejected("empty statement")
	}

	stripped, ok := stripComments(text)
	if !ok {
		return gateRejected("unterminated block comment")
	}

	if stmts := splitStatements(stripped); len(stmts) > 1 {
		return gateRejected("multiple statements (%d) in one artifact", len(stmts))
	}

	// forbidden tokens are matched against text with literal contents
	// blanked, so 'xp_cmdshell' inside a string does not trip the gate
	plain := plainText(stripped)
	if m := chainedVerbRe.FindString(plain); m != "" {
		return gateRejected("chained statement: %s", strings.TrimSpace(m))
	}
	if m := dangerProcRe.FindString(plain); m != "" {
		return gateRejected("disallowed procedure: %s", m)
	}

	verb := firstKeyword(text)
	if verb == "" {
		return gateRejected("no statement verb found")
	}
	if readOnly && !selectVerbs[verb] {
		return gateRejected("backend is read-only; %s not permitted", verb)
	}
	if !allowMutations && !selectVerbs[verb] {
		return gateRejected("mutations are disabled; %s not permitted", verb)
	}

	names := scanParams(text)
	missing := make([]string, 0)
	for _, n := range names {
		if _, ok := art.Params[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return gateRejected("missing parameter values: %s", strings.Join(missing, ", "))
	}

	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}
	extra := make([]string, 0)
	for k := range art.Params {
		if !nameSet[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return gateRejected("parameters without placeholders: %s", strings.Join(extra, ", "))
	}

	return GateOutcome{OK: true}
}

// plainText blanks everything outside scanPlain mode, preserving
// offsets.
func plainText(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	sc := newSQLScan(src)
	for {
		c, mode, more := sc.next()
		if !more {
			break
		}
		if mode == scanPlain {
			b.WriteByte(c)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
