package core

import (
	"strings"
)

// sqlScan walks SQL byte by byte, tracking whether the cursor sits
// inside a string literal ('...'), a quoted identifier ("..." / `...` /
// [...]), a line comment, or a block comment. Every place that reads
// generated SQL (normalization, the safety gate, statement splitting,
// placeholder extraction) goes through this one scanner.
type sqlScan struct {
	src  string
	pos  int
	mode scanMode
	// closing quote for the current literal/identifier
	quote byte
	// the pending second quote of an escaped '' pair
	escNext bool
}

type scanMode int

const (
	scanPlain scanMode = iota
	scanString
	scanIdent
	scanLineComment
	scanBlockComment
)

func newSQLScan(src string) *sqlScan {
	return &sqlScan{src: src}
}

// next advances one byte and returns it with the mode it was read in.
// Quote characters themselves are reported in the literal's mode.
func (s *sqlScan) next() (c byte, mode scanMode, ok bool) {
	if s.pos >= len(s.src) {
		return 0, scanPlain, false
	}
	c = s.src[s.pos]
	s.pos++
	ok = true

	switch s.mode {
	case scanString, scanIdent:
		mode = s.mode
		if s.escNext {
			s.escNext = false
			return
		}
		if c == s.quote {
			// '' inside a string escapes the quote
			if s.mode == scanString && s.pos < len(s.src) && s.src[s.pos] == s.quote {
				s.escNext = true
				return
			}
			s.mode = scanPlain
		}
		return

	case scanLineComment:
		mode = scanLineComment
		if c == '\n' {
			s.mode = scanPlain
		}
		return

	case scanBlockComment:
		mode = scanBlockComment
		if c == '*' && s.pos < len(s.src) && s.src[s.pos] == '/' {
			s.pos++
			c = '/'
			s.mode = scanPlain
		}
		return
	}

	mode = scanPlain
	switch c {
	case '\'':
		s.mode, s.quote, mode = scanString, '\'', scanString
	case '"':
		s.mode, s.quote, mode = scanIdent, '"', scanIdent
	case '`':
		s.mode, s.quote, mode = scanIdent, '`', scanIdent
	case '[':
		s.mode, s.quote, mode = scanIdent, ']', scanIdent
	case '-':
		if s.pos < len(s.src) && s.src[s.pos] == '-' {
			s.mode, mode = scanLineComment, scanLineComment
		}
	case '/':
		if s.pos < len(s.src) && s.src[s.pos] == '*' {
			s.mode, mode = scanBlockComment, scanBlockComment
		}
	}
	return
}

// unterminated reports whether the scan ended inside a block comment.
func (s *sqlScan) unterminated() bool {
	return s.mode == scanBlockComment
}

// stripComments removes line and block comments outside of literals.
// ok is false when a block comment never closes.
func stripComments(src string) (out string, ok bool) {
	var b strings.Builder
	b.Grow(len(src))

	sc := newSQLScan(src)
	for {
		c, mode, more := sc.next()
		if !more {
			break
		}
		switch mode {
		case scanLineComment, scanBlockComment:
			// replaced by a space so tokens stay separated
		default:
			b.WriteByte(c)
			continue
		}
		b.WriteByte(' ')
	}
	return b.String(), !sc.unterminated()
}

// normalizeSQL produces the canonical form used for cache keys:
// lowercase outside quotes, single spaces, no trailing semicolons.
// Text inside string literals and quoted identifiers is untouched.
func normalizeSQL(src string) string {
	stripped, _ := stripComments(src)

	var b strings.Builder
	b.Grow(len(stripped))

	sc := newSQLScan(stripped)
	pendingSpace := false
	for {
		c, mode, more := sc.next()
		if !more {
			break
		}
		if mode == scanPlain && (c == ' ' || c == '\t' || c == '\n' || c == '\r') {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		if mode == scanPlain && c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}

	out := strings.TrimSpace(b.String())
	for strings.HasSuffix(out, ";") {
		out = strings.TrimSpace(strings.TrimSuffix(out, ";"))
	}
	return out
}

// splitStatements returns the top-level statements in src, split on
// semicolons outside literals and comments. Empty segments are
// dropped.
func splitStatements(src string) []string {
	var out []string
	var b strings.Builder

	sc := newSQLScan(src)
	for {
		c, mode, more := sc.next()
		if !more {
			break
		}
		if mode == scanPlain && c == ';' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
			continue
		}
		if mode == scanLineComment || mode == scanBlockComment {
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// scanParams returns the :name placeholders in src, in order of first
// appearance, skipping literals and postgres ::type casts.
func scanParams(src string) []string {
	var names []string
	seen := map[string]struct{}{}

	sc := newSQLScan(src)
	prev := byte(0)
	var cur strings.Builder
	collecting := false

	flush := func() {
		if !collecting {
			return
		}
		collecting = false
		name := cur.String()
		cur.Reset()
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for {
		c, mode, more := sc.next()
		if !more {
			break
		}
		if mode != scanPlain {
			flush()
			prev = c
			continue
		}
		if collecting {
			if isParamChar(c) {
				cur.WriteByte(c)
				prev = c
				continue
			}
			flush()
		}
		if c == ':' && prev != ':' && (sc.pos >= len(sc.src) || sc.src[sc.pos] != ':') {
			collecting = true
		}
		prev = c
	}
	flush()
	return names
}

func isParamChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// firstKeyword returns the first significant SQL token, uppercased.
// Comments and leading punctuation are skipped.
func firstKeyword(src string) string {
	stripped, _ := stripComments(src)
	stripped = strings.TrimSpace(stripped)
	for stripped != "" && (stripped[0] == '(' || stripped[0] == ';') {
		stripped = strings.TrimSpace(stripped[1:])
	}
	end := 0
	for end < len(stripped) && isParamChar(stripped[end]) {
		end++
	}
	return strings.ToUpper(stripped[:end])
}

// prettify reflows SQL for log output: one clause per line, collapsed
// whitespace, literals untouched.
func prettify(src string) string {
	clauses := []string{
		"SELECT", "FROM", "WHERE", "GROUP BY", "HAVING", "ORDER BY",
		"LIMIT", "OFFSET", "UNION", "JOIN", "LEFT JOIN", "RIGHT JOIN",
		"INNER JOIN", "OUTER JOIN", "CROSS JOIN", "WITH",
	}

	flat := normalizeSQLKeepCase(src)
	upper := strings.ToUpper(flat)

	var b strings.Builder
	b.Grow(len(flat) + 64)
	i := 0
	for i < len(flat) {
		matched := ""
		if i == 0 || flat[i-1] == ' ' {
			for _, kw := range clauses {
				if strings.HasPrefix(upper[i:], kw) {
					end := i + len(kw)
					if end == len(flat) || flat[end] == ' ' || flat[end] == '(' {
						matched = kw
						break
					}
				}
			}
		}
		if matched != "" && b.Len() > 0 {
			// replace the separating space with a newline
			out := strings.TrimRight(b.String(), " ")
			b.Reset()
			b.WriteString(out)
			b.WriteByte('\n')
		}
		b.WriteByte(flat[i])
		i++
	}
	return b.String()
}

// normalizeSQLKeepCase collapses whitespace without lowercasing, for
// display rather than cache keys.
func normalizeSQLKeepCase(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	sc := newSQLScan(src)
	pendingSpace := false
	for {
		c, mode, more := sc.next()
		if !more {
			break
		}
		if mode == scanPlain && (c == ' ' || c == '\t' || c == '\n' || c == '\r') {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}
