package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanConsumesEveryByte(t *testing.T) {
	src := "SELECT 'a''b', \"c\" FROM t -- tail\nWHERE d = :p0"
	sc := newSQLScan(src)

	var got []byte
	for {
		c, _, more := sc.next()
		if !more {
			break
		}
		got = append(got, c)
	}
	assert.Equal(t, src, string(got))
}

func TestNormalizeSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "SELECT 1", "select 1"},
		{"trailing semicolon", "select 1 ;", "select 1"},
		{"extra whitespace", "SELECT  1", "select 1"},
		{"newlines", "SELECT\n\ta\nFROM t", "select a from t"},
		{"string literal preserved", "SELECT 'A  B' FROM t", "select 'A  B' from t"},
		{"quoted identifier preserved", `SELECT "UserName" FROM t`, `select "UserName" from t`},
		{"comment removed", "SELECT 1 -- one\n", "select 1"},
		{"block comment removed", "SELECT /* c */ 1", "select 1"},
		{"many semicolons", "select 1;;;", "select 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeSQL(tt.in))
		})
	}
}

func TestNormalizeSQLEquivalence(t *testing.T) {
	a := normalizeSQL("SELECT 1")
	b := normalizeSQL("select 1 ;")
	c := normalizeSQL("SELECT  1")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestSplitStatements(t *testing.T) {
	assert.Len(t, splitStatements("SELECT 1"), 1)
	assert.Len(t, splitStatements("SELECT 1;"), 1)
	assert.Len(t, splitStatements("SELECT 1; DROP TABLE t"), 2)
	assert.Len(t, splitStatements("SELECT 'a;b' FROM t"), 1)
	assert.Len(t, splitStatements("SELECT 1 -- ; not a split\n"), 1)
}

func TestScanParams(t *testing.T) {
	assert.Equal(t, []string{"p0", "p1"},
		scanParams("SELECT * FROM t WHERE a = :p0 AND b = :p1"))
	assert.Empty(t, scanParams("SELECT ':p0' FROM t"))
	assert.Empty(t, scanParams("SELECT a::text FROM t"))
	assert.Equal(t, []string{"p0"},
		scanParams("SELECT * FROM t WHERE a = :p0 AND b = :p0"))
}

func TestFirstKeyword(t *testing.T) {
	assert.Equal(t, "SELECT", firstKeyword("select * from t"))
	assert.Equal(t, "WITH", firstKeyword("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "DROP", firstKeyword("-- comment\nDROP TABLE t"))
	assert.Equal(t, "SELECT", firstKeyword("/* hint */ SELECT 1"))
	assert.Equal(t, "", firstKeyword("   "))
}

func TestStripCommentsUnterminated(t *testing.T) {
	_, ok := stripComments("SELECT 1 /* open")
	assert.False(t, ok)

	out, ok := stripComments("SELECT 1 /* closed */")
	assert.True(t, ok)
	assert.Contains(t, out, "SELECT 1")
}

func TestStripCommentsInsideLiteral(t *testing.T) {
	out, ok := stripComments("SELECT '--not a comment' FROM t")
	assert.True(t, ok)
	assert.Contains(t, out, "--not a comment")
}

func TestEscapedQuote(t *testing.T) {
	got := normalizeSQL("SELECT 'it''s' FROM t")
	assert.Equal(t, "select 'it''s' from t", got)
}

func TestPrettify(t *testing.T) {
	out := prettify("SELECT a, b FROM t WHERE a = 1 ORDER BY b")
	assert.Contains(t, out, "SELECT a, b\nFROM t\nWHERE a = 1\nORDER BY b")
}
