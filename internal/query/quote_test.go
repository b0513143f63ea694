package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name  string
		style IdentStyle
		in    string
		want  string
	}{
		{"plain", DoubleQuotes, "title", "title"},
		{"mixed case", DoubleQuotes, "Post", "Post"},
		{"reserved", DoubleQuotes, "user", `"user"`},
		{"reserved any case", Backticks, "Order", "`Order`"},
		{"space", DoubleQuotes, "first name", `"first name"`},
		{"leading digit", Backticks, "1st", "`1st`"},
		{"embedded quote", DoubleQuotes, `a"b`, `"a""b"`},
		{"embedded backtick", Backticks, "a`b", "`a``b`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.style.Quote(tt.in))
		})
	}
}

func TestSplitStatements(t *testing.T) {
	sql := "CREATE TABLE a (x TEXT DEFAULT 'a;b');\nINSERT INTO \"we;ird\" VALUES (1);\n\n;UPDATE `t` SET c = 'it''s';"

	assert.Equal(t, []string{
		"CREATE TABLE a (x TEXT DEFAULT 'a;b')",
		`INSERT INTO "we;ird" VALUES (1)`,
		"UPDATE `t` SET c = 'it''s'",
	}, SplitStatements(sql))
	assert.Empty(t, SplitStatements(" ;\n; "))
}

func TestSplitStatements_Comments(t *testing.T) {
	sql := "-- drop the old table; then recreate\nDROP TABLE a;\n" +
		"/* rebuild;\n keeps rows */ CREATE TABLE a (x TEXT DEFAULT '--;/*');\n" +
		"INSERT INTO a VALUES ('x'); -- trailing; note\n" +
		"/* only a comment; */"

	assert.Equal(t, []string{
		"DROP TABLE a",
		"CREATE TABLE a (x TEXT DEFAULT '--;/*')",
		"INSERT INTO a VALUES ('x')",
	}, SplitStatements(sql))
	assert.Equal(t, []string{"SELECT 1"}, SplitStatements("SELECT 1 /* unterminated;"))
}
