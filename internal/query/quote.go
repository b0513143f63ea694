package query

import (
	"strings"
)

// IdentStyle selects how a backend quotes identifiers.
type IdentStyle int

const (
	// DoubleQuotes quotes as "name" (postgres, sqlite).
	DoubleQuotes IdentStyle = iota
	// Backticks quotes as `name` (mysql).
	Backticks
)

var reservedWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		all alter and any as asc between both by case check column constraint
		create cross current_date current_time current_timestamp current_user
		default delete desc distinct drop else end except exists false fetch for
		foreign from full grant group having in index inner insert intersect into
		is join key leading left like limit natural not null offset on or order
		outer primary references right rows select session_user set some table
		then to trailing true union unique update user using values when where
		window with`) {
		reservedWords[w] = true
	}
}

// IsReserved reports whether name must be quoted to be used as an identifier.
func IsReserved(name string) bool {
	return reservedWords[strings.ToLower(name)]
}

func isPlainIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Quote returns name as an identifier, quoted only when it is a reserved
// word or contains characters outside [A-Za-z0-9_].
func (s IdentStyle) Quote(name string) string {
	if isPlainIdent(name) && !IsReserved(name) {
		return name
	}
	if s == Backticks {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SplitStatements splits SQL text on semicolons that are outside quoted
// strings, identifiers and comments. Comments, both "--" to end of line and
// "/* */", are dropped. Empty statements are dropped.
func SplitStatements(sql string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" {
			out = append(out, stmt)
		}
		cur.Reset()
	}
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			cur.WriteRune(r)
		case r == '-' && next == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			cur.WriteRune('\n')
		case r == '/' && next == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++
			cur.WriteRune(' ')
		case r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
