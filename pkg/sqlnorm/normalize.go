// Package sqlnorm provides the minimal SQL analysis IronLayer needs:
// comment-stripping normalization for content hashing, referenced-table
// extraction, and top-level SELECT list parsing.
//
// This is deliberately not a SQL parser. The control plane never
// executes SQL; it only needs a stable normalized form and a
// best-effort structural read. Callers must tolerate empty results.
package sqlnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of a SQL text: NFC-normalized,
// line and block comments removed, runs of whitespace collapsed to a
// single space, leading/trailing whitespace trimmed.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(sql string) string {
	stripped := StripComments(norm.NFC.String(sql))

	var b strings.Builder
	b.Grow(len(stripped))
	inSpace := false
	inString := false
	for _, r := range stripped {
		if r == '\'' {
			inString = !inString
		}
		if !inString && unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// StripComments removes -- line comments and /* */ block comments,
// leaving string literals untouched.
func StripComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	i := 0
	inString := false
	for i < len(sql) {
		c := sql[i]
		switch {
		case inString:
			b.WriteByte(c)
			if c == '\'' {
				inString = false
			}
			i++
		case c == '\'':
			inString = true
			b.WriteByte(c)
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i += 2
			for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2
			if i > len(sql) {
				i = len(sql)
			}
			// Block comments separate tokens.
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// IsCosmeticChange reports whether two SQL texts differ only in
// whitespace or comments.
func IsCosmeticChange(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// ReferencedTables extracts the dotted table identifiers that follow
// FROM and JOIN keywords. Subqueries contribute their own FROM clauses;
// derived-table aliases are not tables and are skipped. Results are
// deduplicated in first-seen order.
func ReferencedTables(sql string) []string {
	tokens := tokenize(Normalize(sql))

	var out []string
	seen := make(map[string]bool)
	for i := 0; i < len(tokens)-1; i++ {
		kw := strings.ToUpper(tokens[i])
		if kw != "FROM" && kw != "JOIN" {
			continue
		}
		next := tokens[i+1]
		if next == "(" || !isIdentifier(next) {
			continue
		}
		name := next
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// SelectItem is one top-level projection of a SELECT statement.
type SelectItem struct {
	Expr  string // the raw expression text
	Alias string // output column name; empty when it cannot be derived
	Star  bool   // true for a bare or qualified *
}

// SelectItems splits the top-level SELECT list of a statement. It
// returns nil, false when the statement has no recognizable SELECT
// list (e.g. parse limitation); callers treat that as "unresolved".
func SelectItems(sql string) ([]SelectItem, bool) {
	s := Normalize(sql)
	upper := strings.ToUpper(s)

	start := indexKeyword(upper, "SELECT")
	if start < 0 {
		return nil, false
	}
	start += len("SELECT")
	if rest := strings.TrimSpace(upper[start:]); strings.HasPrefix(rest, "DISTINCT ") {
		start = indexKeyword(upper, "DISTINCT") + len("DISTINCT")
	}

	end := matchingFrom(upper, start)
	if end < 0 {
		end = len(s)
	}

	items := splitTopLevel(s[start:end])
	out := make([]SelectItem, 0, len(items))
	for _, it := range items {
		expr := strings.TrimSpace(it)
		if expr == "" {
			continue
		}
		item := SelectItem{Expr: expr}
		if expr == "*" || strings.HasSuffix(expr, ".*") {
			item.Star = true
		} else {
			item.Alias = outputName(expr)
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// OutputColumns returns the output column names of a statement's
// top-level SELECT. ok is false when the list is unresolved or
// contains a star with no schema to expand against.
func OutputColumns(sql string) ([]string, bool) {
	items, ok := SelectItems(sql)
	if !ok {
		return nil, false
	}
	cols := make([]string, 0, len(items))
	for _, it := range items {
		if it.Star || it.Alias == "" {
			return nil, false
		}
		cols = append(cols, it.Alias)
	}
	return cols, true
}

/// outputName derives the output column name of one projection: the
// alias after AS, a trailing bare identifier alias, or the final
// component of a plain column reference.
func outputName(expr string) string {
	tokens := tokenize(expr)
	if len(tokens) == 0 {
		return ""
	}
	last := tokens[len(tokens)-1]
	if !isIdentifier(last) {
		return ""
	}
	if len(tokens) == 1 {
		return lastPart(last)
	}
	prev := tokens[len(tokens)-2]
	// "expr AS alias" or "func(...) alias". Anything else is ambiguous
	// and reported as unresolved rather than guessed.
	if strings.EqualFold(prev, "AS") || prev == ")" {
		return lastPart(last)
	}
	return ""
}

func lastPart(ident string) string {
	if i := strings.LastIndex(ident, "."); i >= 0 {
		return ident[i+1:]
	}
	return ident
}

// indexKeyword finds a keyword at a token boundary outside parens.
func indexKeyword(upper, kw string) int {
	depth := 0
	for i := 0; i+len(kw) <= len(upper); i++ {
		switch upper[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth != 0 {
			continue
		}
		if !strings.HasPrefix(upper[i:], kw) {
			continue
		}
		beforeOK := i == 0 || !isWordByte(upper[i-1])
		afterOK := i+len(kw) == len(upper) || !isWordByte(upper[i+len(kw)])
		if beforeOK && afterOK {
			return i
		}
	}
	return -1
}

// matchingFrom finds the FROM that closes the SELECT list starting at
// offset, skipping parenthesized subexpressions.
func matchingFrom(upper string, offset int) int {
	depth := 0
	for i := offset; i+4 <= len(upper); i++ {
		switch upper[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth != 0 {
			continue
		}
		if strings.HasPrefix(upper[i:], "FROM") {
			beforeOK := i == 0 || !isWordByte(upper[i-1])
			afterOK := i+4 == len(upper) || !isWordByte(upper[i+4])
			if beforeOK && afterOK {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits on commas at paren depth zero.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	last := 0
	inString := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inString = !inString
		case '(':
			if !inString {
				depth++
			}
		case ')':
			if !inString {
				depth--
			}
		case ',':
			if depth == 0 && !inString {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// tokenize splits normalized SQL into identifiers, numbers, strings
// and single-character punctuation.
func tokenize(s string) []string {
	var tokens []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ':
			i++
		case c == '\'':
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				j++
			}
			if j < len(s) {
				j++
			}
			tokens = append(tokens, s[i:j])
			i = j
		case isWordByte(c):
			j := i
			for j < len(s) && (isWordByte(s[j]) || s[j] == '.') {
				j++
			}
			tokens = append(tokens, s[i:j])
			i = j
		default:
			tokens = append(tokens, string(c))
			i++
		}
	}
	return tokens
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentifier(tok string) bool {
	if tok == "" {
		return false
	}
	if reserved[strings.ToUpper(tok)] {
		return false
	}
	for _, part := range strings.Split(tok, ".") {
		if part == "" {
			return false
		}
		first := part[0]
		if !(first == '_' || first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z') {
			return false
		}
		for i := 1; i < len(part); i++ {
			if !isWordByte(part[i]) {
				return false
			}
		}
	}
	return true
}

var reserved = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true,
	"INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "ON": true, "AS": true,
	"GROUP": true, "ORDER": true, "BY": true, "HAVING": true,
	"LIMIT": true, "OFFSET": true, "UNION": true, "ALL": true,
	"DISTINCT": true, "AND": true, "OR": true, "NOT": true,
	"NULL": true, "CASE": true, "WHEN": true, "THEN": true,
	"ELSE": true, "END": true, "IN": true, "EXISTS": true,
	"LATERAL": true, "WITH": true, "OVER": true, "PARTITION": true,
}
