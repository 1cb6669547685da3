// Package lineage derives per-output-column lineage from model SQL:
// which source table and column feeds each output, and through what
// kind of transform. Cross-model tracing walks upstream until it
// reaches an external (non-model) source.
//
// Lineage is a best-effort structural read, not a full SQL compiler.
// Columns that cannot be resolved are reported as unresolved rather
// than guessed.
package lineage

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

// TransformType classifies how an output column is produced.
type TransformType string

const (
	TransformDirect      TransformType = "direct"
	TransformExpression  TransformType = "expression"
	TransformAggregation TransformType = "aggregation"
	TransformWindow      TransformType = "window"
	TransformCase        TransformType = "case"
	TransformLiteral     TransformType = "literal"
)

// ErrUnresolvedSelect is returned when the statement has no
// recognizable SELECT list.
var ErrUnresolvedSelect = errors.New("lineage: could not resolve SELECT list")

// ColumnLineage is the lineage of one output column.
type ColumnLineage struct {
	Column       string        `json:"column"`
	SourceTable  string        `json:"source_table,omitempty"`
	SourceColumn string        `json:"source_column,omitempty"`
	Transform    TransformType `json:"transform"`
	Unresolved   bool          `json:"unresolved,omitempty"`
}

var aggregateRe = regexp.MustCompile(`(?i)^(SUM|COUNT|AVG|MIN|MAX)\s*\(`)

// Extract derives column lineage for one statement. schema optionally
// maps table name to {column: type} and enables SELECT * expansion;
// without it a star is recorded as a single unresolved entry.
func Extract(sql string, schema map[string]map[string]string) ([]ColumnLineage, error) {
	items, ok := sqlnorm.SelectItems(sql)
	if !ok {
		return nil, ErrUnresolvedSelect
	}
	aliases, tables := tableAliases(sql)

	var out []ColumnLineage
	for _, item := range items {
		if item.Star {
			out = append(out, expandStar(item, aliases, tables, schema)...)
			continue
		}
		cl := classify(item, aliases, tables, schema)
		out = append(out, cl)
	}
	return out, nil
}

// expandStar resolves `*` or `alias.*` against the schema map.
func expandStar(item sqlnorm.SelectItem, aliases map[string]string, tables []string, schema map[string]map[string]string) []ColumnLineage {
	table := ""
	if strings.HasSuffix(item.Expr, ".*") {
		qualifier := strings.TrimSuffix(item.Expr, ".*")
		table = resolveTable(qualifier, aliases)
	} else if len(tables) == 1 {
		table = tables[0]
	}

	cols, known := schema[table]
	if table == "" || !known {
		return []ColumnLineage{{Column: item.Expr, Transform: TransformDirect, Unresolved: true}}
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ColumnLineage, 0, len(names))
	for _, name := range names {
		out = append(out, ColumnLineage{
			Column:       name,
			SourceTable:  table,
			SourceColumn: name,
			Transform:    TransformDirect,
		})
	}
	return out
}

func classify(item sqlnorm.SelectItem, aliases map[string]string, tables []string, schema map[string]map[string]string) ColumnLineage {
	expr := trimAlias(strings.TrimSpace(item.Expr), item.Alias)
	upper := strings.ToUpper(expr)
	cl := ColumnLineage{Column: item.Alias}
	if cl.Column == "" {
		cl.Column = expr
		cl.Unresolved = true
	}

	switch {
	case isLiteral(expr):
		cl.Transform = TransformLiteral
		return cl
	case containsKeyword(upper, "OVER"):
		cl.Transform = TransformWindow
	case strings.HasPrefix(upper, "CASE"):
		cl.Transform = TransformCase
	case aggregateRe.MatchString(expr):
		cl.Transform = TransformAggregation
	case isColumnRef(expr):
		cl.Transform = TransformDirect
		table, column := splitRef(expr)
		cl.SourceColumn = column
		cl.SourceTable = sourceTableFor(table, column, aliases, tables, schema)
		if cl.SourceTable == "" {
			cl.Unresolved = true
		}
		return cl
	default:
		cl.Transform = TransformExpression
	}

	// Non-direct transforms: attribute to the first column reference
	// inside the expression when one exists.
	if table, column, ok := firstColumnRef(expr); ok {
		cl.SourceColumn = column
		cl.SourceTable = sourceTableFor(table, column, aliases, tables, schema)
	}
	if cl.SourceTable == "" {
		cl.Unresolved = true
	}
	return cl
}

// trimAlias removes a trailing "[AS] alias" suffix so the underlying
// expression can be classified on its own. A plain column reference
// whose name equals its alias is left intact.
func trimAlias(expr, alias string) string {
	if alias == "" || !strings.HasSuffix(strings.ToLower(expr), strings.ToLower(alias)) {
		return expr
	}
	head := expr[:len(expr)-len(alias)]
	if head == "" || !strings.HasSuffix(head, " ") {
		return expr
	}
	head = strings.TrimSpace(head)
	if strings.HasSuffix(strings.ToUpper(head), " AS") {
		head = strings.TrimSpace(head[:len(head)-2])
	}
	if head == "" {
		return expr
	}
	return head
}

// isColumnRef reports whether the expression is a plain (possibly
// aliased) column reference.
func isColumnRef(expr string) bool {
	fields := strings.Fields(expr)
	switch len(fields) {
	case 1:
		return identOK(fields[0])
	case 2:
		return identOK(fields[0]) && identOK(fields[1])
	case 3:
		return identOK(fields[0]) && strings.EqualFold(fields[1], "AS") && identOK(fields[2])
	default:
		return false
	}
}

func identOK(tok string) bool {
	for _, part := range strings.Split(tok, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			c := part[i]
			wordByte := c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
			if !wordByte || (i == 0 && c >= '0' && c <= '9') {
				return false
			}
		}
	}
	return true
}

func isLiteral(expr string) bool {
	if expr == "" {
		return false
	}
	if expr[0] == '\'' || expr[0] >= '0' && expr[0] <= '9' {
		// Literal only when the whole expression is the literal.
		return !strings.ContainsAny(expr, "+-*/|( ")
	}
	up := strings.ToUpper(expr)
	return up == "NULL" || up == "TRUE" || up == "FALSE"
}

func containsKeyword(upper, kw string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], kw)
		if i < 0 {
			return false
		}
		i += idx
		beforeOK := i == 0 || !isWordChar(upper[i-1])
		afterOK := i+len(kw) == len(upper) || !isWordChar(upper[i+len(kw)])
		if beforeOK && afterOK {
			return true
		}
		idx = i + len(kw)
	}
}

func isWordChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// splitRef splits "alias.column" into its qualifier and column. The
// first field of the expression is used so trailing aliases are
// ignored.
func splitRef(expr string) (table, column string) {
	ref := strings.Fields(expr)[0]
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

// firstColumnRef scans an expression for its first identifier that is
// not a function name or keyword.
func firstColumnRef(expr string) (table, column string, ok bool) {
	re := regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*`)
	for _, loc := range re.FindAllStringIndex(expr, -1) {
		tok := expr[loc[0]:loc[1]]
		// Function call: identifier immediately followed by "(".
		rest := strings.TrimLeft(expr[loc[1]:], " ")
		if strings.HasPrefix(rest, "(") {
			continue
		}
		if exprKeywords[strings.ToUpper(tok)] {
			continue
		}
		if i := strings.LastIndex(tok, "."); i >= 0 {
			return tok[:i], tok[i+1:], true
		}
		return "", tok, true
	}
	return "", "", false
}

var exprKeywords = map[string]bool{
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"AS": true, "AND": true, "OR": true, "NOT": true, "IN": true,
	"NULL": true, "TRUE": true, "FALSE": true, "OVER": true,
	"PARTITION": true, "BY": true, "ORDER": true, "DISTINCT": true,
	"IS": true, "LIKE": true, "BETWEEN": true, "INTERVAL": true,
}

// sourceTableFor resolves the table feeding a column reference:
// explicit qualifier first, then single-table statements, then a
// schema-map search.
func sourceTableFor(qualifier, column string, aliases map[string]string, tables []string, schema map[string]map[string]string) string {
	if qualifier != "" {
		return resolveTable(qualifier, aliases)
	}
	if len(tables) == 1 {
		return tables[0]
	}
	var hits []string
	for table, cols := range schema {
		if _, ok := cols[column]; ok {
			hits = append(hits, table)
		}
	}
	if len(hits) == 1 {
		return hits[0]
	}
	return ""
}

func resolveTable(qualifier string, aliases map[string]string) string {
	if t, ok := aliases[strings.ToLower(qualifier)]; ok {
		return t
	}
	return qualifier
}

// tableAliases extracts FROM/JOIN table names and their aliases.
func tableAliases(sql string) (map[string]string, []string) {
	s := sqlnorm.Normalize(sql)
	fields := strings.Fields(s)
	aliases := make(map[string]string)
	var tables []string
	seen := make(map[string]bool)

	for i := 0; i < len(fields)-1; i++ {
		kw := strings.ToUpper(fields[i])
		if kw != "FROM" && kw != "JOIN" {
			continue
		}
		table := strings.TrimRight(fields[i+1], ",")
		if !identOK(table) {
			continue
		}
		if !seen[table] {
			seen[table] = true
			tables = append(tables, table)
		}
		aliases[strings.ToLower(table)] = table
		// Optional alias: FROM table [AS] alias
		j := i + 2
		if j < len(fields) && strings.EqualFold(fields[j], "AS") {
			j++
		}
		if j < len(fields) {
			alias := strings.TrimRight(fields[j], ",")
			if identOK(alias) && !joinKeywords[strings.ToUpper(alias)] {
				aliases[strings.ToLower(alias)] = table
			}
		}
	}
	return aliases, tables
}

var joinKeywords = map[string]bool{
	"ON": true, "WHERE": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true,
	"GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"UNION": true, "USING": true, "AS": true,
}

// TraceStep is one hop of a cross-model trace.
type TraceStep struct {
	Model        string        `json:"model"`
	Column       string        `json:"column"`
	SourceTable  string        `json:"source_table,omitempty"`
	SourceColumn string        `json:"source_column,omitempty"`
	Transform    TransformType `json:"transform"`
	External     bool          `json:"external,omitempty"`
}

// Trace follows a column upstream across models until it reaches an
// external source. schema enables star expansion along the way.
func Trace(models map[string]*contracts.ModelDefinition, modelName, column string, schema map[string]map[string]string) ([]TraceStep, error) {
	var steps []TraceStep
	visited := make(map[string]bool)

	current, currentColumn := modelName, column
	for {
		model, ok := models[current]
		if !ok {
			return nil, fmt.Errorf("lineage: unknown model %q", current)
		}
		key := current + "\x00" + currentColumn
		if visited[key] {
			break
		}
		visited[key] = true

		cols, err := Extract(model.CleanSQL, schema)
		if err != nil {
			return nil, fmt.Errorf("lineage: trace %s: %w", current, err)
		}
		var found *ColumnLineage
		for i := range cols {
			if strings.EqualFold(cols[i].Column, currentColumn) {
				found = &cols[i]
				break
			}
		}
		if found == nil {
			return steps, fmt.Errorf("lineage: column %q not produced by %s", currentColumn, current)
		}

		step := TraceStep{
			Model:        current,
			Column:       found.Column,
			SourceTable:  found.SourceTable,
			SourceColumn: found.SourceColumn,
			Transform:    found.Transform,
		}
		_, upstream := models[found.SourceTable]
		step.External = !upstream && found.SourceTable != ""
		steps = append(steps, step)

		if !upstream || found.SourceColumn == "" {
			break
		}
		current, currentColumn = found.SourceTable, found.SourceColumn
	}
	return steps, nil
}
