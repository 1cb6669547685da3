package sqlnorm

import "strings"

// typeAliases maps dialect spellings onto canonical type names.
var typeAliases = map[string]string{
	"INTEGER":  "INT",
	"INT4":     "INT",
	"SMALLINT": "INT",
	"INT8":     "BIGINT",
	"LONG":     "BIGINT",
	"VARCHAR":  "STRING",
	"TEXT":     "STRING",
	"CHAR":     "STRING",
	"BOOL":     "BOOLEAN",
	"NUMERIC":  "DECIMAL",
	"NUMBER":   "DECIMAL",
	"FLOAT":    "DOUBLE",
	"REAL":     "DOUBLE",
	"FLOAT8":   "DOUBLE",
	"DATETIME": "TIMESTAMP",
}

// NormalizeDataType canonicalizes a SQL data type: case-folded,
// length/precision arguments dropped, dialect aliases applied.
// "varchar(255)" and "STRING" normalize to the same value.
func NormalizeDataType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if canonical, ok := typeAliases[t]; ok {
		return canonical
	}
	return t
}
