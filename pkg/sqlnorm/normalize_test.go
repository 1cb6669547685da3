package sqlnorm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

func TestNormalizeStripsCommentsAndWhitespace(t *testing.T) {
	sql := `
	-- leading comment
	SELECT  id,   amount   /* inline
	block */ FROM   staging.orders
	WHERE amount > 0 -- trailing
	`
	got := sqlnorm.Normalize(sql)
	assert.Equal(t, "SELECT id, amount FROM staging.orders WHERE amount > 0", got)
}

func TestNormalizeIdempotent(t *testing.T) {
	cases := []string{
		"SELECT 1",
		"  SELECT\n\ta , b FROM t -- c\n",
		"SELECT 'a  -- not a comment' FROM t",
		"/* only comment */",
		"",
	}
	for _, sql := range cases {
		once := sqlnorm.Normalize(sql)
		assert.Equal(t, once, sqlnorm.Normalize(once), "input %q", sql)
	}
}

func TestNormalizePreservesStringLiterals(t *testing.T) {
	got := sqlnorm.Normalize("SELECT 'two  spaces' FROM t")
	assert.Equal(t, "SELECT 'two  spaces' FROM t", got)
}

func TestIsCosmeticChange(t *testing.T) {
	a := "SELECT id FROM t"
	b := "-- comment\nSELECT   id\nFROM t"
	assert.True(t, sqlnorm.IsCosmeticChange(a, b))
	assert.False(t, sqlnorm.IsCosmeticChange(a, "SELECT id2 FROM t"))
}

func TestReferencedTables(t *testing.T) {
	sql := `SELECT o.id, c.name
		FROM staging.orders o
		JOIN staging.customers c ON o.customer_id = c.id
		LEFT JOIN raw.events ON raw.events.order_id = o.id
		WHERE EXISTS (SELECT 1 FROM raw.flags f WHERE f.id = o.id)`
	got := sqlnorm.ReferencedTables(sql)
	assert.Equal(t, []string{"staging.orders", "staging.customers", "raw.events", "raw.flags"}, got)
}

func TestReferencedTablesSkipsSubqueryParens(t *testing.T) {
	got := sqlnorm.ReferencedTables("SELECT * FROM (SELECT id FROM raw.events) sub")
	assert.Equal(t, []string{"raw.events"}, got)
}

func TestOutputColumns(t *testing.T) {
	cols, ok := sqlnorm.OutputColumns("SELECT id, o.amount, SUM(x) AS total, COUNT(*) cnt FROM t GROUP BY 1, 2")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "amount", "total", "cnt"}, cols)
}

func TestOutputColumnsStarUnresolved(t *testing.T) {
	_, ok := sqlnorm.OutputColumns("SELECT * FROM t")
	assert.False(t, ok)

	_, ok = sqlnorm.OutputColumns("SELECT t.*, id FROM t")
	assert.False(t, ok)
}

func TestOutputColumnsIgnoresSubqueryFrom(t *testing.T) {
	cols, ok := sqlnorm.OutputColumns("SELECT (SELECT MAX(v) FROM u) AS peak, id FROM t")
	require.True(t, ok)
	assert.Equal(t, []string{"peak", "id"}, cols)
}

func TestSelectItems(t *testing.T) {
	items, ok := sqlnorm.SelectItems("SELECT a, b AS bee, f(c, d) AS eff FROM t")
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].Alias)
	assert.Equal(t, "bee", items[1].Alias)
	assert.Equal(t, "eff", items[2].Alias)
	assert.Equal(t, "f(c, d) AS eff", items[2].Expr)
}
