package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/loader"
)

const ordersSQL = `-- name: staging.orders
-- kind: INCREMENTAL_BY_TIME_RANGE
-- time_column: event_date
-- owner: data-eng
-- tags: core, orders
-- contract_mode: STRICT
-- contract_columns: id:BIGINT:NOT_NULL, amount:DECIMAL, created:TIMESTAMP
-- test: NOT_NULL(id):BLOCK
-- test: ACCEPTED_VALUES(status, placed, shipped):WARN

SELECT id, amount, created, status FROM raw.orders WHERE event_date >= '2020-01-01'
`

func TestParseFullHeader(t *testing.T) {
	m, err := loader.Parse("staging/orders.sql", ordersSQL)
	require.NoError(t, err)

	assert.Equal(t, "staging.orders", m.Name)
	assert.Equal(t, contracts.KindIncrementalByTime, m.Kind)
	assert.Equal(t, "event_date", m.TimeColumn)
	assert.Equal(t, "data-eng", m.Owner)
	assert.Equal(t, []string{"core", "orders"}, m.Tags)
	assert.Equal(t, contracts.ContractStrict, m.ContractMode)

	require.Len(t, m.ContractColumns, 3)
	assert.Equal(t, contracts.ContractColumn{Name: "id", DataType: "BIGINT", Nullable: false}, m.ContractColumns[0])
	assert.Equal(t, contracts.ContractColumn{Name: "amount", DataType: "DECIMAL", Nullable: true}, m.ContractColumns[1])

	require.Len(t, m.Tests, 2)
	assert.Equal(t, contracts.TestNotNull, m.Tests[0].Type)
	assert.Equal(t, contracts.SeverityBlock, m.Tests[0].Severity)
	assert.Equal(t, []string{"placed", "shipped"}, m.Tests[1].Values)
	assert.Equal(t, contracts.SeverityWarn, m.Tests[1].Severity)

	assert.Equal(t, []string{"raw.orders"}, m.ReferencedTables)
	assert.Equal(t, []string{"id", "amount", "created", "status"}, m.OutputColumns)
	assert.Len(t, m.ContentHash, 64)
}

func TestParseContentHashIgnoresCosmetics(t *testing.T) {
	a, err := loader.Parse("a.sql", "-- name: m\n\nSELECT id FROM t")
	require.NoError(t, err)
	b, err := loader.Parse("b.sql", "-- name: m\n\n-- comment\nSELECT   id\n  FROM t\n")
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestParseTypeAliasNormalization(t *testing.T) {
	m, err := loader.Parse("m.sql", "-- name: m\n-- contract_columns: a:INTEGER, b:varchar(255), c:BOOL, d:NUMERIC\n\nSELECT 1 AS a")
	require.NoError(t, err)
	types := []string{}
	for _, c := range m.ContractColumns {
		types = append(types, c.DataType)
	}
	assert.Equal(t, []string{"INT", "STRING", "BOOLEAN", "DECIMAL"}, types)
}

func TestParseContractColumnErrors(t *testing.T) {
	cases := map[string]string{
		"missing type":     "-- contract_columns: id\n",
		"empty type":       "-- contract_columns: id:\n",
		"bad modifier":     "-- contract_columns: id:INT:UNIQUE\n",
		"too many parts":   "-- contract_columns: id:INT:NOT_NULL:EXTRA\n",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loader.Parse("m.sql", "-- name: m\n"+header+"\nSELECT 1 AS a")
			var perr *loader.HeaderParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestParseDefaultsAndDerivedName(t *testing.T) {
	m, err := loader.Parse("staging/events.sql", "SELECT id FROM raw.events")
	require.NoError(t, err)
	assert.Equal(t, "staging.events", m.Name)
	assert.Equal(t, contracts.KindFullRefresh, m.Kind)
	assert.Equal(t, contracts.MaterializationTable, m.Materialization)
	assert.Equal(t, contracts.ContractDisabled, m.ContractMode)
}

func TestParseMergeByKeyRequiresUniqueKey(t *testing.T) {
	_, err := loader.Parse("m.sql", "-- name: m\n-- kind: MERGE_BY_KEY\n\nSELECT 1 AS a")
	var perr *loader.HeaderParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseUnparseableSQLStillLoads(t *testing.T) {
	m, err := loader.Parse("m.sql", "-- name: m\n\nINSERT INTO something VALUES (1)")
	require.NoError(t, err)
	assert.Empty(t, m.ReferencedTables)
	assert.Empty(t, m.OutputColumns)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "staging"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging", "orders.sql"), []byte(ordersSQL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging", "skip.txt"), []byte("not sql"), 0o644))

	models, err := loader.New(dir, nil).LoadAll()
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Contains(t, models, "staging.orders")
}

func TestLoadAllDuplicateName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.sql"), []byte("-- name: dup\n\nSELECT 1 AS x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.sql"), []byte("-- name: dup\n\nSELECT 2 AS x"), 0o644))

	_, err := loader.New(dir, nil).LoadAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dup")
}

func TestSnapshotHashDistinctAcrossTenants(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"staging.orders": {Name: "staging.orders", ContentHash: "abc123"},
		"raw.events":     {Name: "raw.events", ContentHash: "def456"},
	}
	a := loader.SnapshotHash("tenant-a", "prod", models)
	b := loader.SnapshotHash("tenant-b", "prod", models)
	assert.NotEqual(t, a, b)

	// Same tenant and environment reproduce the same hash.
	assert.Equal(t, a, loader.SnapshotHash("tenant-a", "prod", models))

	// Environment is part of the derivation too.
	assert.NotEqual(t, a, loader.SnapshotHash("tenant-a", "dev", models))
}
