package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SortedAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_round_results.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"pg/001_engine_state.sql":  {Data: []byte("CREATE TABLE a (id INT);")},
		"pg/003_empty.sql":         {Data: []byte("  \n")},
		"pg/README.md":             {Data: []byte("not sql")},
	}

	got, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_engine_state.sql", got[0].Name)
	assert.Equal(t, "002_round_results.sql", got[1].Name)
}

func TestLoad_Embedded(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, "001_engine_state.sql", pg[0].Name)

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		assert.NoError(t, validateNoSemicolonInStrings(m.SQL), m.Name)
		assert.NotEmpty(t, splitStatements(m.SQL), m.Name)
	}
}

func TestPending(t *testing.T) {
	all := []Migration{{Name: "001.sql"}, {Name: "002.sql"}, {Name: "003.sql"}}

	todo, report := pending(all, map[string]bool{"001.sql": true})
	require.Len(t, todo, 2)
	assert.Equal(t, "002.sql", todo[0].Name)
	assert.Equal(t, []string{"001.sql"}, report.Skipped)
	assert.Empty(t, report.Applied)

	todo, report = pending(all, map[string]bool{"001.sql": true, "002.sql": true, "003.sql": true})
	assert.Empty(t, todo)
	assert.Equal(t, "schema up to date (3 migrations)", report.String())
}

func TestReport_String(t *testing.T) {
	r := Report{Applied: []string{"002.sql", "003.sql"}, Skipped: []string{"001.sql"}}
	assert.Equal(t, "applied 002.sql, 003.sql, 1 already present", r.String())
}

func TestSplitStatements(t *testing.T) {
	sql := "-- header\nCREATE TABLE a (id Int64);\n\nCREATE TABLE b (id Int64)\nENGINE = Memory;\n"
	assert.Equal(t, []string{
		"CREATE TABLE a (id Int64)",
		"CREATE TABLE b (id Int64)\nENGINE = Memory",
	}, splitStatements(sql))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s';"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b';"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/buymax")
	require.NoError(t, err)
	assert.Equal(t, "buymax", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
