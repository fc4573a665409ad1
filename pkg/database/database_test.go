package database

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"PGX", DialectPostgres, false},
		{"mysql", DialectMySQL, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDialect(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE step_records SET status = ? WHERE id = ? AND status = ?"

	assert.Equal(t, q, DialectSQLite.Rebind(q))
	assert.Equal(t, q, DialectMySQL.Rebind(q))
	assert.Equal(t, "UPDATE step_records SET status = $1 WHERE id = $2 AND status = $3", DialectPostgres.Rebind(q))
	assert.Equal(t, "pgx", DialectPostgres.driverName())
}

func TestEmbeddedMigrations_EveryDialect(t *testing.T) {
	for _, d := range []Dialect{DialectSQLite, DialectPostgres, DialectMySQL} {
		entries, err := fs.ReadDir(embeddedMigrations, path.Join("migrations", d.migrationsDir()))
		require.NoError(t, err, string(d))
		assert.NotEmpty(t, entries, string(d))
	}
}

func TestMigration_Statements(t *testing.T) {
	m := Migration{SQL: `
-- leading comment
CREATE TABLE a (id TEXT);

CREATE INDEX idx_a ON a(id);
-- trailing comment
`}
	stmts := m.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id TEXT)", stmts[0])
	assert.Equal(t, "CREATE INDEX idx_a ON a(id)", stmts[1])
}

func TestMigrator_EmbeddedSchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applied, err := NewMigrator(db, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = NewMigrator(db, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	for _, table := range []string{"approval_rules", "workflow_instances", "step_records"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrator_OrdersByVersionAndRejectsBadNames(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("INSERT INTO things (id) VALUES (2);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE things (id INTEGER);")},
		"README.md":      {Data: []byte("ignored")},
	}
	applied, err := NewMigratorFS(db, fsys, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM things").Scan(&count))
	assert.Equal(t, 1, count)

	bad := fstest.MapFS{"first.sql": {Data: []byte("SELECT 1;")}}
	_, err = NewMigratorFS(db, bad, zap.NewNop()).Run(ctx)
	assert.Error(t, err)
}
