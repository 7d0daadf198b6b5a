package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var source = fstest.MapFS{
	"0001_accounts.up.sql":   {Data: []byte("create table accounts (id text primary key, note text default 'a;b');")},
	"0001_accounts.down.sql": {Data: []byte("drop table accounts;")},
	"0002_index.up.sql":      {Data: []byte("create index accounts_note on accounts(note);\n")},
	"README.md":              {Data: []byte("ignored")},
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func TestUpStatusDownOnSQLite(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	mgr := NewManager(db, source, WithLogger(quietLogger()))

	applied, err := mgr.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_accounts.up.sql", "0002_index.up.sql"}, applied)

	applied, err = mgr.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	_, err = db.ExecContext(ctx, `insert into accounts(id) values ('x')`)
	require.NoError(t, err)

	// 0002 has no down file
	_, err = mgr.Down(ctx)
	require.ErrorContains(t, err, "missing down migration")

	status, err := mgr.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status, 2)
}

func TestDownRemovesLastMigration(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	src := fstest.MapFS{
		"0001_accounts.up.sql":   source["0001_accounts.up.sql"],
		"0001_accounts.down.sql": source["0001_accounts.down.sql"],
	}
	mgr := NewManager(db, src, WithLogger(quietLogger()), WithMigrationsTable("journal_migrations"))

	_, err := mgr.Up(ctx)
	require.NoError(t, err)
	last, err := mgr.Down(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0001_accounts.up.sql", last)

	status, err := mgr.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status)

	_, err = mgr.Down(ctx)
	require.Error(t, err)
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_accounts.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create index accounts_note").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	mgr := NewManager(db, source, WithLogger(quietLogger()))
	applied, err := mgr.Up(context.Background())
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); select 1;")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "'a;b'")
}
