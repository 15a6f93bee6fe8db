package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultsAreValid(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()
	req.NoError(cfg.Validate())
	req.Contains(cfg.DSN(), "_journal_mode=WAL")
}

func TestConfig_Validation(t *testing.T) {
	cases := map[string]func(*Config){
		"empty path":        func(c *Config) { c.DatabasePath = "" },
		"zero connections":  func(c *Config) { c.MaxConnections = 0 },
		"zero lifetime":     func(c *Config) { c.ConnMaxLifetime = 0 },
		"zero idle":         func(c *Config) { c.ConnMaxIdleTime = 0 },
		"zero write buffer": func(c *Config) { c.WriteBuffer = 0 },
		"negative retry":    func(c *Config) { c.RetryDelay = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestMigrationManager_AppliesEmbeddedSchema(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	m := NewMigrationManager(db)

	req.NoError(m.ApplyMigrations())
	req.NoError(m.ApplyMigrations(), "applying twice is a no-op")

	versions, err := m.AppliedVersions()
	req.NoError(err)
	req.Equal([]string{"001"}, versions)

	req.NoError(NewSchemaValidator(db).Validate())
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/002_add_b.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/001_add_a.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/README.md":     {Data: []byte("ignored")},
	}
	m := NewMigrationManagerFS(db, source, "m")

	migrations, err := m.LoadMigrations()
	req.NoError(err)
	req.Len(migrations, 2)
	req.Equal("001", migrations[0].Version)
	req.Equal("add_a", migrations[0].Description)

	req.NoError(m.ApplyMigrations())
	versions, err := m.AppliedVersions()
	req.NoError(err)
	req.Equal([]string{"001", "002"}, versions)
}

func TestSchemaValidator_DetectsMissingTables(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	req.Error(NewSchemaValidator(db).ValidateTablesExist())
}

func TestSchema_MessagesRequireRoom(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	req.NoError(NewMigrationManager(db).ApplyMigrations())

	_, err := db.Exec(`INSERT INTO messages (room_id, ordinal, session_id, user_id, alias, content, timestamp)
		VALUES ('ghost', 0, 's', 'u', 'A', 'hi', CURRENT_TIMESTAMP)`)
	req.Error(err, "foreign key to rooms is enforced")
}

func TestSQLiteOptimizations(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	req.NoError(ApplySQLiteOptimizations(db))

	var mode string
	req.NoError(db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	req.Equal("wal", mode)
}
