// Package testdb opens throwaway in-memory databases with the full schema.
package testdb

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kuitang/notecase/internal/db"
)

var counter atomic.Uint64

// testKey is a fixed SQLCipher key; in-memory databases never touch disk.
var testKey = strings.Repeat("ab", db.KeySize)

// Open creates an isolated in-memory encrypted database with the schema
// applied. Each call gets a fresh database, shared by the pool's
// connections through SQLite's shared cache.
func Open(name string) (*sql.DB, error) {
	if name == "" {
		name = "test"
	}
	name = fmt.Sprintf("%s-%d", name, counter.Add(1))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_foreign_keys=on&_busy_timeout=5000",
		name, testKey)

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// Keep one idle connection so the shared-cache database outlives
	// individual queries.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(0)

	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if _, err := sqlDB.Exec(db.Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory schema: %w", err)
	}

	return sqlDB, nil
}

// New is Open for tests: it fails the test on error and closes the
// database on cleanup.
func New(t testing.TB) *sql.DB {
	t.Helper()
	sqlDB, err := Open(strings.ReplaceAll(t.Name(), "/", "_"))
	if err != nil {
		t.Fatalf("testdb: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

// Key returns the fixed test key as bytes.
func Key() []byte {
	key, _ := hex.DecodeString(testKey)
	return key
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
