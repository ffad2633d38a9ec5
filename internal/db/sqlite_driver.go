package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
	"golang.org/x/text/cases"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver with custom SQL functions.
	SQLiteDriverName = "sqlite3_notecase"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("casefold", sqliteCasefold, true); err != nil {
				return fmt.Errorf("register casefold SQL function: %w", err)
			}
			return nil
		},
	})
}

// cases.Caser keeps state and is not safe for concurrent use.
var folderPool = sync.Pool{
	New: func() any {
		c := cases.Fold()
		return &c
	},
}

// Fold returns the Unicode case folding of s. SQLite's own lower() and
// NOCASE only fold ASCII; search and label matching fold on both sides
// with this function (in Go and, through casefold(), in SQL).
func Fold(s string) string {
	c := folderPool.Get().(*cases.Caser)
	defer folderPool.Put(c)
	return c.String(s)
}

// NormalizeKey trims and case-folds s.
func NormalizeKey(s string) string {
	return Fold(strings.TrimSpace(s))
}

func sqliteCasefold(input any) (string, error) {
	switch x := input.(type) {
	case nil:
		return "", nil
	case string:
		return Fold(x), nil
	case []byte:
		return Fold(string(x)), nil
	default:
		return "", fmt.Errorf("unsupported casefold input type: %T", input)
	}
}
