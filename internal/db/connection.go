package db

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Open opens the sqlite file at path and syncs the schema.
// The returned DB is process-wide and safe for concurrent use.
func Open(path string) (*gorm.DB, error) {
	gdb, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := SyncSchema(gdb); err != nil {
		_ = Close(gdb)
		return nil, err
	}
	return gdb, nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	sqliteDriverName = "sqlite"
	sqlitePragmas    = []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`}
)

func openSQLite(path string) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: sqliteDriverName,
		DSN:        path,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		if c, ok := gdb.ConnPool.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, err
	}
	// One connection: sqlite serializes writers anyway and a single pool slot
	// keeps in-memory DSNs pointing at the same database.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	for _, pragma := range sqlitePragmas {
		if err := gdb.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return gdb, nil
}
