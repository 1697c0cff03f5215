package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kcartbot/knowledge-engine/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSqlite opens a SQLite database at the given path, creating parent
// directories as needed. The special path ":memory:" opens a private
// in-memory database.
func OpenSqlite(path string) (*gorm.DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = ":memory:"
	} else {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "failed to create database directory: %s", dir)
			}
		}
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_foreign_keys=on", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if path == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func CloseDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrapf(err, "failed to get db")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrapf(err, "failed to close db")
	}

	return nil
}
