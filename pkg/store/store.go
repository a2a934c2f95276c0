package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// isNotFound reports whether err is gorm's not-found sentinel, the
// translation point the repository-style operations in this package use
// to turn it into zero-value/empty returns where spec.md calls for that.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Store is the single process-wide capability instance over the embedded
// database. All write paths commit before returning; mutators are
// serialized per-table via short transactions, matching spec.md §4.1.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite file at path (created if absent) and runs
// AutoMigrate so every table exists on return, matching spec.md §6
// "Schema ... created if absent on startup (idempotent)."
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	slog.Info("store opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying *gorm.DB for components that need raw
// transactions (e.g. the atomic profile replace).
func (s *Store) DB() *gorm.DB {
	return s.db
}
