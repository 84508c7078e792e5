/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package db opens the gorm connection backing persistent preferences.
package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/timelapse/internal/config"
)

// ErrNoDatabase is returned for backends that do not use a database.
var ErrNoDatabase = errors.New("backend does not use a database")

// Connect establishes a gorm DB connection for the configured preference backend.
func Connect(backend config.PrefsBackend, dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch backend {
	case config.PrefsPostgres:
		dialector = postgres.Open(dsn)
	case config.PrefsMySQL:
		dialector = mysql.Open(dsn)
	case config.PrefsSQLite:
		dialector = sqlite.Open(dsn)
	case config.PrefsMemory:
		return nil, ErrNoDatabase
	default:
		return nil, fmt.Errorf("unknown database backend: %s", backend)
	}

	gormConfig := &gorm.Config{
		Logger: NewLogger(logger, 200*time.Millisecond),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", backend, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if backend == config.PrefsSQLite {
		// sqlite serializes writers and every :memory: connection is its own database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := RegisterCallbacks(db); err != nil {
		return nil, fmt.Errorf("register callbacks: %w", err)
	}
	UpdateConnectionMetrics(db)

	return db, nil
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
