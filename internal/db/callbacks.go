/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/timelapse/internal/telemetry"
)

const startTimeKey = "timelapse:start_time"

// hook instruments one gorm processor. The preference store only reads
// single keys (Query) and upserts them (Create), so nothing else is timed.
type hook struct {
	operation string
	register  func(db *gorm.DB, before, after func(*gorm.DB)) error
}

var hooks = []hook{
	{"lookup", func(db *gorm.DB, before, after func(*gorm.DB)) error {
		if err := db.Callback().Query().Before("gorm:query").Register("timelapse:before_lookup", before); err != nil {
			return err
		}
		return db.Callback().Query().After("gorm:query").Register("timelapse:after_lookup", after)
	}},
	{"upsert", func(db *gorm.DB, before, after func(*gorm.DB)) error {
		if err := db.Callback().Create().Before("gorm:create").Register("timelapse:before_upsert", before); err != nil {
			return err
		}
		return db.Callback().Create().After("gorm:create").Register("timelapse:after_upsert", after)
	}},
}

// RegisterCallbacks times preference lookups and upserts and counts their
// failures and misses.
func RegisterCallbacks(db *gorm.DB) error {
	for _, h := range hooks {
		if err := h.register(db, markStart, observe(h.operation)); err != nil {
			return err
		}
	}
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := tableOf(db)
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		switch {
		case db.Error == nil:
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// An unset preference; callers fall back to their default.
			telemetry.DatabaseLookupMissesTotal.WithLabelValues(table).Inc()
		default:
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, errorType(db.Error)).Inc()
		}
	}
}

func tableOf(db *gorm.DB) string {
	if db.Statement == nil {
		return "unknown"
	}
	if db.Statement.Table != "" {
		return db.Statement.Table
	}
	if db.Statement.Schema != nil && db.Statement.Schema.Table != "" {
		return db.Statement.Schema.Table
	}
	return "unknown"
}

func errorType(err error) string {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate_key"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return "invalid_transaction"
	default:
		return "query_error"
	}
}

// UpdateConnectionMetrics publishes the pool's open connection count.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
