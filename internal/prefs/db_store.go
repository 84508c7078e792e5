/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Preference is a single persisted key/value pair.
type Preference struct {
	Key       string `gorm:"column:pref_key;primaryKey;size:191"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName pins the table name.
func (Preference) TableName() string { return "preferences" }

// DBStore is a gorm-backed Lookup.
type DBStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewDBStore migrates the preferences table and returns the store.
func NewDBStore(db *gorm.DB, logger zerolog.Logger) (*DBStore, error) {
	if err := db.AutoMigrate(&Preference{}); err != nil {
		return nil, fmt.Errorf("migrate preferences: %w", err)
	}
	return &DBStore{db: db, logger: logger.With().Str("component", "prefs").Logger()}, nil
}

// Get returns the raw value for key.
func (s *DBStore) Get(ctx context.Context, key string) (string, bool, error) {
	var pref Preference
	err := s.db.WithContext(ctx).Where("pref_key = ?", key).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load preference %s: %w", key, err)
	}
	return pref.Value, true, nil
}

// Set upserts key.
func (s *DBStore) Set(ctx context.Context, key, value string) error {
	pref := Preference{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pref_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&pref).Error
	if err != nil {
		return fmt.Errorf("save preference %s: %w", key, err)
	}
	return nil
}

// SetDuration stores d under key.
func (s *DBStore) SetDuration(ctx context.Context, key string, d time.Duration) error {
	return s.Set(ctx, key, d.String())
}

// Duration implements Lookup. Lookup failures fall back to def.
func (s *DBStore) Duration(key string, def time.Duration) time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("preference lookup failed, using default")
		return def
	}
	if !ok {
		return def
	}
	d, ok := ParseDuration(raw)
	if !ok {
		s.logger.Warn().Str("key", key).Str("value", raw).Msg("unparsable duration preference, using default")
		return def
	}
	return d
}
