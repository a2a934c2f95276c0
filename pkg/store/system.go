package store

import (
	"context"

	"gorm.io/gorm/clause"
)

// GetState returns the value stored under key, or "" if absent.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var row SystemState
	if err := s.db.WithContext(ctx).Where(`"key" = ?`, key).First(&row).Error; err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return row.Value, nil
}

// SetState upserts a key/value pair, used for sync cursors.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	row := &SystemState{Key: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(row).Error
}
