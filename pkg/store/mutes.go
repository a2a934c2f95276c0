package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// MuteTag suppresses tag until expiresAt (time-bounded, unlike
// TagBlacklist which is persistent).
func (s *Store) MuteTag(ctx context.Context, tag string, expiresAt time.Time) error {
	row := &TagMute{Tag: tag, ExpiresAt: expiresAt}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tag"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		}).
		Create(row).Error
}

// UnmuteTag removes any mute on tag.
func (s *Store) UnmuteTag(ctx context.Context, tag string) error {
	return s.db.WithContext(ctx).Where("tag = ?", tag).Delete(&TagMute{}).Error
}

// ActiveMutes returns every tag whose mute has not yet expired.
func (s *Store) ActiveMutes(ctx context.Context, now time.Time) ([]TagMute, error) {
	var rows []TagMute
	if err := s.db.WithContext(ctx).Where("expires_at > ?", now).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PruneExpiredMutes deletes mutes that have already expired, returning
// the number removed. Used by the periodic maintenance loop.
func (s *Store) PruneExpiredMutes(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&TagMute{})
	return res.RowsAffected, res.Error
}
