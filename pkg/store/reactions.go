package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordReaction upserts a reaction for id; a later call for the same id
// overwrites the earlier one.
func (s *Store) RecordReaction(ctx context.Context, id int64, action string) error {
	rec := &Reaction{WorkID: id, Action: action}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "work_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"action", "created_at"}),
		}).
		Create(rec).Error
}

// LikedIds returns every work-id with a recorded "like" reaction.
func (s *Store) LikedIds(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&Reaction{}).
		Where("action = ?", "like").Pluck("work_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// IncrementDislike bumps tag's dislike count (upsert) and returns the new
// count. Increments are monotonic, matching spec.md §4.3's invariant.
func (s *Store) IncrementDislike(ctx context.Context, tag string) (int, error) {
	var newCount int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row TagBlacklist
		err := tx.Where("tag = ?", tag).First(&row).Error
		switch {
		case isNotFound(err):
			newCount = 1
			return tx.Create(&TagBlacklist{Tag: tag, DislikeCount: 1}).Error
		case err != nil:
			return err
		default:
			newCount = row.DislikeCount + 1
			return tx.Model(&row).Update("dislike_count", newCount).Error
		}
	})
	return newCount, err
}

// Blacklist returns every tag currently in the blacklist table. The
// caller applies the configured threshold to decide effective
// blacklisting.
func (s *Store) Blacklist(ctx context.Context) ([]TagBlacklist, error) {
	var rows []TagBlacklist
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
