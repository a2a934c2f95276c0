package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// IsPushed reports whether id already has a PushRecord.
func (s *Store) IsPushed(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&PushRecord{}).Where("work_id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkPushed records id as pushed with the given source. A second call
// for the same id is a no-op (it does not error and does not duplicate
// history), matching spec.md's round-trip property.
func (s *Store) MarkPushed(ctx context.Context, id int64, source string) error {
	rec := &PushRecord{WorkID: id, Source: source}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "work_id"}}, DoNothing: true}).
		Create(rec).Error
}

// PushStats aggregates push and reaction counts over a recent window,
// used for the orchestrator's admin-channel tick report.
type PushStats struct {
	PushCount    int64
	LikeCount    int64
	DislikeCount int64
}

// PushStats returns an aggregate summary of activity over the last days
// days.
func (s *Store) PushStats(ctx context.Context, days int) (*PushStats, error) {
	if days <= 0 {
		days = 1
	}
	cutoffExpr := fmt.Sprintf("-%d days", days)

	var stats PushStats
	if err := s.db.WithContext(ctx).Model(&PushRecord{}).
		Where("pushed_at >= datetime('now', ?)", cutoffExpr).Count(&stats.PushCount).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&Reaction{}).
		Where("action = ? AND created_at >= datetime('now', ?)", "like", cutoffExpr).Count(&stats.LikeCount).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&Reaction{}).
		Where("action = ? AND created_at >= datetime('now', ?)", "dislike", cutoffExpr).Count(&stats.DislikeCount).Error; err != nil {
		return nil, err
	}

	return &stats, nil
}
