package store

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm/clause"
)

// BookmarkWork is the shape SaveBookmarkScans accepts; it mirrors the
// Work entity's fields relevant to profile seeding.
type BookmarkWork struct {
	ID         int64
	Tags       []string
	CreateDate time.Time
}

// SaveBookmarkScans records a batch of scanned bookmarks for ownerID,
// seeding future profile rebuilds without re-hitting the platform.
func (s *Store) SaveBookmarkScans(ctx context.Context, ownerID int64, works []BookmarkWork) error {
	if len(works) == 0 {
		return nil
	}
	rows := make([]BookmarkScan, 0, len(works))
	for _, w := range works {
		encoded, err := json.Marshal(w.Tags)
		if err != nil {
			return err
		}
		rows = append(rows, BookmarkScan{
			WorkID:    w.ID,
			OwnerID:   ownerID,
			TagsJSON:  string(encoded),
			CreatedAt: w.CreateDate,
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "work_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tags_json", "created_at"}),
		}).
		CreateInBatches(rows, 200).Error
}

// BookmarkScans returns every scanned bookmark recorded for ownerID.
func (s *Store) BookmarkScans(ctx context.Context, ownerID int64) ([]BookmarkWork, error) {
	var rows []BookmarkScan
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]BookmarkWork, 0, len(rows))
	for _, r := range rows {
		var tags []string
		if err := json.Unmarshal([]byte(r.TagsJSON), &tags); err != nil {
			return nil, err
		}
		out = append(out, BookmarkWork{ID: r.WorkID, Tags: tags, CreateDate: r.CreatedAt})
	}
	return out, nil
}
