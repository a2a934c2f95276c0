package store

import (
	"context"

	"gorm.io/gorm/clause"
)

// BlockAuthor adds authorID to the runtime block list (the admin `block`
// command's target), distinct from the static config.FilterConfig
// BlockedAuthors list: this one is mutable without a restart.
func (s *Store) BlockAuthor(ctx context.Context, authorID int64) error {
	row := &BlockedAuthor{AuthorID: authorID}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "author_id"}}, DoNothing: true}).
		Create(row).Error
}

// UnblockAuthor removes authorID from the runtime block list.
func (s *Store) UnblockAuthor(ctx context.Context, authorID int64) error {
	return s.db.WithContext(ctx).Where("author_id = ?", authorID).Delete(&BlockedAuthor{}).Error
}

// BlockedAuthorIDs returns every runtime-blocked author id.
func (s *Store) BlockedAuthorIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&BlockedAuthor{}).Pluck("author_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
