package store

import (
	"context"
	"encoding/json"
)

// LogCleanerError records a failed cleaner batch for later retry,
// matching spec.md §4.2 / §7 CleanerError.
func (s *Store) LogCleanerError(ctx context.Context, tags []string, errMsg string) (uint, error) {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return 0, err
	}
	row := &CleanerErrorLog{TagsJSON: string(encoded), ErrorMsg: errMsg, Status: "pending"}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// PendingCleanerErrors returns every CleanerErrorLog row still awaiting
// retry, for the admin "retry" button.
func (s *Store) PendingCleanerErrors(ctx context.Context) ([]CleanerErrorLog, error) {
	var rows []CleanerErrorLog
	if err := s.db.WithContext(ctx).Where("status = ?", "pending").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ResolveCleanerError flips a logged batch's status to resolved after a
// successful retry.
func (s *Store) ResolveCleanerError(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&CleanerErrorLog{}).Where("id = ?", id).Update("status", "resolved").Error
}

// IgnoreCleanerError flips a logged batch's status to ignored.
func (s *Store) IgnoreCleanerError(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&CleanerErrorLog{}).Where("id = ?", id).Update("status", "ignored").Error
}
