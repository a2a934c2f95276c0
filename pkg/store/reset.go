package store

import "context"

// ResetProfile truncates profile/pair/raw-mapping/cleaner-error tables,
// implementing the CLI `--reset-xp` contract from spec.md §6. Push
// history, reactions, and the blacklist are retained.
func (s *Store) ResetProfile(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, stmt := range []string{
		"DELETE FROM profile_entries",
		"DELETE FROM profile_pairs",
		"DELETE FROM raw_mappings",
		"DELETE FROM cleaner_error_logs",
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
