package store

import (
	"context"
	"encoding/json"

	"gorm.io/gorm/clause"
)

// CacheWork stores a work's tag list for later reaction-path lookup.
func (s *Store) CacheWork(ctx context.Context, id int64, tags []string) error {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	rec := &WorkCache{WorkID: id, TagsJSON: string(encoded)}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "work_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tags_json"}),
		}).
		Create(rec).Error
}

// CachedTags returns the tags previously stored via CacheWork.
func (s *Store) CachedTags(ctx context.Context, id int64) ([]string, error) {
	var rec WorkCache
	if err := s.db.WithContext(ctx).Where("work_id = ?", id).First(&rec).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var tags []string
	if err := json.Unmarshal([]byte(rec.TagsJSON), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// CleanCacheSnapshot loads the entire raw-tag -> canonical-tag (or
// nil-sentinel) mapping in one pass, for the normalizer to check before
// making any remote calls.
func (s *Store) CleanCacheSnapshot(ctx context.Context) (map[string]*string, error) {
	var rows []TagCleanCache
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*string, len(rows))
	for _, r := range rows {
		out[r.RawTag] = r.CleanedTag
	}
	return out, nil
}

// UpsertCleanCache batch-writes raw -> canonical (or nil) mappings.
func (s *Store) UpsertCleanCache(ctx context.Context, mapping map[string]*string) error {
	if len(mapping) == 0 {
		return nil
	}
	rows := make([]TagCleanCache, 0, len(mapping))
	for raw, cleaned := range mapping {
		rows = append(rows, TagCleanCache{RawTag: raw, CleanedTag: cleaned})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "raw_tag"}},
			DoUpdates: clause.AssignmentColumns([]string{"cleaned_tag", "updated_at"}),
		}).
		CreateInBatches(rows, 200).Error
}

// BestRawFor returns the highest-frequency raw tag observed for a
// canonical tag, falling back to the canonical tag itself when no
// mapping has been recorded yet.
func (s *Store) BestRawFor(ctx context.Context, canonical string) (string, error) {
	var row RawMapping
	err := s.db.WithContext(ctx).
		Where("canonical = ?", canonical).
		Order("frequency DESC").
		First(&row).Error
	if isNotFound(err) {
		return canonical, nil
	}
	if err != nil {
		return "", err
	}
	return row.Raw, nil
}

// BumpRawMapping increments the frequency of every canonical->raw
// observation in mapping (upsert with additive semantics).
func (s *Store) BumpRawMapping(ctx context.Context, rawToCanonical map[string]string) error {
	for raw, canonical := range rawToCanonical {
		if err := s.bumpOneRawMapping(ctx, canonical, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) bumpOneRawMapping(ctx context.Context, canonical, raw string) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO raw_mappings (canonical, raw, frequency)
		VALUES (?, ?, 1)
		ON CONFLICT(canonical, raw) DO UPDATE SET frequency = frequency + 1
	`, canonical, raw).Error
}
