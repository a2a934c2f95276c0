package store

import (
	"context"
	"sort"

	"gorm.io/gorm"
)

// GetProfile returns the current canonical tag -> weight map.
func (s *Store) GetProfile(ctx context.Context) (map[string]float64, error) {
	var entries []ProfileEntry
	if err := s.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[e.Tag] = e.Weight
	}
	return out, nil
}

// ReplaceProfile atomically truncates and rewrites the profile table.
// After this call, GetProfile returns exactly profile.
func (s *Store) ReplaceProfile(ctx context.Context, profile map[string]float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM profile_entries").Error; err != nil {
			return err
		}
		if len(profile) == 0 {
			return nil
		}
		entries := make([]ProfileEntry, 0, len(profile))
		for tag, weight := range profile {
			entries = append(entries, ProfileEntry{Tag: tag, Weight: weight})
		}
		return tx.CreateInBatches(entries, 200).Error
	})
}

// AdjustWeight applies an additive delta to tag's weight (upsert), never
// letting the result go below zero per spec.md §4.3's invariant.
func (s *Store) AdjustWeight(ctx context.Context, tag string, delta float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry ProfileEntry
		err := tx.Where("tag = ?", tag).First(&entry).Error
		switch {
		case isNotFound(err):
			weight := delta
			if weight < 0 {
				weight = 0
			}
			return tx.Create(&ProfileEntry{Tag: tag, Weight: weight}).Error
		case err != nil:
			return err
		default:
			newWeight := entry.Weight + delta
			if newWeight < 0 {
				newWeight = 0
			}
			return tx.Model(&entry).Update("weight", newWeight).Error
		}
	})
}

// GetTopPairs returns the k highest-weighted co-occurrence pairs,
// weight descending.
func (s *Store) GetTopPairs(ctx context.Context, k int) ([]ProfilePair, error) {
	var pairs []ProfilePair
	q := s.db.WithContext(ctx).Order("weight DESC, tag_a ASC, tag_b ASC")
	if k > 0 {
		q = q.Limit(k)
	}
	if err := q.Find(&pairs).Error; err != nil {
		return nil, err
	}
	return pairs, nil
}

// ReplacePairs atomically truncates and rewrites the pair table.
func (s *Store) ReplacePairs(ctx context.Context, pairs []ProfilePair) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM profile_pairs").Error; err != nil {
			return err
		}
		if len(pairs) == 0 {
			return nil
		}
		return tx.CreateInBatches(pairs, 200).Error
	})
}

// TopNTags returns the n canonical tags with the highest weight, stable
// order: weight desc then tag asc, matching spec.md §4.3.
func TopNTags(profile map[string]float64, n int) []string {
	type kv struct {
		tag    string
		weight float64
	}
	pairs := make([]kv, 0, len(profile))
	for tag, weight := range profile {
		pairs = append(pairs, kv{tag, weight})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].weight != pairs[j].weight {
			return pairs[i].weight > pairs[j].weight
		}
		return pairs[i].tag < pairs[j].tag
	})
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].tag
	}
	return out
}
