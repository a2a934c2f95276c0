// Package store is the embedded relational persistence layer: profile
// vectors, push history, reactions, caches, and system state, all backed
// by a single SQLite file opened through gorm.
package store

import "time"

// PushRecord is primary-keyed by WorkID, giving the at-most-once push
// invariant for free via the primary key constraint.
type PushRecord struct {
	WorkID   int64     `gorm:"primaryKey"`
	PushedAt time.Time `gorm:"autoCreateTime"`
	Source   string    // "search" | "subscription" | "ranking"
}

// ProfileEntry is a canonical tag -> weight. No two rows share a tag.
type ProfileEntry struct {
	Tag       string `gorm:"primaryKey"`
	Weight    float64
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// ProfilePair is an unordered (TagA, TagB) co-occurrence weight. TagA is
// always lexicographically less than TagB.
type ProfilePair struct {
	TagA   string `gorm:"primaryKey"`
	TagB   string `gorm:"primaryKey"`
	Weight float64
}

// RawMapping counts how often a raw tag normalized to a given canonical
// tag, so the fetcher can reverse-map to the most effective search term.
type RawMapping struct {
	Canonical string `gorm:"primaryKey"`
	Raw       string `gorm:"primaryKey"`
	Frequency int
}

// TagCleanCache remembers the cleaner's verdict for a raw tag.
// CleanedTag is nil when the tag was filtered as meaningless.
type TagCleanCache struct {
	RawTag     string `gorm:"primaryKey"`
	CleanedTag *string
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// Reaction is at most one row per WorkID; a later reaction overwrites.
type Reaction struct {
	WorkID    int64  `gorm:"primaryKey"`
	Action    string // "like" | "dislike" | "skip"
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// WorkCache lets the reaction path resolve a work's tags without
// re-fetching it from the platform.
type WorkCache struct {
	WorkID    int64 `gorm:"primaryKey"`
	TagsJSON  string
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// BookmarkScan seeds profile rebuilds without re-hitting the platform.
type BookmarkScan struct {
	WorkID     int64 `gorm:"primaryKey"`
	OwnerID    int64 `gorm:"index"`
	TagsJSON   string
	CreatedAt  time.Time // the work's own creation time on the platform
	ScannedAt  time.Time `gorm:"autoCreateTime"`
}

// TagBlacklist tracks dislike counts per tag. A tag is effectively
// blacklisted once DislikeCount crosses the configured threshold.
type TagBlacklist struct {
	Tag           string `gorm:"primaryKey"`
	DislikeCount  int
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TagMute is a time-bounded suppression, distinct from the permanent
// TagBlacklist.
type TagMute struct {
	Tag       string `gorm:"primaryKey"`
	ExpiresAt time.Time
}

// BlockedAuthor is a runtime-mutable author block, distinct from the
// static config.FilterConfig.BlockedAuthors list: set via the admin
// `block` command without requiring a restart.
type BlockedAuthor struct {
	AuthorID  int64 `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// SystemState is a free-form key/value table used for sync cursors (e.g.
// the bookmark-scan completeness cursor).
type SystemState struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// CleanerErrorLog records a tag-cleaner batch failure for later retry.
type CleanerErrorLog struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	TagsJSON  string
	ErrorMsg  string
	Status    string // "pending" | "resolved" | "ignored"
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// AllModels lists every model for AutoMigrate, in no particular order —
// gorm resolves table creation order from foreign keys, and this schema
// has none (Store is intentionally flat; see DESIGN.md).
func AllModels() []any {
	return []any{
		&PushRecord{},
		&ProfileEntry{},
		&ProfilePair{},
		&RawMapping{},
		&TagCleanCache{},
		&Reaction{},
		&WorkCache{},
		&BookmarkScan{},
		&TagBlacklist{},
		&TagMute{},
		&BlockedAuthor{},
		&SystemState{},
		&CleanerErrorLog{},
	}
}
