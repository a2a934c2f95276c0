// Package platform defines the interface to the upstream illustration
// platform. It is an external collaborator per spec.md §1 — auth
// refresh, search, user lookups, bookmark mutation, image download —
// treated as an opaque capability. This package carries the interface
// and a thin HTTP-based implementation stub; the wire protocol itself is
// out of scope.
package platform

import (
	"context"
	"time"
)

// Work is the ephemeral candidate entity returned by every platform
// query, matching spec.md §3.
type Work struct {
	ID            int64
	Title         string
	AuthorID      int64
	AuthorName    string
	Tags          []string
	BookmarkCount int
	ViewCount     int
	PageCount     int
	ImageURLs     []string
	IsAdult       bool
	IsAIGenerated bool
	CreatedAt     time.Time

	// MatchScore and DisplayTags are populated by the Filter, not the
	// platform; they live here because Work flows end-to-end through the
	// pipeline as one value.
	MatchScore  *float64
	DisplayTags []string
}

// Client is the capability surface the rest of the daemon depends on.
// PlatformClient is out of scope per spec.md §1; callers must treat
// failures as one of xperrors' kinds (AuthError, RateLimitError,
// TransientNetworkError, UpstreamContractError).
type Client interface {
	// RefreshAuth refreshes the session/access token. Called at
	// Orchestrator startup and on AuthError.
	RefreshAuth(ctx context.Context) error

	// SearchIllusts runs a profile-driven search for the given OR-joined
	// tag queries, with a minimum bookmark-count floor and recency window.
	SearchIllusts(ctx context.Context, tags []string, bookmarkThreshold int, dateRangeDays int, limit int) ([]Work, error)

	// FetchFollowLatest returns the most recent works from the user's
	// follow feed.
	FetchFollowLatest(ctx context.Context, limit int) ([]Work, error)

	// GetUserIllusts returns recent works by a specific author, since a
	// cutoff time.
	GetUserIllusts(ctx context.Context, authorID int64, since time.Time, limit int) ([]Work, error)

	// GetRanking returns works from a named ranking mode (e.g. "day").
	GetRanking(ctx context.Context, mode string, limit int) ([]Work, error)

	// Bookmarks returns the user's bookmarked works (public, and private
	// when includePrivate is set), used to seed Profiler.Build.
	Bookmarks(ctx context.Context, ownerID int64, includePrivate bool, scanLimit int) ([]Work, error)

	// Bookmark mirrors a like reaction onto the platform (best-effort).
	Bookmark(ctx context.Context, workID int64) error

	// Unbookmark mirrors a dislike/undo reaction onto the platform
	// (best-effort).
	Unbookmark(ctx context.Context, workID int64) error

	// Follow mirrors a follow-author action onto the platform
	// (best-effort).
	Follow(ctx context.Context, authorID int64) error

	// DownloadImage fetches image bytes for a work's image URL, honoring
	// the platform's referer/user-agent requirements.
	DownloadImage(ctx context.Context, url string) ([]byte, error)

	// Close releases any held resources.
	Close() error
}
