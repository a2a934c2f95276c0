// Package notifier defines the chat-transport capability surface shared
// by every concrete backend (longpoll, wsbot) per spec.md §4.6: sending
// work cards, admin text, listening for reactions, and graceful close.
package notifier

import (
	"context"

	"github.com/kzmtkz/xppusher/pkg/platform"
)

// Button is one inline action attached to a sent message.
type Button struct {
	Label string
	// Data is the callback payload, e.g. "like:12345", "dislike:12345",
	// "follow:987", "retry_ai:<errorId>", "batch-like", "batch-dislike".
	Data string
}

// Notifier is the capability every chat backend implements.
type Notifier interface {
	// Send delivers works in the backend's configured mode (single or
	// batch) and returns the subset of work-ids it successfully sent.
	Send(ctx context.Context, works []platform.Work) ([]int64, error)

	// SendText delivers a free-form admin message, optionally with
	// inline buttons (e.g. a cleaner-error "retry" action).
	SendText(ctx context.Context, text string, buttons []Button) error

	// StartListening runs the backend's long-running receive loop until
	// ctx is canceled or Close is called.
	StartListening(ctx context.Context) error

	// Close stops the backend; idempotent.
	Close() error
}

// ReactionKind enumerates the three feedback verbs a chat event can map to.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "like"
	ReactionDislike ReactionKind = "dislike"
	ReactionFollow  ReactionKind = "follow"
)

// Reaction is the normalized event a Notifier hands to its reaction
// callback, translated from a button callback or a reply-to "1"/"2" text.
type Reaction struct {
	Kind     ReactionKind
	WorkID   int64
	AuthorID int64
	ChatUser int64
}

// ReactionFunc is invoked by a backend whenever it decodes a like/dislike/
// follow event from an authorized sender.
type ReactionFunc func(ctx context.Context, r Reaction)

// AdminCommand is a parsed admin-channel command: one of menu, push,
// search, xp, stats, schedule, block, mute, unmute, batch, help.
type AdminCommand struct {
	Name string
	Args []string
	From int64
}

// AdminFunc is invoked by a backend whenever it decodes an admin command
// from an authorized sender.
type AdminFunc func(ctx context.Context, cmd AdminCommand)

// Mode is the delivery mode a backend sends in.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeBatch  Mode = "batch"
)

// MultiPagePolicy resolves spec.md §4.6's page-count rule: ==1 -> single
// photo, [2, maxPages] in album mode -> grouped album, >maxPages ->
// cover-only with a "[long work]" annotation.
type MultiPagePolicy struct {
	AlbumMode bool
	MaxPages  int
}

type PagePresentation string

const (
	PresentSingle    PagePresentation = "single"
	PresentAlbum     PagePresentation = "album"
	PresentCoverOnly PagePresentation = "cover_only"
)

// Resolve decides how a work with pageCount pages should be presented.
func (p MultiPagePolicy) Resolve(pageCount int) PagePresentation {
	switch {
	case pageCount <= 1:
		return PresentSingle
	case p.AlbumMode && pageCount <= p.MaxPages:
		return PresentAlbum
	default:
		return PresentCoverOnly
	}
}

// IsAuthorized reports whether senderID appears in allowList. An empty
// allowList authorizes nobody, matching spec.md's "silently ignored"
// default-deny posture.
func IsAuthorized(allowList []int64, senderID int64) bool {
	for _, id := range allowList {
		if id == senderID {
			return true
		}
	}
	return false
}
