package grove

import (
	"time"

	"github.com/jward/grove/internal/issue"
	"github.com/jward/grove/internal/store"
)

// Public aliases for internal types that appear in the Engine API. These
// are Go type aliases, so no conversion is needed.

type Issue = issue.Issue
type IssueKind = issue.Kind
type Snapshot = store.Snapshot

// Mode names the path an analysis call took.
type Mode string

const (
	// ModeFull is a from-scratch analysis of every file.
	ModeFull Mode = "full"
	// ModeNoChange means nothing changed and cached results were returned.
	ModeNoChange Mode = "no_change"
	// ModeBodyOnly means only function bodies changed; no signature did.
	ModeBodyOnly Mode = "body_only"
	// ModeCascade means signatures changed and the invalidation cascade
	// selected what to re-analyze.
	ModeCascade Mode = "cascade"
	// ModeFallback is a full analysis forced by an over-budget cascade.
	ModeFallback Mode = "fallback"
	// ModeRestored is the first analysis after Restore.
	ModeRestored Mode = "restored"
)

// Stats describes the work one call performed.
type Stats struct {
	Mode      Mode          `json:"mode"`
	Files     int           `json:"files"`
	Changed   int           `json:"changed"`
	Deleted   int           `json:"deleted"`
	Scanned   int           `json:"scanned"`
	Analyzed  int           `json:"analyzed"`
	Skipped   int           `json:"skipped"`
	Invalid   int           `json:"invalid"`
	CacheHits int           `json:"cache_hits"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of an analysis call: every diagnostic of the
// current file set, sorted, plus statistics.
type Result struct {
	Issues []Issue `json:"issues"`
	Stats  Stats   `json:"stats"`
}
