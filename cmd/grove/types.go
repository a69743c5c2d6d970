package main

import "github.com/jward/grove"

// CLIResult is the JSON envelope written for every analysis.
type CLIResult struct {
	Command string        `json:"command"`
	Issues  []grove.Issue `json:"issues"`
	Counts  []CLICount    `json:"counts,omitempty"`
	Stats   *CLIStats     `json:"stats,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// CLICount is the number of issues of one kind.
type CLICount struct {
	Kind  grove.IssueKind `json:"kind"`
	Count int             `json:"count"`
}

// CLIStats is grove.Stats with the duration in milliseconds.
type CLIStats struct {
	Mode       grove.Mode `json:"mode"`
	Files      int        `json:"files"`
	Changed    int        `json:"changed"`
	Deleted    int        `json:"deleted"`
	Scanned    int        `json:"scanned"`
	Analyzed   int        `json:"analyzed"`
	Skipped    int        `json:"skipped"`
	Invalid    int        `json:"invalid"`
	CacheHits  int        `json:"cache_hits"`
	DurationMS int64      `json:"duration_ms"`
}

func statsToCLI(s grove.Stats) *CLIStats {
	return &CLIStats{
		Mode:       s.Mode,
		Files:      s.Files,
		Changed:    s.Changed,
		Deleted:    s.Deleted,
		Scanned:    s.Scanned,
		Analyzed:   s.Analyzed,
		Skipped:    s.Skipped,
		Invalid:    s.Invalid,
		CacheHits:  s.CacheHits,
		DurationMS: s.Duration.Milliseconds(),
	}
}
