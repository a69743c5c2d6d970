// Package store persists the incremental analysis state between processes.
// A Snapshot holds what the engine cannot cheaply recompute: per-file
// content hashes, signatures and diagnostics, and the reference graph.
// Declarations are not stored; they are re-scanned on restore.
package store

import "github.com/jward/grove/internal/issue"

// SnapshotVersion is bumped whenever the meaning of stored data changes.
// Snapshots with another version are ignored.
const SnapshotVersion = 1

// Snapshot is the persisted engine state.
type Snapshot struct {
	Version      int          `json:"version"`
	BuiltinsHash uint64       `json:"builtins_hash"`
	Files        []FileRecord `json:"files"`
	References   []Reference  `json:"references"`
}

// FileRecord is the state of one tracked file.
type FileRecord struct {
	Path      string          `json:"path"`
	Hash      uint64          `json:"hash"`
	Signature []SignatureNode `json:"signature"`
	Issues    []issue.Issue   `json:"issues"`
}

// SignatureNode is one declaration's shape hash. Names are stored
// normalized.
type SignatureNode struct {
	Name     string          `json:"name"`
	Kind     uint8           `json:"kind"`
	Hash     uint64          `json:"hash"`
	Children []SignatureNode `json:"children,omitempty"`
}

// Reference is one edge of the reference graph. FromFile is set for
// top-level code, FromSymbol otherwise.
type Reference struct {
	Kind       string `json:"kind"`
	FromSymbol string `json:"from_symbol,omitempty"`
	FromMember string `json:"from_member,omitempty"`
	FromFile   string `json:"from_file,omitempty"`
	ToSymbol   string `json:"to_symbol"`
	ToMember   string `json:"to_member,omitempty"`
	FromKind   uint8  `json:"from_kind,omitempty"`
	ToKind     uint8  `json:"to_kind,omitempty"`
}

// Backend saves and loads snapshots.
type Backend interface {
	SaveSnapshot(snap *Snapshot) error
	// LoadSnapshot returns nil, nil when nothing has been saved or the
	// saved snapshot has another version.
	LoadSnapshot() (*Snapshot, error)
	Close() error
}
