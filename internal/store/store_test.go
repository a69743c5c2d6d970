package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/internal/issue"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns one fresh instance of every backend.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	return map[string]Backend{
		"sqlite": newTestStore(t),
		"bolt":   newTestBoltStore(t),
	}
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Version:      SnapshotVersion,
		BuiltinsHash: 0xdeadbeefcafef00d,
		Files: []FileRecord{
			{
				Path: "src/a.php",
				Hash: 1<<63 | 42,
				Signature: []SignatureNode{
					{Name: "get_value", Kind: 0, Hash: 7},
					{Name: "repo", Kind: 1, Hash: 9, Children: []SignatureNode{
						{Name: "find", Kind: 3, Hash: 11},
						{Name: "items", Kind: 4, Hash: 13},
					}},
				},
				Issues: []issue.Issue{{
					Kind:    issue.UndefinedFunction,
					File:    "src/a.php",
					Line:    3,
					Column:  5,
					Message: "function nope() is not defined",
					Symbol:  "nope",
				}},
			},
			{
				Path:      "src/b.php",
				Hash:      99,
				Signature: []SignatureNode{{Name: "use_value", Kind: 0, Hash: 5}},
			},
		},
		References: []Reference{
			{Kind: "body", FromSymbol: "use_value", ToSymbol: "get_value"},
			{Kind: "signature", FromSymbol: "repo", FromMember: "find", ToSymbol: "entity"},
			{Kind: "file_body", FromFile: "src/c.php", ToSymbol: "repo", ToMember: "find"},
			{Kind: "return", FromSymbol: "use_value", ToSymbol: "get_value", FromKind: 0, ToKind: 0},
			{Kind: "return", FromSymbol: "repo", FromMember: "find", ToSymbol: "get_value", FromKind: 1},
		},
	}
}

// =============================================================================
// Schema
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"metadata", "files", "symbol_references"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Snapshots
// =============================================================================

func TestSnapshot_EmptyLoadsNil(t *testing.T) {
	t.Parallel()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snap, err := b.LoadSnapshot()
			require.NoError(t, err)
			assert.Nil(t, snap)
		})
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleSnapshot()
			require.NoError(t, b.SaveSnapshot(want))

			got, err := b.LoadSnapshot()
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want.Version, got.Version)
			assert.Equal(t, want.BuiltinsHash, got.BuiltinsHash)
			assert.Equal(t, want.Files, got.Files)
			assert.ElementsMatch(t, want.References, got.References)
		})
	}
}

func TestSnapshot_SaveReplacesPrevious(t *testing.T) {
	t.Parallel()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.SaveSnapshot(sampleSnapshot()))

			next := &Snapshot{
				Version: SnapshotVersion,
				Files:   []FileRecord{{Path: "only.php", Hash: 1}},
			}
			require.NoError(t, b.SaveSnapshot(next))

			got, err := b.LoadSnapshot()
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Len(t, got.Files, 1)
			assert.Equal(t, "only.php", got.Files[0].Path)
			assert.Empty(t, got.References)
			assert.Zero(t, got.BuiltinsHash)
		})
	}
}

func TestSnapshot_OtherVersionIgnored(t *testing.T) {
	t.Parallel()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snap := sampleSnapshot()
			snap.Version = SnapshotVersion + 1
			require.NoError(t, b.SaveSnapshot(snap))

			got, err := b.LoadSnapshot()
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestSnapshot_NilRejected(t *testing.T) {
	t.Parallel()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, b.SaveSnapshot(nil))
		})
	}
}

func TestStore_FileCount(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.SaveSnapshot(sampleSnapshot()))
	n, err := s.FileCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// =============================================================================
// Open
// =============================================================================

func TestKindForPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindSQLite, KindForPath("grove.db"))
	assert.Equal(t, KindBolt, KindForPath("state.bolt"))
	assert.Equal(t, KindBolt, KindForPath("state.BBOLT"))
	assert.Equal(t, KindSQLite, KindForPath("noext"))
}

func TestOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	b, err := Open(filepath.Join(dir, "a.db"), "")
	require.NoError(t, err)
	assert.IsType(t, &Store{}, b)
	require.NoError(t, b.Close())

	b, err = Open(filepath.Join(dir, "b.bolt"), "")
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, b)
	require.NoError(t, b.Close())

	_, err = Open(filepath.Join(dir, "c"), Kind("postgres"))
	assert.Error(t, err)
}
