package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket keys. Every file record is one key in bucketFiles; the reference
// list and the header are single JSON blobs in bucketState.
var (
	bucketState   = []byte("state")
	bucketFiles   = []byte("files")
	keyHeader     = []byte("header")
	keyReferences = []byte("references")
)

// BoltStore is the bbolt snapshot backend. Writes are transactional; a
// crash mid-save leaves the previous snapshot intact.
type BoltStore struct {
	db *bolt.DB
}

type header struct {
	Version      int    `json:"version"`
	BuiltinsHash uint64 `json:"builtins_hash"`
}

// NewBoltStore opens (or creates) a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the stored snapshot.
func (s *BoltStore) SaveSnapshot(snap *Snapshot) error {
	if snap == nil {
		return errors.New("save snapshot: nil snapshot")
	}
	headerJSON, err := json.Marshal(header{Version: snap.Version, BuiltinsHash: snap.BuiltinsHash})
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	refsJSON, err := json.Marshal(snap.References)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	files := make(map[string][]byte, len(snap.Files))
	for _, f := range snap.Files {
		b, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal file %q: %w", f.Path, err)
		}
		files[f.Path] = b
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketState, bucketFiles} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		st, err := tx.CreateBucket(bucketState)
		if err != nil {
			return err
		}
		if err := st.Put(keyHeader, headerJSON); err != nil {
			return err
		}
		if err := st.Put(keyReferences, refsJSON); err != nil {
			return err
		}
		fb, err := tx.CreateBucket(bucketFiles)
		if err != nil {
			return err
		}
		for path, b := range files {
			if err := fb.Put([]byte(path), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot reads the stored snapshot. It returns nil, nil when nothing
// was saved or the snapshot has another version.
func (s *BoltStore) LoadSnapshot() (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		st := tx.Bucket(bucketState)
		if st == nil {
			return nil
		}
		var h header
		if err := json.Unmarshal(st.Get(keyHeader), &h); err != nil {
			return fmt.Errorf("unmarshal header: %w", err)
		}
		if h.Version != SnapshotVersion {
			return nil
		}
		out := &Snapshot{Version: h.Version, BuiltinsHash: h.BuiltinsHash}
		if raw := st.Get(keyReferences); raw != nil {
			if err := json.Unmarshal(raw, &out.References); err != nil {
				return fmt.Errorf("unmarshal references: %w", err)
			}
		}
		if fb := tx.Bucket(bucketFiles); fb != nil {
			// Keys iterate in byte order, so files come back sorted by path.
			err := fb.ForEach(func(k, v []byte) error {
				var f FileRecord
				if err := json.Unmarshal(v, &f); err != nil {
					return fmt.Errorf("unmarshal file %q: %w", k, err)
				}
				out.Files = append(out.Files, f)
				return nil
			})
			if err != nil {
				return err
			}
		}
		snap = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}
