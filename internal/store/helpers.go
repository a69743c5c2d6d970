package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// marshalJSON converts v to JSON text for storage. Nil slices are stored
// as "[]".
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

// unmarshalJSON converts stored JSON text back into v. Empty lists leave
// v untouched, so they load as nil.
func unmarshalJSON(s string, v any) error {
	if s == "" || s == "null" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// Kind names a backend.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindBolt   Kind = "bolt"
)

// KindForPath picks the backend from the file extension: ".bolt" and
// ".bbolt" are bbolt, anything else SQLite.
func KindForPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bolt", ".bbolt":
		return KindBolt
	}
	return KindSQLite
}

// Open opens a backend of the given kind at path, creating it if needed.
// An empty kind is inferred from the path.
func Open(path string, kind Kind) (Backend, error) {
	if kind == "" {
		kind = KindForPath(path)
	}
	switch kind {
	case KindSQLite:
		s, err := NewStore(path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case KindBolt:
		return NewBoltStore(path)
	}
	return nil, fmt.Errorf("unknown store backend %q", kind)
}
